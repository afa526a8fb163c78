// Package manual decodes provider manifests into concrete call templates.
//
// A manifest declares each provider as a JSON object whose
// call_template_type selects the protocol. The HandlerRegistry maps that
// type to a Handler which validates required fields, applies defaults
// (GET for http, POST for http_stream, 30s socket timeouts) and decodes
// embedded auth objects. Types without a registered handler normalize into
// a GenericTemplate so runtime-registered transports still receive their
// configuration.
//
// The registry is the extension point paired with the transports registry:
// registering a new protocol usually means one Register call on each.
package manual
