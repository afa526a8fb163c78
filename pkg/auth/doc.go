// Package auth provides the credential types attached to call templates
// and applies them to outgoing HTTP requests.
//
// Three schemes are supported, selected by the auth_type field of a
// template's auth object: api_key (header, query parameter, or cookie
// placement), basic, and oauth2 (client credentials grant via
// golang.org/x/oauth2). Every type validates its required fields and
// exposes a Redacted description for logging; secret material never
// appears in log output.
package auth
