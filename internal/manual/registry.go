package manual

import (
	"encoding/json"
	"maps"
	"sync"

	"utcp/internal/tools"
	"utcp/internal/transports"
	"utcp/pkg/logging"
)

// Handler turns a raw manifest call-template object into a concrete
// template. providerName wins over any name field inside the object; when
// both are empty the template type itself serves as the name.
type Handler func(providerName string, raw map[string]any) (tools.CallTemplate, error)

// HandlerRegistry maps a manifest call_template_type to its Handler.
// Unknown types fall through to a generic pass-through handler so that
// third-party transports can consume configuration this build has no
// dedicated template for.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry returns a registry pre-seeded with handlers for every
// built-in protocol.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]Handler)}
	r.Register(transports.ProtocolHTTP, httpHandler)
	r.Register(transports.ProtocolCLI, cliHandler)
	r.Register(transports.ProtocolSSE, sseHandler)
	r.Register(transports.ProtocolHTTPStream, httpStreamHandler)
	r.Register(transports.ProtocolWebSocket, websocketHandler)
	r.Register(transports.ProtocolGRPC, grpcHandler)
	r.Register(transports.ProtocolGraphQL, graphqlHandler)
	r.Register(transports.ProtocolTCP, tcpHandler)
	r.Register(transports.ProtocolUDP, udpHandler)
	r.Register(transports.ProtocolText, textHandler)
	r.Register(transports.ProtocolMCP, mcpHandler)
	return r
}

// Register installs or replaces the handler for a template type.
func (r *HandlerRegistry) Register(templateType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[templateType] = h
}

// Normalize resolves the object's call_template_type and runs the matching
// handler. A missing or non-string type is a validation error; an unknown
// type is not, it normalizes through the generic handler.
func (r *HandlerRegistry) Normalize(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	if raw == nil {
		return nil, tools.NewValidationError("call_template", "missing call template object")
	}
	templateType, ok := raw["call_template_type"].(string)
	if !ok || templateType == "" {
		return nil, tools.NewValidationError("call_template_type", "call template needs a call_template_type string")
	}

	r.mu.RLock()
	h, found := r.handlers[templateType]
	r.mu.RUnlock()
	if !found {
		logging.Debug("Manual", "no handler for template type %q, using generic pass-through", templateType)
		h = genericHandler
	}
	return h(providerName, raw)
}

var defaultRegistry = NewHandlerRegistry()

// Default returns the process-wide registry the client uses unless
// configured with its own.
func Default() *HandlerRegistry {
	return defaultRegistry
}

// EncodeTemplate renders a concrete template back into the manifest object
// form, suitable for writing provider files.
func EncodeTemplate(t tools.CallTemplate) (map[string]any, error) {
	if t == nil {
		return nil, tools.NewValidationError("call_template", "nil template")
	}
	if g, ok := t.(*transports.GenericTemplate); ok {
		out := maps.Clone(g.Config)
		if out == nil {
			out = make(map[string]any)
		}
		out["call_template_type"] = g.Type
		out["name"] = g.Name
		return out, nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, tools.NewValidationError("call_template", "cannot encode %s template: %v", t.TemplateType(), err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, tools.NewValidationError("call_template", "cannot encode %s template: %v", t.TemplateType(), err)
	}
	out["call_template_type"] = t.TemplateType()
	return out, nil
}
