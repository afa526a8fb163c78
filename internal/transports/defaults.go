package transports

import "sync"

var builtinsOnce sync.Once

// RegisterBuiltins installs the standard transports into r. Embedders that
// construct their own registry call this before layering replacements on
// top.
func RegisterBuiltins(r *Registry) {
	r.Register(ProtocolHTTP, NewHTTPTransport())
	r.Register(ProtocolCLI, NewCliTransport())
	r.Register(ProtocolSSE, NewSSETransport())
	r.Register(ProtocolHTTPStream, NewStreamableHTTPTransport())
	r.Register(ProtocolWebSocket, NewWebSocketTransport())
	r.Register(ProtocolGRPC, NewGRPCTransport())
	r.Register(ProtocolGraphQL, NewGraphQLTransport())
	r.Register(ProtocolTCP, NewTCPTransport())
	r.Register(ProtocolUDP, NewUDPTransport())
	r.Register(ProtocolMCP, NewMCPTransport())
	r.Register(ProtocolText, NewTextTransport())
}

// NewDefaultRegistry returns an isolated registry preloaded with every
// built-in transport.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}
