package transports

import (
	"context"

	"utcp/internal/tools"
)

// Protocol keys as they appear in call_template_type fields.
const (
	ProtocolHTTP       = "http"
	ProtocolCLI        = "cli"
	ProtocolSSE        = "sse"
	ProtocolHTTPStream = "http_stream"
	ProtocolWebSocket  = "websocket"
	ProtocolGRPC       = "grpc"
	ProtocolGraphQL    = "graphql"
	ProtocolTCP        = "tcp"
	ProtocolUDP        = "udp"
	ProtocolMCP        = "mcp"
	ProtocolText       = "text"
)

// CommunicationProtocol is the capability interface every transport
// implements. Implementations receive local tool names only; qualified-name
// prefixing and stripping happen in the client before dispatch.
//
// All methods honor context cancellation and deadlines.
type CommunicationProtocol interface {
	// RegisterToolProvider performs discovery against the provider described
	// by the template and returns the tools it publishes, with local names.
	RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error)

	// DeregisterToolProvider releases any resources held for the provider.
	// Deregistering a provider the transport never saw succeeds.
	DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error

	// CallTool invokes a tool and returns its decoded result.
	CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error)

	// CallToolStream invokes a tool and returns incremental results. The
	// returned stream owns the underlying connection until Close.
	CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error)
}
