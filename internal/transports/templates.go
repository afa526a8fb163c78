package transports

import (
	"utcp/pkg/auth"
)

// Template structs mirror the manifest wire format for each built-in
// protocol. The manual package's handlers decode raw manifest objects into
// these; transports type-assert back to their own template.
//
// Auth carries the decoded credential while RawAuth keeps the manifest
// object for round-tripping provider files. Auth is excluded from JSON so
// secrets are re-encoded only through auth.Encode.

// HTTPTemplate configures a plain request/response HTTP provider.
type HTTPTemplate struct {
	Name         string            `json:"name"`
	Method       string            `json:"http_method"`
	URL          string            `json:"url"`
	ContentType  string            `json:"content_type,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyField    string            `json:"body_field,omitempty"`
	HeaderFields []string          `json:"header_fields,omitempty"`
	RawAuth      map[string]any    `json:"auth,omitempty"`
	Auth         auth.Auth         `json:"-"`
}

func (t *HTTPTemplate) TemplateType() string { return ProtocolHTTP }
func (t *HTTPTemplate) ProviderName() string { return t.Name }

// CliTemplate configures a local command line provider.
type CliTemplate struct {
	Name        string            `json:"name"`
	CommandName string            `json:"command_name"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

func (t *CliTemplate) TemplateType() string { return ProtocolCLI }
func (t *CliTemplate) ProviderName() string { return t.Name }

// SSETemplate configures a Server-Sent Events provider.
type SSETemplate struct {
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyField    string            `json:"body_field,omitempty"`
	HeaderFields []string          `json:"header_fields,omitempty"`
	RawAuth      map[string]any    `json:"auth,omitempty"`
	Auth         auth.Auth         `json:"-"`
}

func (t *SSETemplate) TemplateType() string { return ProtocolSSE }
func (t *SSETemplate) ProviderName() string { return t.Name }

// StreamableHTTPTemplate configures a chunked streaming HTTP provider.
type StreamableHTTPTemplate struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Method  string            `json:"http_method"`
	Headers map[string]string `json:"headers,omitempty"`
	RawAuth map[string]any    `json:"auth,omitempty"`
	Auth    auth.Auth         `json:"-"`
}

func (t *StreamableHTTPTemplate) TemplateType() string { return ProtocolHTTPStream }
func (t *StreamableHTTPTemplate) ProviderName() string { return t.Name }

// WebSocketTemplate configures a WebSocket provider.
type WebSocketTemplate struct {
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Protocol  string            `json:"protocol,omitempty"`
	KeepAlive bool              `json:"keep_alive,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	RawAuth   map[string]any    `json:"auth,omitempty"`
	Auth      auth.Auth         `json:"-"`
}

func (t *WebSocketTemplate) TemplateType() string { return ProtocolWebSocket }
func (t *WebSocketTemplate) ProviderName() string { return t.Name }

// GRPCTemplate configures a gRPC provider.
type GRPCTemplate struct {
	Name    string         `json:"name"`
	Host    string         `json:"host"`
	Port    int            `json:"port"`
	UseSSL  bool           `json:"use_ssl,omitempty"`
	RawAuth map[string]any `json:"auth,omitempty"`
	Auth    auth.Auth      `json:"-"`
}

func (t *GRPCTemplate) TemplateType() string { return ProtocolGRPC }
func (t *GRPCTemplate) ProviderName() string { return t.Name }

// GraphQLTemplate configures a GraphQL provider. OperationType is one of
// query, mutation or subscription.
type GraphQLTemplate struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	OperationType string            `json:"operation_type"`
	OperationName string            `json:"operation_name,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	RawAuth       map[string]any    `json:"auth,omitempty"`
	Auth          auth.Auth         `json:"-"`
}

func (t *GraphQLTemplate) TemplateType() string { return ProtocolGraphQL }
func (t *GraphQLTemplate) ProviderName() string { return t.Name }

// TCPTemplate configures a raw TCP socket provider.
type TCPTemplate struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

func (t *TCPTemplate) TemplateType() string { return ProtocolTCP }
func (t *TCPTemplate) ProviderName() string { return t.Name }

// UDPTemplate configures a UDP datagram provider.
type UDPTemplate struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

func (t *UDPTemplate) TemplateType() string { return ProtocolUDP }
func (t *UDPTemplate) ProviderName() string { return t.Name }

// TextTemplate configures a provider backed by local tool manifests and
// scripts under BasePath.
type TextTemplate struct {
	Name     string `json:"name"`
	BasePath string `json:"base_path,omitempty"`
}

func (t *TextTemplate) TemplateType() string { return ProtocolText }
func (t *TextTemplate) ProviderName() string { return t.Name }

// MCPTemplate configures a Model Context Protocol provider. URL selects the
// HTTP family of MCP transports, Command selects stdio; exactly one must be
// set.
type MCPTemplate struct {
	Name    string            `json:"name"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	EnvVars map[string]string `json:"env_vars,omitempty"`
	RawAuth map[string]any    `json:"auth,omitempty"`
	Auth    auth.Auth         `json:"-"`
}

func (t *MCPTemplate) TemplateType() string { return ProtocolMCP }
func (t *MCPTemplate) ProviderName() string { return t.Name }

// IsStdio reports whether the template launches a local MCP server process.
func (t *MCPTemplate) IsStdio() bool { return t.Command != "" }

// GenericTemplate carries the raw configuration of a protocol type this
// build has no dedicated template for. Third-party transports registered at
// runtime receive it and read Config directly.
type GenericTemplate struct {
	Name   string
	Type   string
	Config map[string]any
}

func (t *GenericTemplate) TemplateType() string { return t.Type }
func (t *GenericTemplate) ProviderName() string { return t.Name }
