package transports

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"utcp/internal/tools"
	"utcp/pkg/auth"
	"utcp/pkg/logging"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpInitTimeout     = 10 * time.Second
)

// MCPTransport bridges Model Context Protocol servers. Sessions are
// long-lived: registration performs the Initialize handshake and the session
// stays open for calls until the provider deregisters. Stdio templates spawn
// the server process once, not per call.
type MCPTransport struct {
	mu       sync.Mutex
	sessions map[string]*mcpSession
}

type mcpSession struct {
	client mcpclient.MCPClient
}

func NewMCPTransport() *MCPTransport {
	return &MCPTransport{sessions: make(map[string]*mcpSession)}
}

func (t *MCPTransport) template(tmpl tools.CallTemplate) (*MCPTemplate, error) {
	mcpTmpl, ok := tmpl.(*MCPTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"mcp transport needs an mcp template, got %q", tmpl.TemplateType())
	}
	return mcpTmpl, nil
}

func (t *MCPTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	mcpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	session, err := t.session(ctx, mcpTmpl)
	if err != nil {
		return nil, err
	}

	result, err := session.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolMCP, Provider: mcpTmpl.Name, Err: err}
	}

	discovered := make([]tools.Tool, 0, len(result.Tools))
	for _, mcpTool := range result.Tools {
		discovered = append(discovered, tools.Tool{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			Inputs:      schemaFromMCP(mcpTool.InputSchema),
			Outputs:     tools.ObjectSchema(),
		})
	}
	logging.Debug("MCPTransport", "Provider %s listed %d tools", mcpTmpl.Name, len(discovered))
	return discovered, nil
}

// DeregisterToolProvider closes the provider's session, ending a stdio
// server process if one is running.
func (t *MCPTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	mcpTmpl, err := t.template(tmpl)
	if err != nil {
		return err
	}

	t.mu.Lock()
	session, ok := t.sessions[mcpTmpl.Name]
	delete(t.sessions, mcpTmpl.Name)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if err := session.client.Close(); err != nil {
		return &tools.TransportError{Protocol: ProtocolMCP, Provider: mcpTmpl.Name, Err: err}
	}
	return nil
}

func (t *MCPTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	mcpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	session, err := t.session(ctx, mcpTmpl)
	if err != nil {
		return nil, err
	}

	request := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      toolName,
			Arguments: args,
		},
	}

	result, err := session.client.CallTool(ctx, request)
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolMCP, Provider: mcpTmpl.Name, Tool: toolName, Err: err}
	}
	if result.IsError {
		return nil, &tools.TransportError{
			Protocol: ProtocolMCP,
			Provider: mcpTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("tool reported an error: %s", joinTextContent(result.Content)),
		}
	}
	return normalizeMCPContent(result.Content), nil
}

// CallToolStream runs the call eagerly; MCP has no incremental tool results,
// so multi-part content is replayed item by item.
func (t *MCPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tmpl)
	if err != nil {
		return nil, err
	}
	if items, ok := result.([]any); ok {
		return NewSliceStream(items, nil), nil
	}
	return NewSliceStream([]any{result}, nil), nil
}

// Close shuts down every open session.
func (t *MCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for name, session := range t.sessions {
		if err := session.client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing session for %q: %w", name, err)
		}
		delete(t.sessions, name)
	}
	return firstErr
}

// session returns the provider's live session, connecting on first use.
func (t *MCPTransport) session(ctx context.Context, mcpTmpl *MCPTemplate) (*mcpSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if session, ok := t.sessions[mcpTmpl.Name]; ok {
		return session, nil
	}

	client, err := t.connect(ctx, mcpTmpl)
	if err != nil {
		return nil, err
	}
	session := &mcpSession{client: client}
	t.sessions[mcpTmpl.Name] = session
	return session, nil
}

func (t *MCPTransport) connect(ctx context.Context, mcpTmpl *MCPTemplate) (mcpclient.MCPClient, error) {
	var (
		client *mcpclient.Client
		err    error
	)
	needsStart := false

	switch {
	case mcpTmpl.IsStdio():
		env := make([]string, 0, len(mcpTmpl.EnvVars))
		for k, v := range mcpTmpl.EnvVars {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		logging.Debug("MCPTransport", "Starting stdio server: %s %v", mcpTmpl.Command, mcpTmpl.Args)
		client, err = mcpclient.NewStdioMCPClient(mcpTmpl.Command, env, mcpTmpl.Args...)

	case mcpTmpl.URL != "":
		headers, authedURL, authErr := mcpHeaders(mcpTmpl)
		if authErr != nil {
			return nil, authErr
		}
		needsStart = true
		// Servers exposing the SSE endpoint convention get the SSE client;
		// everything else speaks streamable HTTP.
		if isSSEEndpoint(authedURL) {
			var opts []mcptransport.ClientOption
			if len(headers) > 0 {
				opts = append(opts, mcptransport.WithHeaders(headers))
			}
			client, err = mcpclient.NewSSEMCPClient(authedURL, opts...)
		} else {
			var opts []mcptransport.StreamableHTTPCOption
			if len(headers) > 0 {
				opts = append(opts, mcptransport.WithHTTPHeaders(headers))
			}
			client, err = mcpclient.NewStreamableHttpClient(authedURL, opts...)
		}

	default:
		return nil, tools.NewValidationError("call_template",
			"mcp provider %q has neither url nor command", mcpTmpl.Name)
	}
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolMCP, Provider: mcpTmpl.Name, Err: err}
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, mcpInitTimeout)
		defer cancel()
	}

	if needsStart {
		if err := client.Start(initCtx); err != nil {
			client.Close()
			return nil, &tools.TransportError{
				Protocol: ProtocolMCP,
				Provider: mcpTmpl.Name,
				Err:      fmt.Errorf("starting transport: %w", err),
			}
		}
	}

	initResult, err := client.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcpProtocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "utcp",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		client.Close()
		return nil, &tools.TransportError{
			Protocol: ProtocolMCP,
			Provider: mcpTmpl.Name,
			Err:      fmt.Errorf("initialize handshake: %w", err),
		}
	}
	logging.Debug("MCPTransport", "Connected to %s (server %s %s)",
		mcpTmpl.Name, initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return client, nil
}

// mcpHeaders folds template headers and auth into the header set handed to
// mcp-go, and returns the URL with query-located API keys appended.
func mcpHeaders(mcpTmpl *MCPTemplate) (map[string]string, string, error) {
	headers := make(map[string]string, len(mcpTmpl.Headers))
	for k, v := range mcpTmpl.Headers {
		headers[k] = v
	}
	authedURL := mcpTmpl.URL

	switch a := mcpTmpl.Auth.(type) {
	case nil:
	case *auth.ApiKeyAuth:
		switch a.Location {
		case auth.LocationQuery:
			parsed, err := url.Parse(authedURL)
			if err != nil {
				return nil, "", tools.NewValidationError("url", "bad url %q: %v", authedURL, err)
			}
			query := parsed.Query()
			query.Set(a.VarName, a.APIKey)
			parsed.RawQuery = query.Encode()
			authedURL = parsed.String()
		case auth.LocationCookie:
			headers["Cookie"] = fmt.Sprintf("%s=%s", a.VarName, a.APIKey)
		default:
			headers[a.VarName] = a.APIKey
		}
	case *auth.BasicAuth:
		encoded := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		headers["Authorization"] = "Basic " + encoded
	default:
		return nil, "", &tools.AuthError{
			Provider: mcpTmpl.Name,
			Err:      fmt.Errorf("%s auth is not supported for mcp providers", mcpTmpl.Auth.Type()),
		}
	}
	return headers, authedURL, nil
}

func isSSEEndpoint(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.TrimRight(parsed.Path, "/"), "/sse")
}

func schemaFromMCP(input mcp.ToolInputSchema) tools.Schema {
	schema := tools.Schema{
		Type:       input.Type,
		Properties: input.Properties,
		Required:   input.Required,
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema
}

// normalizeMCPContent flattens tool-result content: text that parses as
// JSON becomes the decoded value, other text stays a string, and a single
// item is returned bare instead of wrapped in a one-element list.
func normalizeMCPContent(content []mcp.Content) any {
	items := make([]any, 0, len(content))
	for _, c := range content {
		if text, ok := mcp.AsTextContent(c); ok {
			var decoded any
			if err := json.Unmarshal([]byte(text.Text), &decoded); err == nil {
				items = append(items, decoded)
			} else {
				items = append(items, text.Text)
			}
			continue
		}
		// Non-text content is carried through as its JSON representation.
		encoded, err := json.Marshal(c)
		if err != nil {
			continue
		}
		var generic any
		if err := json.Unmarshal(encoded, &generic); err == nil {
			items = append(items, generic)
		}
	}

	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	default:
		return items
	}
}

func joinTextContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "; ")
}
