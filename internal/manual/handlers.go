package manual

import (
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"utcp/internal/tools"
	"utcp/internal/transports"
	"utcp/pkg/auth"
)

func decodeTemplate(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return tools.NewValidationError("call_template", "template is not JSON-shaped: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return tools.NewValidationError("call_template", "malformed template: %v", err)
	}
	return nil
}

func nameFor(providerName string, raw map[string]any, templateType string) string {
	if providerName != "" {
		return providerName
	}
	if n, ok := raw["name"].(string); ok && n != "" {
		return n
	}
	return templateType
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return tools.NewValidationError("port", "%s template needs a port between 1 and 65535, got %d", name, port)
	}
	return nil
}

func httpHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.HTTPTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolHTTP)
	if t.Method == "" {
		// Older manifests use "method" instead of "http_method".
		if m, ok := raw["method"].(string); ok {
			t.Method = m
		}
	}
	if t.Method == "" {
		t.Method = http.MethodGet
	}
	t.Method = strings.ToUpper(t.Method)
	if t.URL == "" {
		return nil, tools.NewValidationError("url", "http template %q needs a url", t.Name)
	}
	a, err := auth.Decode(t.RawAuth)
	if err != nil {
		return nil, err
	}
	t.Auth = a
	return &t, nil
}

func cliHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.CliTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolCLI)
	if t.CommandName == "" {
		if c, ok := raw["command"].(string); ok {
			t.CommandName = c
		}
	}
	if t.CommandName == "" {
		// Multi-command manifests execute their first entry.
		if list, ok := raw["commands"].([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				if c, ok := first["command"].(string); ok {
					t.CommandName = c
				}
			}
		}
	}
	if t.CommandName == "" {
		return nil, tools.NewValidationError("command_name", "cli template %q needs a command", t.Name)
	}
	return &t, nil
}

func sseHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.SSETemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolSSE)
	if t.URL == "" {
		return nil, tools.NewValidationError("url", "sse template %q needs a url", t.Name)
	}
	a, err := auth.Decode(t.RawAuth)
	if err != nil {
		return nil, err
	}
	t.Auth = a
	return &t, nil
}

func httpStreamHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.StreamableHTTPTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolHTTPStream)
	if t.URL == "" {
		return nil, tools.NewValidationError("url", "http_stream template %q needs a url", t.Name)
	}
	if t.Method == "" {
		t.Method = http.MethodPost
	}
	t.Method = strings.ToUpper(t.Method)
	a, err := auth.Decode(t.RawAuth)
	if err != nil {
		return nil, err
	}
	t.Auth = a
	return &t, nil
}

func websocketHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.WebSocketTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolWebSocket)
	if t.URL == "" {
		return nil, tools.NewValidationError("url", "websocket template %q needs a url", t.Name)
	}
	a, err := auth.Decode(t.RawAuth)
	if err != nil {
		return nil, err
	}
	t.Auth = a
	return &t, nil
}

func grpcHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.GRPCTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolGRPC)
	if t.Host == "" {
		return nil, tools.NewValidationError("host", "grpc template %q needs a host", t.Name)
	}
	if err := validatePort(t.Name, t.Port); err != nil {
		return nil, err
	}
	a, err := auth.Decode(t.RawAuth)
	if err != nil {
		return nil, err
	}
	t.Auth = a
	return &t, nil
}

func graphqlHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.GraphQLTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolGraphQL)
	if t.URL == "" {
		return nil, tools.NewValidationError("url", "graphql template %q needs a url", t.Name)
	}
	if t.OperationType == "" {
		t.OperationType = "query"
	}
	t.OperationType = strings.ToLower(t.OperationType)
	switch t.OperationType {
	case "query", "mutation", "subscription":
	default:
		return nil, tools.NewValidationError("operation_type",
			"graphql template %q operation_type must be query, mutation or subscription, got %q", t.Name, t.OperationType)
	}
	a, err := auth.Decode(t.RawAuth)
	if err != nil {
		return nil, err
	}
	t.Auth = a
	return &t, nil
}

func tcpHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.TCPTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolTCP)
	if t.Host == "" {
		return nil, tools.NewValidationError("host", "tcp template %q needs a host", t.Name)
	}
	if err := validatePort(t.Name, t.Port); err != nil {
		return nil, err
	}
	if t.TimeoutMs == 0 {
		t.TimeoutMs = 30_000
	}
	return &t, nil
}

func udpHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.UDPTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolUDP)
	if t.Host == "" {
		return nil, tools.NewValidationError("host", "udp template %q needs a host", t.Name)
	}
	if err := validatePort(t.Name, t.Port); err != nil {
		return nil, err
	}
	if t.TimeoutMs == 0 {
		t.TimeoutMs = 30_000
	}
	return &t, nil
}

func textHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.TextTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolText)
	return &t, nil
}

func mcpHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	var t transports.MCPTemplate
	if err := decodeTemplate(raw, &t); err != nil {
		return nil, err
	}
	t.Name = nameFor(providerName, raw, transports.ProtocolMCP)
	if t.URL == "" && t.Command == "" {
		return nil, tools.NewValidationError("url", "mcp template %q needs a url or a command", t.Name)
	}
	if t.URL != "" && t.Command != "" {
		return nil, tools.NewValidationError("url", "mcp template %q cannot set both url and command", t.Name)
	}
	a, err := auth.Decode(t.RawAuth)
	if err != nil {
		return nil, err
	}
	t.Auth = a
	return &t, nil
}

func genericHandler(providerName string, raw map[string]any) (tools.CallTemplate, error) {
	templateType, _ := raw["call_template_type"].(string)
	return &transports.GenericTemplate{
		Name:   nameFor(providerName, raw, templateType),
		Type:   templateType,
		Config: maps.Clone(raw),
	}, nil
}
