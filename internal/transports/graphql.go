package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/websocket"

	"utcp/internal/tools"
)

// introspectionQuery lists the operations a GraphQL endpoint exposes.
// Field types are not fetched; discovered tools get a permissive object
// schema.
const introspectionQuery = `query IntrospectionQuery {
  __schema {
    queryType { fields { name description } }
    mutationType { fields { name description } }
    subscriptionType { fields { name description } }
  }
}`

// GraphQLTransport maps tools onto GraphQL operations: queries and
// mutations run over HTTP POST, subscriptions stream over the
// graphql-transport-ws WebSocket protocol.
type GraphQLTransport struct {
	client *http.Client
	dialer *websocket.Dialer
}

func NewGraphQLTransport() *GraphQLTransport {
	dialer := *websocket.DefaultDialer
	return &GraphQLTransport{client: &http.Client{}, dialer: &dialer}
}

func NewGraphQLTransportWithClient(client *http.Client) *GraphQLTransport {
	dialer := *websocket.DefaultDialer
	return &GraphQLTransport{client: client, dialer: &dialer}
}

func (t *GraphQLTransport) template(tmpl tools.CallTemplate) (*GraphQLTemplate, error) {
	gqlTmpl, ok := tmpl.(*GraphQLTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"graphql transport needs a graphql template, got %q", tmpl.TemplateType())
	}
	return gqlTmpl, nil
}

// RegisterToolProvider introspects the schema and exposes each operation as
// a tool tagged with its operation type. Endpoints that refuse
// introspection yield no tools rather than an error.
func (t *GraphQLTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	gqlTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	data, err := t.executeQuery(ctx, gqlTmpl, "", introspectionQuery, nil)
	if err != nil {
		return nil, nil
	}

	schema, ok := data.(map[string]any)
	if !ok {
		return nil, nil
	}
	root, ok := schema["__schema"].(map[string]any)
	if !ok {
		return nil, nil
	}

	var discovered []tools.Tool
	for _, section := range []struct {
		opType string
		key    string
	}{
		{"query", "queryType"},
		{"mutation", "mutationType"},
		{"subscription", "subscriptionType"},
	} {
		opRoot, ok := root[section.key].(map[string]any)
		if !ok {
			continue
		}
		fields, ok := opRoot["fields"].([]any)
		if !ok {
			continue
		}
		for _, raw := range fields {
			field, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := field["name"].(string)
			if name == "" {
				continue
			}
			description, _ := field["description"].(string)
			discovered = append(discovered, tools.Tool{
				Name:        name,
				Description: description,
				Inputs:      tools.ObjectSchema(),
				Outputs:     tools.ObjectSchema(),
				Tags:        []string{section.opType},
			})
		}
	}
	return discovered, nil
}

func (t *GraphQLTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

func (t *GraphQLTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	gqlTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	opType := inferOperation(gqlTmpl.OperationType, toolName)
	query, variables := buildGraphQLQuery(opType, operationName(gqlTmpl, toolName), toolName, args)
	return t.executeQuery(ctx, gqlTmpl, toolName, query, variables)
}

// CallToolStream subscribes over graphql-transport-ws and yields each
// event's data payload. Only subscription operations may stream.
func (t *GraphQLTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	gqlTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	opType := inferOperation(gqlTmpl.OperationType, toolName)
	if opType != "subscription" {
		return nil, tools.NewValidationError("operation_type",
			"streaming needs a subscription, %q is a %s", toolName, opType)
	}

	query, variables := buildGraphQLQuery(opType, operationName(gqlTmpl, toolName), toolName, args)

	streamCtx, cancel := context.WithCancel(ctx)
	conn, err := t.dialSubscription(streamCtx, gqlTmpl)
	if err != nil {
		cancel()
		return nil, wrapCallErr(err, toolName)
	}

	fail := func(err error) (StreamResult, error) {
		conn.Close()
		cancel()
		return nil, &tools.TransportError{Protocol: ProtocolGraphQL, Provider: gqlTmpl.Name, Tool: toolName, Err: err}
	}

	// graphql-transport-ws handshake: init, ack, subscribe.
	if err := conn.WriteJSON(map[string]any{"type": "connection_init"}); err != nil {
		return fail(err)
	}
	var ack struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		return fail(fmt.Errorf("reading connection_ack: %w", err))
	}
	if ack.Type != "connection_ack" {
		return fail(fmt.Errorf("expected connection_ack, got %q", ack.Type))
	}
	subscribe := map[string]any{
		"id":   "1",
		"type": "subscribe",
		"payload": map[string]any{
			"query":     query,
			"variables": variables,
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fail(err)
	}

	ch := make(chan Item, 16)
	go t.readSubscription(streamCtx, conn, ch)

	return NewChannelStream(ch, func() error {
		cancel()
		return conn.Close()
	}), nil
}

func (t *GraphQLTransport) readSubscription(ctx context.Context, conn *websocket.Conn, ch chan<- Item) {
	defer close(ch)

	emit := func(item Item) bool {
		select {
		case ch <- item:
			return item.Err == nil
		case <-ctx.Done():
			return false
		}
	}

	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			emit(Item{Err: fmt.Errorf("websocket receive: %w", err)})
			return
		}

		switch msg.Type {
		case "next":
			var payload struct {
				Data   any `json:"data"`
				Errors any `json:"errors"`
			}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				emit(Item{Err: fmt.Errorf("decoding subscription payload: %w", err)})
				return
			}
			if payload.Errors != nil {
				emit(Item{Err: fmt.Errorf("subscription error: %v", payload.Errors)})
				return
			}
			if !emit(Item{Value: payload.Data}) {
				return
			}
		case "error":
			emit(Item{Err: fmt.Errorf("subscription error: %s", string(msg.Payload))})
			return
		case "complete":
			return
		case "ping":
			conn.WriteJSON(map[string]any{"type": "pong"})
		}
	}
}

// dialSubscription swaps the endpoint scheme to its WebSocket counterpart
// and connects with the graphql-transport-ws subprotocol.
func (t *GraphQLTransport) dialSubscription(ctx context.Context, gqlTmpl *GraphQLTemplate) (*websocket.Conn, error) {
	wsURL := gqlTmpl.URL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	scratch, err := http.NewRequestWithContext(ctx, http.MethodGet, wsURL, nil)
	if err != nil {
		return nil, tools.NewValidationError("url", "bad url %q: %v", wsURL, err)
	}
	for k, v := range gqlTmpl.Headers {
		scratch.Header.Set(k, v)
	}
	if gqlTmpl.Auth != nil {
		if err := gqlTmpl.Auth.ApplyTo(scratch); err != nil {
			return nil, &tools.AuthError{Provider: gqlTmpl.Name, Err: err}
		}
	}

	dialer := *t.dialer
	dialer.Subprotocols = []string{"graphql-transport-ws"}
	conn, resp, err := dialer.DialContext(ctx, scratch.URL.String(), scratch.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (handshake status %s)", err, resp.Status)
		}
		return nil, &tools.TransportError{Protocol: ProtocolGraphQL, Provider: gqlTmpl.Name, Err: err}
	}
	return conn, nil
}

// executeQuery posts the operation and unwraps the data envelope. A
// response with an errors array fails even when partial data came back.
func (t *GraphQLTransport) executeQuery(ctx context.Context, gqlTmpl *GraphQLTemplate, toolName, query string, variables map[string]any) (any, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gqlTmpl.URL, bytes.NewReader(body))
	if err != nil {
		return nil, tools.NewValidationError("url", "bad url %q: %v", gqlTmpl.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, gqlTmpl.Headers)
	if err := applyAuth(req, gqlTmpl.Auth, gqlTmpl.Name); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolGraphQL, Provider: gqlTmpl.Name, Tool: toolName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tools.TransportError{
			Protocol: ProtocolGraphQL,
			Provider: gqlTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("request returned %s", resp.Status),
		}
	}

	var envelope struct {
		Data   any `json:"data"`
		Errors any `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolGraphQL,
			Provider: gqlTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}
	if envelope.Errors != nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolGraphQL,
			Provider: gqlTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("graphql errors: %v", envelope.Errors),
		}
	}
	if envelope.Data == nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolGraphQL,
			Provider: gqlTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("response carried no data"),
		}
	}
	return envelope.Data, nil
}

func operationName(gqlTmpl *GraphQLTemplate, toolName string) string {
	if gqlTmpl.OperationName != "" {
		return gqlTmpl.OperationName
	}
	return toolName
}

// inferOperation resolves the operation type, falling back to tool-name
// conventions when the template leaves it open.
func inferOperation(operationType, toolName string) string {
	op := strings.ToLower(strings.TrimSpace(operationType))
	switch op {
	case "query", "mutation", "subscription":
		return op
	}

	name := strings.ToLower(toolName)
	switch {
	case strings.HasPrefix(name, "subscription"),
		strings.HasPrefix(name, "subscribe"),
		strings.HasPrefix(name, "on_"):
		return "subscription"
	case strings.HasPrefix(name, "mutation"),
		strings.HasPrefix(name, "create"),
		strings.HasPrefix(name, "update"),
		strings.HasPrefix(name, "delete"):
		return "mutation"
	}
	return "query"
}

// buildGraphQLQuery renders the operation with one variable per argument.
// Keys are sorted so the same arguments always produce the same document.
func buildGraphQLQuery(opType, opName, fieldName string, args map[string]any) (string, map[string]any) {
	if len(args) == 0 {
		return fmt.Sprintf("%s { %s }", opType, fieldName), map[string]any{}
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	defs := make([]string, 0, len(keys))
	uses := make([]string, 0, len(keys))
	variables := make(map[string]any, len(keys))
	for _, key := range keys {
		typeName, value := graphQLArgType(key, args[key])
		defs = append(defs, fmt.Sprintf("$%s: %s", key, typeName))
		uses = append(uses, fmt.Sprintf("%s: $%s", key, key))
		variables[key] = value
	}

	query := fmt.Sprintf("%s %s(%s) { %s(%s) }",
		opType, opName, strings.Join(defs, ", "), fieldName, strings.Join(uses, ", "))
	return query, variables
}

// graphQLArgType picks a scalar type for an argument value. Composite
// values travel as JSON-encoded strings so any schema can accept them.
func graphQLArgType(key string, value any) (string, any) {
	switch v := value.(type) {
	case bool:
		return "Boolean!", v
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return "Int!", v
		}
		return "Float!", v
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return "Int!", v
		}
		return "Float!", v
	case int64:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return "Int!", v
		}
		return "Float!", v
	case json.Number:
		if i, err := v.Int64(); err == nil && i >= math.MinInt32 && i <= math.MaxInt32 {
			return "Int!", v
		}
		return "Float!", v
	case string:
		if strings.HasSuffix(strings.ToLower(key), "_id") {
			return "ID!", v
		}
		return "String!", v
	case nil:
		return "String", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "String!", fmt.Sprintf("%v", v)
		}
		return "String!", string(encoded)
	}
}
