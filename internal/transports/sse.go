package transports

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"utcp/internal/tools"
)

// maxSSELineBytes bounds a single event line; streams exceeding it fail
// with a terminal error rather than buffering without limit.
const maxSSELineBytes = 1 << 20

// SSETransport consumes Server-Sent Events endpoints. Discovery is a plain
// GET for a manual; calls POST the arguments to <url>/<tool> and parse the
// "data:" event payloads as JSON values.
type SSETransport struct {
	client *http.Client
}

func NewSSETransport() *SSETransport {
	// No overall client timeout: event streams are expected to outlive any
	// fixed bound, cancellation comes from the caller's context.
	return NewSSETransportWithClient(&http.Client{})
}

func NewSSETransportWithClient(client *http.Client) *SSETransport {
	return &SSETransport{client: client}
}

func (t *SSETransport) template(tmpl tools.CallTemplate) (*SSETemplate, error) {
	sseTmpl, ok := tmpl.(*SSETemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"sse transport needs an sse template, got %q", tmpl.TemplateType())
	}
	return sseTmpl, nil
}

func (t *SSETransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	sseTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseTmpl.URL, nil)
	if err != nil {
		return nil, tools.NewValidationError("url", "bad discovery url %q: %v", sseTmpl.URL, err)
	}
	req.Header.Set("Accept", "application/json")
	applyHeaders(req, sseTmpl.Headers)
	if err := applyAuth(req, sseTmpl.Auth, sseTmpl.Name); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolSSE, Provider: sseTmpl.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tools.TransportError{
			Protocol: ProtocolSSE,
			Provider: sseTmpl.Name,
			Err:      fmt.Errorf("discovery at %s returned %s", sseTmpl.URL, resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBytes))
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolSSE, Provider: sseTmpl.Name, Err: err}
	}
	if manual, err := tools.DecodeManual(body); err == nil {
		return manual.Tools, nil
	}
	return nil, nil
}

func (t *SSETransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

// CallTool runs the streaming call eagerly and returns all events as one
// array.
func (t *SSETransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	stream, err := t.CallToolStream(ctx, toolName, args, tmpl)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	items := []any{}
	for {
		item, err := stream.Next()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func (t *SSETransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	sseTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	callURL := strings.TrimRight(sseTmpl.URL, "/") + "/" + toolName
	headerArgs, payloadArgs := splitHeaderArgs(sseTmpl.HeaderFields, args)

	var payload any = payloadArgs
	if sseTmpl.BodyField != "" {
		payload = map[string]any{sseTmpl.BodyField: payloadArgs}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
	}

	// Derived context so closing the stream stops the read even while the
	// caller's context stays alive.
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, callURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, tools.NewValidationError("url", "bad url %q: %v", callURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	applyHeaders(req, sseTmpl.Headers)
	for k, v := range headerArgs {
		req.Header.Set(k, v)
	}
	if err := applyAuth(req, sseTmpl.Auth, sseTmpl.Name); err != nil {
		cancel()
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, &tools.TransportError{Protocol: ProtocolSSE, Provider: sseTmpl.Name, Tool: toolName, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, &tools.TransportError{
			Protocol: ProtocolSSE,
			Provider: sseTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("request returned %s", resp.Status),
		}
	}

	ch := make(chan Item, 16)
	go readSSE(streamCtx, resp.Body, ch)

	return NewChannelStream(ch, func() error {
		cancel()
		return nil
	}), nil
}

// readSSE parses the text/event-stream format: "data:" lines accumulate
// until a blank line dispatches the event. Values must be JSON; a parse
// failure is terminal.
func readSSE(ctx context.Context, body io.ReadCloser, ch chan<- Item) {
	defer close(ch)
	defer body.Close()

	emit := func(item Item) bool {
		select {
		case ch <- item:
			return item.Err == nil
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	var dataBuf strings.Builder
	flush := func() bool {
		if dataBuf.Len() == 0 {
			return true
		}
		var value any
		err := json.Unmarshal([]byte(dataBuf.String()), &value)
		dataBuf.Reset()
		if err != nil {
			return emit(Item{Err: fmt.Errorf("parsing sse data: %w", err)})
		}
		return emit(Item{Value: value})
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "data: "):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(line[len("data: "):])
		case line == "":
			if !flush() {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(Item{Err: fmt.Errorf("reading sse stream: %w", err)})
		return
	}
	// Trailing event without a final blank line.
	flush()
}

// splitHeaderArgs moves the template's header fields out of the argument
// map and renders them as header values.
func splitHeaderArgs(headerFields []string, args map[string]any) (map[string]string, map[string]any) {
	if len(headerFields) == 0 {
		return nil, args
	}
	headers := make(map[string]string)
	remaining := make(map[string]any, len(args))
	for k, v := range args {
		remaining[k] = v
	}
	for _, field := range headerFields {
		value, ok := remaining[field]
		if !ok {
			continue
		}
		switch value.(type) {
		case string, bool, float64, int, int64, json.Number:
			headers[field] = renderArg(value)
			delete(remaining, field)
		}
	}
	return headers, remaining
}
