package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"utcp/internal/tools"
)

// StreamableHTTPTransport talks to endpoints that stream chunked or
// newline-delimited JSON. CallTool aggregates the whole response into one
// value; CallToolStream yields each decoded JSON value as it arrives.
type StreamableHTTPTransport struct {
	client *http.Client
}

func NewStreamableHTTPTransport() *StreamableHTTPTransport {
	// Like SSE, response bodies are open-ended; the caller's context bounds
	// the call.
	return NewStreamableHTTPTransportWithClient(&http.Client{})
}

func NewStreamableHTTPTransportWithClient(client *http.Client) *StreamableHTTPTransport {
	return &StreamableHTTPTransport{client: client}
}

func (t *StreamableHTTPTransport) template(tmpl tools.CallTemplate) (*StreamableHTTPTemplate, error) {
	streamTmpl, ok := tmpl.(*StreamableHTTPTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"http_stream transport needs an http_stream template, got %q", tmpl.TemplateType())
	}
	return streamTmpl, nil
}

// RegisterToolProvider fetches a manual from the template URL the same way
// the plain HTTP transport does. Streamable endpoints frequently share the
// discovery document with their non-streaming siblings, so a body that is
// not a manual yields no tools rather than an error.
func (t *StreamableHTTPTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	streamTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamTmpl.URL, nil)
	if err != nil {
		return nil, tools.NewValidationError("url", "bad discovery url %q: %v", streamTmpl.URL, err)
	}
	req.Header.Set("Accept", "application/json")
	applyHeaders(req, streamTmpl.Headers)
	if err := applyAuth(req, streamTmpl.Auth, streamTmpl.Name); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolHTTPStream, Provider: streamTmpl.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tools.TransportError{
			Protocol: ProtocolHTTPStream,
			Provider: streamTmpl.Name,
			Err:      fmt.Errorf("discovery at %s returned %s", streamTmpl.URL, resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBytes))
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolHTTPStream, Provider: streamTmpl.Name, Err: err}
	}
	if manual, err := tools.DecodeManual(body); err == nil {
		return manual.Tools, nil
	}
	return nil, nil
}

func (t *StreamableHTTPTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

func (t *StreamableHTTPTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	streamTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	resp, err := t.send(ctx, toolName, args, streamTmpl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolHTTPStream,
			Provider: streamTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}
	return result, nil
}

func (t *StreamableHTTPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	streamTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := t.send(streamCtx, toolName, args, streamTmpl)
	if err != nil {
		cancel()
		return nil, err
	}

	ch := make(chan Item, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var value any
			err := dec.Decode(&value)
			if err == io.EOF {
				return
			}
			if err != nil {
				if streamCtx.Err() == nil {
					select {
					case ch <- Item{Err: fmt.Errorf("decoding stream value: %w", err)}:
					case <-streamCtx.Done():
					}
				}
				return
			}
			select {
			case ch <- Item{Value: value}:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return NewChannelStream(ch, func() error {
		cancel()
		return nil
	}), nil
}

// send builds and issues the request shared by CallTool and CallToolStream.
// The returned response has a 2xx status; the caller owns the body.
func (t *StreamableHTTPTransport) send(ctx context.Context, toolName string, args map[string]any, streamTmpl *StreamableHTTPTemplate) (*http.Response, error) {
	method := strings.ToUpper(streamTmpl.Method)
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return nil, tools.NewValidationError("http_method", "unsupported HTTP method %q", method)
	}

	callURL := strings.TrimRight(streamTmpl.URL, "/") + "/" + toolName

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, callURL, nil)
		if err == nil {
			query := url.Values{}
			for k, v := range args {
				query.Set(k, renderArg(v))
			}
			req.URL.RawQuery = query.Encode()
		}
	} else {
		var body []byte
		body, err = json.Marshal(args)
		if err != nil {
			return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
		}
		req, err = http.NewRequestWithContext(ctx, method, callURL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, tools.NewValidationError("url", "bad url %q: %v", callURL, err)
	}

	applyHeaders(req, streamTmpl.Headers)
	if err := applyAuth(req, streamTmpl.Auth, streamTmpl.Name); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolHTTPStream, Provider: streamTmpl.Name, Tool: toolName, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &tools.TransportError{
			Protocol: ProtocolHTTPStream,
			Provider: streamTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("request returned %s", resp.Status),
		}
	}
	return resp, nil
}
