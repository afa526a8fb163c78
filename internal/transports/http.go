package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"utcp/internal/openapi"
	"utcp/internal/tools"
	"utcp/pkg/auth"
	"utcp/pkg/logging"
)

// maxDiscoveryBytes caps how much of a discovery response is read. Manuals
// and OpenAPI specs beyond this are rejected rather than truncated.
const maxDiscoveryBytes = 10 << 20

// HTTPTransport implements request/response tool calls over HTTP. Discovery
// fetches the template URL and accepts either a UTCP manual or an OpenAPI
// document, converting the latter into one tool per operation.
type HTTPTransport struct {
	client *http.Client

	// discoveryGroup deduplicates concurrent manifest fetches for the same
	// URL; bootstrap registers providers concurrently and several may share
	// a manifest endpoint.
	discoveryGroup singleflight.Group
}

// NewHTTPTransport builds a transport with a pooled, keep-alive client.
func NewHTTPTransport() *HTTPTransport {
	return NewHTTPTransportWithClient(&http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	})
}

// NewHTTPTransportWithClient builds a transport around a caller-owned client.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) template(tmpl tools.CallTemplate) (*HTTPTemplate, error) {
	httpTmpl, ok := tmpl.(*HTTPTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"http transport needs an http template, got %q", tmpl.TemplateType())
	}
	return httpTmpl, nil
}

func (t *HTTPTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	httpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	// Deduplicate concurrent fetches; each caller still decodes its own copy.
	fetched, err, _ := t.discoveryGroup.Do(httpTmpl.URL, func() (any, error) {
		return t.fetchDiscovery(ctx, httpTmpl)
	})
	if err != nil {
		return nil, err
	}
	body := fetched.([]byte)

	if manual, err := tools.DecodeManual(body); err == nil && len(manual.Tools) > 0 {
		return manual.Tools, nil
	}

	// Not a manual with tools; the endpoint may serve an OpenAPI document.
	if spec, err := openapi.Parse(body); err == nil {
		if manual := openapi.NewConverter(spec, httpTmpl.URL, httpTmpl.Name).Convert(); len(manual.Tools) > 0 {
			logging.Debug("HTTPTransport", "provider %q discovered via OpenAPI conversion (%d tools)",
				httpTmpl.Name, len(manual.Tools))
			return manual.Tools, nil
		}
	}

	logging.Debug("HTTPTransport", "provider %q published no tools", httpTmpl.Name)
	return nil, nil
}

// fetchDiscovery performs the discovery GET and returns the raw body.
func (t *HTTPTransport) fetchDiscovery(ctx context.Context, httpTmpl *HTTPTemplate) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpTmpl.URL, nil)
	if err != nil {
		return nil, tools.NewValidationError("url", "bad discovery url %q: %v", httpTmpl.URL, err)
	}
	applyHeaders(req, httpTmpl.Headers)
	if err := applyAuth(req, httpTmpl.Auth, httpTmpl.Name); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolHTTP, Provider: httpTmpl.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tools.TransportError{
			Protocol: ProtocolHTTP,
			Provider: httpTmpl.Name,
			Err:      fmt.Errorf("discovery at %s returned %s", httpTmpl.URL, resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBytes+1))
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolHTTP, Provider: httpTmpl.Name, Err: err}
	}
	if len(body) > maxDiscoveryBytes {
		return nil, tools.NewValidationError("manifest",
			"discovery response for %q exceeds %d bytes", httpTmpl.Name, maxDiscoveryBytes)
	}
	return body, nil
}

func (t *HTTPTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	// Stateless; nothing to release.
	return nil
}

func (t *HTTPTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	httpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(httpTmpl.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return nil, tools.NewValidationError("http_method", "unsupported method %q", httpTmpl.Method)
	}

	callURL := substitutePathParams(httpTmpl.URL, args)

	var req *http.Request
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		payload, err := json.Marshal(args)
		if err != nil {
			return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
		}
		req, err = http.NewRequestWithContext(ctx, method, callURL, bytes.NewReader(payload))
		if err != nil {
			return nil, tools.NewValidationError("url", "bad url %q: %v", callURL, err)
		}
		contentType := httpTmpl.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, callURL, nil)
		if err != nil {
			return nil, tools.NewValidationError("url", "bad url %q: %v", callURL, err)
		}
		q := req.URL.Query()
		for key, value := range args {
			q.Set(key, renderArg(value))
		}
		req.URL.RawQuery = q.Encode()
	}

	applyHeaders(req, httpTmpl.Headers)
	if err := applyAuth(req, httpTmpl.Auth, httpTmpl.Name); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolHTTP, Provider: httpTmpl.Name, Tool: toolName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tools.TransportError{
			Protocol: ProtocolHTTP,
			Provider: httpTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("request returned %s", resp.Status),
		}
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolHTTP,
			Provider: httpTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}
	return result, nil
}

func (t *HTTPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	return nil, &tools.TransportError{
		Protocol: ProtocolHTTP,
		Provider: tmpl.ProviderName(),
		Tool:     toolName,
		Err:      ErrStreamingNotSupported,
	}
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for key, value := range headers {
		req.Header.Set(key, value)
	}
}

func applyAuth(req *http.Request, a auth.Auth, providerName string) error {
	if a == nil {
		return nil
	}
	if err := a.ApplyTo(req); err != nil {
		return &tools.AuthError{Provider: providerName, Err: err}
	}
	return nil
}

// substitutePathParams fills {name} segments of a URL template from args.
// Substituted keys stay in the argument map; servers ignore the duplicate.
func substitutePathParams(rawURL string, args map[string]any) string {
	for key, value := range args {
		placeholder := "{" + key + "}"
		if strings.Contains(rawURL, placeholder) {
			rawURL = strings.ReplaceAll(rawURL, placeholder, renderArg(value))
		}
	}
	return rawURL
}

// renderArg flattens an argument for URLs and query strings. Scalars render
// bare, composites as compact JSON.
func renderArg(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
