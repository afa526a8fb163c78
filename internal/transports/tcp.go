package transports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"utcp/internal/tools"
)

// maxTCPResponseBytes caps how much of a TCP response is read before the
// payload is rejected.
const maxTCPResponseBytes = 10 << 20

// TCPTransport speaks a minimal request/response protocol: the JSON-encoded
// arguments go out, the write half closes to mark the end of the request,
// and the full response is read until the peer closes.
type TCPTransport struct {
	dialer net.Dialer
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) template(tmpl tools.CallTemplate) (*TCPTemplate, error) {
	tcpTmpl, ok := tmpl.(*TCPTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"tcp transport needs a tcp template, got %q", tmpl.TemplateType())
	}
	return tcpTmpl, nil
}

// RegisterToolProvider returns no tools: TCP providers declare their tools
// statically in the provider manifest.
func (t *TCPTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	if _, err := t.template(tmpl); err != nil {
		return nil, err
	}
	return nil, nil
}

func (t *TCPTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

func (t *TCPTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	tcpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	request, err := json.Marshal(args)
	if err != nil {
		return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
	}

	timeout := time.Duration(tcpTmpl.TimeoutMs) * time.Millisecond
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	address := net.JoinHostPort(tcpTmpl.Host, fmt.Sprintf("%d", tcpTmpl.Port))
	conn, err := t.dialer.DialContext(callCtx, "tcp", address)
	if err != nil {
		return nil, t.classify(callCtx, tcpTmpl, toolName, timeout, fmt.Errorf("dialing %s: %w", address, err))
	}
	defer conn.Close()

	if deadline, ok := callCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(request); err != nil {
		return nil, t.classify(callCtx, tcpTmpl, toolName, timeout, fmt.Errorf("writing request: %w", err))
	}
	// Half-close tells the server the request is complete.
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return nil, t.classify(callCtx, tcpTmpl, toolName, timeout, fmt.Errorf("closing write half: %w", err))
		}
	}

	response, err := io.ReadAll(io.LimitReader(conn, maxTCPResponseBytes))
	if err != nil {
		return nil, t.classify(callCtx, tcpTmpl, toolName, timeout, fmt.Errorf("reading response: %w", err))
	}

	var result any
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolTCP,
			Provider: tcpTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}
	return result, nil
}

func (t *TCPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	tcpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}
	return nil, &tools.TransportError{
		Protocol: ProtocolTCP,
		Provider: tcpTmpl.Name,
		Tool:     toolName,
		Err:      ErrStreamingNotSupported,
	}
}

// classify turns deadline expiry into a TimeoutError so callers can
// distinguish slow providers from broken ones.
func (t *TCPTransport) classify(ctx context.Context, tcpTmpl *TCPTemplate, toolName string, timeout time.Duration, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &tools.TimeoutError{Op: "tcp call", Timeout: timeout}
	}
	return &tools.TransportError{Protocol: ProtocolTCP, Provider: tcpTmpl.Name, Tool: toolName, Err: err}
}
