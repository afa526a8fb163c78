package transports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"utcp/internal/tools"
)

// maxUDPDatagramBytes is the largest datagram a response may occupy.
const maxUDPDatagramBytes = 65535

// UDPTransport sends one datagram per call and reads one datagram back.
// The request wraps the tool name and arguments so the connectionless peer
// knows what is being invoked.
type UDPTransport struct {
	dialer net.Dialer
}

func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

func (t *UDPTransport) template(tmpl tools.CallTemplate) (*UDPTemplate, error) {
	udpTmpl, ok := tmpl.(*UDPTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"udp transport needs a udp template, got %q", tmpl.TemplateType())
	}
	return udpTmpl, nil
}

// RegisterToolProvider returns no tools: UDP providers declare their tools
// statically.
func (t *UDPTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	if _, err := t.template(tmpl); err != nil {
		return nil, err
	}
	return nil, nil
}

func (t *UDPTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

func (t *UDPTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	udpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	request, err := json.Marshal(map[string]any{
		"tool": toolName,
		"args": args,
	})
	if err != nil {
		return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
	}
	if len(request) > maxUDPDatagramBytes {
		return nil, tools.NewValidationError("arguments",
			"request of %d bytes exceeds the udp datagram limit", len(request))
	}

	timeout := time.Duration(udpTmpl.TimeoutMs) * time.Millisecond
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	address := net.JoinHostPort(udpTmpl.Host, fmt.Sprintf("%d", udpTmpl.Port))
	conn, err := t.dialer.DialContext(callCtx, "udp", address)
	if err != nil {
		return nil, t.classify(callCtx, udpTmpl, toolName, timeout, fmt.Errorf("dialing %s: %w", address, err))
	}
	defer conn.Close()

	if deadline, ok := callCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(request); err != nil {
		return nil, t.classify(callCtx, udpTmpl, toolName, timeout, fmt.Errorf("sending datagram: %w", err))
	}

	buf := make([]byte, maxUDPDatagramBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, t.classify(callCtx, udpTmpl, toolName, timeout, fmt.Errorf("receiving datagram: %w", err))
	}

	var result any
	if err := json.Unmarshal(buf[:n], &result); err != nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolUDP,
			Provider: udpTmpl.Name,
			Tool:     toolName,
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}
	return result, nil
}

func (t *UDPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	udpTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}
	return nil, &tools.TransportError{
		Protocol: ProtocolUDP,
		Provider: udpTmpl.Name,
		Tool:     toolName,
		Err:      ErrStreamingNotSupported,
	}
}

func (t *UDPTransport) classify(ctx context.Context, udpTmpl *UDPTemplate, toolName string, timeout time.Duration, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &tools.TimeoutError{Op: "udp call", Timeout: timeout}
	}
	return &tools.TransportError{Protocol: ProtocolUDP, Provider: udpTmpl.Name, Tool: toolName, Err: err}
}
