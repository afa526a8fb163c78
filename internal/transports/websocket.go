package transports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"utcp/internal/tools"
)

const wsKeepAliveInterval = 30 * time.Second

// WebSocketTransport opens one connection per operation. Discovery sends the
// literal text "manual" and expects a manual document back; calls send the
// JSON-encoded arguments and read messages until the peer closes.
type WebSocketTransport struct {
	dialer *websocket.Dialer
}

func NewWebSocketTransport() *WebSocketTransport {
	dialer := *websocket.DefaultDialer
	return &WebSocketTransport{dialer: &dialer}
}

func (t *WebSocketTransport) template(tmpl tools.CallTemplate) (*WebSocketTemplate, error) {
	wsTmpl, ok := tmpl.(*WebSocketTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"websocket transport needs a websocket template, got %q", tmpl.TemplateType())
	}
	return wsTmpl, nil
}

// dial resolves auth into the URL and handshake headers, then connects.
func (t *WebSocketTransport) dial(ctx context.Context, wsTmpl *WebSocketTemplate, rawURL string) (*websocket.Conn, error) {
	// Auth is applied to a scratch request so query parameters, headers, and
	// cookies all land in the right place.
	scratch, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, tools.NewValidationError("url", "bad url %q: %v", rawURL, err)
	}
	for k, v := range wsTmpl.Headers {
		scratch.Header.Set(k, v)
	}
	if wsTmpl.Auth != nil {
		if err := wsTmpl.Auth.ApplyTo(scratch); err != nil {
			return nil, &tools.AuthError{Provider: wsTmpl.Name, Err: err}
		}
	}

	dialer := *t.dialer
	if wsTmpl.Protocol != "" {
		dialer.Subprotocols = []string{wsTmpl.Protocol}
	}

	conn, resp, err := dialer.DialContext(ctx, scratch.URL.String(), scratch.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (handshake status %s)", err, resp.Status)
		}
		return nil, &tools.TransportError{Protocol: ProtocolWebSocket, Provider: wsTmpl.Name, Err: err}
	}
	return conn, nil
}

// callURL strips a trailing /tools segment from the discovery URL and
// appends the tool name in its place.
func (t *WebSocketTransport) callURL(wsTmpl *WebSocketTemplate, toolName string) string {
	base := strings.TrimRight(wsTmpl.URL, "/")
	base = strings.TrimSuffix(base, "/tools")
	return base + "/" + toolName
}

func (t *WebSocketTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	wsTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	conn, err := t.dial(ctx, wsTmpl, wsTmpl.URL)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("manual")); err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolWebSocket, Provider: wsTmpl.Name, Err: err}
	}
	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolWebSocket, Provider: wsTmpl.Name, Err: err}
	}

	if manual, err := tools.DecodeManual(message); err == nil {
		return manual.Tools, nil
	}
	return nil, nil
}

func (t *WebSocketTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

// CallTool collects every message the server sends before closing and
// returns them as one array.
func (t *WebSocketTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	wsTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	conn, err := t.dial(ctx, wsTmpl, t.callURL(wsTmpl, toolName))
	if err != nil {
		return nil, wrapCallErr(err, toolName)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	if err := conn.WriteJSON(args); err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolWebSocket, Provider: wsTmpl.Name, Tool: toolName, Err: err}
	}

	results := []any{}
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			// Any close, clean or not, ends the collection with what
			// arrived so far.
			return results, nil
		}
		if value, ok := decodeWSMessage(msgType, message); ok {
			results = append(results, value)
		}
	}
}

func (t *WebSocketTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	wsTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	conn, err := t.dial(streamCtx, wsTmpl, t.callURL(wsTmpl, toolName))
	if err != nil {
		cancel()
		return nil, wrapCallErr(err, toolName)
	}

	if err := conn.WriteJSON(args); err != nil {
		conn.Close()
		cancel()
		return nil, &tools.TransportError{Protocol: ProtocolWebSocket, Provider: wsTmpl.Name, Tool: toolName, Err: err}
	}

	if wsTmpl.KeepAlive {
		go keepAlive(streamCtx, conn)
	}

	ch := make(chan Item, 16)
	go func() {
		defer close(ch)
		for {
			msgType, message, err := conn.ReadMessage()
			if err != nil {
				if streamCtx.Err() != nil ||
					websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				select {
				case ch <- Item{Err: fmt.Errorf("websocket receive: %w", err)}:
				case <-streamCtx.Done():
				}
				return
			}
			value, ok := decodeWSMessage(msgType, message)
			if !ok {
				continue
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
		return conn.Close()
	}), nil
}

// decodeWSMessage turns a text or binary frame into a JSON value, falling
// back to the raw string. Control frames and non-UTF-8 binary are skipped.
func decodeWSMessage(msgType int, message []byte) (any, bool) {
	switch msgType {
	case websocket.TextMessage:
	case websocket.BinaryMessage:
		if !utf8.Valid(message) {
			return nil, false
		}
	default:
		return nil, false
	}
	var value any
	if err := json.Unmarshal(message, &value); err != nil {
		return string(message), true
	}
	return value, true
}

// keepAlive pings the server on long-lived streams so intermediaries keep
// the connection open.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// wrapCallErr stamps the tool name onto transport errors coming out of dial.
func wrapCallErr(err error, toolName string) error {
	if te, ok := err.(*tools.TransportError); ok {
		te.Tool = toolName
		return te
	}
	return err
}
