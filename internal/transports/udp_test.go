package transports

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utcp/internal/tools"
)

// startUDPServer answers each datagram with respond's output; a nil reply
// drops the request.
func startUDPServer(t *testing.T, respond func(request []byte) []byte) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, maxUDPDatagramBytes)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if reply := respond(append([]byte(nil), buf[:n]...)); reply != nil {
				pc.WriteTo(reply, addr)
			}
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func TestUDPTransport_CallTool_RoundTrip(t *testing.T) {
	var gotRequest []byte
	port := startUDPServer(t, func(request []byte) []byte {
		gotRequest = request
		return []byte(`{"ok": true}`)
	})

	result, err := NewUDPTransport().CallTool(context.Background(), "ping",
		map[string]any{"seq": float64(1)},
		&UDPTemplate{Name: "beacon", Host: "127.0.0.1", Port: port, TimeoutMs: 2000})
	require.NoError(t, err)

	// Datagrams carry the tool name alongside the arguments.
	assert.JSONEq(t, `{"tool": "ping", "args": {"seq": 1}}`, string(gotRequest))
	assert.Equal(t, map[string]any{"ok": true}, result)
}

func TestUDPTransport_CallTool_Timeout(t *testing.T) {
	port := startUDPServer(t, func([]byte) []byte { return nil })

	_, err := NewUDPTransport().CallTool(context.Background(), "ping", nil,
		&UDPTemplate{Name: "beacon", Host: "127.0.0.1", Port: port, TimeoutMs: 100})
	require.Error(t, err)
	assert.True(t, tools.IsTimeout(err))
}

func TestUDPTransport_CallTool_OversizeRequest(t *testing.T) {
	_, err := NewUDPTransport().CallTool(context.Background(), "ping",
		map[string]any{"blob": strings.Repeat("x", maxUDPDatagramBytes+1)},
		&UDPTemplate{Name: "beacon", Host: "127.0.0.1", Port: 9})
	require.Error(t, err)
	assert.True(t, tools.IsValidation(err))
}

func TestUDPTransport_CallTool_NonJSONResponse(t *testing.T) {
	port := startUDPServer(t, func([]byte) []byte {
		return []byte("not json")
	})

	_, err := NewUDPTransport().CallTool(context.Background(), "ping", nil,
		&UDPTemplate{Name: "beacon", Host: "127.0.0.1", Port: port, TimeoutMs: 2000})
	require.Error(t, err)

	var te *tools.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ProtocolUDP, te.Protocol)
	assert.Equal(t, "ping", te.Tool)
}

func TestUDPTransport_Discovery_NoTools(t *testing.T) {
	discovered, err := NewUDPTransport().RegisterToolProvider(context.Background(),
		&UDPTemplate{Name: "beacon", Host: "127.0.0.1", Port: 9})
	require.NoError(t, err)
	assert.Empty(t, discovered)
}

func TestUDPTransport_TemplateMismatch(t *testing.T) {
	_, err := NewUDPTransport().CallTool(context.Background(), "ping", nil, &TCPTemplate{Name: "tcp"})
	require.Error(t, err)
	assert.True(t, tools.IsValidation(err))
}

func TestUDPTransport_CallToolStream_Unsupported(t *testing.T) {
	_, err := NewUDPTransport().CallToolStream(context.Background(), "ping", nil,
		&UDPTemplate{Name: "beacon", Host: "127.0.0.1", Port: 9})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamingNotSupported))
}
