package transports

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utcp/internal/tools"
)

// startTCPServer accepts connections, reads each request to EOF (the client
// half-closes its write side), and replies with respond's output.
func startTCPServer(t *testing.T, respond func(request []byte) []byte) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				request, err := io.ReadAll(c)
				if err != nil {
					return
				}
				if reply := respond(request); reply != nil {
					c.Write(reply)
				}
			}(conn)
		}
	}()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestTCPTransport_CallTool_RoundTrip(t *testing.T) {
	var gotRequest []byte
	port := startTCPServer(t, func(request []byte) []byte {
		gotRequest = request
		return []byte(`{"echo":` + string(request) + `}`)
	})

	result, err := NewTCPTransport().CallTool(context.Background(), "echo",
		map[string]any{"city": "Berlin"},
		&TCPTemplate{Name: "sock", Host: "127.0.0.1", Port: port})
	require.NoError(t, err)

	// The wire carries the bare argument object, no tool name envelope.
	assert.JSONEq(t, `{"city":"Berlin"}`, string(gotRequest))
	assert.Equal(t, map[string]any{"echo": map[string]any{"city": "Berlin"}}, result)
}

func TestTCPTransport_CallTool_NonJSONResponse(t *testing.T) {
	port := startTCPServer(t, func([]byte) []byte {
		return []byte("not json")
	})

	_, err := NewTCPTransport().CallTool(context.Background(), "echo", nil,
		&TCPTemplate{Name: "sock", Host: "127.0.0.1", Port: port})
	require.Error(t, err)

	var te *tools.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ProtocolTCP, te.Protocol)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestTCPTransport_CallTool_Timeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				// Swallow the request and never answer.
				io.ReadAll(c)
				<-block
				c.Close()
			}(conn)
		}
	}()

	_, err = NewTCPTransport().CallTool(context.Background(), "echo", nil,
		&TCPTemplate{
			Name:      "sock",
			Host:      "127.0.0.1",
			Port:      lis.Addr().(*net.TCPAddr).Port,
			TimeoutMs: 100,
		})
	require.Error(t, err)
	assert.True(t, tools.IsTimeout(err))
}

func TestTCPTransport_CallTool_DialFailure(t *testing.T) {
	// Port 1 is never listening on a test host.
	_, err := NewTCPTransport().CallTool(context.Background(), "echo", nil,
		&TCPTemplate{Name: "sock", Host: "127.0.0.1", Port: 1})
	require.Error(t, err)

	var te *tools.TransportError
	if !tools.IsTimeout(err) {
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "echo", te.Tool)
	}
}

func TestTCPTransport_Discovery_NoTools(t *testing.T) {
	discovered, err := NewTCPTransport().RegisterToolProvider(context.Background(),
		&TCPTemplate{Name: "sock", Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)
	assert.Empty(t, discovered)

	require.NoError(t, NewTCPTransport().DeregisterToolProvider(context.Background(),
		&TCPTemplate{Name: "sock"}))
}

func TestTCPTransport_TemplateMismatch(t *testing.T) {
	_, err := NewTCPTransport().CallTool(context.Background(), "echo", nil, &UDPTemplate{Name: "udp"})
	require.Error(t, err)
	assert.True(t, tools.IsValidation(err))
}

func TestTCPTransport_CallToolStream_Unsupported(t *testing.T) {
	_, err := NewTCPTransport().CallToolStream(context.Background(), "echo", nil,
		&TCPTemplate{Name: "sock", Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamingNotSupported))
}
