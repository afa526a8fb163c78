package transports

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"utcp/internal/tools"
	"utcp/pkg/auth"
)

// stubUtcpService mirrors the conventional service shape without generated
// stubs; the test server decodes requests with the shared json codec.
type stubUtcpService interface{}

type stubGRPCServer struct {
	mu        sync.Mutex
	manual    grpcManual
	result    string
	streamOut []string
	lastCall  *grpcToolCallRequest
	lastAuth  string
}

func (s *stubGRPCServer) record(ctx context.Context, call *grpcToolCallRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call != nil {
		s.lastCall = call
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			s.lastAuth = values[0]
		}
	}
}

func (s *stubGRPCServer) last() (*grpcToolCallRequest, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCall, s.lastAuth
}

func stubGetManualHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(grpcEmpty)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*stubGRPCServer)
	s.record(ctx, nil)
	return &s.manual, nil
}

func stubCallToolHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(grpcToolCallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*stubGRPCServer)
	s.record(ctx, in)
	return &grpcToolCallResponse{ResultJSON: s.result}, nil
}

func stubCallToolStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(grpcToolCallRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	s := srv.(*stubGRPCServer)
	s.record(stream.Context(), in)
	for _, out := range s.streamOut {
		if err := stream.SendMsg(&grpcToolCallResponse{ResultJSON: out}); err != nil {
			return err
		}
	}
	return nil
}

var stubServiceDesc = grpc.ServiceDesc{
	ServiceName: "utcp.UtcpService",
	HandlerType: (*stubUtcpService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetManual", Handler: stubGetManualHandler},
		{MethodName: "CallTool", Handler: stubCallToolHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "CallToolStream", Handler: stubCallToolStreamHandler, ServerStreams: true},
	},
}

func startGRPCServer(t *testing.T, stub *stubGRPCServer) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	server.RegisterService(&stubServiceDesc, stub)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	return lis.Addr().(*net.TCPAddr).Port
}

func TestGRPCTransport_Discovery(t *testing.T) {
	stub := &stubGRPCServer{
		manual: grpcManual{Tools: []grpcToolDef{
			{Name: "add", Description: "Add two numbers"},
			{Name: "mul", Description: "Multiply two numbers"},
		}},
	}
	port := startGRPCServer(t, stub)

	discovered, err := NewGRPCTransport().RegisterToolProvider(context.Background(),
		&GRPCTemplate{Name: "calc", Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	require.Len(t, discovered, 2)
	assert.Equal(t, "add", discovered[0].Name)
	assert.Equal(t, "Add two numbers", discovered[0].Description)
	assert.Equal(t, []string{"grpc"}, discovered[0].Tags)
}

func TestGRPCTransport_CallTool(t *testing.T) {
	stub := &stubGRPCServer{result: `{"sum": 5}`}
	port := startGRPCServer(t, stub)

	result, err := NewGRPCTransport().CallTool(context.Background(), "add",
		map[string]any{"a": float64(2), "b": float64(3)},
		&GRPCTemplate{Name: "calc", Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": float64(5)}, result)

	lastCall, _ := stub.last()
	require.NotNil(t, lastCall)
	assert.Equal(t, "add", lastCall.Tool)
	assert.JSONEq(t, `{"a": 2, "b": 3}`, lastCall.ArgsJSON)
}

func TestGRPCTransport_CallTool_EmptyResultIsNull(t *testing.T) {
	port := startGRPCServer(t, &stubGRPCServer{result: ""})

	result, err := NewGRPCTransport().CallTool(context.Background(), "noop", nil,
		&GRPCTemplate{Name: "calc", Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGRPCTransport_CallTool_BasicAuthMetadata(t *testing.T) {
	stub := &stubGRPCServer{result: `true`}
	port := startGRPCServer(t, stub)

	_, err := NewGRPCTransport().CallTool(context.Background(), "add", nil,
		&GRPCTemplate{
			Name: "calc",
			Host: "127.0.0.1",
			Port: port,
			Auth: &auth.BasicAuth{Username: "svc", Password: "hunter2"},
		})
	require.NoError(t, err)

	_, lastAuth := stub.last()
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("svc:hunter2"))
	assert.Equal(t, expected, lastAuth)
}

func TestGRPCTransport_CallTool_RejectsNonBasicAuth(t *testing.T) {
	_, err := NewGRPCTransport().CallTool(context.Background(), "add", nil,
		&GRPCTemplate{
			Name: "calc",
			Host: "127.0.0.1",
			Port: 1,
			Auth: auth.NewApiKeyAuth("k"),
		})
	require.Error(t, err)

	var ae *tools.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "calc", ae.Provider)
}

func TestGRPCTransport_CallTool_ServerUnavailable(t *testing.T) {
	_, err := NewGRPCTransport().CallTool(context.Background(), "add", nil,
		&GRPCTemplate{Name: "calc", Host: "127.0.0.1", Port: 1})
	require.Error(t, err)

	var te *tools.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ProtocolGRPC, te.Protocol)
	assert.Equal(t, "add", te.Tool)
}

func TestGRPCTransport_CallToolStream(t *testing.T) {
	stub := &stubGRPCServer{streamOut: []string{`1`, `2`, `{"done": true}`}}
	port := startGRPCServer(t, stub)

	stream, err := NewGRPCTransport().CallToolStream(context.Background(), "count",
		map[string]any{"to": float64(2)},
		&GRPCTemplate{Name: "calc", Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer stream.Close()

	var items []any
	var next error
	for {
		var item any
		item, next = stream.Next()
		if next != nil {
			break
		}
		items = append(items, item)
	}
	assert.ErrorIs(t, next, io.EOF)

	require.Len(t, items, 3)
	assert.Equal(t, float64(1), items[0])
	assert.Equal(t, float64(2), items[1])
	assert.Equal(t, map[string]any{"done": true}, items[2])

	lastCall, _ := stub.last()
	require.NotNil(t, lastCall)
	assert.Equal(t, "count", lastCall.Tool)
}

func TestGRPCTransport_TemplateMismatch(t *testing.T) {
	_, err := NewGRPCTransport().CallTool(context.Background(), "add", nil, &HTTPTemplate{Name: "http"})
	require.Error(t, err)
	assert.True(t, tools.IsValidation(err))
}

func TestBuildGRPCRequest(t *testing.T) {
	request, err := buildGRPCRequest("add", map[string]any{"a": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, "add", request.Tool)
	assert.JSONEq(t, `{"a": 1}`, request.ArgsJSON)
}

func TestDecodeGRPCResult(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{"empty is null", "", nil},
		{"json object", `{"a": 1}`, map[string]any{"a": float64(1)}},
		{"json scalar", `42`, float64(42)},
		{"invalid json passes through", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeGRPCResult(tt.in))
		})
	}
}
