package transports

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"utcp/internal/tools"
	"utcp/pkg/auth"
)

// UTCP gRPC providers expose one conventional service; tool payloads travel
// as JSON strings so no per-provider codegen is needed.
const (
	grpcMethodGetManual      = "/utcp.UtcpService/GetManual"
	grpcMethodCallTool       = "/utcp.UtcpService/CallTool"
	grpcMethodCallToolStream = "/utcp.UtcpService/CallToolStream"
)

type grpcEmpty struct{}

type grpcToolCallRequest struct {
	Tool     string `json:"tool"`
	ArgsJSON string `json:"args_json"`
}

type grpcToolCallResponse struct {
	ResultJSON string `json:"result_json"`
}

type grpcManual struct {
	Tools []grpcToolDef `json:"tools"`
}

type grpcToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// jsonCodec replaces protobuf framing with JSON on both ends of the
// conventional service.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	// Server side of in-process tests resolves the codec by name.
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCTransport reaches providers over the conventional UtcpService. Each
// operation dials a fresh connection; gRPC's own connection management is
// cheap enough at tool-call rates.
type GRPCTransport struct {
	dialOpts []grpc.DialOption
}

func NewGRPCTransport() *GRPCTransport {
	return &GRPCTransport{}
}

// NewGRPCTransportWithDialOptions adds extra dial options, used by tests to
// target bufconn listeners.
func NewGRPCTransportWithDialOptions(opts ...grpc.DialOption) *GRPCTransport {
	return &GRPCTransport{dialOpts: opts}
}

func (t *GRPCTransport) template(tmpl tools.CallTemplate) (*GRPCTemplate, error) {
	grpcTmpl, ok := tmpl.(*GRPCTemplate)
	if !ok {
		return nil, tools.NewValidationError("call_template",
			"grpc transport needs a grpc template, got %q", tmpl.TemplateType())
	}
	return grpcTmpl, nil
}

func (t *GRPCTransport) connect(grpcTmpl *GRPCTemplate) (*grpc.ClientConn, error) {
	target := net.JoinHostPort(grpcTmpl.Host, fmt.Sprintf("%d", grpcTmpl.Port))

	creds := insecure.NewCredentials()
	if grpcTmpl.UseSSL {
		creds = credentials.NewTLS(&tls.Config{})
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, t.dialOpts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, &tools.TransportError{
			Protocol: ProtocolGRPC,
			Provider: grpcTmpl.Name,
			Err:      fmt.Errorf("connecting to %s: %w", target, err),
		}
	}
	return conn, nil
}

// withAuth adds credentials to the outgoing metadata. Only basic auth maps
// onto gRPC metadata.
func (t *GRPCTransport) withAuth(ctx context.Context, grpcTmpl *GRPCTemplate) (context.Context, error) {
	if grpcTmpl.Auth == nil {
		return ctx, nil
	}
	basic, ok := grpcTmpl.Auth.(*auth.BasicAuth)
	if !ok {
		return nil, &tools.AuthError{
			Provider: grpcTmpl.Name,
			Err:      fmt.Errorf("grpc providers support basic auth only, got %s", grpcTmpl.Auth.Type()),
		}
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(basic.Username + ":" + basic.Password))
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Basic "+encoded), nil
}

func (t *GRPCTransport) RegisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) ([]tools.Tool, error) {
	grpcTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	conn, err := t.connect(grpcTmpl)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	callCtx, err := t.withAuth(ctx, grpcTmpl)
	if err != nil {
		return nil, err
	}

	var manual grpcManual
	if err := conn.Invoke(callCtx, grpcMethodGetManual, &grpcEmpty{}, &manual, grpc.ForceCodec(jsonCodec{})); err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolGRPC, Provider: grpcTmpl.Name, Err: err}
	}

	discovered := make([]tools.Tool, 0, len(manual.Tools))
	for _, def := range manual.Tools {
		discovered = append(discovered, tools.Tool{
			Name:        def.Name,
			Description: def.Description,
			Inputs:      tools.ObjectSchema(),
			Outputs:     tools.ObjectSchema(),
			Tags:        []string{"grpc"},
		})
	}
	return discovered, nil
}

func (t *GRPCTransport) DeregisterToolProvider(ctx context.Context, tmpl tools.CallTemplate) error {
	return nil
}

func (t *GRPCTransport) CallTool(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (any, error) {
	grpcTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	request, err := buildGRPCRequest(toolName, args)
	if err != nil {
		return nil, err
	}

	conn, err := t.connect(grpcTmpl)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	callCtx, err := t.withAuth(ctx, grpcTmpl)
	if err != nil {
		return nil, err
	}

	var response grpcToolCallResponse
	if err := conn.Invoke(callCtx, grpcMethodCallTool, request, &response, grpc.ForceCodec(jsonCodec{})); err != nil {
		return nil, &tools.TransportError{Protocol: ProtocolGRPC, Provider: grpcTmpl.Name, Tool: toolName, Err: err}
	}
	return decodeGRPCResult(response.ResultJSON), nil
}

func (t *GRPCTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, tmpl tools.CallTemplate) (StreamResult, error) {
	grpcTmpl, err := t.template(tmpl)
	if err != nil {
		return nil, err
	}

	request, err := buildGRPCRequest(toolName, args)
	if err != nil {
		return nil, err
	}

	conn, err := t.connect(grpcTmpl)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	closeAll := func() {
		cancel()
		conn.Close()
	}

	callCtx, err := t.withAuth(streamCtx, grpcTmpl)
	if err != nil {
		closeAll()
		return nil, err
	}

	desc := &grpc.StreamDesc{StreamName: "CallToolStream", ServerStreams: true}
	stream, err := conn.NewStream(callCtx, desc, grpcMethodCallToolStream, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		closeAll()
		return nil, &tools.TransportError{Protocol: ProtocolGRPC, Provider: grpcTmpl.Name, Tool: toolName, Err: err}
	}
	if err := stream.SendMsg(request); err != nil {
		closeAll()
		return nil, &tools.TransportError{Protocol: ProtocolGRPC, Provider: grpcTmpl.Name, Tool: toolName, Err: err}
	}
	if err := stream.CloseSend(); err != nil {
		closeAll()
		return nil, &tools.TransportError{Protocol: ProtocolGRPC, Provider: grpcTmpl.Name, Tool: toolName, Err: err}
	}

	ch := make(chan Item, 16)
	go func() {
		defer close(ch)
		for {
			var response grpcToolCallResponse
			err := stream.RecvMsg(&response)
			if err == io.EOF {
				return
			}
			if err != nil {
				if streamCtx.Err() == nil {
					select {
					case ch <- Item{Err: fmt.Errorf("grpc stream: %w", err)}:
					case <-streamCtx.Done():
					}
				}
				return
			}
			select {
			case ch <- Item{Value: decodeGRPCResult(response.ResultJSON)}:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return NewChannelStream(ch, func() error {
		closeAll()
		return nil
	}), nil
}

func buildGRPCRequest(toolName string, args map[string]any) (*grpcToolCallRequest, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, tools.NewValidationError("arguments", "arguments are not JSON-encodable: %v", err)
	}
	return &grpcToolCallRequest{Tool: toolName, ArgsJSON: string(argsJSON)}, nil
}

// decodeGRPCResult interprets the result payload: empty means null, invalid
// JSON is passed through as a string.
func decodeGRPCResult(resultJSON string) any {
	if resultJSON == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(resultJSON), &value); err != nil {
		return resultJSON
	}
	return value
}
