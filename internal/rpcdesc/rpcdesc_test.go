package rpcdesc

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

type echoRequest struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type echoResponse struct {
	Greeting string `json:"greeting"`
	Count    int    `json:"count"`
}

func testService() Service {
	return Service{
		Package: "gohome.test.v1",
		Name:    "EchoService",
		Methods: []Method{
			{Name: "Echo", Handler: Typed(func(_ context.Context, req echoRequest) (echoResponse, error) {
				if req.Name == "" {
					return echoResponse{}, status.Error(codes.InvalidArgument, "name is required")
				}
				return echoResponse{Greeting: "hello " + req.Name, Count: req.Count + 1}, nil
			})},
			{Name: "Empty", Handler: func(context.Context, *structpb.Struct) (*structpb.Struct, error) { return nil, nil }},
		},
	}
}

func dial(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	register(server)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRegisterAndInvoke(t *testing.T) {
	svc := testService()
	conn := dial(t, func(s *grpc.Server) { MustRegister(s, svc) })

	out, err := Invoke(context.Background(), conn, svc.FullName(), "Echo", echoRequest{Name: "fpp", Count: 1})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var resp echoResponse
	if err := Decode(out, &resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Greeting != "hello fpp" || resp.Count != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	_, err = Invoke(context.Background(), conn, svc.FullName(), "Echo", nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	out, err = Invoke(context.Background(), conn, svc.FullName(), "Empty", nil)
	if err != nil || len(out.GetFields()) != 0 {
		t.Fatalf("expected empty response, got %v %v", out, err)
	}
}

func TestRegisterPublishesDescriptor(t *testing.T) {
	svc := testService()
	if err := registerDescriptor(svc); err != nil {
		t.Fatalf("registerDescriptor: %v", err)
	}
	// Registering twice is a no-op.
	if err := registerDescriptor(svc); err != nil {
		t.Fatalf("second registerDescriptor: %v", err)
	}

	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(svc.FullName()))
	if err != nil {
		t.Fatalf("find descriptor: %v", err)
	}
	sd, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		t.Fatalf("expected service descriptor, got %T", desc)
	}
	method := sd.Methods().ByName("Echo")
	if method == nil || method.Input().FullName() != "google.protobuf.Struct" {
		t.Fatalf("unexpected method descriptor: %v", method)
	}
}

func TestInterceptorSeesFullMethod(t *testing.T) {
	svc := Service{
		Package: "gohome.test.v1",
		Name:    "InterceptedService",
		Methods: []Method{{Name: "Ping", Handler: Typed(func(context.Context, struct{}) (map[string]string, error) {
			return map[string]string{"pong": "ok"}, nil
		})}},
	}
	seen := make(chan string, 1)
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		seen <- info.FullMethod
		return handler(ctx, req)
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	MustRegister(server, svc)
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	out, err := Invoke(context.Background(), conn, svc.FullName(), "Ping", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.GetFields()["pong"].GetStringValue() != "ok" {
		t.Fatalf("unexpected response: %v", out)
	}
	if got := <-seen; got != "/gohome.test.v1.InterceptedService/Ping" {
		t.Fatalf("unexpected full method: %q", got)
	}
}
