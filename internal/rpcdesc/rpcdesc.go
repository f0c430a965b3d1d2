// Package rpcdesc registers unary gRPC services whose requests and responses
// are google.protobuf.Struct. Descriptors are built at runtime and added to
// the global proto registry so server reflection and grpcurl can describe
// and call them.
package rpcdesc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// Handler serves one unary method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type Method struct {
	Name    string
	Handler Handler
}

// Service is a set of unary methods under one proto package.
type Service struct {
	Package string
	Name    string
	Methods []Method
}

// FullName is the proto service name, e.g. "gohome.registry.v1.Registry".
func (s Service) FullName() string {
	return s.Package + "." + s.Name
}

func (s Service) fileName() string {
	return strings.ReplaceAll(s.Package, ".", "/") + "/" + strings.ToLower(s.Name) + ".proto"
}

var registerMu sync.Mutex

// Register adds svc to server and to the global descriptor registry.
func Register(server grpc.ServiceRegistrar, svc Service) error {
	if svc.Package == "" || svc.Name == "" {
		return fmt.Errorf("service package and name are required")
	}
	if err := registerDescriptor(svc); err != nil {
		return err
	}

	desc := &grpc.ServiceDesc{
		ServiceName: svc.FullName(),
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    svc.fileName(),
	}
	for _, m := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    unaryHandler("/"+svc.FullName()+"/"+m.Name, m.Handler),
		})
	}
	server.RegisterService(desc, svc)
	return nil
}

// MustRegister is Register for startup wiring.
func MustRegister(server grpc.ServiceRegistrar, svc Service) {
	if err := Register(server, svc); err != nil {
		panic(err)
	}
}

func registerDescriptor(svc Service) error {
	registerMu.Lock()
	defer registerMu.Unlock()

	if _, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(svc.FullName())); err == nil {
		return nil
	}

	service := &descriptorpb.ServiceDescriptorProto{Name: proto.String(svc.Name)}
	for _, m := range svc.Methods {
		service.Method = append(service.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	fd := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.fileName()),
		Package:    proto.String(svc.Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{service},
	}

	file, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor for %s: %w", svc.FullName(), err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
		return fmt.Errorf("register descriptor for %s: %w", svc.FullName(), err)
	}
	return nil
}

func unaryHandler(fullMethod string, h Handler) grpc.MethodHandler {
	call := func(ctx context.Context, req *structpb.Struct) (any, error) {
		out, err := h(ctx, req)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = &structpb.Struct{}
		}
		return out, nil
	}
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(ctx, req.(*structpb.Struct))
		})
	}
}

// Invoke calls service/method on conn with req encoded as a Struct.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req any) (*structpb.Struct, error) {
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode converts a JSON-marshalable value into a Struct. nil yields an
// empty Struct.
func Encode(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{}, nil
	}
	if s, ok := v.(*structpb.Struct); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// Decode fills v from a Struct using JSON field names.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

// Typed adapts a handler over plain Go request and response types.
func Typed[Req any, Resp any](fn func(context.Context, Req) (Resp, error)) Handler {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		var req Req
		if err := Decode(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return Encode(resp)
	}
}
