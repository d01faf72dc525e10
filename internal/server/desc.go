package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "piimask.v1.Redaction"

// RedactionServer is the server API for the Redaction service.
// Every message is a google.protobuf.Struct.
type RedactionServer interface {
	Upload(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Result(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Review(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Report(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRedactionServer registers srv on s.
func RegisterRedactionServer(s grpc.ServiceRegistrar, srv RedactionServer) {
	s.RegisterService(&Redaction_ServiceDesc, srv)
}

func unaryHandler(method string, call func(RedactionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RedactionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RedactionServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Redaction_ServiceDesc is the grpc.ServiceDesc for the Redaction service.
var Redaction_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RedactionServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Upload", RedactionServer.Upload),
		unaryHandler("Status", RedactionServer.Status),
		unaryHandler("Result", RedactionServer.Result),
		unaryHandler("Review", RedactionServer.Review),
		unaryHandler("Report", RedactionServer.Report),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "piimask/v1/redaction.proto",
}
