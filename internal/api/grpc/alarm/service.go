package alarm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmstream.v1.AlarmStream"

const (
	subscribeMethod = "/" + ServiceName + "/Subscribe"
	listMethod      = "/" + ServiceName + "/List"
)

// AlarmStreamServer is the server API of the alarm stream service.
type AlarmStreamServer interface {
	Subscribe(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
	List(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
}

// ServiceDesc describes the alarm stream service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlarmStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: listHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "alarmstream/v1/alarm_stream.proto",
}

// RegisterAlarmStreamServer registers srv on s.
func RegisterAlarmStreamServer(s grpc.ServiceRegistrar, srv AlarmStreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func listHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(AlarmStreamServer).List(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlarmStreamServer).List(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(AlarmStreamServer).Subscribe(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{
		ServerStream: stream,
	})
}
