// Package remote exposes the simulation controller over gRPC and streams
// the remote-control handshake events to websocket clients.
//
// The service uses only well-known protobuf types, so its descriptor is
// declared here instead of being generated:
//
//	service RemoteControl {
//	  rpc Pause(google.protobuf.Empty) returns (google.protobuf.Struct);
//	  rpc Resume(google.protobuf.Empty) returns (google.protobuf.Struct);
//	  rpc Step(google.protobuf.DoubleValue) returns (google.protobuf.Struct);
//	  rpc Status(google.protobuf.Empty) returns (google.protobuf.Struct);
//	  rpc InjectStimulus(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc StopEarly(google.protobuf.Empty) returns (google.protobuf.Struct);
//	}
//
// Every RPC answers with the controller status after the command applied.
package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "crowdsim.remote.v1.RemoteControl"

const (
	methodPause          = "/" + ServiceName + "/Pause"
	methodResume         = "/" + ServiceName + "/Resume"
	methodStep           = "/" + ServiceName + "/Step"
	methodStatus         = "/" + ServiceName + "/Status"
	methodInjectStimulus = "/" + ServiceName + "/InjectStimulus"
	methodStopEarly      = "/" + ServiceName + "/StopEarly"
)

// RemoteControlServer is the server API for the RemoteControl service.
type RemoteControlServer interface {
	Pause(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Resume(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Step(context.Context, *wrapperspb.DoubleValue) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	InjectStimulus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopEarly(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterRemoteControlServer registers srv on s.
func RegisterRemoteControlServer(s grpc.ServiceRegistrar, srv RemoteControlServer) {
	s.RegisterService(&RemoteControlServiceDesc, srv)
}

// RemoteControlServiceDesc is the grpc.ServiceDesc for the RemoteControl service.
var RemoteControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RemoteControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Pause", Handler: emptyHandler(methodPause, RemoteControlServer.Pause)},
		{MethodName: "Resume", Handler: emptyHandler(methodResume, RemoteControlServer.Resume)},
		{MethodName: "Step", Handler: stepHandler},
		{MethodName: "Status", Handler: emptyHandler(methodStatus, RemoteControlServer.Status)},
		{MethodName: "InjectStimulus", Handler: injectHandler},
		{MethodName: "StopEarly", Handler: emptyHandler(methodStopEarly, RemoteControlServer.StopEarly)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crowdsim/remote/v1/remote.proto",
}

type emptyMethod func(RemoteControlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func emptyHandler(fullMethod string, call emptyMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RemoteControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RemoteControlServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func stepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.DoubleValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteControlServer).Step(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStep}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteControlServer).Step(ctx, req.(*wrapperspb.DoubleValue))
	}
	return interceptor(ctx, in, info, handler)
}

func injectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteControlServer).InjectStimulus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInjectStimulus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteControlServer).InjectStimulus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
