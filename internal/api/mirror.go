package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the daemon.
const ServiceName = "feedmirror.v1.Mirror"

const (
	Mirror_GetStatus_FullMethodName        = "/" + ServiceName + "/GetStatus"
	Mirror_ListChats_FullMethodName        = "/" + ServiceName + "/ListChats"
	Mirror_SetPinned_FullMethodName        = "/" + ServiceName + "/SetPinned"
	Mirror_SetMuted_FullMethodName         = "/" + ServiceName + "/SetMuted"
	Mirror_DeleteChat_FullMethodName       = "/" + ServiceName + "/DeleteChat"
	Mirror_MarkRead_FullMethodName         = "/" + ServiceName + "/MarkRead"
	Mirror_Logout_FullMethodName           = "/" + ServiceName + "/Logout"
	Mirror_WatchChats_FullMethodName       = "/" + ServiceName + "/WatchChats"
	Mirror_OpenConversation_FullMethodName = "/" + ServiceName + "/OpenConversation"
)

// MirrorServer is the daemon side of the Mirror service. Requests and
// responses are structpb.Struct documents; see convert.go for their fields.
type MirrorServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPinned(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetMuted(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchChats(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	OpenConversation(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterMirrorServer attaches srv to s.
func RegisterMirrorServer(s grpc.ServiceRegistrar, srv MirrorServer) {
	s.RegisterService(&Mirror_ServiceDesc, srv)
}

type unaryMethod func(MirrorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MirrorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MirrorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type streamMethod func(MirrorServer, *structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error

func streamHandler(call streamMethod) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(MirrorServer), in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
	}
}

// Mirror_ServiceDesc describes the Mirror service for grpc.Server.
var Mirror_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MirrorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unaryHandler(Mirror_GetStatus_FullMethodName, MirrorServer.GetStatus)},
		{MethodName: "ListChats", Handler: unaryHandler(Mirror_ListChats_FullMethodName, MirrorServer.ListChats)},
		{MethodName: "SetPinned", Handler: unaryHandler(Mirror_SetPinned_FullMethodName, MirrorServer.SetPinned)},
		{MethodName: "SetMuted", Handler: unaryHandler(Mirror_SetMuted_FullMethodName, MirrorServer.SetMuted)},
		{MethodName: "DeleteChat", Handler: unaryHandler(Mirror_DeleteChat_FullMethodName, MirrorServer.DeleteChat)},
		{MethodName: "MarkRead", Handler: unaryHandler(Mirror_MarkRead_FullMethodName, MirrorServer.MarkRead)},
		{MethodName: "Logout", Handler: unaryHandler(Mirror_Logout_FullMethodName, MirrorServer.Logout)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchChats", Handler: streamHandler(MirrorServer.WatchChats), ServerStreams: true},
		{StreamName: "OpenConversation", Handler: streamHandler(MirrorServer.OpenConversation), ServerStreams: true},
	},
	Metadata: "feedmirror/v1/mirror",
}

// MirrorClient is the caller side of the Mirror service.
type MirrorClient interface {
	GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListChats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetPinned(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetMuted(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DeleteChat(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	MarkRead(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Logout(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	WatchChats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	OpenConversation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type mirrorClient struct {
	cc grpc.ClientConnInterface
}

// NewMirrorClient returns a client bound to cc.
func NewMirrorClient(cc grpc.ClientConnInterface) MirrorClient {
	return &mirrorClient{cc: cc}
}

func (c *mirrorClient) unary(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *mirrorClient) stream(ctx context.Context, desc *grpc.StreamDesc, method string, in *structpb.Struct, opts []grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *mirrorClient) GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, Mirror_GetStatus_FullMethodName, in, opts)
}

func (c *mirrorClient) ListChats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, Mirror_ListChats_FullMethodName, in, opts)
}

func (c *mirrorClient) SetPinned(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, Mirror_SetPinned_FullMethodName, in, opts)
}

func (c *mirrorClient) SetMuted(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, Mirror_SetMuted_FullMethodName, in, opts)
}

func (c *mirrorClient) DeleteChat(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, Mirror_DeleteChat_FullMethodName, in, opts)
}

func (c *mirrorClient) MarkRead(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, Mirror_MarkRead_FullMethodName, in, opts)
}

func (c *mirrorClient) Logout(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, Mirror_Logout_FullMethodName, in, opts)
}

func (c *mirrorClient) WatchChats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return c.stream(ctx, &Mirror_ServiceDesc.Streams[0], Mirror_WatchChats_FullMethodName, in, opts)
}

func (c *mirrorClient) OpenConversation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return c.stream(ctx, &Mirror_ServiceDesc.Streams[1], Mirror_OpenConversation_FullMethodName, in, opts)
}
