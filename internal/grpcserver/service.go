// Package grpcserver exposes job submission, plan lookup and plan adjustment over gRPC.
// Messages are google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "scrollstitch.Stitcher"

// StitcherServer is the server API for the scrollstitch.Stitcher service.
type StitcherServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Adjust(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

// RegisterStitcherServer registers srv on s.
func RegisterStitcherServer(s grpc.ServiceRegistrar, srv StitcherServer) {
	s.RegisterService(&stitcherServiceDesc, srv)
}

func unaryHandler(method string, call func(StitcherServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StitcherServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StitcherServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StitcherServer).Watch(in, stream)
}

var stitcherServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StitcherServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Submit", StitcherServer.Submit),
		unaryHandler("GetPlan", StitcherServer.GetPlan),
		unaryHandler("Adjust", StitcherServer.Adjust),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "scrollstitch.proto",
}

// Client is a thin client for the Stitcher service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return c.invoke(ctx, "Submit", in)
}

func (c *Client) GetPlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetPlan", in)
}

func (c *Client) Adjust(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return c.invoke(ctx, "Adjust", in)
}

// Watch streams job events until ctx is cancelled.
func (c *Client) Watch(ctx context.Context, in *structpb.Struct) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &stitcherServiceDesc.Streams[0], "/"+ServiceName+"/Watch")
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
