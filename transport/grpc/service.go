package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName  = "rbc.v1.BroadcastService"
	gossipMethod = "/" + serviceName + "/Gossip"
	updateMethod = "/" + serviceName + "/Update"
)

// broadcastServer is the server side of the broadcast service.
type broadcastServer interface {
	Gossip(ctx context.Context, req *gossipRequest) (*reconcileResponse, error)
	Update(ctx context.Context, req *updateRequest) (*ack, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*broadcastServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Gossip", Handler: gossipHandler},
		{MethodName: "Update", Handler: updateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rbc/v1/broadcast",
}

func gossipHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(gossipRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(broadcastServer).Gossip(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: gossipMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(broadcastServer).Gossip(ctx, req.(*gossipRequest))
	})
}

func updateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(updateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(broadcastServer).Update(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: updateMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(broadcastServer).Update(ctx, req.(*updateRequest))
	})
}
