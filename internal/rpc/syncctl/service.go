package syncctl

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name. Requests and
// responses use protobuf well-known types so no generated code is needed.
const ServiceName = "floatsync.v1.SyncControl"

const (
	methodTriggerSync          = "/" + ServiceName + "/TriggerSync"
	methodTriggerMarket        = "/" + ServiceName + "/TriggerMarket"
	methodRefreshSubscriptions = "/" + ServiceName + "/RefreshSubscriptions"
)

// SyncControlServer is the server API for the sync control service.
type SyncControlServer interface {
	// TriggerSync runs a full reconciliation and returns its stats.
	TriggerSync(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// TriggerMarket runs a reconciliation scoped to one market id.
	TriggerMarket(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	// RefreshSubscriptions recomputes the live subscription set and
	// returns its size.
	RefreshSubscriptions(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
}

// RegisterSyncControlServer registers srv on s.
func RegisterSyncControlServer(s grpc.ServiceRegistrar, srv SyncControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TriggerSync", Handler: triggerSyncHandler},
		{MethodName: "TriggerMarket", Handler: triggerMarketHandler},
		{MethodName: "RefreshSubscriptions", Handler: refreshSubscriptionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "floatsync/v1/sync_control.proto",
}

func triggerSyncHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncControlServer).TriggerSync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTriggerSync}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncControlServer).TriggerSync(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func triggerMarketHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncControlServer).TriggerMarket(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTriggerMarket}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncControlServer).TriggerMarket(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshSubscriptionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncControlServer).RefreshSubscriptions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRefreshSubscriptions}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncControlServer).RefreshSubscriptions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
