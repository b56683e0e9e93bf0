package handoff

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName        = "clustering.ClusteringService"
	clusterObservation = "/" + serviceName + "/ClusterObservation"
)

// ClusteringServer is the server side of the clustering service. Requests
// and replies are structpb.Struct messages; see ClusteringClient.Submit for
// the field layout.
type ClusteringServer interface {
	ClusterObservation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterClusteringServer(s grpc.ServiceRegistrar, srv ClusteringServer) {
	s.RegisterService(&serviceDesc, srv)
}

func clusterObservationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusteringServer).ClusterObservation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: clusterObservation}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClusteringServer).ClusterObservation(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ClusteringServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ClusterObservation", Handler: clusterObservationHandler},
	},
	Streams: []grpc.StreamDesc{},
}
