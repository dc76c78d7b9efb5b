package grpcport

import (
	"google.golang.org/grpc"
)

const (
	serviceName = "memorall.rpc.Port"
	streamName  = "Stream"
	fullMethod  = "/" + serviceName + "/" + streamName
)

// serviceDesc describes the single bidi-streaming RPC both sides speak:
// client writes rpc.Request frames, host writes rpc.Response frames, in any
// interleaving — the generalization of the teacher's stdio transport's
// strict request-then-response pairing to a multiplexed connection.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "memorall/rpc.proto",
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*Server).handleStream(stream)
}
