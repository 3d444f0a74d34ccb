// Package triggercoord is the trigger coordinator: it pushes a finished
// step's DagTrigger to the executor hosting the next function,
// fire-and-forget at the transport layer, over a cached gRPC connection
// per destination address.
//
// There is no protoc-generated stub here either: like internal/kvs/grpc,
// the wire message is a plain json-tagged struct carried by the codec
// internal/kvs/rpcwire installs, and the grpc.ServiceDesc is hand-written.
package triggercoord

import (
	"context"

	"github.com/oriys/squall/internal/domain"
	_ "github.com/oriys/squall/internal/kvs/rpcwire" // installs the JSON codec
	"google.golang.org/grpc"
)

const serviceName = "squall.trigger.Trigger"

// PushRequest carries one DagTrigger to the executor that owns
// target_function for this schedule.
type PushRequest struct {
	Trigger domain.DagTrigger `json:"trigger"`
}

// PushResponse is an empty ack; the caller does not wait on it (fire-and-
// forget), but a unary RPC still needs a response message shape.
type PushResponse struct{}

// Server is the interface an executor's inbound trigger endpoint
// implements.
type Server interface {
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
}

// ServiceDesc is the hand-written equivalent of a protoc-generated
// _ServiceDesc for the single-method trigger push service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: pushHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/triggercoord/wire.go",
}

func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PushRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Push"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Push(ctx, req.(*PushRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterServer attaches a Server implementation to a grpc.Server.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
