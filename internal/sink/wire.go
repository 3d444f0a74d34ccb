// Package sink is the sink dispatcher: on a terminal DAG node it picks
// exactly one of continuation, response_address, or a KVS write in normal
// mode, and an unconditional causal_put plus an optional response_address
// send in causal mode.
//
// Continuation and response deliveries reuse the same no-protoc
// hand-written-ServiceDesc approach as internal/kvs/grpc and
// internal/triggercoord.
package sink

import (
	"context"

	"github.com/oriys/squall/internal/domain"
	_ "github.com/oriys/squall/internal/kvs/rpcwire" // installs the JSON codec
	"google.golang.org/grpc"
)

const serviceName = "squall.sink.Delivery"

// DeliverRequest carries one terminal result to either the scheduler's
// continuation endpoint or a caller-supplied response address.
type DeliverRequest struct {
	ScheduleID       string               `json:"schedule_id"`
	Result           []byte               `json:"result,omitempty"`
	Error            *domain.BoundaryError `json:"error,omitempty"`
	ContinuationName string               `json:"continuation_name,omitempty"`
	ContinuationID   string               `json:"continuation_id,omitempty"`
}

type DeliverResponse struct{}

// Server is the interface a scheduler stand-in or response-address
// listener implements to receive deliveries.
type Server interface {
	Deliver(ctx context.Context, req *DeliverRequest) (*DeliverResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/sink/wire.go",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Deliver"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterServer attaches a Server implementation to a grpc.Server.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
