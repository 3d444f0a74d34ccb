// Package executorloop is the per-executor loop: it owns the
// pending-trigger accumulator and steps schedules through internal/dag.
// Inbound DagTriggers and FunctionCalls from other executors / the workload
// driver arrive on separate gRPC services. Triggers are buffered for the
// loop's flush goroutine; FunctionCalls, and causal-mode schedules passed
// to Submit, are executed inline on the receiving goroutine.
package executorloop

import (
	"context"

	_ "github.com/oriys/squall/internal/kvs/rpcwire" // installs the JSON codec
	"google.golang.org/grpc"
)

const callServiceName = "squall.executorloop.Call"

// CallRequest is a one-shot function invocation outside any DAG,
// domain.FunctionCall's wire shape.
type CallRequest struct {
	Name        string `json:"name"`
	Arguments   []byte `json:"arguments"` // json-encoded []any
	Consistency string `json:"consistency"`
}

// CallResponse carries a boundary error when the call failed. Loop.Call
// leaves Result empty: a successful call's result goes through the sink,
// which writes it to the KVS key "<name>-adhoc".
type CallResponse struct {
	Result []byte `json:"result,omitempty"`
	Error  []byte `json:"error,omitempty"` // json-encoded domain.BoundaryError
}

// CallServer is implemented by *Loop to receive ad-hoc FunctionCalls.
type CallServer interface {
	Call(ctx context.Context, req *CallRequest) (*CallResponse, error)
}

var CallServiceDesc = grpc.ServiceDesc{
	ServiceName: callServiceName,
	HandlerType: (*CallServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/executorloop/wire.go",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CallServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + callServiceName + "/Call"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CallServer).Call(ctx, req.(*CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterCallServer attaches srv's Call method to s.
func RegisterCallServer(s *grpc.Server, srv CallServer) {
	s.RegisterService(&CallServiceDesc, srv)
}
