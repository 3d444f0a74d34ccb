// Package grpc implements the KVS client contract (internal/kvs.Client)
// as a gRPC unary service. There is no protoc-generated stub: the wire
// messages are plain json-tagged structs, and the grpc.ServiceDesc below
// is hand-written and registered under the JSON codec installed by
// internal/kvs/rpcwire. This still exercises the real grpc-go transport
// (HTTP/2 framing, deadlines, interceptors) without a protobuf compiler.
package grpc

import (
	"context"
	"encoding/json"

	_ "github.com/oriys/squall/internal/kvs/rpcwire" // installs the JSON codec
	"github.com/oriys/squall/internal/lattice"
	"google.golang.org/grpc"
)

// GetRequest/GetResponse implement kvs.Client.Get over the wire.
type GetRequest struct {
	Keys []string `json:"keys"`
}

type GetResponse struct {
	Values map[string]*lattice.Envelope `json:"values"`
}

// PutRequest/PutResponse implement kvs.Client.Put over the wire.
type PutRequest struct {
	Values map[string]*lattice.Envelope `json:"values"`
}

type PutResponse struct {
	Results map[string]bool `json:"results"`
}

// CausalGetRequest/CausalGetResponse implement kvs.Client.CausalGet.
type CausalGetRequest struct {
	Keys        []string `json:"keys"`
	TLow        uint64   `json:"t_low"`
	THigh       uint64   `json:"t_high"`
	Consistency string   `json:"consistency"`
	ClientID    string   `json:"client_id"`
}

type CausalTupleWire struct {
	Value       json.RawMessage `json:"value"`
	Ts          uint64          `json:"ts"`
	Promise     uint64          `json:"promise"`
	LatticeType lattice.Kind    `json:"lattice_type"`
}

type CausalGetResponse struct {
	Tuples map[string]CausalTupleWire `json:"tuples"`
}

// CausalPutRequest/CausalPutResponse implement kvs.Client.CausalPut.
type CausalPutRequest struct {
	Key      string            `json:"key"`
	Value    *lattice.Envelope `json:"value"`
	ClientID string            `json:"client_id"`
}

type CausalPutResponse struct {
	Success bool `json:"success"`
}

// Server is the interface the hand-written ServiceDesc dispatches to.
type Server interface {
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Put(ctx context.Context, req *PutRequest) (*PutResponse, error)
	CausalGet(ctx context.Context, req *CausalGetRequest) (*CausalGetResponse, error)
	CausalPut(ctx context.Context, req *CausalPutRequest) (*CausalPutResponse, error)
}

const serviceName = "squall.kvs.KVS"

// ServiceDesc is the hand-written equivalent of a protoc-generated
// _ServiceDesc: it wires method names to handlers without needing a
// .proto-derived stub.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Put", Handler: putHandler},
		{MethodName: "CausalGet", Handler: causalGetHandler},
		{MethodName: "CausalPut", Handler: causalPutHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/kvs/grpc/wire.go",
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Get"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func putHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Put"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Put(ctx, req.(*PutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func causalGetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CausalGetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).CausalGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CausalGet"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).CausalGet(ctx, req.(*CausalGetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func causalPutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CausalPutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).CausalPut(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CausalPut"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).CausalPut(ctx, req.(*CausalPutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterServer attaches a Server implementation to a grpc.Server.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
