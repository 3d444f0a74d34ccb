package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
)

// BackendServer adapts a kvs.Client (the actual storage backend — Redis
// for normal mode, Postgres for causal mode, or memkvs in tests) to the
// wire-level Server interface, so a kvsnode process just composes a
// backend and this adapter.
type BackendServer struct {
	Backend kvs.Client
}

var _ Server = (*BackendServer)(nil)

func (s *BackendServer) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	values, err := s.Backend.Get(ctx, req.Keys)
	if err != nil {
		return nil, fmt.Errorf("kvs/grpc server: get: %w", err)
	}
	wire := make(map[string]*lattice.Envelope, len(values))
	for k, l := range values {
		env, err := lattice.Encode(l)
		if err != nil {
			return nil, fmt.Errorf("kvs/grpc server: encode %q: %w", k, err)
		}
		wire[k] = env
	}
	return &GetResponse{Values: wire}, nil
}

func (s *BackendServer) Put(ctx context.Context, req *PutRequest) (*PutResponse, error) {
	values := make(map[string]lattice.Lattice, len(req.Values))
	for k, env := range req.Values {
		l, err := lattice.Decode(env)
		if err != nil {
			return nil, fmt.Errorf("kvs/grpc server: decode %q: %w", k, err)
		}
		values[k] = l
	}
	results, err := s.Backend.Put(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("kvs/grpc server: put: %w", err)
	}
	return &PutResponse{Results: results}, nil
}

func (s *BackendServer) CausalGet(ctx context.Context, req *CausalGetRequest) (*CausalGetResponse, error) {
	tuples, err := s.Backend.CausalGet(ctx, req.Keys, req.TLow, req.THigh, domain.Consistency(req.Consistency), req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("kvs/grpc server: causal_get: %w", err)
	}
	wire := make(map[string]CausalTupleWire, len(tuples))
	for k, t := range tuples {
		payload, err := json.Marshal(t.Value)
		if err != nil {
			return nil, fmt.Errorf("kvs/grpc server: marshal causal value %q: %w", k, err)
		}
		wire[k] = CausalTupleWire{Value: payload, Ts: t.Ts, Promise: t.Promise, LatticeType: t.Kind}
	}
	return &CausalGetResponse{Tuples: wire}, nil
}

func (s *BackendServer) CausalPut(ctx context.Context, req *CausalPutRequest) (*CausalPutResponse, error) {
	value, err := lattice.Decode(req.Value)
	if err != nil {
		return nil, fmt.Errorf("kvs/grpc server: decode: %w", err)
	}
	ok, err := s.Backend.CausalPut(ctx, req.Key, value, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("kvs/grpc server: causal_put: %w", err)
	}
	return &CausalPutResponse{Success: ok}, nil
}
