package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
	"google.golang.org/grpc"
)

// Client implements kvs.Client over a grpc.ClientConn. Every RPC is given
// a fixed receive timeout: server unavailability becomes a retry
// opportunity at the resolver layer rather than a resolved answer — a
// timed-out call returns an error distinct from a resolved-but-missing
// key, so the resolver's retry loop and this client's own timeout remain
// separate concerns.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

var _ kvs.Client = (*Client)(nil)

// NewClient wraps an established connection. timeout is applied per RPC.
func NewClient(conn *grpc.ClientConn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &Client{conn: conn, timeout: timeout}
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) Get(ctx context.Context, keys []string) (map[string]lattice.Lattice, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &GetRequest{Keys: keys}
	resp := new(GetResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Get", req, resp); err != nil {
		return nil, fmt.Errorf("kvs/grpc: get: %w", err)
	}

	out := make(map[string]lattice.Lattice, len(resp.Values))
	for k, env := range resp.Values {
		l, err := lattice.Decode(env)
		if err != nil {
			return nil, fmt.Errorf("kvs/grpc: decode %q: %w", k, err)
		}
		out[k] = l
	}
	return out, nil
}

func (c *Client) Put(ctx context.Context, values map[string]lattice.Lattice) (map[string]bool, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	wire := make(map[string]*lattice.Envelope, len(values))
	for k, l := range values {
		env, err := lattice.Encode(l)
		if err != nil {
			return nil, fmt.Errorf("kvs/grpc: encode %q: %w", k, err)
		}
		wire[k] = env
	}

	req := &PutRequest{Values: wire}
	resp := new(PutResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Put", req, resp); err != nil {
		return nil, fmt.Errorf("kvs/grpc: put: %w", err)
	}
	return resp.Results, nil
}

func (c *Client) CausalGet(ctx context.Context, keys []string, tLow, tHigh uint64, consistency domain.Consistency, clientID string) (map[string]kvs.CausalTuple, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &CausalGetRequest{
		Keys:        keys,
		TLow:        tLow,
		THigh:       tHigh,
		Consistency: string(consistency),
		ClientID:    clientID,
	}
	resp := new(CausalGetResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/CausalGet", req, resp); err != nil {
		return nil, fmt.Errorf("kvs/grpc: causal_get: %w", err)
	}

	out := make(map[string]kvs.CausalTuple, len(resp.Tuples))
	for k, tuple := range resp.Tuples {
		var value any
		if err := json.Unmarshal(tuple.Value, &value); err != nil {
			return nil, fmt.Errorf("kvs/grpc: decode causal tuple %q: %w", k, err)
		}
		out[k] = kvs.CausalTuple{Value: value, Ts: tuple.Ts, Promise: tuple.Promise, Kind: tuple.LatticeType}
	}
	return out, nil
}

func (c *Client) CausalPut(ctx context.Context, key string, value lattice.Lattice, clientID string) (bool, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	env, err := lattice.Encode(value)
	if err != nil {
		return false, fmt.Errorf("kvs/grpc: encode: %w", err)
	}

	req := &CausalPutRequest{Key: key, Value: env, ClientID: clientID}
	resp := new(CausalPutResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/CausalPut", req, resp); err != nil {
		return false, fmt.Errorf("kvs/grpc: causal_put: %w", err)
	}
	return resp.Success, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
