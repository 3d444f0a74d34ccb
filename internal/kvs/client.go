// Package kvs defines the KVS client contract the DAG step engine depends
// on: a uniform get/put interface over two consistency regimes, normal
// (lattice merge) and causal (snapshot-interval reads).
package kvs

import (
	"context"
	"errors"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/lattice"
)

// ErrKeyNotFound reports a missing key where a caller needs an error rather
// than an absent map entry (dag.UserLibrary.Get returns it). The Client
// methods themselves omit missing keys from their result maps and never
// return this error.
var ErrKeyNotFound = errors.New("kvs: key not found")

// CausalTuple is one causal-consistency read result: the revealed value,
// the (ts, promise) pair the resolver uses to tighten its interval, and
// the Kind the value was written as — the resolver rejects any Kind but
// lattice.KindWren as a fatal type error.
type CausalTuple struct {
	Value   any
	Ts      uint64
	Promise uint64
	Kind    lattice.Kind
}

// Client is the KVS operation set the executor depends on.
type Client interface {
	// Get performs a multi-key normal-mode read. Missing keys are omitted
	// from the result map (equivalent to a null entry).
	Get(ctx context.Context, keys []string) (map[string]lattice.Lattice, error)

	// Put performs a multi-key normal-mode write, reporting per-key success.
	Put(ctx context.Context, values map[string]lattice.Lattice) (map[string]bool, error)

	// CausalGet performs a causal-mode multi-key read within [tLow, tHigh].
	// Missing keys are omitted from the result map.
	CausalGet(ctx context.Context, keys []string, tLow, tHigh uint64, consistency domain.Consistency, clientID string) (map[string]CausalTuple, error)

	// CausalPut performs a single-key causal-mode write.
	CausalPut(ctx context.Context, key string, value lattice.Lattice, clientID string) (bool, error)

	// Close releases any resources (connections, pools) the client holds.
	Close() error
}
