package dag

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
	"github.com/oriys/squall/internal/serializer"
)

// UserLibrary is the handle prepended as a user function's first argument:
// it gives the function direct, consistency-scoped KVS access alongside its
// resolved arguments.
type UserLibrary struct {
	kvsClient   kvs.Client
	clientID    string
	consistency domain.Consistency
}

// NewUserLibrary constructs a library handle scoped to one schedule's
// client ID and consistency level.
func NewUserLibrary(kvsClient kvs.Client, clientID string, consistency domain.Consistency) *UserLibrary {
	return &UserLibrary{kvsClient: kvsClient, clientID: clientID, consistency: consistency}
}

// Get reads a single key at the library's configured consistency level.
func (l *UserLibrary) Get(ctx context.Context, key string) (any, error) {
	if l.consistency == domain.Multi {
		tuples, err := l.kvsClient.CausalGet(ctx, []string{key}, 0, domain.UnboundedTHigh, domain.Multi, l.clientID)
		if err != nil {
			return nil, fmt.Errorf("userlib: causal get %q: %w", key, err)
		}
		t, ok := tuples[key]
		if !ok {
			return nil, kvs.ErrKeyNotFound
		}
		return t.Value, nil
	}

	values, err := l.kvsClient.Get(ctx, []string{key})
	if err != nil {
		return nil, fmt.Errorf("userlib: get %q: %w", key, err)
	}
	v, ok := values[key]
	if !ok {
		return nil, kvs.ErrKeyNotFound
	}
	return v.Reveal(), nil
}

// Put writes a single key at the library's configured consistency level. A
// Multi-consistency write is wrapped as a Wren lattice, the only shape
// causal_get's resolver-side type check accepts back out; a Normal write
// stays a plain LWW.
func (l *UserLibrary) Put(ctx context.Context, key string, value any) (bool, error) {
	if l.consistency == domain.Multi {
		lat, err := serializer.ToCausalLattice(value, uint64(time.Now().UnixNano()), lattice.UnboundedPromise)
		if err != nil {
			return false, fmt.Errorf("userlib: wrap %q: %w", key, err)
		}
		return l.kvsClient.CausalPut(ctx, key, lat, l.clientID)
	}

	lat, err := serializer.ToLattice(value, uint64(time.Now().UnixNano()))
	if err != nil {
		return false, fmt.Errorf("userlib: wrap %q: %w", key, err)
	}
	statuses, err := l.kvsClient.Put(ctx, map[string]lattice.Lattice{key: lat})
	if err != nil {
		return false, fmt.Errorf("userlib: put %q: %w", key, err)
	}
	return statuses[key], nil
}
