// Package funcreg implements the function cache: a process-local mapping
// from function name to an already-resolved callable. Go functions are
// compiled in, not shipped as data, so a fetch-on-miss path is realized
// here as an alias lookup: a name not found in the in-process registry may
// be a published alias for one that is, and the KVS holds that redirect
// under the key "func_alias:<name>".
package funcreg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
)

// ErrFunctionNotFound is returned when name is absent from both the
// in-process registry and the KVS-backed alias table.
var ErrFunctionNotFound = errors.New("funcreg: function not found")

// UserFunction is a registered DAG node's callable. args are already
// reference-resolved by the time the step engine invokes it; result is
// serialized by the caller for the trigger/sink path.
type UserFunction func(ctx context.Context, args []any) (any, error)

const aliasKeyPrefix = "func_alias:"

// Registry is the function cache. It is safe for concurrent use: two
// goroutines racing to resolve the same missing name may both fetch from
// the KVS, but the registry's insertion is idempotent (sync.Map.LoadOrStore),
// so they converge on the same callable regardless of which one wins.
type Registry struct {
	functions   sync.Map // string -> UserFunction
	kvs         kvs.Client
	consistency domain.Consistency
}

// New constructs an empty Registry backed by kvsClient for alias lookups at
// the given consistency level.
func New(kvsClient kvs.Client, consistency domain.Consistency) *Registry {
	return &Registry{kvs: kvsClient, consistency: consistency}
}

// Register installs name directly, bypassing the KVS alias path. This is
// how a process wires up its compiled-in DAG node implementations at
// startup.
func (r *Registry) Register(name string, fn UserFunction) {
	r.functions.Store(name, fn)
}

// Lookup resolves name to a callable, consulting the KVS alias table on a
// local miss and inserting the result so later lookups are free.
func (r *Registry) Lookup(ctx context.Context, name string) (UserFunction, error) {
	if v, ok := r.functions.Load(name); ok {
		return v.(UserFunction), nil
	}

	canonical, err := r.resolveAlias(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := r.functions.Load(canonical)
	if !ok {
		return nil, fmt.Errorf("funcreg: alias %q -> %q: %w", name, canonical, ErrFunctionNotFound)
	}
	fn := v.(UserFunction)
	actual, _ := r.functions.LoadOrStore(name, fn)
	return actual.(UserFunction), nil
}

func (r *Registry) resolveAlias(ctx context.Context, name string) (string, error) {
	if r.kvs == nil {
		return "", ErrFunctionNotFound
	}
	key := aliasKeyPrefix + name
	var revealed any
	if r.consistency == domain.Multi {
		tuples, err := r.kvs.CausalGet(ctx, []string{key}, 0, domain.UnboundedTHigh, domain.Multi, "")
		if err != nil {
			return "", fmt.Errorf("funcreg: alias lookup %q: %w", name, err)
		}
		t, ok := tuples[key]
		if !ok {
			return "", ErrFunctionNotFound
		}
		revealed = t.Value
	} else {
		values, err := r.kvs.Get(ctx, []string{key})
		if err != nil {
			return "", fmt.Errorf("funcreg: alias lookup %q: %w", name, err)
		}
		l, ok := values[key]
		if !ok {
			return "", ErrFunctionNotFound
		}
		revealed = l.Reveal()
	}
	canonical, ok := revealed.(string)
	if !ok || canonical == "" {
		return "", ErrFunctionNotFound
	}
	return canonical, nil
}
