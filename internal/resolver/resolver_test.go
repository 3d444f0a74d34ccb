package resolver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/oriys/squall/internal/cache"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs/memkvs"
	"github.com/oriys/squall/internal/lattice"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, *memkvs.Store) {
	t.Helper()
	store := memkvs.New()
	r := New(store, cache.NewInMemoryCache())
	r.RetryInterval = time.Millisecond
	return r, store
}

func TestResolveNormalReadsThroughAndCaches(t *testing.T) {
	r, store := newTestResolver(t)
	store.Seed("k1", lattice.NewSetOf("a", "b"))

	values, err := r.ResolveNormal(context.Background(), []domain.Reference{{Key: "k1"}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, values["k1"].([]string))

	cached, err := r.Cache.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotEmpty(t, cached)
}

func TestResolveNormalDedupesKeys(t *testing.T) {
	r, store := newTestResolver(t)
	store.Seed("k1", &lattice.LWW{Ts: 1, Value: []byte(`"x"`)})

	refs := []domain.Reference{{Key: "k1"}, {Key: "k1"}}
	values, err := r.ResolveNormal(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, values, 1)
	require.Equal(t, "x", values["k1"])
}

func TestResolveNormalRetriesUntilWritten(t *testing.T) {
	r, store := newTestResolver(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		store.Seed("late", &lattice.LWW{Ts: 1, Value: []byte(`"arrived"`)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	values, err := r.ResolveNormal(ctx, []domain.Reference{{Key: "late"}})
	require.NoError(t, err)
	require.Equal(t, "arrived", values["late"])
}

func TestResolveNormalReadTimeout(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.ResolveNormal(ctx, []domain.Reference{{Key: "never"}})
	require.Error(t, err)
}

func TestResolveCausalTightensInterval(t *testing.T) {
	r, store := newTestResolver(t)
	store.SeedCausal("k1", &lattice.Wren{Ts: 20, Promise: 80, Value: json.RawMessage(`"hello"`)}, 20, 80)

	values, tLow, tHigh, err := r.ResolveCausal(context.Background(), []domain.Reference{{Key: "k1"}}, 0, domain.UnboundedTHigh, domain.Multi, "client-1")
	require.NoError(t, err)
	require.Equal(t, "hello", values["k1"])
	require.Equal(t, uint64(20), tLow)
	require.Equal(t, uint64(80), tHigh)
}

func TestResolveCausalSnapshotCollapse(t *testing.T) {
	r, store := newTestResolver(t)
	store.SeedCausal("k1", &lattice.Wren{Ts: 100, Promise: 200, Value: json.RawMessage(`"a"`)}, 100, 200)
	store.SeedCausal("k2", &lattice.Wren{Ts: 10, Promise: 50, Value: json.RawMessage(`"b"`)}, 10, 50)

	_, _, _, err := r.ResolveCausal(context.Background(), []domain.Reference{{Key: "k1"}, {Key: "k2"}}, 0, domain.UnboundedTHigh, domain.Multi, "client-1")
	require.ErrorIs(t, err, ErrSnapshotCollapse)
}

func TestResolveCausalRejectsNonLWWLattice(t *testing.T) {
	r, store := newTestResolver(t)
	store.SeedCausal("k1", lattice.NewSetOf("a", "b"), 20, 80)

	_, _, _, err := r.ResolveCausal(context.Background(), []domain.Reference{{Key: "k1"}}, 0, domain.UnboundedTHigh, domain.Multi, "client-1")
	require.ErrorIs(t, err, lattice.ErrNotLWW)
}
