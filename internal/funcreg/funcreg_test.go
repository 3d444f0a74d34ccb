package funcreg

import (
	"context"
	"testing"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs/memkvs"
	"github.com/oriys/squall/internal/lattice"
	"github.com/stretchr/testify/require"
)

func echoFn(_ context.Context, args []any) (any, error) {
	return args, nil
}

func TestLookupDirectlyRegistered(t *testing.T) {
	r := New(nil, domain.Normal)
	r.Register("double", echoFn)

	fn, err := r.Lookup(context.Background(), "double")
	require.NoError(t, err)
	require.NotNil(t, fn)
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	store := memkvs.New()
	r := New(store, domain.Normal)

	_, err := r.Lookup(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestLookupResolvesKVSAlias(t *testing.T) {
	store := memkvs.New()
	store.Seed("func_alias:v2_double", &lattice.LWW{Value: []byte(`"double"`)})
	r := New(store, domain.Normal)
	r.Register("double", echoFn)

	fn, err := r.Lookup(context.Background(), "v2_double")
	require.NoError(t, err)
	require.NotNil(t, fn)

	// Second lookup should hit the now-populated local entry, not the KVS.
	fn2, err := r.Lookup(context.Background(), "v2_double")
	require.NoError(t, err)
	require.NotNil(t, fn2)
}

func TestLookupAliasToUnregisteredNameFails(t *testing.T) {
	store := memkvs.New()
	store.Seed("func_alias:dangling", &lattice.LWW{Value: []byte(`"nowhere"`)})
	r := New(store, domain.Normal)

	_, err := r.Lookup(context.Background(), "dangling")
	require.ErrorIs(t, err, ErrFunctionNotFound)
}
