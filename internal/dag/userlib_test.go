package dag

import (
	"context"
	"testing"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/kvs/memkvs"
	"github.com/stretchr/testify/require"
)

func TestUserLibraryNormalGetPut(t *testing.T) {
	store := memkvs.New()
	lib := NewUserLibrary(store, "c1", domain.Normal)

	ok, err := lib.Put(context.Background(), "k", "hello")
	require.NoError(t, err)
	require.True(t, ok)

	v, err := lib.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestUserLibraryGetMissingKeyReturnsNotFound(t *testing.T) {
	store := memkvs.New()
	lib := NewUserLibrary(store, "c1", domain.Normal)

	_, err := lib.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, kvs.ErrKeyNotFound)
}

func TestUserLibraryCausalGetPut(t *testing.T) {
	store := memkvs.New()
	lib := NewUserLibrary(store, "c1", domain.Multi)

	ok, err := lib.Put(context.Background(), "k", "world")
	require.NoError(t, err)
	require.True(t, ok)

	v, err := lib.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "world", v)
}
