// Package router composes the two single-regime KVS backends (Redis for
// normal mode, Postgres for causal mode) behind the one kvs.Client a
// kvsnode process exposes over the wire: each method is simply forwarded
// to whichever backend actually implements it.
package router

import (
	"context"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
)

// Store dispatches Get/Put to Normal and CausalGet/CausalPut to Causal.
type Store struct {
	Normal kvs.Client
	Causal kvs.Client
}

var _ kvs.Client = (*Store)(nil)

// New composes normal and causal into a single kvs.Client.
func New(normal, causal kvs.Client) *Store {
	return &Store{Normal: normal, Causal: causal}
}

func (s *Store) Get(ctx context.Context, keys []string) (map[string]lattice.Lattice, error) {
	return s.Normal.Get(ctx, keys)
}

func (s *Store) Put(ctx context.Context, values map[string]lattice.Lattice) (map[string]bool, error) {
	return s.Normal.Put(ctx, values)
}

func (s *Store) CausalGet(ctx context.Context, keys []string, tLow, tHigh uint64, consistency domain.Consistency, clientID string) (map[string]kvs.CausalTuple, error) {
	return s.Causal.CausalGet(ctx, keys, tLow, tHigh, consistency, clientID)
}

func (s *Store) CausalPut(ctx context.Context, key string, value lattice.Lattice, clientID string) (bool, error) {
	return s.Causal.CausalPut(ctx, key, value, clientID)
}

// Close closes both backends, returning the first error encountered.
func (s *Store) Close() error {
	err := s.Normal.Close()
	if cerr := s.Causal.Close(); err == nil {
		err = cerr
	}
	return err
}
