// Package memkvs is an in-memory kvs.Client used by tests in place of the
// real gRPC-backed stores, the same role cache.InMemoryCache plays for the
// cache package: a map guarded by a mutex, no network.
package memkvs

import (
	"context"
	"sync"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
)

type causalEntry struct {
	value   lattice.Lattice
	ts      uint64
	promise uint64
}

// Store is a single in-process KVS node, holding both the normal-mode
// lattice map and the causal metadata map (kept separate, mirroring the
// two real backends: Redis for normal, Postgres for causal).
type Store struct {
	mu     sync.Mutex
	normal map[string]lattice.Lattice
	causal map[string]causalEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		normal: make(map[string]lattice.Lattice),
		causal: make(map[string]causalEntry),
	}
}

var _ kvs.Client = (*Store)(nil)

// Seed inserts a normal-mode value directly, bypassing merge; for test setup.
func (s *Store) Seed(key string, l lattice.Lattice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normal[key] = l
}

// SeedCausal inserts a causal-mode value directly with a ts/promise; for test setup.
func (s *Store) SeedCausal(key string, l lattice.Lattice, ts, promise uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.causal[key] = causalEntry{value: l, ts: ts, promise: promise}
}

func (s *Store) Get(_ context.Context, keys []string) (map[string]lattice.Lattice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]lattice.Lattice, len(keys))
	for _, k := range keys {
		if l, ok := s.normal[k]; ok {
			out[k] = l
		}
	}
	return out, nil
}

func (s *Store) Put(_ context.Context, values map[string]lattice.Lattice) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make(map[string]bool, len(values))
	for k, v := range values {
		if existing, ok := s.normal[k]; ok {
			merged, err := existing.Merge(v)
			if err != nil {
				results[k] = false
				continue
			}
			s.normal[k] = merged
		} else {
			s.normal[k] = v
		}
		results[k] = true
	}
	return results, nil
}

func (s *Store) CausalGet(_ context.Context, keys []string, tLow, tHigh uint64, _ domain.Consistency, _ string) (map[string]kvs.CausalTuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]kvs.CausalTuple, len(keys))
	for _, k := range keys {
		entry, ok := s.causal[k]
		if !ok {
			continue
		}
		if entry.ts < tLow || entry.ts > tHigh {
			continue
		}
		out[k] = kvs.CausalTuple{
			Value:   entry.value.Reveal(),
			Ts:      entry.ts,
			Promise: entry.promise,
			Kind:    entry.value.Kind(),
		}
	}
	return out, nil
}

func (s *Store) CausalPut(_ context.Context, key string, value lattice.Lattice, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.causal[key]
	if !ok {
		s.causal[key] = causalEntry{value: value, ts: 1, promise: ^uint64(0)}
		return true, nil
	}
	merged, err := entry.value.Merge(value)
	if err != nil {
		return false, nil
	}
	entry.value = merged
	entry.ts++
	s.causal[key] = entry
	return true, nil
}

func (s *Store) Close() error { return nil }
