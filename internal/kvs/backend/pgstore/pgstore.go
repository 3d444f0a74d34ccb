// Package pgstore implements the causal-mode half of kvs.Client on top of
// Postgres: every key's (value, ts, promise) triple is read and updated
// inside a single transaction with a row lock, grounded on
// store.PostgresStore.CheckRateLimit's pool.Begin -> "SELECT ... FOR
// UPDATE" -> conditional tx.Exec pattern, adapted here to a causal
// compare-and-swap instead of a token bucket.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
)

// unboundedPromise is stored as -1 since a BIGINT column cannot hold
// ^uint64(0); every comparison against t_high treats -1 as "no upper
// bound yet", mirroring the in-memory causal store's sentinel.
const unboundedPromise = -1

// Store is the Postgres-backed causal-mode KVS store.
type Store struct {
	pool *pgxpool.Pool
}

var _ kvs.Client = (*Store)(nil)

// New connects to Postgres at dsn and ensures the causal_kv table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgstore: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS causal_kv (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			ts BIGINT NOT NULL,
			promise BIGINT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'LWW'
		)
	`)
	if err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, keys []string) (map[string]lattice.Lattice, error) {
	return nil, fmt.Errorf("pgstore: get not supported, use the redis backend")
}

func (s *Store) Put(ctx context.Context, values map[string]lattice.Lattice) (map[string]bool, error) {
	return nil, fmt.Errorf("pgstore: put not supported, use the redis backend")
}

// CausalGet returns the tuples visible in [tLow, tHigh]; promise rows
// still unbounded (-1) are always visible since no writer has yet pinned
// an upper snapshot bound against them.
func (s *Store) CausalGet(ctx context.Context, keys []string, tLow, tHigh uint64, consistency domain.Consistency, clientID string) (map[string]kvs.CausalTuple, error) {
	if len(keys) == 0 {
		return map[string]kvs.CausalTuple{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, value, ts, promise, kind FROM causal_kv WHERE key = ANY($1)
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("pgstore: causal_get query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]kvs.CausalTuple, len(keys))
	for rows.Next() {
		var key, kind string
		var raw []byte
		var ts, promise int64
		if err := rows.Scan(&key, &raw, &ts, &promise, &kind); err != nil {
			return nil, fmt.Errorf("pgstore: causal_get scan: %w", err)
		}
		if uint64(ts) < tLow || (promise != unboundedPromise && tHigh != ^uint64(0) && uint64(promise) > tHigh) {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("pgstore: causal_get unmarshal %q: %w", key, err)
		}
		tuple := kvs.CausalTuple{Value: value, Ts: uint64(ts), Kind: lattice.Kind(kind)}
		if promise == unboundedPromise {
			tuple.Promise = lattice.UnboundedPromise
		} else {
			tuple.Promise = uint64(promise)
		}
		out[key] = tuple
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: causal_get rows: %w", err)
	}
	return out, nil
}

// CausalPut writes key transactionally: the first writer creates the row
// with ts=1 and an unbounded promise; subsequent writers merge the
// incoming lattice with the row under lock and bump ts, so a concurrent
// causal_get either sees the old value at the old ts or the merged value
// at the new one, never a torn read.
func (s *Store) CausalPut(ctx context.Context, key string, value lattice.Lattice, clientID string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("pgstore: causal_put begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	var ts int64
	row := tx.QueryRow(ctx, `SELECT value, ts FROM causal_kv WHERE key = $1 FOR UPDATE`, key)
	err = row.Scan(&raw, &ts)
	switch {
	case err == pgx.ErrNoRows:
		revealed := value.Reveal()
		data, encErr := json.Marshal(revealed)
		if encErr != nil {
			return false, fmt.Errorf("pgstore: causal_put marshal: %w", encErr)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO causal_kv (key, value, ts, promise, kind) VALUES ($1, $2, 1, $3, $4)
		`, key, data, unboundedPromise, string(value.Kind())); err != nil {
			return false, fmt.Errorf("pgstore: causal_put insert: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("pgstore: causal_put select: %w", err)
	default:
		var existing any
		if err := json.Unmarshal(raw, &existing); err != nil {
			return false, fmt.Errorf("pgstore: causal_put unmarshal existing: %w", err)
		}
		merged := mergeRevealed(existing, value.Reveal())
		data, encErr := json.Marshal(merged)
		if encErr != nil {
			return false, fmt.Errorf("pgstore: causal_put marshal merged: %w", encErr)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE causal_kv SET value = $2, ts = $3, kind = $4 WHERE key = $1
		`, key, data, ts+1, string(value.Kind())); err != nil {
			return false, fmt.Errorf("pgstore: causal_put update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("pgstore: causal_put commit: %w", err)
	}
	return true, nil
}

// mergeRevealed combines two already-revealed causal values the way the
// in-process SingleKeyCausal/MultiKeyCausal lattices would, flattening
// into a multi-value slice when the incoming write doesn't simply
// supersede the stored one. The causal KVS backend only ever receives
// revealed values here (the vector-clock dominance check happens in the
// caller's lattice before CausalPut is invoked), so this keeps the last
// writer's value alongside the prior one rather than discarding history.
func mergeRevealed(existing, incoming any) any {
	if existing == nil {
		return incoming
	}
	if existingSlice, ok := existing.([]any); ok {
		return append(append([]any{}, existingSlice...), incoming)
	}
	return []any{existing, incoming}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
