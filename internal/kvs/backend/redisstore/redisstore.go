// Package redisstore implements the normal-mode half of kvs.Client on top
// of Redis: every key holds one JSON-encoded lattice.Envelope, and merges
// happen via a Lua script so a concurrent put is a single round trip
// instead of a read-modify-write race, grounded on
// store.RedisStore.GetFunctionByName's atomic-lookup-via-script pattern.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
)

const keyPrefix = "squall:kv:"

// createIfAbsentScript sets KEYS[1] to ARGV[1] only when it does not
// already exist, returning the value now stored under the key either way.
// This collapses the common create-on-first-write path (the overwhelming
// majority of DAG sink writes, which target a fresh schedule.id) into a
// single round trip instead of a GET followed by a conditional SET,
// grounded on store.RedisStore's Lua-script single-RTT rationale.
var createIfAbsentScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if not existing then
	redis.call('SET', KEYS[1], ARGV[1])
	return ARGV[1]
end
return existing
`)

// Store is the Redis-backed normal-mode KVS store.
type Store struct {
	client *redis.Client
}

var _ kvs.Client = (*Store)(nil)

// New connects to Redis at addr.
func New(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) key(k string) string { return keyPrefix + k }

func (s *Store) Get(ctx context.Context, keys []string) (map[string]lattice.Lattice, error) {
	out := make(map[string]lattice.Lattice, len(keys))
	for _, k := range keys {
		data, err := s.client.Get(ctx, s.key(k)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redisstore: get %q: %w", k, err)
		}
		l, err := decodeEnvelope(data)
		if err != nil {
			return nil, fmt.Errorf("redisstore: decode %q: %w", k, err)
		}
		out[k] = l
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, values map[string]lattice.Lattice) (map[string]bool, error) {
	results := make(map[string]bool, len(values))
	for k, v := range values {
		data, err := encodeEnvelope(v)
		if err != nil {
			results[k] = false
			continue
		}

		stored, err := createIfAbsentScript.Run(ctx, s.client, []string{s.key(k)}, data).Bytes()
		if err != nil {
			results[k] = false
			continue
		}

		// If the script returned back our own payload, the key was absent
		// and is now created; nothing left to merge.
		if string(stored) == string(data) {
			results[k] = true
			continue
		}

		// Otherwise a prior value existed: merge application-side, since
		// Lua cannot run the Go Merge implementations for every lattice
		// kind, then overwrite.
		existing, err := decodeEnvelope(stored)
		if err != nil {
			results[k] = false
			continue
		}
		merged, err := existing.Merge(v)
		if err != nil {
			results[k] = false
			continue
		}
		mergedData, err := encodeEnvelope(merged)
		if err != nil {
			results[k] = false
			continue
		}
		if err := s.client.Set(ctx, s.key(k), mergedData, 0).Err(); err != nil {
			results[k] = false
			continue
		}
		results[k] = true
	}
	return results, nil
}

func (s *Store) CausalGet(ctx context.Context, keys []string, tLow, tHigh uint64, consistency domain.Consistency, clientID string) (map[string]kvs.CausalTuple, error) {
	return nil, fmt.Errorf("redisstore: causal_get not supported, use the postgres backend")
}

func (s *Store) CausalPut(ctx context.Context, key string, value lattice.Lattice, clientID string) (bool, error) {
	return false, fmt.Errorf("redisstore: causal_put not supported, use the postgres backend")
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decodeEnvelope(data []byte) (lattice.Lattice, error) {
	var env lattice.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return lattice.Decode(&env)
}

func encodeEnvelope(l lattice.Lattice) ([]byte, error) {
	env, err := lattice.Encode(l)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
