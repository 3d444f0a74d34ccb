// Package resolver implements the reference resolver: given a function's
// arguments, find every domain.Reference inside them, fetch the referenced
// values from the KVS, and substitute them in place. Normal mode
// is backed by a per-executor value cache.Cache; causal mode carries and
// tightens a [t_low, t_high] snapshot interval instead of caching, since a
// cached value from one snapshot is not safe to reuse in another.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/squall/internal/cache"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
	"github.com/oriys/squall/internal/logging"
	"github.com/oriys/squall/internal/observability"
	"github.com/oriys/squall/internal/runtimemetrics"
)

// kindTag wraps a CausalTuple's reported Kind just enough to route it
// through lattice.AsLWWPair: the wire causal_get response only carries the
// Kind tag, not a full lattice payload, so this stands in as "some lattice
// that is concretely not *Wren" for every non-Wren Kind.
type kindTag lattice.Kind

func (k kindTag) Kind() lattice.Kind { return lattice.Kind(k) }
func (k kindTag) Reveal() any        { return nil }
func (k kindTag) Merge(other lattice.Lattice) (lattice.Lattice, error) {
	return nil, &lattice.ErrKindMismatch{A: lattice.Kind(k), B: other.Kind()}
}

// ErrSnapshotCollapse is returned by ResolveCausal when tightening the
// snapshot interval leaves t_low > t_high: no single point in time can
// satisfy every reference read so far, so the step must fail.
var ErrSnapshotCollapse = errors.New("resolver: snapshot collapsed (t_low > t_high)")

// Resolver resolves domain.Reference values against a kvs.Client, caching
// normal-mode reads in a cache.Cache shared by every step the executor
// runs, whichever goroutine runs it.
type Resolver struct {
	KVS   kvs.Client
	Cache cache.Cache

	// RetryInterval is the busy-retry cadence on a missing key; unbounded
	// retry is kept as the default.
	RetryInterval time.Duration
	// RetryWarnAfter logs a warning once a read has retried this many
	// times without success; 0 disables the warning.
	RetryWarnAfter int
}

// New constructs a Resolver with the given backends and a default 20ms
// retry cadence.
func New(kvsClient kvs.Client, valueCache cache.Cache) *Resolver {
	return &Resolver{KVS: kvsClient, Cache: valueCache, RetryInterval: 20 * time.Millisecond, RetryWarnAfter: 50}
}

func dedupeKeys(refs []domain.Reference) []string {
	seen := make(map[string]bool, len(refs))
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		keys = append(keys, r.Key)
	}
	return keys
}

// ResolveNormal resolves refs in normal consistency mode: cached keys are
// served from the value cache; everything else is read from the KVS with
// busy-retry on a miss (a producer simply hasn't written yet), and newly
// read values are inserted into the cache keyed by the reference key so a
// later reference to the same key in this executor's lifetime is free.
func (r *Resolver) ResolveNormal(ctx context.Context, refs []domain.Reference) (map[string]any, error) {
	keys := dedupeKeys(refs)
	out := make(map[string]any, len(keys))

	span := observability.SpanFromContext(ctx)

	var uncached []string
	for _, k := range keys {
		if raw, err := r.Cache.Get(ctx, k); err == nil {
			var v any
			if jerr := json.Unmarshal(raw, &v); jerr == nil {
				out[k] = v
				runtimemetrics.Global().RecordCacheHit()
				span.SetAttributes(observability.AttrCacheHit.Bool(true))
				continue
			}
		}
		runtimemetrics.Global().RecordCacheMiss()
		span.SetAttributes(observability.AttrCacheHit.Bool(false))
		uncached = append(uncached, k)
	}
	if len(uncached) == 0 {
		return out, nil
	}

	values, err := r.readWithRetry(ctx, uncached)
	if err != nil {
		return nil, err
	}
	for k, l := range values {
		revealed := l.Reveal()
		out[k] = revealed
		if data, err := json.Marshal(revealed); err == nil {
			_ = r.Cache.Set(ctx, k, data, 0)
		}
	}
	return out, nil
}

// ResolveCausal resolves refs in causal (MULTI) consistency mode: it reads
// every key via kvs.Client.CausalGet inside [tLow, tHigh], retrying the
// whole read while any key comes back missing, then tightens the interval
// against every returned (ts, promise) pair. The returned interval must
// satisfy newTLow <= newTHigh; otherwise no single point in time is
// consistent with every read so far and the step fails with
// ErrSnapshotCollapse.
func (r *Resolver) ResolveCausal(ctx context.Context, refs []domain.Reference, tLow, tHigh uint64, consistency domain.Consistency, clientID string) (values map[string]any, newTLow, newTHigh uint64, err error) {
	keys := dedupeKeys(refs)
	newTLow, newTHigh = tLow, tHigh
	if len(keys) == 0 {
		return map[string]any{}, newTLow, newTHigh, nil
	}

	tuples, err := r.causalReadWithRetry(ctx, keys, tLow, tHigh, consistency, clientID)
	if err != nil {
		return nil, 0, 0, err
	}

	out := make(map[string]any, len(keys))
	for k, t := range tuples {
		var probe lattice.Lattice
		if t.Kind == lattice.KindWren {
			probe = &lattice.Wren{Ts: t.Ts, Promise: t.Promise}
		} else {
			probe = kindTag(t.Kind)
		}
		ts, promise, _, err := lattice.AsLWWPair(probe)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("resolver: causal read %q: %w", k, err)
		}

		out[k] = t.Value
		if ts > newTLow {
			newTLow = ts
		}
		if promise < newTHigh {
			newTHigh = promise
		}
	}

	if newTLow > newTHigh {
		runtimemetrics.Global().RecordSnapshotCollapse()
		return nil, 0, 0, ErrSnapshotCollapse
	}
	return out, newTLow, newTHigh, nil
}

// causalReadWithRetry mirrors readWithRetry for the causal KVS contract:
// a key missing from the response is retried in full, at the configured
// snapshot bounds, until every key resolves.
func (r *Resolver) causalReadWithRetry(ctx context.Context, keys []string, tLow, tHigh uint64, consistency domain.Consistency, clientID string) (map[string]kvs.CausalTuple, error) {
	out := make(map[string]kvs.CausalTuple, len(keys))
	remaining := append([]string{}, keys...)
	retries := 0

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("resolver: causal read %v: %w", remaining, ctx.Err())
		default:
		}

		tuples, err := r.KVS.CausalGet(ctx, remaining, tLow, tHigh, consistency, clientID)
		if err != nil {
			return nil, fmt.Errorf("resolver: kvs causal_get: %w", err)
		}
		var next []string
		for _, k := range remaining {
			if t, ok := tuples[k]; ok {
				out[k] = t
				continue
			}
			next = append(next, k)
		}
		remaining = next
		if len(remaining) == 0 {
			break
		}

		retries++
		runtimemetrics.Global().RecordReadRetry()
		if r.RetryWarnAfter > 0 && retries%r.RetryWarnAfter == 0 {
			logging.Op().Warn("resolver: still waiting on causal keys", "keys", remaining, "retries", retries)
		}

		interval := r.RetryInterval
		if interval <= 0 {
			interval = 20 * time.Millisecond
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("resolver: causal read %v: %w", remaining, ctx.Err())
		case <-timer.C:
		}
	}
	return out, nil
}

// readWithRetry issues kvs.Client.Get for keys, retrying at RetryInterval
// until every key in the request has come back, or ctx is cancelled. A
// producer not having written yet is the expected case, so a miss is not
// an error — it is the reason to retry, at read granularity and
// unbounded by default.
func (r *Resolver) readWithRetry(ctx context.Context, keys []string) (map[string]lattice.Lattice, error) {
	out := make(map[string]lattice.Lattice, len(keys))
	remaining := append([]string{}, keys...)
	retries := 0

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("resolver: read %v: %w", remaining, ctx.Err())
		default:
		}

		values, err := r.KVS.Get(ctx, remaining)
		if err != nil {
			return nil, fmt.Errorf("resolver: kvs get: %w", err)
		}
		var next []string
		for _, k := range remaining {
			if v, ok := values[k]; ok {
				out[k] = v
				continue
			}
			next = append(next, k)
		}
		remaining = next
		if len(remaining) == 0 {
			break
		}

		retries++
		runtimemetrics.Global().RecordReadRetry()
		if r.RetryWarnAfter > 0 && retries%r.RetryWarnAfter == 0 {
			logging.Op().Warn("resolver: still waiting on keys", "keys", remaining, "retries", retries)
		}

		interval := r.RetryInterval
		if interval <= 0 {
			interval = 20 * time.Millisecond
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("resolver: read %v: %w", remaining, ctx.Err())
		case <-timer.C:
		}
	}
	return out, nil
}
