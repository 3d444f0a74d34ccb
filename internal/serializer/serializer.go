// Package serializer converts between user-visible values, lattice
// envelopes, and wire bytes, and recognizes the special domain.Reference
// value inside function arguments and results.
//
// Wire encoding is JSON throughout: every domain type, store row, and
// cache value elsewhere in this repo is json-tagged and moved with
// encoding/json. A DAG argument list is not performance-critical enough to
// justify a binary codec, so this package stays consistent with that
// convention rather than introducing a second wire format.
package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/lattice"
)

// Serialize encodes an arbitrary user value to its wire bytes.
func Serialize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializer: serialize: %w", err)
	}
	return b, nil
}

// DeserializeInto decodes wire bytes into out, which must be a pointer.
func DeserializeInto(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("serializer: deserialize: %w", err)
	}
	return nil
}

// Deserialize decodes wire bytes into a generic any value (map/slice/etc).
func Deserialize(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("serializer: deserialize: %w", err)
	}
	return v, nil
}

// ToLattice wraps a plain value into an LWW lattice stamped with ts, the
// shape every normal-mode KVS write uses: the result is wrapped as a
// lattice before it is written into the KVS.
func ToLattice(v any, ts uint64) (lattice.Lattice, error) {
	payload, err := Serialize(v)
	if err != nil {
		return nil, err
	}
	return &lattice.LWW{Ts: ts, Value: payload}, nil
}

// ToCausalLattice wraps a plain value into a Wren lattice stamped with ts
// and promise, the only lattice shape the causal resolver accepts back
// out of causal_get (internal/lattice.AsLWWPair). Every causal_put goes
// through this instead of ToLattice's plain LWW wrap.
func ToCausalLattice(v any, ts, promise uint64) (lattice.Lattice, error) {
	payload, err := Serialize(v)
	if err != nil {
		return nil, err
	}
	return &lattice.Wren{Ts: ts, Promise: promise, Value: payload}, nil
}

// FromLattice unwraps a lattice per a Reference's deserialize flag: when
// deserialize is true and out is non-nil, the revealed value's re-marshaled
// bytes are decoded into out (round-tripping through JSON so that out's
// concrete type is respected); otherwise the lattice's revealed value is
// returned as-is.
func FromLattice(l lattice.Lattice, deserialize bool, out any) (any, error) {
	revealed := l.Reveal()
	if !deserialize || out == nil {
		return revealed, nil
	}
	raw, err := json.Marshal(revealed)
	if err != nil {
		return nil, fmt.Errorf("serializer: re-marshal revealed value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("serializer: deserialize into target: %w", err)
	}
	return out, nil
}

// FlattenTuple splices a domain.Tuple into its members; any other value is
// returned as a single-element slice. Used by the dag engine's
// tuple-flattening step for both arguments and results.
func FlattenTuple(v any) []any {
	if t, ok := v.(domain.Tuple); ok {
		return []any(t)
	}
	return []any{v}
}
