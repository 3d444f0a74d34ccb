package lattice

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLWWMergeTakesHigherTimestamp(t *testing.T) {
	a := &LWW{Ts: 5, Value: json.RawMessage(`"a"`)}
	b := &LWW{Ts: 10, Value: json.RawMessage(`"b"`)}

	merged, err := a.Merge(b)
	require.NoError(t, err)
	require.Equal(t, "b", merged.Reveal())

	merged, err = b.Merge(a)
	require.NoError(t, err)
	require.Equal(t, "b", merged.Reveal())
}

func TestSetOfMergeIsUnion(t *testing.T) {
	a := NewSetOf("x", "y")
	b := NewSetOf("y", "z")

	merged, err := a.Merge(b)
	require.NoError(t, err)

	got := merged.Reveal().([]string)
	require.ElementsMatch(t, []string{"x", "y", "z"}, got)
}

func TestMergeKindMismatch(t *testing.T) {
	a := &LWW{Ts: 1}
	b := NewSetOf("x")

	_, err := a.Merge(b)
	require.Error(t, err)
	var mismatch *ErrKindMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestWrenAsLWWPair(t *testing.T) {
	w := &Wren{Ts: 10, Promise: 100, Value: json.RawMessage(`42`)}
	ts, promise, value, err := AsLWWPair(w)
	require.NoError(t, err)
	require.Equal(t, uint64(10), ts)
	require.Equal(t, uint64(100), promise)
	require.EqualValues(t, 42, value)
}

func TestAsLWWPairRejectsOtherKinds(t *testing.T) {
	_, _, _, err := AsLWWPair(NewSetOf("x"))
	require.ErrorIs(t, err, ErrNotLWW)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	original := &Wren{Ts: 7, Promise: 42, Value: json.RawMessage(`"hi"`)}
	env, err := Encode(original)
	require.NoError(t, err)
	require.Equal(t, KindWren, env.LatticeType)

	decoded, err := Decode(env)
	require.NoError(t, err)
	require.Equal(t, original.Reveal(), decoded.Reveal())
}

func TestMapOfMergeRecursesAndRoundTrips(t *testing.T) {
	m1 := NewMapOf()
	m1.Entries["a"] = &LWW{Ts: 1, Value: json.RawMessage(`1`)}
	m2 := NewMapOf()
	m2.Entries["a"] = &LWW{Ts: 2, Value: json.RawMessage(`2`)}
	m2.Entries["b"] = NewSetOf("x")

	merged, err := m1.Merge(m2)
	require.NoError(t, err)

	env, err := Encode(merged)
	require.NoError(t, err)
	decoded, err := Decode(env)
	require.NoError(t, err)

	revealed := decoded.Reveal().(map[string]any)
	require.EqualValues(t, 2, revealed["a"])
	require.ElementsMatch(t, []string{"x"}, revealed["b"])
}

func TestSingleKeyCausalMergeKeepsConcurrentValues(t *testing.T) {
	a := &SingleKeyCausal{VClock: VectorClock{"c1": 1}, Values: []json.RawMessage{json.RawMessage(`"a"`)}}
	b := &SingleKeyCausal{VClock: VectorClock{"c2": 1}, Values: []json.RawMessage{json.RawMessage(`"b"`)}}

	merged, err := a.Merge(b)
	require.NoError(t, err)
	got := merged.Reveal().([]any)
	require.ElementsMatch(t, []any{"a", "b"}, got)
}

func TestSingleKeyCausalMergeDominatedDrops(t *testing.T) {
	a := &SingleKeyCausal{VClock: VectorClock{"c1": 1}, Values: []json.RawMessage{json.RawMessage(`"a"`)}}
	b := &SingleKeyCausal{VClock: VectorClock{"c1": 2}, Values: []json.RawMessage{json.RawMessage(`"b"`)}}

	merged, err := a.Merge(b)
	require.NoError(t, err)
	require.Equal(t, "b", merged.Reveal())
}
