package serializer

import (
	"testing"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/lattice"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	cases := []any{
		42.0,
		"hello",
		true,
		[]any{1.0, 2.0, 3.0},
		map[string]any{"a": 1.0},
	}
	for _, c := range cases {
		data, err := Serialize(c)
		require.NoError(t, err)
		got, err := Deserialize(data)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestToLatticeFromLatticeRoundTrip(t *testing.T) {
	l, err := ToLattice(map[string]any{"x": 1.0}, 7)
	require.NoError(t, err)
	require.Equal(t, lattice.KindLWW, l.Kind())

	revealed, err := FromLattice(l, false, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": 1.0}, revealed)
}

func TestFromLatticeDeserializeIntoTarget(t *testing.T) {
	type payload struct {
		X int `json:"x"`
	}
	l, err := ToLattice(payload{X: 5}, 1)
	require.NoError(t, err)

	var out payload
	_, err = FromLattice(l, true, &out)
	require.NoError(t, err)
	require.Equal(t, 5, out.X)
}

func TestFlattenTuple(t *testing.T) {
	require.Equal(t, []any{1, 2, 3}, FlattenTuple(domain.Tuple{1, 2, 3}))
	require.Equal(t, []any{"solo"}, FlattenTuple("solo"))
}
