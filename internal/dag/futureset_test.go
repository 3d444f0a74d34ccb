package dag

import (
	"testing"

	"github.com/oriys/squall/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestComputeFutureReadSetCollectsDownstreamReferences(t *testing.T) {
	d := domain.Dag{
		Functions: []domain.FunctionNode{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Connections: []domain.Connection{
			{Source: "a", Sink: "b"},
			{Source: "b", Sink: "c"},
		},
	}
	sched := domain.Schedule{
		Arguments: map[string][]any{
			"a": {domain.Reference{Key: "ignored-own-args"}},
			"b": {domain.Reference{Key: "k1"}},
			"c": {domain.Reference{Key: "k2"}, domain.Reference{Key: "k1"}},
		},
	}

	keys := ComputeFutureReadSet(d, sched, "a")
	require.ElementsMatch(t, []string{"k1", "k2"}, keys)
}

func TestComputeFutureReadSetEmptyWhenNoDownstream(t *testing.T) {
	d := domain.Dag{Functions: []domain.FunctionNode{{Name: "a"}}}
	sched := domain.Schedule{Arguments: map[string][]any{"a": {domain.Reference{Key: "x"}}}}

	keys := ComputeFutureReadSet(d, sched, "a")
	require.Empty(t, keys)
}
