package dag

import (
	"testing"

	"github.com/oriys/squall/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestArgsConcatenatesAndFlattensTuples(t *testing.T) {
	sched := domain.Schedule{
		TargetFunction: "f",
		Arguments:      map[string][]any{"f": {domain.Tuple{"a", "b"}, 1.0}},
	}
	triggers := []domain.DagTrigger{
		{Arguments: []any{domain.Tuple{"c"}, 2.0}},
	}

	args := buildRequestArgs(sched, triggers)
	require.Equal(t, []any{"a", "b", 1.0, "c", 2.0}, args)
}

func TestExtractReferencesFindsTopLevelAndBatchedRefs(t *testing.T) {
	args := []any{
		domain.Reference{Key: "top"},
		"plain",
		[]any{domain.Reference{Key: "batch1"}, "x", domain.Reference{Key: "batch2"}},
	}

	refs := extractReferences(args)
	var keys []string
	for _, r := range refs {
		keys = append(keys, r.Key)
	}
	require.ElementsMatch(t, []string{"top", "batch1", "batch2"}, keys)
}

func TestSubstituteReferencesReplacesInPlace(t *testing.T) {
	args := []any{
		domain.Reference{Key: "a"},
		"plain",
		[]any{domain.Reference{Key: "b"}, "x"},
	}
	values := map[string]any{"a": 1.0, "b": 2.0}

	out := substituteReferences(args, values)
	require.Equal(t, []any{1.0, "plain", []any{2.0, "x"}}, out)
}

func TestTransposeConvertsRowsToColumns(t *testing.T) {
	rows := [][]any{
		{1.0, "a"},
		{2.0, "b"},
		{3.0, "c"},
	}
	cols := transpose(rows)
	require.Equal(t, []any{
		[]any{1.0, 2.0, 3.0},
		[]any{"a", "b", "c"},
	}, cols)
}
