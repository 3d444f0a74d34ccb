package dag

import "github.com/oriys/squall/internal/domain"

// buildRequestArgs concatenates a schedule's own static arguments for
// target with every pending trigger's arguments, then tuple-flattens each
// element: a domain.Tuple argument or trigger value splices into the
// surrounding list instead of passing as one compound value.
func buildRequestArgs(sched domain.Schedule, triggers []domain.DagTrigger) []any {
	var raw []any
	raw = append(raw, sched.Arguments[sched.TargetFunction]...)
	for _, t := range triggers {
		raw = append(raw, t.Arguments...)
	}

	out := make([]any, 0, len(raw))
	for _, v := range raw {
		out = append(out, flattenTupleArg(v)...)
	}
	return out
}

func flattenTupleArg(v any) []any {
	if t, ok := v.(domain.Tuple); ok {
		return []any(t)
	}
	return []any{v}
}

// extractReferences collects every domain.Reference in args, both at the
// top level and nested one level inside a []any batch column, matching the rule that a reference may appear as a top-level argument,
// or as an element of a batched argument column.
func extractReferences(args []any) []domain.Reference {
	var refs []domain.Reference
	for _, v := range args {
		if r, ok := domain.IsReference(v); ok {
			refs = append(refs, r)
			continue
		}
		if batch, ok := v.([]any); ok {
			for _, item := range batch {
				if r, ok := domain.IsReference(item); ok {
					refs = append(refs, r)
				}
			}
		}
	}
	return refs
}

// substituteReferences mirrors extractReferences' traversal, replacing
// every domain.Reference it finds with its resolved value from values
// (keyed by Reference.Key).
func substituteReferences(args []any, values map[string]any) []any {
	out := make([]any, len(args))
	for i, v := range args {
		if r, ok := domain.IsReference(v); ok {
			out[i] = values[r.Key]
			continue
		}
		if batch, ok := v.([]any); ok {
			sub := make([]any, len(batch))
			for j, item := range batch {
				if r, ok := domain.IsReference(item); ok {
					sub[j] = values[r.Key]
					continue
				}
				sub[j] = item
			}
			out[i] = sub
			continue
		}
		out[i] = v
	}
	return out
}

// transpose converts N per-request argument slices of equal width into
// column-lists: argument position i becomes the list of the i-th value
// across every request, so a batched function invocation sees one column
// per argument position. perRequest must be non-empty and every element
// must have the same length.
func transpose(perRequest [][]any) []any {
	if len(perRequest) == 0 {
		return nil
	}
	width := len(perRequest[0])
	cols := make([]any, width)
	for i := 0; i < width; i++ {
		col := make([]any, len(perRequest))
		for j, req := range perRequest {
			col[j] = req[i]
		}
		cols[i] = col
	}
	return cols
}
