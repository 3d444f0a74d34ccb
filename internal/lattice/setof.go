package lattice

// SetOf is a grow-only set lattice: merge is set union, which is
// associative, commutative, and idempotent by construction.
type SetOf struct {
	Values map[string]struct{} `json:"values"`
}

// NewSetOf builds a SetOf from the given members.
func NewSetOf(members ...string) *SetOf {
	s := &SetOf{Values: make(map[string]struct{}, len(members))}
	for _, m := range members {
		s.Values[m] = struct{}{}
	}
	return s
}

func (s *SetOf) Kind() Kind { return KindSetOf }

func (s *SetOf) Merge(other Lattice) (Lattice, error) {
	o, ok := other.(*SetOf)
	if !ok {
		return nil, &ErrKindMismatch{A: KindSetOf, B: other.Kind()}
	}
	merged := make(map[string]struct{}, len(s.Values)+len(o.Values))
	for k := range s.Values {
		merged[k] = struct{}{}
	}
	for k := range o.Values {
		merged[k] = struct{}{}
	}
	return &SetOf{Values: merged}, nil
}

func (s *SetOf) Reveal() any {
	out := make([]string, 0, len(s.Values))
	for k := range s.Values {
		out = append(out, k)
	}
	return out
}
