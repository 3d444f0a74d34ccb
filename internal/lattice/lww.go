package lattice

import "encoding/json"

// LWW is a last-writer-wins register: the value with the higher timestamp
// survives a merge. Ties keep the existing value (merge is idempotent).
type LWW struct {
	Ts    uint64          `json:"ts"`
	Value json.RawMessage `json:"value"`
}

func (l *LWW) Kind() Kind { return KindLWW }

func (l *LWW) Merge(other Lattice) (Lattice, error) {
	o, ok := other.(*LWW)
	if !ok {
		return nil, &ErrKindMismatch{A: KindLWW, B: other.Kind()}
	}
	if o.Ts > l.Ts {
		return o, nil
	}
	return l, nil
}

func (l *LWW) Reveal() any {
	var v any
	_ = json.Unmarshal(l.Value, &v)
	return v
}
