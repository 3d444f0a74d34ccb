package lattice

import "encoding/json"

// Wren is the "ts, promise" shaped lattice the causal resolver requires.
// Ts is the write's assigned timestamp; Promise is the lower bound on any
// future write's timestamp for this key — it is what lets the causal
// resolver tighten a snapshot interval (t_low'=max(t_low,ts),
// t_high'=min(t_high,promise)).
type Wren struct {
	Ts      uint64          `json:"ts"`
	Promise uint64          `json:"promise"`
	Value   json.RawMessage `json:"value"`
}

func (l *Wren) Kind() Kind { return KindWren }

func (l *Wren) Merge(other Lattice) (Lattice, error) {
	o, ok := other.(*Wren)
	if !ok {
		return nil, &ErrKindMismatch{A: KindWren, B: other.Kind()}
	}
	if o.Ts > l.Ts {
		return o, nil
	}
	return l, nil
}

func (l *Wren) Reveal() any {
	var v any
	_ = json.Unmarshal(l.Value, &v)
	return v
}

// AsLWWPair asserts that l can serve the causal resolver's LWW-pair
// contract and returns its (ts, promise). Any other lattice kind is a
// fatal type error.
func AsLWWPair(l Lattice) (ts, promise uint64, value any, err error) {
	w, ok := l.(*Wren)
	if !ok {
		return 0, 0, nil, ErrNotLWW
	}
	return w.Ts, w.Promise, w.Reveal(), nil
}
