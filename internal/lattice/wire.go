package lattice

import (
	"encoding/json"
	"fmt"
)

// Envelope is the on-the-wire / on-disk tagged representation of a Lattice:
// a kind discriminator plus the kind-specific payload, used by the KVS
// backends (internal/kvs) and the serializer to round-trip a Lattice
// through JSON without losing its concrete type.
type Envelope struct {
	LatticeType Kind            `json:"lattice_type"`
	Payload     json.RawMessage `json:"payload"`
}

// Encode wraps a concrete Lattice into its wire Envelope.
func Encode(l Lattice) (*Envelope, error) {
	payload, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("lattice: encode %s: %w", l.Kind(), err)
	}
	return &Envelope{LatticeType: l.Kind(), Payload: payload}, nil
}

// Decode unwraps a wire Envelope back into a concrete Lattice.
func Decode(e *Envelope) (Lattice, error) {
	if e == nil {
		return nil, fmt.Errorf("lattice: decode nil envelope")
	}
	switch e.LatticeType {
	case KindLWW:
		var l LWW
		if err := json.Unmarshal(e.Payload, &l); err != nil {
			return nil, err
		}
		return &l, nil
	case KindSetOf:
		var l SetOf
		if err := json.Unmarshal(e.Payload, &l); err != nil {
			return nil, err
		}
		return &l, nil
	case KindMapOf:
		return decodeMapOf(e.Payload)
	case KindSingleKeyCausal:
		var l SingleKeyCausal
		if err := json.Unmarshal(e.Payload, &l); err != nil {
			return nil, err
		}
		return &l, nil
	case KindMultiKeyCausal:
		var l MultiKeyCausal
		if err := json.Unmarshal(e.Payload, &l); err != nil {
			return nil, err
		}
		return &l, nil
	case KindWren:
		var l Wren
		if err := json.Unmarshal(e.Payload, &l); err != nil {
			return nil, err
		}
		return &l, nil
	default:
		return nil, fmt.Errorf("lattice: unknown kind %q", e.LatticeType)
	}
}

// wireMapOf mirrors MapOf but with entries stored as Envelopes, since a
// map[string]Lattice cannot be unmarshaled generically by encoding/json.
type wireMapOf struct {
	Entries map[string]*Envelope `json:"entries"`
}

// MarshalJSON implements json.Marshaler so MapOf round-trips through the
// same Envelope tagging its nested lattices use.
func (m *MapOf) MarshalJSON() ([]byte, error) {
	w := wireMapOf{Entries: make(map[string]*Envelope, len(m.Entries))}
	for k, v := range m.Entries {
		env, err := Encode(v)
		if err != nil {
			return nil, err
		}
		w.Entries[k] = env
	}
	return json.Marshal(w)
}

func decodeMapOf(payload json.RawMessage) (*MapOf, error) {
	var w wireMapOf
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	m := NewMapOf()
	for k, env := range w.Entries {
		l, err := Decode(env)
		if err != nil {
			return nil, err
		}
		m.Entries[k] = l
	}
	return m, nil
}
