// Package lattice models the envelope type the KVS stores and merges:
// values wrapped in a lattice whose merge operation is associative,
// commutative, and idempotent. This is modeled as a closed tagged union
// rather than an open interface, because the resolver's causal path must
// switch on the concrete variant and reject anything that is not an
// LWW-shaped pair.
package lattice

import "fmt"

// Kind identifies the concrete lattice variant carried by a Lattice value.
type Kind string

const (
	KindLWW             Kind = "LWW"
	KindSetOf           Kind = "SET_OF"
	KindMapOf           Kind = "MAP_OF"
	KindSingleKeyCausal Kind = "SINGLE_KEY_CAUSAL"
	KindMultiKeyCausal  Kind = "MULTI_KEY_CAUSAL"
	KindWren            Kind = "WREN"
)

// Lattice is the capability set every variant implements: merge with
// another instance of the same kind, and reveal the unwrapped value.
type Lattice interface {
	Kind() Kind
	// Merge combines this lattice with other, returning a new lattice.
	// other must be the same Kind; a mismatched merge is a fatal type error.
	Merge(other Lattice) (Lattice, error)
	// Reveal unwraps the lattice to its plain value, discarding merge
	// metadata (timestamps, vector clocks, …).
	Reveal() any
}

// ErrKindMismatch is returned by Merge when the two operands are not the
// same concrete variant.
type ErrKindMismatch struct {
	A, B Kind
}

func (e *ErrKindMismatch) Error() string {
	return fmt.Sprintf("lattice: cannot merge %s with %s", e.A, e.B)
}

// ErrNotLWW is returned by the causal resolver when a lattice read back
// from causal_get is not LWW-shaped (ts, promise). This is a fatal type
// error, not a retryable condition.
var ErrNotLWW = fmt.Errorf("lattice: causal read requires an LWW-pair lattice")

// UnboundedPromise marks a Wren write with no known upper bound on a
// future write's timestamp yet — the sentinel every causal write starts
// with until some later write narrows it.
const UnboundedPromise = ^uint64(0)
