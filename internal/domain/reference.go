package domain

// Reference is a lazy pointer-to-key embedded in a function's arguments.
// The engine resolves it against the KVS before the user function runs and
// substitutes the resolved value in place.
type Reference struct {
	Key string `json:"key"`
	// Deserialize, when true, asks the resolver to decode the resolved
	// lattice payload into a typed value (via the serializer) rather than
	// returning the raw revealed value.
	Deserialize bool `json:"deserialize"`
}

// IsReference reports whether v is a Reference or *Reference, returning the
// dereferenced value for convenience.
func IsReference(v any) (Reference, bool) {
	switch r := v.(type) {
	case Reference:
		return r, true
	case *Reference:
		if r == nil {
			return Reference{}, false
		}
		return *r, true
	default:
		return Reference{}, false
	}
}

// Tuple marks a value as a splice-on-substitution tuple: when it appears as
// a function argument or a function result, its members are spliced into
// the surrounding argument/trigger-argument list rather than passed as one
// compound value. This is how a function "returns multiple values intended
// as separate downstream parameters" (see dag package tuple-flattening).
type Tuple []any
