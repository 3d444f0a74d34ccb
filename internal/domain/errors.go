package domain

import "fmt"

// ErrorCode is the boundary error enumeration written to a response key
// when a step fails terminally.
type ErrorCode string

const (
	// FuncNotFound: the named function is absent from both the in-process
	// registry and the KVS-backed function metadata.
	FuncNotFound ErrorCode = "FUNC_NOT_FOUND"
	// ExecutionError: the user function raised/panicked during invocation.
	ExecutionError ErrorCode = "EXECUTION_ERROR"
	// KeyDNE: a KVS read missed; recoverable via retry at the resolver.
	KeyDNE ErrorCode = "KEY_DNE"
	// NoError: marks a successful put.
	NoError ErrorCode = "NO_ERROR"
)

// BoundaryError is the payload written to a response_key or response socket
// when a step fails terminally: a short code/message pair plus an optional
// serialized cause.
type BoundaryError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
	Cause   []byte    `json:"cause,omitempty"`
}

func (e *BoundaryError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBoundaryError constructs a BoundaryError from a code and a causing Go
// error (whose Error() string becomes the Message).
func NewBoundaryError(code ErrorCode, cause error) *BoundaryError {
	be := &BoundaryError{Code: code}
	if cause != nil {
		be.Message = cause.Error()
	}
	return be
}
