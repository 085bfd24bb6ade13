package schema

import (
	"errors"
	"fmt"
)

// ErrorKind classifies daemon errors into the categories clients can act on.
type ErrorKind int

const (
	// ErrInternal is an unexpected defect in the daemon itself.
	ErrInternal ErrorKind = iota
	// ErrValidation is a malformed or inconsistent request; never retried.
	ErrValidation
	// ErrNotFound is an unknown session or request id.
	ErrNotFound
	// ErrConflict is a request that contradicts current state: duplicate
	// session id, message during an in-flight turn, double resolution.
	ErrConflict
	// ErrUpstreamAgent is a failure of the underlying agent process.
	ErrUpstreamAgent
)

// String returns the taxonomy name.
func (k ErrorKind) String() string {
	switch k {
	case ErrValidation:
		return "validation"
	case ErrNotFound:
		return "not found"
	case ErrConflict:
		return "conflict"
	case ErrUpstreamAgent:
		return "upstream agent error"
	default:
		return "internal"
	}
}

// Error is the daemon's classified error type.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validationf builds a Validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a Conflict error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// UpstreamAgent wraps an agent process failure.
func UpstreamAgent(msg string, cause error) error {
	return &Error{Kind: ErrUpstreamAgent, Message: msg, Cause: cause}
}

// Internalf builds an Internal error.
func Internalf(format string, args ...any) error {
	return &Error{Kind: ErrInternal, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy kind from err, defaulting to ErrInternal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
