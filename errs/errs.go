// Package errs defines the tagged domain errors which keel services return
// and which the API layer maps onto HTTP statuses. Errors carry a stable
// machine code, an optional offending field, and a human message. They never
// carry secret material.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error: validation errors are retryable after
// correction, state conflicts after a re-read, and internal errors are
// surfaced opaquely.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a tagged domain error.
type Error struct {
	Kind    Kind
	Code    string // Stable machine-readable code, e.g. INSUFFICIENT_STOCK.
	Field   string // Offending input field, when applicable.
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying cause, preserved for logs but never
// rendered into API responses.
func (e *Error) WithCause(cause error) *Error {
	var out = *e
	out.cause = cause
	return &out
}

func Validation(code, field, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

func Unauthorized(code, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Internal wraps an unexpected error. The cause is retained for logging but
// callers render only a generic message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: "internal error", cause: cause}
}

// KindOf probes err for a tagged *Error and returns its Kind,
// or KindInternal when err is untagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of a tagged error, or "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
