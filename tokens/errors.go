package tokens

import (
	"errors"
	"fmt"
)

// Kind classifies a failed token acquisition.
type Kind string

// Acquisition failure kinds.
const (
	KindMissingCredentials Kind = "MISSING_CREDENTIALS"
	KindNeedsReauth        Kind = "NEEDS_REAUTH"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindServerError        Kind = "SERVER_ERROR"
	KindRequestFailed      Kind = "TOKEN_REQUEST_FAILED"
	KindInvalidResponse    Kind = "INVALID_RESPONSE"
	KindEmptyToken         Kind = "EMPTY_TOKEN"
	KindTimeout            Kind = "TIMEOUT"
	KindNetworkError       Kind = "NETWORK_ERROR"
)

// Error is a classified token acquisition failure. StatusCode carries the
// upstream HTTP status when one was received.
type Error struct {
	Kind       Kind
	Carrier    string
	AccountID  string
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	var s = fmt.Sprintf("%s token acquisition failed (%s)", e.Carrier, e.Kind)
	if e.StatusCode != 0 {
		s = fmt.Sprintf("%s: upstream status %d", s, e.StatusCode)
	}
	if e.Message != "" {
		s = fmt.Sprintf("%s: %s", s, e.Message)
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the acquisition failure kind of |err|, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
