// Package apperr defines the error taxonomy shared across the codec, store
// and HTTP layers so that a handler can map any failure to the right
// status code without string-matching error messages.
package apperr

import "errors"

// Kind classifies a failure into one of the categories the HTTP layer
// knows how to respond to.
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal error.
	KindUnknown Kind = iota
	// KindConfig marks an invalid configuration value (bad TTL string, unreadable path, impossible bind).
	KindConfig
	// KindKey marks a key-material problem (wrong decoded length, KDF failure).
	KindKey
	// KindCorruptFrame marks a malformed wire frame (truncated header, chunk length, chunk body).
	KindCorruptFrame
	// KindAuthFailure marks an AEAD tag mismatch.
	KindAuthFailure
	// KindNotFound marks an unknown drop id.
	KindNotFound
	// KindBurned marks a tombstoned drop id.
	KindBurned
	// KindForbidden marks a pin mismatch.
	KindForbidden
	// KindGone marks a receive session that already completed.
	KindGone
	// KindIO marks a disk/network failure.
	KindIO
	// KindRateLimited marks a tripped rate limiter.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config_error"
	case KindKey:
		return "key_error"
	case KindCorruptFrame:
		return "corrupt_frame"
	case KindAuthFailure:
		return "auth_failure"
	case KindNotFound:
		return "not_found"
	case KindBurned:
		return "burned"
	case KindForbidden:
		return "forbidden"
	case KindGone:
		return "gone"
	case KindIO:
		return "io_error"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is a classified application error. It wraps an underlying cause
// while exposing a stable Kind the HTTP layer switches on.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with no underlying cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// As reports whether err (or something it wraps) is an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the classified kind of err, or KindUnknown if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}
