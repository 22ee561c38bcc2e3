// Package apperr defines the error taxonomy shared by the speech bridge.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindConfiguration Kind = "CONFIGURATION"
	KindConnection    Kind = "CONNECTION"
	KindTimeout       Kind = "TIMEOUT"
	KindProvider      Kind = "PROVIDER"
)

// Error is a classified error carrying the failing operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
	timeout bool
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Timeout reports whether the failure was caused by a deadline.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout || e.timeout }

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation reports bad caller input. Never retried.
func Validation(op, format string, args ...any) *Error {
	return newError(KindValidation, op, format, args...)
}

// Configuration reports missing or malformed configuration.
func Configuration(op, format string, args ...any) *Error {
	return newError(KindConfiguration, op, format, args...)
}

// Connection wraps a transport failure.
func Connection(op string, cause error) *Error {
	return &Error{Kind: KindConnection, Op: op, Message: "connection failed", Cause: cause}
}

// ConnectionTimeout reports a handshake that did not complete in time.
func ConnectionTimeout(op string, after fmt.Stringer) *Error {
	e := newError(KindConnection, op, "connection timeout after %s", after)
	e.timeout = true
	return e
}

// Timeout reports that a protocol deadline elapsed without completion.
func Timeout(op string, after fmt.Stringer) *Error {
	return newError(KindTimeout, op, "timed out after %s", after)
}

// Provider reports a failure returned by an upstream provider.
func Provider(op, format string, args ...any) *Error {
	return newError(KindProvider, op, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// IsTimeout reports whether err was caused by any deadline (handshake or protocol).
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Timeout()
}
