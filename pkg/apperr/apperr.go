// Package apperr defines the error taxonomy returned by every service operation.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindExpired          Kind = "expired"
	KindGone             Kind = "gone"
	KindTooSoon          Kind = "too_soon"
	KindAlreadyCompleted Kind = "already_completed"
	KindNoResponses      Kind = "no_responses"
	KindInternal         Kind = "internal"
)

// Error is a business error with a client-safe message.
// Details carries extra context the caller may act on (e.g. remaining_days).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// With returns a copy of e carrying an additional detail.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error   { return newf(KindValidation, format, args...) }
func Unauthorized(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }
func Forbidden(format string, args ...any) *Error    { return newf(KindForbidden, format, args...) }
func NotFound(format string, args ...any) *Error     { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error     { return newf(KindConflict, format, args...) }
func Expired(format string, args ...any) *Error      { return newf(KindExpired, format, args...) }
func Gone(format string, args ...any) *Error         { return newf(KindGone, format, args...) }
func AlreadyCompleted(format string, args ...any) *Error {
	return newf(KindAlreadyCompleted, format, args...)
}
func NoResponses(format string, args ...any) *Error { return newf(KindNoResponses, format, args...) }

// TooSoon reports a cooldown that has not elapsed yet.
func TooSoon(remainingDays int) *Error {
	return newf(KindTooSoon, "a new assessment can be started in %d day(s)", remainingDays).
		With("remaining_days", remainingDays)
}

// Internal wraps a storage or collaborator failure. The cause is kept for logs only.
func Internal(cause error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
