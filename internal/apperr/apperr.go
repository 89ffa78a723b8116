// Package apperr defines the error taxonomy every trade operation reports.
//
// Callers branch on Kind; the Code is a stable machine-readable identifier and
// Message a short human-readable reason. Internal errors carry their cause for
// server-side logging but never expose it through Public.
package apperr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error for propagation and rendering.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindBusy          Kind = "busy"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Error is a classified, caller-actionable failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed or disallowed input.
func Validation(code, format string, args ...any) error {
	return newf(KindValidation, code, format, args...)
}

// Authorization reports a caller acting outside its role.
func Authorization(code, format string, args ...any) error {
	return newf(KindAuthorization, code, format, args...)
}

// Conflict reports a state precondition that no longer holds.
func Conflict(code, format string, args ...any) error {
	return newf(KindConflict, code, format, args...)
}

// Busy reports a retryable contention failure such as a lock timeout.
func Busy(code, format string, args ...any) error {
	return newf(KindBusy, code, format, args...)
}

// NotFound reports a missing conversation, request or item.
func NotFound(code, format string, args ...any) error {
	return newf(KindNotFound, code, format, args...)
}

// Internal wraps a storage or programming failure. A nil err returns nil.
func Internal(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}
	e := newf(KindInternal, "internal", format, args...)
	e.cause = pkgerrors.WithStack(err)
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf classifies err; unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return "internal"
}

// Public returns the representation safe to show a caller. Internal details
// are replaced by a generic message.
func Public(err error) *Error {
	if ae, ok := As(err); ok && ae.Kind != KindInternal {
		return &Error{Kind: ae.Kind, Code: ae.Code, Message: ae.Message}
	}
	return &Error{Kind: KindInternal, Code: "internal", Message: "internal error"}
}
