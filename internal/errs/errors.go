// Package errs defines the stable error kinds returned by the workflow
// engine. Domain rejections are values of *Error; infrastructure failures
// (store unavailable, kafka down) travel as ordinary wrapped errors.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidTransition Kind = "INVALID_STATE_TRANSITION"
	KindSelfApproval      Kind = "SELF_APPROVAL"
	KindConflict          Kind = "CONFLICT"
	KindAuditWrite        Kind = "AUDIT_WRITE_FAILURE"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

func SelfApproval(format string, args ...any) *Error {
	return &Error{Kind: KindSelfApproval, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the domain kind from err, or "" if err is not a domain
// rejection.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a domain rejection of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
