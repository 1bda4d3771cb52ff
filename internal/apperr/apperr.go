// Package apperr defines the typed error taxonomy shared by the engine
// packages. Callers branch on Kind rather than matching error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a recoverable failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDuplicate
	KindConflict
	KindQuotaExceeded
	KindInvalidState
	KindNotFound
	KindDataIntegrity
)

// Error is a recoverable, caller-visible failure.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Duplicate reports a resubmission with identical identity. Callers treat it
// as idempotent success, not as a fault.
func Duplicate(format string, args ...any) *Error {
	return &Error{Kind: KindDuplicate, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports an already-active competing record.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// QuotaExceeded reports a daily cap being reached.
func QuotaExceeded(format string, args ...any) *Error {
	return &Error{Kind: KindQuotaExceeded, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState reports a workflow transition from a state that does not
// permit it.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing referenced record.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// DataIntegrity reports a store yielding records that violate an invariant.
func DataIntegrity(format string, args ...any) *Error {
	return &Error{Kind: KindDataIntegrity, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}
