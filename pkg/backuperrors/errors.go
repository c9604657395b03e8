// Package backuperrors provides the error taxonomy used across the backup
// agent: every error surfaced by a component is tagged with one of four
// kinds (Transient, Fatal, Validation, Advisory) so callers can decide
// whether to retry, abort, report to the operator, or merely log and move
// on, without needing to pattern-match on error strings.
//
// Import graph: backuperrors <- everything else (leaf package, no internal
// dependencies), mirroring the teacher's pkg/metadata/errors convention.
package backuperrors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed and what the caller should do
// about it.
type Kind int

const (
	// Transient indicates the operation can be retried, typically after a
	// backoff: a network blip, a throttled object-store request, a
	// temporarily unreachable PostgreSQL connection.
	Transient Kind = iota + 1

	// Fatal indicates the operation cannot succeed no matter how many times
	// it is retried: corrupt state, an integrity check failure, an
	// unsupported basebackup mode.
	Fatal

	// Validation indicates bad input was supplied by the caller or found in
	// configuration: a restore target directory that isn't empty, a
	// tablespace mapping that doesn't exist.
	Validation

	// Advisory indicates a best-effort side operation failed in a way that
	// should be logged but must never abort the primary operation: a
	// preservation request that could not be written, a cache warm that
	// timed out.
	Advisory
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	case Validation:
		return "validation"
	case Advisory:
		return "advisory"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a kind-tagged error that always preserves its underlying cause,
// so forensic detail (the original object-store error, the original pgx
// error) is never lost by wrapping.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "objectstore.Put", "walker.Split"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with the given kind, operation, and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an Error that preserves cause as the unwrap target. A nil
// cause returns nil, so call sites can write `return backuperrors.Wrap(...,
// err)` unconditionally.
func Wrap(kind Kind, op, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Transientf builds a Transient error with a formatted message.
func Transientf(op, format string, args ...any) *Error {
	return New(Transient, op, fmt.Sprintf(format, args...))
}

// Fatalf builds a Fatal error with a formatted message.
func Fatalf(op, format string, args ...any) *Error {
	return New(Fatal, op, fmt.Sprintf(format, args...))
}

// Validationf builds a Validation error with a formatted message.
func Validationf(op, format string, args ...any) *Error {
	return New(Validation, op, fmt.Sprintf(format, args...))
}

// Advisoryf builds an Advisory error with a formatted message.
func Advisoryf(op, format string, args ...any) *Error {
	return New(Advisory, op, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise. Callers use this to decide retry/abort/log behavior without
// needing err to be exactly a *Error at the top level.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a Transient error (or wraps one).
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Transient
}

// IsFatal reports whether err is a Fatal error (or wraps one).
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Fatal
}

// IsValidation reports whether err is a Validation error (or wraps one).
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Validation
}

// IsAdvisory reports whether err is an Advisory error (or wraps one).
func IsAdvisory(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Advisory
}
