// Package errors defines the closed set of error kinds used by the load
// pipeline. Every failure surfaced to the caller carries one of these kinds so
// the CLI and programmatic users can react to the category rather than to
// string matching.
package errors

import (
	"errors"
	"strings"
)

// Op represents an operation name for error context, e.g. "transform.run".
type Op string

// Kind represents the category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindInvalidEntry marks a single malformed entry. Non-fatal: the
	// coordinator counts and skips it.
	KindInvalidEntry
	// KindTransformFailure marks an unrecoverable parse/transform error that
	// aborts the coordinator.
	KindTransformFailure
	// KindBulkIngestFailure marks a failed bulk load of a spool file.
	KindBulkIngestFailure
	// KindConstraintViolation marks a FK/PK violation reported by the
	// database during ingest or merge. Treated like a bulk ingest failure.
	KindConstraintViolation
	// KindCutoverFailure marks a failed schema rename transaction.
	// Production is untouched when this is raised.
	KindCutoverFailure
	// KindAdapterUnavailable marks a database that cannot be reached before
	// any state mutation happened.
	KindAdapterUnavailable
	// KindConfig marks invalid or missing configuration.
	KindConfig
	// KindIO marks file system or network failures in the collaborator
	// layers (spool files, downloads).
	KindIO
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidEntry:
		return "invalid entry"
	case KindTransformFailure:
		return "transform failure"
	case KindBulkIngestFailure:
		return "bulk ingest failure"
	case KindConstraintViolation:
		return "constraint violation"
	case KindCutoverFailure:
		return "cutover failure"
	case KindAdapterUnavailable:
		return "adapter unavailable"
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is an application error with operation and kind context.
type Error struct {
	Op   Op
	Kind Kind
	Err  error
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
		if e.Err != nil {
			b.WriteString(": ")
		}
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error from the given arguments. Arguments can be an Op, a
// Kind, an error and a string message, in any order.
func E(args ...interface{}) *Error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case error:
			e.Err = a
		case string:
			e.Msg = a
		}
	}
	return e
}

// Wrap wraps an error with an operation name for context.
func Wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// KindOf reports the kind of err, walking the wrap chain. Errors outside this
// package report KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind != KindUnknown {
				return e.Kind
			}
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

// Is reports whether the error chain contains an Error of the given kind.
func Is(kind Kind, err error) bool {
	return KindOf(err) == kind
}
