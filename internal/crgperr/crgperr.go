// Package crgperr implements the error taxonomy from spec.md §7: every
// fatal error a run can produce carries an exit code, and parsing errors
// that are merely recorded (never fatal) are distinguished from the ones
// that abort the process group.
package crgperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Class categorizes an error by the taxonomy in spec.md §7.
type Class int

const (
	// ClassUsage is a malformed CLI invocation: exit code 1.
	ClassUsage Class = iota
	// ClassInputFormat is a recovered per-record parsing failure. It is
	// never fatal; it exists only so callers can log/count it uniformly.
	ClassInputFormat
	// ClassInputIOFatal is a fatal failure to read a root input: exit code 2.
	ClassInputIOFatal
	// ClassPeerIOFatal is a fatal peer dial/bind failure: exit code 3.
	ClassPeerIOFatal
	// ClassInternal is an invariant violation: exit code 4, a bug.
	ClassInternal
)

// ExitCode maps a Class to the process exit code spec.md §6 mandates.
func (c Class) ExitCode() int {
	switch c {
	case ClassUsage:
		return 1
	case ClassInputIOFatal:
		return 2
	case ClassPeerIOFatal:
		return 3
	case ClassInternal:
		return 4
	default:
		return 0
	}
}

func (c Class) String() string {
	switch c {
	case ClassUsage:
		return "usage error"
	case ClassInputFormat:
		return "input format error"
	case ClassInputIOFatal:
		return "input I/O fatal"
	case ClassPeerIOFatal:
		return "peer I/O fatal"
	case ClassInternal:
		return "internal invariant violation"
	default:
		return "unknown error"
	}
}

// Error is a classified, stack-carrying error. The stack is only useful
// for ClassInternal, but we attach it uniformly since pkg/errors makes
// that free.
type Error struct {
	class Class
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.class, e.cause)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Class reports the taxonomy class of a classified error.
func (e *Error) Class() Class {
	return e.class
}

// Wrap classifies err under class, attaching a stack trace via
// pkg/errors. Returns nil if err is nil.
func Wrap(class Class, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{class: class, cause: errors.Wrapf(err, format, args...)}
}

// New creates a new classified error from a message, with a stack trace.
func New(class Class, format string, args ...interface{}) error {
	return &Error{class: class, cause: errors.Errorf(format, args...)}
}

// ExitCodeOf inspects err (possibly wrapped) for a *Error and returns its
// exit code, defaulting to 4 (internal) for unclassified errors so that a
// forgotten classification still fails loudly rather than silently as 0.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.class.ExitCode()
	}
	return ClassInternal.ExitCode()
}
