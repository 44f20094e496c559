// Package corerr defines the tagged error kinds the supervisor surfaces
// to clients, uniformly through the RPC Error response and internally as
// a single wrapped error type.
package corerr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the category a client or the RPC layer needs to
// branch on.
type Kind string

const (
	NotFound        Kind = "not_found"
	Ambiguous       Kind = "ambiguous"
	Validation      Kind = "validation"
	AlreadyRunning  Kind = "already_running"
	Disabled        Kind = "disabled"
	SpawnFailed     Kind = "spawn_failed"
	ReadyTimeout    Kind = "ready_timeout"
	ChildFailed     Kind = "child_failed"
	DependencyCycle Kind = "dependency_cycle"
	IO              Kind = "io"
	Protocol        Kind = "protocol"
	Timeout         Kind = "timeout"
	RateLimited     Kind = "rate_limited"
	ShuttingDown    Kind = "shutting_down"
)

// Error is a Kind-tagged error wrapping an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// ExitCode carries the child's exit code for ChildFailed errors, per
	// spec.md §7's ChildFailed(exit_code).
	ExitCode *int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a Kind-tagged error around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ChildFailedErr builds a ChildFailed error carrying the exit code.
func ChildFailedErr(code int, format string, args ...any) *Error {
	c := code
	return &Error{Kind: ChildFailed, Message: fmt.Sprintf(format, args...), ExitCode: &c}
}

// Is reports whether err (or anything it wraps) is a *Error of the given
// Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to IO for untagged errors
// — matching the propagation policy in spec.md §7 that unexpected
// transport/system failures surface as a generic transport kind rather
// than panicking the RPC layer.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IO
}
