package domain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

type ErrorKind string

const (
	ErrKindNotFound        ErrorKind = "not_found"
	ErrKindInvalidInput    ErrorKind = "invalid_input"
	ErrKindLimitExceeded   ErrorKind = "limit_exceeded"
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindUpstreamFailure ErrorKind = "upstream_failure"
	ErrKindIOFailure       ErrorKind = "io_failure"
	ErrKindInternal        ErrorKind = "internal"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Err     error
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrNotFound) works
// for any NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound        = &Error{Kind: ErrKindNotFound}
	ErrInvalidInput    = &Error{Kind: ErrKindInvalidInput}
	ErrLimitExceeded   = &Error{Kind: ErrKindLimitExceeded}
	ErrTimeout         = &Error{Kind: ErrKindTimeout}
	ErrUpstreamFailure = &Error{Kind: ErrKindUpstreamFailure}
	ErrIOFailure       = &Error{Kind: ErrKindIOFailure}
	ErrInternal        = &Error{Kind: ErrKindInternal}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return newError(ErrKindNotFound, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return newError(ErrKindInvalidInput, format, args...)
}

func LimitExceeded(format string, args ...any) *Error {
	return newError(ErrKindLimitExceeded, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return newError(ErrKindTimeout, format, args...)
}

func Internal(format string, args ...any) *Error {
	return newError(ErrKindInternal, format, args...)
}

// Upstream wraps a failure reported by an external backend.
func Upstream(err error, format string, args ...any) *Error {
	return &Error{Kind: ErrKindUpstreamFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// IO wraps a filesystem failure.
func IO(err error, format string, args ...any) *Error {
	return &Error{Kind: ErrKindIOFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies any error into the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var pe *fs.PathError
	if errors.Is(err, syscall.ENOSPC) || errors.As(err, &pe) {
		return ErrKindIOFailure
	}
	return ErrKindInternal
}

// TaskErrorFrom converts err into the record stored on a failed task.
func TaskErrorFrom(err error) *TaskError {
	if err == nil {
		return &TaskError{Kind: ErrKindInternal, Message: "unknown error"}
	}
	return &TaskError{Kind: KindOf(err), Message: err.Error()}
}
