// Package apperr classifies failures raised by the catalog, the workflow
// engine and the messaging transport so handlers can decide whether to
// re-prompt, show a notice, retry or abort.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindTransport  Kind = "transport"
	KindStore      Kind = "store"
	KindDenied     Kind = "denied"
)

var (
	ErrValidation = errors.New("invalid input")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrTransport  = errors.New("transport failure")
	ErrStore      = errors.New("store failure")
	ErrDenied     = errors.New("denied")
)

var sentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindConflict:   ErrConflict,
	KindNotFound:   ErrNotFound,
	KindTransport:  ErrTransport,
	KindStore:      ErrStore,
	KindDenied:     ErrDenied,
}

// Error carries the failure kind, the operation that produced it and an
// optional message that is safe to show to the caller.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind as well as anything the
// wrapped error matches.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	return false
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func Conflict(op, message string) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message}
}

func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

func Denied(op string) *Error {
	return &Error{Kind: KindDenied, Op: op}
}

func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Op: op, Err: err}
}

// KindOf reports the kind of err. Errors that were never classified are
// treated as store failures, the most conservative outcome for a mutation.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Message returns the caller-facing text of err, or fallback when err
// carries none.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
