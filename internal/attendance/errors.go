package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced to callers.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindValidation       Kind = "validation"
	KindStoreUnavailable Kind = "store_unavailable"
)

// Store sentinels. Implementations wrap or return these directly.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("concurrent update conflict")
)

// Error carries a kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a store failure that the caller may retry.
func Unavailable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Unrecognized errors are store failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	}
	return KindStoreUnavailable
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
