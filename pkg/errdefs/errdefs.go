// Package errdefs classifies pocket errors by kind rather than by concrete
// type. Callers match with errors.Is against the sentinel kinds or use the
// predicate helpers; user-visible failures always carry the failing operation
// name and a stable code.
package errdefs

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by pocket wraps exactly one of these.
var (
	ErrNotInitialized      = errors.New("not initialized")
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrConflict            = errors.New("conflict")
	ErrTransient           = errors.New("transient")
	ErrEmbedding           = errors.New("embedding")
)

// codes maps kinds to stable, opaque error codes.
var codes = map[error]string{
	ErrNotInitialized:      "POCKET_NOT_INITIALIZED",
	ErrNotFound:            "POCKET_NOT_FOUND",
	ErrInvalidArgument:     "POCKET_INVALID_ARGUMENT",
	ErrConstraintViolation: "POCKET_CONSTRAINT_VIOLATION",
	ErrConflict:            "POCKET_CONFLICT",
	ErrTransient:           "POCKET_TRANSIENT",
	ErrEmbedding:           "POCKET_EMBEDDING",
}

// Error is a classified pocket error. Op names the failing operation
// ("store.put", "branch.merge"); Kind is one of the sentinels above.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	code := codes[e.Kind]
	if e.Err != nil {
		return fmt.Sprintf("%s: %s [%s]: %v", e.Op, e.Kind, code, e.Err)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Op, e.Kind, code)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is lets errors.Is(err, kind) match both the kind and the wrapped cause.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// New builds a classified error for op with a formatted message.
func New(kind error, op, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Code returns the stable code for a classified error, or "" for unclassified
// errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return codes[e.Kind]
	}
	return ""
}

func IsNotInitialized(err error) bool { return errors.Is(err, ErrNotInitialized) }
func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
func IsEmbedding(err error) bool { return errors.Is(err, ErrEmbedding) }
