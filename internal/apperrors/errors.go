// Package apperrors defines the error kinds surfaced by the catalog and the
// publication engine. Callers classify errors with errors.Is against the
// sentinels; the constructors wrap a sentinel together with a readable message.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: bad extension, oversized upload, unknown environment.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced package or publication that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a caller whose role lacks the capability for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a uniqueness violation. Reconcile treats it as a skip.
	ErrConflict = errors.New("conflict")
	// ErrIO marks a filesystem or storage failure.
	ErrIO = errors.New("i/o failure")
)

// Validation returns an ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, entity, id)
}

// Forbidden returns an ErrForbidden with a formatted message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Conflict wraps err as ErrConflict.
func Conflict(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
}

// IO wraps err as ErrIO. The cause stays reachable through errors.Is / errors.As.
func IO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// Message returns the text after the sentinel prefix, suitable for API clients.
// Errors that do not carry one of the sentinels return a generic message so
// internal details are not leaked.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIO):
		return "storage operation failed"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrConflict):
		return err.Error()
	default:
		return "internal server error"
	}
}
