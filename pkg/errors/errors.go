package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when an update, append or lookup targets a missing record
	ErrNotFound = errors.New("record not found")

	// ErrValidation is returned when a record or an operation input is invalid
	ErrValidation = errors.New("validation failed")

	// ErrInvalidInput is returned when caller input cannot be parsed
	ErrInvalidInput = fmt.Errorf("invalid input: %w", ErrValidation)

	// ErrLimitExceeded is returned when a core memory block would exceed its character limit.
	// It matches ErrValidation under Is.
	ErrLimitExceeded = fmt.Errorf("block limit exceeded: %w", ErrValidation)

	// ErrProvider is returned when the embedding or concept-extraction provider fails
	ErrProvider = errors.New("provider failure")

	// ErrStore is returned when the durable record store fails on a write
	ErrStore = errors.New("record store failure")

	// ErrUnsupported is returned when an adapter does not implement an operation
	ErrUnsupported = errors.New("operation not supported")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Mark attaches a sentinel to err so that Is(err, sentinel) holds while
// the original error chain stays inspectable.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
