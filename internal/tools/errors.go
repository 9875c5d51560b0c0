package tools

import (
	"errors"
	"fmt"
)

// ErrToolNotFound matches any *NotFoundError via errors.Is.
var ErrToolNotFound = errors.New("tool not found")

// NotFoundError is returned when a call names a tool that is not in the
// registry. It is a capability mismatch, not a transient failure.
type NotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// Is reports whether target is ErrToolNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// ExecutionError wraps a failure raised by a tool while it ran.
type ExecutionError struct {
	Name  string
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Name, e.Cause)
}

// Unwrap returns the tool's own error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
