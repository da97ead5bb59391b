// Package errors holds the sentinel errors shared by the fsm, runner, daemon and
// metronome packages, plus small helpers for collecting errors and turning
// recovered panics into errors.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrPanicRecovery wraps every error produced from a recovered panic.
	ErrPanicRecovery = errors.New("recovered from panic")

	// ErrDuplicateTransition is returned when the same transition instance is
	// added to a state twice.
	ErrDuplicateTransition = errors.New("transition already added to state")
	// ErrDuplicateState is returned when two states with the same name are
	// added to one machine.
	ErrDuplicateState = errors.New("state already added to machine")
	// ErrNoStates is returned when a machine is started with an empty state table.
	ErrNoStates = errors.New("machine has no states")
	// ErrStateNotFound is returned when a state key does not resolve to a state.
	ErrStateNotFound = errors.New("state not found")
	// ErrInvalidStatus is returned when a lifecycle call is not allowed in the current status.
	ErrInvalidStatus = errors.New("invalid machine status")
	// ErrInvalidDefinition is returned when a machine definition fails validation.
	ErrInvalidDefinition = errors.New("invalid machine definition")
	// ErrGuardNotFound is returned when a definition references an unregistered guard.
	ErrGuardNotFound = errors.New("guard not registered")

	// ErrAlreadyRunning is returned when a daemon or metronome is started twice.
	ErrAlreadyRunning = errors.New("already running")
	// ErrInvalidInterval is returned for non-positive loop intervals.
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrNilTarget is returned when a loop is created without anything to step.
	ErrNilTarget = errors.New("nil target")
)

// Collection is a thread-unsafe utility for accumulating multiple errors.
// Use it when several independent checks should all be reported together,
// e.g. validating every state of a definition before giving up.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// Addf appends a formatted error to the collection.
func (c *Collection) Addf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Errorf(format, args...)) //nolint:err113
}

// Clear removes all errors from the collection.
func (c *Collection) Clear() {
	c.errors = nil
}

// HasError returns true if the collection contains at least one error.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// Len returns the number of collected errors.
func (c *Collection) Len() int {
	return len(c.errors)
}

// GetError returns nil for an empty collection, the error itself when only one
// was collected, or an errors.Join of all of them.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}

// FromPanic converts a value returned by recover() into an error wrapping
// ErrPanicRecovery. It returns nil when recovered is nil. If a stack trace is
// given it is appended to the message.
func FromPanic(recovered any, stack []byte) error {
	if recovered == nil {
		return nil
	}

	if err, ok := recovered.(error); ok {
		if stack != nil {
			return fmt.Errorf("%w: %w\nstack trace:\n%s", ErrPanicRecovery, err, string(stack))
		}

		return fmt.Errorf("%w: %w", ErrPanicRecovery, err)
	}

	if stack != nil {
		return fmt.Errorf("%w: %v\nstack trace:\n%s", ErrPanicRecovery, recovered, string(stack))
	}

	return fmt.Errorf("%w: %v", ErrPanicRecovery, recovered)
}

// Is reports whether any error in err's tree matches target. It is a
// convenience re-export so callers don't need to import both packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience re-export of the standard errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}
