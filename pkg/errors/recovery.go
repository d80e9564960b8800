// Package errors provides error handling utilities for pvtrain.
//
// This file contains panic recovery utilities. Training units run behind these
// helpers so that a panicking learner becomes an ordinary error for its own
// (generator, strategy) unit instead of taking down the whole run.

package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError represents an error that was created from a recovered panic.
// It includes the original panic value and stack trace information.
type PanicError struct {
	// PanicValue is the original value passed to panic()
	PanicValue interface{}

	// StackTrace contains the stack trace at the time of panic
	StackTrace string

	// Operation identifies where the panic was recovered
	Operation string
}

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.PanicValue.(error); ok {
		return err
	}
	return nil
}

// String provides detailed information including stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s",
		e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError creates a new PanicError with the given operation context and panic value.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover is meant to be deferred with a pointer to the caller's named error
// result. A recovered panic becomes a *PanicError; if the function had already
// set an error, the panic is reported alongside it.
//
// Usage:
//
//	func (f *RandomForestRegressor) Fit(X, y mat.Matrix) (err error) {
//	    defer Recover(&err, "RandomForestRegressor.Fit")
//	    ...
//	}
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		panicErr := NewPanicError(operation, r)
		if *err != nil {
			*err = fmt.Errorf("panic in %s: %v (original error: %w)", operation, r, *err)
			return
		}
		*err = panicErr
	}
}

// SafeExecute executes fn and converts any panic into an error.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}

// SafeCall is SafeExecute for functions that also produce a value.
// On panic the zero value is returned together with a *PanicError.
func SafeCall[T any](operation string, fn func() (T, error)) (out T, err error) {
	defer Recover(&err, operation)
	return fn()
}
