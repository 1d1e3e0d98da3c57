package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dispatch package.
var (
	// ErrRequestCancelled rejects a request that was superseded: its
	// cancellation signal fired, or its document changed since enqueue.
	ErrRequestCancelled = errors.New("request got cancelled")

	// ErrLoopStopped is returned by Loop.Run when called on a stopped loop.
	ErrLoopStopped = errors.New("loop stopped")
)

// ParamsError reports parameters that could not be decoded for a handler.
type ParamsError struct {
	Method string
	Err    error
}

// Error implements the error interface.
func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Method, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParamsError) Unwrap() error {
	return e.Err
}

// PanicError reports a handler that panicked.
type PanicError struct {
	Method string
	Value  any
	Stack  []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.Method, e.Value)
}
