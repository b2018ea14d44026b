package libqjs

import (
	"encoding/json"
	"fmt"
)

// errPendingPrecondition is returned by script-executing APIs that find a
// pending exception already set: step 1 of spec §4.H's protocol.
var errPendingPrecondition = fmt.Errorf("%w", ErrPendingException)

// NewError, NewTypeError, NewRangeError and NewSyntaxError construct the
// corresponding built-in Error subclass with message, without throwing it
// (spec §4.K: "construct without throwing").
func NewError(scope *HandleScope, message string) (*Value, error) {
	return newErrorOfKind(scope, "Error", message)
}

func NewTypeError(scope *HandleScope, message string) (*Value, error) {
	return newErrorOfKind(scope, "TypeError", message)
}

func NewRangeError(scope *HandleScope, message string) (*Value, error) {
	return newErrorOfKind(scope, "RangeError", message)
}

func NewSyntaxError(scope *HandleScope, message string) (*Value, error) {
	return newErrorOfKind(scope, "SyntaxError", message)
}

func newErrorOfKind(scope *HandleScope, ctor, message string) (*Value, error) {
	encoded, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encoding error message: %w", err)
	}
	return rootEval(scope.env, scope, fmt.Sprintf("new %s(%s)", ctor, encoded))
}

// Throw sets exception as the environment's pending exception (spec
// §4.K). Any script-executing call that follows sees the pending-exception
// precondition and returns ErrPendingException until the exception is
// consumed by GetAndClearLastException.
func Throw(exception *Value) error {
	env := exception.env
	env.mu.Lock()
	env.pendingException = exception
	env.mu.Unlock()
	return nil
}

// ThrowFormatted constructs a TypeError-equivalent (spec leaves the
// concrete subclass to the host; this package uses plain Error, matching
// the original's generic js_throw_error-with-printf helper) from a
// printf-style message and sets it pending, in one step.
func ThrowFormatted(scope *HandleScope, format string, args ...any) error {
	exc, err := NewError(scope, fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	return Throw(exc)
}

// HasPendingException reports whether env currently has a pending
// exception set.
func (e *Environment) HasPendingException() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingException != nil
}

// GetAndClearLastException returns env's pending exception, if any, and
// clears it. Returns (nil, nil) when nothing is pending.
func (e *Environment) GetAndClearLastException() (*Value, error) {
	e.mu.Lock()
	exc := e.pendingException
	e.pendingException = nil
	e.mu.Unlock()
	return exc, nil
}

// FatalException delivers exception directly to the uncaught-exception
// callback, bypassing the pending-exception register entirely — for hosts
// that catch an exception themselves (e.g. from a callback bridge) and
// want to report it the same way an unconsumed one at depth 0 would be
// reported (spec §4.K).
func (e *Environment) FatalException(exception *Value) {
	if e.onUncaughtException != nil {
		e.onUncaughtException(e, exception)
	}
}

// TerminateExecution requests that any script currently running on this
// environment stop at its next interrupt check, the same mechanism a
// watchdog timeout uses.
func (e *Environment) TerminateExecution() {
	e.vm.Interrupt()
}
