package libqjs

import (
	"fmt"
	"sync/atomic"
)

var evalSlotSeq uint64

// withScriptExecution implements the protocol spec §4.H requires of every
// API that can invoke script code: a pending-exception precondition check,
// a depth increment/decrement bracketing the call, a microtask drain when
// the call returns to depth 0, and uncaught-exception delivery for a
// failure observed at depth 0.
//
// fn runs the actual engine operation and reports whether it failed due to
// a script-level exception (as opposed to a host/bridge error, which is
// returned as-is without consulting the uncaught-exception callback).
func (e *Environment) withScriptExecution(fn func() (*Value, error, bool)) (*Value, error) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil, fmt.Errorf("libqjs: environment is destroyed")
	}
	if e.pendingException != nil {
		e.mu.Unlock()
		return nil, errPendingPrecondition
	}
	e.depth++
	depth := e.depth
	e.mu.Unlock()

	result, err, scriptErr := fn()

	if depth == 1 {
		e.checkpointMicrotasks()
	}

	e.mu.Lock()
	e.depth--
	atOuter := e.depth == 0
	e.mu.Unlock()

	if err != nil && scriptErr && atOuter {
		if exc, getErr := e.GetAndClearLastException(); getErr == nil && exc != nil {
			if e.onUncaughtException != nil {
				e.onUncaughtException(e, exc)
			}
		}
	}

	return result, err
}

// checkpointMicrotasks drains the engine's job queue and then flushes any
// unhandled-rejection notifications accumulated while draining (spec §4.H,
// final two steps of the protocol). Called whenever reentrancy depth
// returns to zero, and directly by Deferred.settle since resolving or
// rejecting a promise from host code is itself a microtask-queueing event
// that is not otherwise wrapped in withScriptExecution.
func (e *Environment) checkpointMicrotasks() error {
	e.vm.RunMicrotasks()
	e.drainAndDeliverRejections()
	return nil
}

// Depth reports the current reentrancy depth (0 when no script-executing
// API call is in progress on this environment).
func (e *Environment) Depth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depth
}

// RunScript evaluates js as a classic (non-module) script against scope,
// following the full reentrancy protocol: it is the general-purpose
// script-executing entry point other operations (CallFunction, dynamic
// import servicing, etc.) build on.
func RunScript(scope *HandleScope, js string) (*Value, error) {
	env := scope.env
	return env.withScriptExecution(func() (*Value, error, bool) {
		return evalCatching(env, scope, js)
	})
}

// evalCatching evaluates js wrapped in a try/catch so a thrown value is
// recoverable as a rooted *Value instead of only as the opaque Go error
// modernc.org/quickjs's own EvalValue returns. A caught exception is
// stashed at a uniquely-named global slot, retrieved as a fresh rooted
// value, and installed as env's pending exception — mirroring the
// engine's own pending-exception register, which this wrapper has no
// direct read access to.
func evalCatching(env *Environment, scope *HandleScope, js string) (*Value, error, bool) {
	slot := fmt.Sprintf("__libqjs_exc_%d__", atomic.AddUint64(&evalSlotSeq, 1))
	wrapped := fmt.Sprintf(`(function(){
		try {
			return { ok: true, value: (function(){ return (%s); })() };
		} catch (e) {
			globalThis[%q] = e;
			return { ok: false };
		}
	})()`, js, slot)

	holder, err := env.vm.EvalValue(wrapped)
	if err != nil {
		return nil, err, true
	}
	holderVal := newValue(env, scope, holder)

	okVal, err := GetNamedProperty(scope, holderVal, "ok")
	if err != nil {
		return nil, err, false
	}
	if okVal.Bool() {
		return GetNamedProperty(scope, holderVal, "value")
	}

	excRaw, err := env.vm.EvalValue(fmt.Sprintf("globalThis[%q]", slot))
	_ = env.vm.EvalDiscard(fmt.Sprintf("delete globalThis[%q];", slot))
	if err != nil {
		return nil, err, true
	}
	exc := newValue(env, scope, excRaw)
	env.mu.Lock()
	env.pendingException = exc
	env.mu.Unlock()
	return nil, fmt.Errorf("%w", ErrPendingException), true
}
