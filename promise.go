package libqjs

import (
	"fmt"
	"sync"
)

// PromiseState mirrors the engine's three promise states.
type PromiseState int

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

// Deferred is the (resolve, reject) pair produced alongside a promise by
// CreatePromise.
type Deferred struct {
	env      *Environment
	promise  *Value
	resolver *Value // object pointer rooted in env's bridge: holds .resolve and .reject function values
}

// CreatePromise yields a new pending promise plus a Deferred usable to
// settle it (spec §4.F).
func CreatePromise(scope *HandleScope) (*Deferred, *Value, error) {
	env := scope.env
	holder, err := rootEval(env, scope, `(function(){
		var resolve, reject;
		var promise = new Promise(function(res, rej) { resolve = res; reject = rej; });
		return { promise: promise, resolve: resolve, reject: reject };
	})()`)
	if err != nil {
		return nil, nil, err
	}

	promise, err := GetNamedProperty(scope, holder, "promise")
	if err != nil {
		return nil, nil, err
	}

	return &Deferred{env: env, promise: promise, resolver: holder}, promise, nil
}

// Resolve settles d's promise with value. If the reentrancy depth is 0
// afterward, pending microtasks are drained (spec §4.F).
func (d *Deferred) Resolve(value *Value) error {
	return d.settle("resolve", value)
}

// Reject settles d's promise with reason as a rejection.
func (d *Deferred) Reject(reason *Value) error {
	return d.settle("reject", reason)
}

func (d *Deferred) settle(which string, arg *Value) error {
	env := d.env
	fn, err := GetNamedProperty(d.env.globalScope(), d.resolver, which)
	if err != nil {
		return err
	}
	if _, err := CallFunction(d.env.globalScope(), fn, nil, []*Value{arg}); err != nil {
		return err
	}
	return env.checkpointMicrotasks()
}

// GetPromiseState reports v's current state. v must satisfy IsPromise.
//
// Promise internal state is not introspectable from pure JS, and the
// high-level engine wrapper exposes no direct hook for it either, so
// this package tracks state itself, keyed by the JS-side serial number
// installRejectionTracking's track() function stamps onto every promise
// through registryGlobal.promiseSerials — a Go *Value pointer is not a
// stable identity for "the same JS promise" (two bindAndEval calls
// against the same underlying object yield two distinct *Value
// wrappers), so state lives in script state rather than a Go map keyed
// by pointer.
func GetPromiseState(v *Value) PromiseState {
	s, _, err := v.env.promiseResultSlot(v)
	if err != nil {
		return PromisePending
	}
	switch s {
	case "fulfilled":
		return PromiseFulfilled
	case "rejected":
		return PromiseRejected
	default:
		return PromisePending
	}
}

// GetPromiseResult returns the fulfillment value or rejection reason.
// Calling it on a still-pending promise is a caller error (spec §4.F:
// "requires non-pending").
func GetPromiseResult(scope *HandleScope, v *Value) (*Value, error) {
	env := v.env
	state, slot, err := env.promiseResultSlot(v)
	if err != nil {
		return nil, err
	}
	if state == "" || state == "pending" {
		panic("libqjs: GetPromiseResult called on a pending promise")
	}
	return rootEval(env, scope, fmt.Sprintf("globalThis[%q].value", slot))
}

// promiseResultSlot returns v's tracked state ("pending"/"fulfilled"/
// "rejected") and the name of the global holding {state, value}, or an
// error if v was never observed by the rejection-tracking bridge (e.g.
// a promise constructed before installRejectionTracking ran).
func (e *Environment) promiseResultSlot(v *Value) (state string, slot string, err error) {
	idSlot, cleanup, err := e.vm.Bind(v.inner())
	if err != nil {
		return "", "", err
	}
	defer cleanup()

	serial, err := e.vm.EvalInt(fmt.Sprintf(
		"%s.promiseSerials.has(globalThis[%q]) ? %s.promiseSerials.get(globalThis[%q]) : 0",
		registryGlobal, idSlot, registryGlobal, idSlot))
	if err != nil || serial == 0 {
		return "", "", fmt.Errorf("libqjs: value is not a tracked promise")
	}

	resultSlot := fmt.Sprintf("__libqjs_res_%d__", serial)
	st, err := e.vm.EvalString(fmt.Sprintf("globalThis[%q].state", resultSlot))
	if err != nil {
		return "", "", err
	}
	return st, resultSlot, nil
}

// --- unhandled rejection tracking (spec §4.F) ---

type rejectionNode struct {
	promise *Value
	reason  *Value
}

// rejectionList is keyed by the JS-side promise serial (see
// promiseResultSlot), not by Go *Value identity: noteRejection and
// noteHandled are invoked from independent native callbacks that each
// mint their own *Value wrapper around the same underlying JS promise,
// so pointer equality would never match.
type rejectionList struct {
	mu      sync.Mutex
	nodes   map[int]*rejectionNode
	handled map[int]bool
}

// noteRejection records a node when the engine reports a new unhandled
// rejection, unless a handler was already attached for this promise
// (noteHandled ran first — the common case of chaining .then before a
// promise ever settles).
func (l *rejectionList) noteRejection(serial int, promise, reason *Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handled[serial] {
		delete(l.handled, serial)
		return
	}
	if l.nodes == nil {
		l.nodes = make(map[int]*rejectionNode)
	}
	l.nodes[serial] = &rejectionNode{promise: promise, reason: reason}
}

// noteHandled removes the node for serial if the rejection already
// fired, or records the handled flag ahead of time so a rejection
// reported afterward is suppressed.
func (l *rejectionList) noteHandled(serial int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.nodes[serial]; ok {
		delete(l.nodes, serial)
		return
	}
	if l.handled == nil {
		l.handled = make(map[int]bool)
	}
	l.handled[serial] = true
}

// drainAndDeliver flushes every still-present node to the
// unhandled-rejection callback, once each, then clears the list. Called
// after microtask draining completes (spec §4.H: "Then pending-rejection
// notifications are flushed").
func (e *Environment) drainAndDeliverRejections() {
	e.rejections.mu.Lock()
	nodes := e.rejections.nodes
	e.rejections.nodes = nil
	e.rejections.mu.Unlock()

	if e.onUnhandledRejection == nil {
		return
	}
	for _, n := range nodes {
		e.onUnhandledRejection(e, n.promise, n.reason)
	}
}

// installRejectionTracking wires a script-level promise-rejection
// tracker into the environment, standing in for the original's
// JS_SetHostPromiseRejectionTracker (the high-level engine wrapper
// exposes no such hook directly). Every promise constructed via `new
// Promise(...)` or produced by `Promise.reject`/`Promise.prototype.catch`
// chains is observed through an instrumented `.then`; a rejection with
// no other handler attached reports itself through a native callback,
// correlated to a rooted Go Value via a hidden global slot (the same
// bind-a-slot-then-fetch idiom used throughout this package) rather than
// trying to pass a *quickjs.Value across the RegisterFunc boundary
// directly.
func (e *Environment) installRejectionTracking() error {
	inner := e.vm.Inner()

	reportRejected := func(serial int) {
		slot := fmt.Sprintf("__libqjs_rej_%d__", serial)
		promiseVal, err := e.vm.EvalValue(fmt.Sprintf("globalThis[%q].promise", slot))
		if err != nil {
			return
		}
		reasonVal, err := e.vm.EvalValue(fmt.Sprintf("globalThis[%q].reason", slot))
		if err != nil {
			reasonVal = promiseVal
		}
		scope := e.globalScope()
		p := newValue(e, scope, promiseVal)
		r := newValue(e, scope, reasonVal)
		e.rejections.noteRejection(serial, p, r)
	}
	reportHandled := func(serial int) {
		e.rejections.noteHandled(serial)
	}

	if err := inner.RegisterFunc("__libqjs_reject_cb__", reportRejected, false); err != nil {
		return fmt.Errorf("registering rejection callback: %w", err)
	}
	if err := inner.RegisterFunc("__libqjs_handle_cb__", reportHandled, false); err != nil {
		return fmt.Errorf("registering handled callback: %w", err)
	}

	script := fmt.Sprintf(`(function(){
		var REG = %s;
		if (!REG.promiseSerials) REG.promiseSerials = new WeakMap();
		var NativePromise = globalThis.Promise;
		var nextSerial = 1;
		var origThen = NativePromise.prototype.then;
		function track(p) {
			if (REG.promiseSerials.has(p)) return REG.promiseSerials.get(p);
			var id = nextSerial++;
			REG.promiseSerials.set(p, id);
			var resSlot = '__libqjs_res_' + id + '__';
			globalThis[resSlot] = { state: 'pending', value: undefined };
			globalThis['__libqjs_rej_' + id + '__'] = { promise: p };
			// Use origThen, not p.then: going through the patched
			// prototype.then would make this bookkeeping handler itself
			// count as the "someone attached a rejection handler" signal,
			// marking every rejection handled before user code ever runs.
			origThen.call(p, function(value){
				globalThis[resSlot].state = 'fulfilled';
				globalThis[resSlot].value = value;
			}, function(reason){
				globalThis[resSlot].state = 'rejected';
				globalThis[resSlot].value = reason;
				globalThis['__libqjs_rej_' + id + '__'].reason = reason;
				__libqjs_reject_cb__(id);
			});
			return id;
		}
		NativePromise.prototype.then = function(onFulfilled, onRejected) {
			if (onRejected) {
				var id = REG.promiseSerials.get(this);
				if (id) __libqjs_handle_cb__(id);
			}
			return origThen.apply(this, arguments);
		};
		var OrigCtor = NativePromise;
		globalThis.Promise = function Promise(executor) {
			var p = new OrigCtor(executor);
			track(p);
			return p;
		};
		globalThis.Promise.prototype = OrigCtor.prototype;
		Object.setPrototypeOf(globalThis.Promise, OrigCtor);
		globalThis.Promise.resolve = function(value) {
			var p = OrigCtor.resolve(value);
			track(p);
			return p;
		};
		globalThis.Promise.reject = function(reason) {
			var p = OrigCtor.reject(reason);
			track(p);
			return p;
		};
		globalThis.Promise.all = OrigCtor.all;
		globalThis.Promise.race = OrigCtor.race;
		globalThis.Promise.allSettled = OrigCtor.allSettled;
		globalThis.Promise.any = OrigCtor.any;
	})()`, registryGlobal)
	return e.vm.EvalDiscard(script)
}
