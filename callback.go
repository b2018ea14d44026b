package libqjs

import (
	"fmt"
	"sync/atomic"

	"modernc.org/quickjs"
)

var callSeq uint64

// CallbackInfo is the per-call record a native function's Go callback
// receives, the Go-side equivalent of get_callback_info's argc/argv/
// receiver/new_target/data bundle (spec §4.D).
type CallbackInfo struct {
	Env       *Environment
	Scope     *HandleScope
	This      *Value
	Args      []*Value
	NewTarget *Value // non-nil when invoked via `new`
	Data      any    // the data value NewFunction was registered with
}

// Arg returns the i'th argument, or a rooted undefined if i is out of
// range — matching get_callback_info's "pad any excess with rooted
// undefined" contract instead of making every callback bounds-check.
func (c *CallbackInfo) Arg(i int) *Value {
	if i < 0 || i >= len(c.Args) {
		v, err := NewUndefined(c.Scope)
		if err != nil {
			return nil
		}
		return v
	}
	return c.Args[i]
}

// NativeFunc is a host-implemented function backing an engine-visible
// function value created by NewFunction.
type NativeFunc func(info *CallbackInfo) (*Value, error)

// NewFunction creates a function value backed by fn. Calling it from
// script follows spec §4.D's invocation flow: a fresh handle scope is
// opened, a CallbackInfo is built from the call's receiver/arguments/
// new.target, fn runs, and either its return value or a thrown exception
// propagates back to the engine.
//
// The underlying engine wrapper only exposes RegisterFunc against named
// globals with concrete Go-typed parameters (see
// internal/engine/bridge.go's doc comment), not an arbitrary-arity,
// arbitrary-type native-function ABI — so the JS-visible wrapper this
// installs stashes `this`/arguments/new.target at a per-call hidden
// global slot before invoking a trivial `(callID string) error` Go shim,
// the same bind-a-slot idiom the rest of this package is built on.
func NewFunction(scope *HandleScope, name string, data any, fn NativeFunc) (*Value, error) {
	env := scope.env
	if err := env.ensureRegistry(); err != nil {
		return nil, err
	}

	rawName := fmt.Sprintf("__libqjs_fn_raw_%d__", atomic.AddUint64(&callSeq, 1))

	shim := func(callID string) error {
		return env.dispatchCallback(callID, data, fn)
	}

	inner := env.vm.Inner()
	if err := inner.RegisterFunc(rawName, shim, false); err != nil {
		return nil, fmt.Errorf("registering native function %q: %w", name, err)
	}

	wrapScript := fmt.Sprintf(`(function(){
		var raw = globalThis[%q];
		var nextID = 1;
		var fn = function %s() {
			var id = '__libqjs_call_' + (nextID++) + '__';
			globalThis[id + '_this'] = this;
			globalThis[id + '_args'] = Array.prototype.slice.call(arguments);
			globalThis[id + '_nt'] = new.target;
			raw(id);
			var threw = globalThis.hasOwnProperty(id + '_exc');
			var exc, res;
			if (threw) exc = globalThis[id + '_exc'];
			else res = globalThis[id + '_result'];
			delete globalThis[id + '_this'];
			delete globalThis[id + '_args'];
			delete globalThis[id + '_nt'];
			delete globalThis[id + '_exc'];
			delete globalThis[id + '_result'];
			if (threw) throw exc;
			return res;
		};
		delete globalThis[%q];
		return fn;
	})()`, rawName, safeIdentifier(name), rawName)

	return rootEval(env, scope, wrapScript)
}

// safeIdentifier renders name usable as a function-expression identifier
// (purely cosmetic, for stack traces), falling back to an anonymous name
// when it isn't a valid one.
func safeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	for i, r := range name {
		if r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return ""
	}
	return name
}

// dispatchCallback runs fn against the per-call state stashed at
// globalThis[callID + '_*'], in a fresh handle scope, and stores the
// result (or thrown exception) back for the JS wrapper to pick up.
func (e *Environment) dispatchCallback(callID string, data any, fn NativeFunc) error {
	scope := OpenHandleScope(e)
	defer scope.Close()

	thisVal, err := rootEval(e, scope, fmt.Sprintf("globalThis[%q]", callID+"_this"))
	if err != nil {
		return err
	}
	argsHolder, err := rootEval(e, scope, fmt.Sprintf("globalThis[%q]", callID+"_args"))
	if err != nil {
		return err
	}
	ntVal, err := rootEval(e, scope, fmt.Sprintf("globalThis[%q]", callID+"_nt"))
	if err != nil {
		return err
	}

	argc, err := e.vm.EvalInt(fmt.Sprintf("globalThis[%q].length", callID+"_args"))
	if err != nil {
		return err
	}
	args := make([]*Value, 0, argc)
	for i := 0; i < argc; i++ {
		a, err := GetElement(scope, argsHolder, uint32(i))
		if err != nil {
			return err
		}
		args = append(args, a)
	}

	var newTarget *Value
	if !ntVal.IsUndefined() {
		newTarget = ntVal
	}

	info := &CallbackInfo{Env: e, Scope: scope, This: thisVal, Args: args, NewTarget: newTarget, Data: data}

	result, callErr := fn(info)

	if e.HasPendingException() {
		exc, _ := e.GetAndClearLastException()
		return bindAndEvalDiscard(e, exc, func(slot string) string {
			return fmt.Sprintf("globalThis[%q] = globalThis[%q];", callID+"_exc", slot)
		})
	}
	if callErr != nil {
		excVal, nerr := NewError(scope, callErr.Error())
		if nerr != nil {
			return nerr
		}
		return bindAndEvalDiscard(e, excVal, func(slot string) string {
			return fmt.Sprintf("globalThis[%q] = globalThis[%q];", callID+"_exc", slot)
		})
	}

	if result == nil {
		result, err = NewUndefined(scope)
		if err != nil {
			return err
		}
	}
	return bindAndEvalDiscard(e, result, func(slot string) string {
		return fmt.Sprintf("globalThis[%q] = globalThis[%q];", callID+"_result", slot)
	})
}

// CallFunction invokes fn as a normal call (receiver may be nil, meaning
// undefined) with args, following the full reentrancy protocol (spec
// §4.D/§4.H).
func CallFunction(scope *HandleScope, fn *Value, receiver *Value, args []*Value) (*Value, error) {
	env := scope.env
	if receiver == nil {
		var err error
		receiver, err = NewUndefined(scope)
		if err != nil {
			return nil, err
		}
	}
	return env.withScriptExecution(func() (*Value, error, bool) {
		return callOrConstruct(env, scope, fn, receiver, args, false)
	})
}

// NewInstance invokes ctor as a constructor (`new ctor(...args)`).
func NewInstance(scope *HandleScope, ctor *Value, args []*Value) (*Value, error) {
	env := scope.env
	return env.withScriptExecution(func() (*Value, error, bool) {
		return callOrConstruct(env, scope, ctor, nil, args, true)
	})
}

func callOrConstruct(env *Environment, scope *HandleScope, fn *Value, receiver *Value, args []*Value, construct bool) (*Value, error, bool) {
	fnSlot, fnCleanup, err := env.vm.Bind(fn.inner())
	if err != nil {
		return nil, err, false
	}
	defer fnCleanup()

	innerArgs := make([]*quickjs.Value, len(args))
	for i, a := range args {
		innerArgs[i] = a.inner()
	}
	argNames, argCleanup, err := env.vm.BindMany(innerArgs)
	if err != nil {
		return nil, err, false
	}
	defer argCleanup()

	argList := ""
	for i, n := range argNames {
		if i > 0 {
			argList += ", "
		}
		argList += fmt.Sprintf("globalThis[%q]", n)
	}

	var script string
	if construct {
		script = fmt.Sprintf("new globalThis[%q](%s)", fnSlot, argList)
	} else {
		recvSlot, recvCleanup, err := env.vm.Bind(receiver.inner())
		if err != nil {
			return nil, err, false
		}
		defer recvCleanup()
		script = fmt.Sprintf("globalThis[%q].apply(globalThis[%q], [%s])", fnSlot, recvSlot, argList)
	}

	return evalCatching(env, scope, script)
}

