package libqjs

import "testing"

func TestNewFunction_CallRoundtrip(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		fn, err := NewFunction(scope, "add", nil, func(info *CallbackInfo) (*Value, error) {
			a := info.Arg(0).Int32()
			b := info.Arg(1).Int32()
			return NewInt32(info.Scope, a+b)
		})
		if err != nil {
			t.Fatalf("NewFunction: %v", err)
		}

		arg1, _ := NewInt32(scope, 2)
		arg2, _ := NewInt32(scope, 40)
		result, err := CallFunction(scope, fn, nil, []*Value{arg1, arg2})
		if err != nil {
			t.Fatalf("CallFunction: %v", err)
		}
		if got := result.Int32(); got != 42 {
			t.Fatalf("result = %d, want 42", got)
		}
	})
}

func TestNewFunction_ThrownErrorPropagates(t *testing.T) {
	env := newTestEnv(t)

	// Depth-0 (outermost) calls deliver their uncaught exception through
	// OnUncaughtException rather than leaving it for the caller to fetch
	// via GetAndClearLastException — by the time CallFunction returns,
	// withScriptExecution has already consumed and delivered it (spec
	// §4.H). A caller only needs the returned error to know it failed.
	var delivered *Value
	env.OnUncaughtException(func(_ *Environment, exception *Value) {
		delivered = exception
	})

	withScope(env, func(scope *HandleScope) {
		fn, err := NewFunction(scope, "boom", nil, func(info *CallbackInfo) (*Value, error) {
			exc, err := NewTypeError(info.Scope, "always fails")
			if err != nil {
				return nil, err
			}
			return nil, Throw(exc)
		})
		if err != nil {
			t.Fatalf("NewFunction: %v", err)
		}

		_, callErr := CallFunction(scope, fn, nil, nil)
		if callErr == nil {
			t.Fatal("expected CallFunction to report the thrown exception")
		}
	})

	if delivered == nil {
		t.Fatal("expected OnUncaughtException to receive the thrown exception")
	}
	if !delivered.IsError() {
		t.Error("delivered exception is not an Error instance")
	}
}

func TestNewFunction_DataIsPassedThrough(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		type counter struct{ n int }
		c := &counter{}

		fn, err := NewFunction(scope, "bump", c, func(info *CallbackInfo) (*Value, error) {
			holder := info.Data.(*counter)
			holder.n++
			return NewInt32(info.Scope, int32(holder.n))
		})
		if err != nil {
			t.Fatalf("NewFunction: %v", err)
		}

		for i := 1; i <= 3; i++ {
			result, err := CallFunction(scope, fn, nil, nil)
			if err != nil {
				t.Fatalf("CallFunction iteration %d: %v", i, err)
			}
			if int(result.Int32()) != i {
				t.Fatalf("iteration %d: result = %d, want %d", i, result.Int32(), i)
			}
		}
		if c.n != 3 {
			t.Fatalf("counter.n = %d, want 3", c.n)
		}
	})
}
