package libqjs

import "testing"

func TestCreatePromise_ResolveReflectsInState(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		deferred, promise, err := CreatePromise(scope)
		if err != nil {
			t.Fatalf("CreatePromise: %v", err)
		}
		if got := GetPromiseState(promise); got != PromisePending {
			t.Fatalf("state before settle = %v, want Pending", got)
		}

		value, err := NewInt32(scope, 7)
		if err != nil {
			t.Fatalf("NewInt32: %v", err)
		}
		if err := deferred.Resolve(value); err != nil {
			t.Fatalf("Resolve: %v", err)
		}

		if got := GetPromiseState(promise); got != PromiseFulfilled {
			t.Fatalf("state after resolve = %v, want Fulfilled", got)
		}
		result, err := GetPromiseResult(scope, promise)
		if err != nil {
			t.Fatalf("GetPromiseResult: %v", err)
		}
		if got := result.Int32(); got != 7 {
			t.Errorf("result = %d, want 7", got)
		}
	})
}

func TestCreatePromise_RejectReflectsInState(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		deferred, promise, err := CreatePromise(scope)
		if err != nil {
			t.Fatalf("CreatePromise: %v", err)
		}

		reason, err := NewStringUTF8(scope, "nope")
		if err != nil {
			t.Fatalf("NewStringUTF8: %v", err)
		}
		// Chain a handler before rejecting so the rejection is observed as
		// handled and never reaches the unhandled-rejection callback.
		handled, err := GetNamedProperty(scope, promise, "then")
		if err != nil {
			t.Fatalf("GetNamedProperty(then): %v", err)
		}
		noop, err := NewFunction(scope, "", nil, func(info *CallbackInfo) (*Value, error) {
			return NewUndefined(info.Scope)
		})
		if err != nil {
			t.Fatalf("NewFunction: %v", err)
		}
		undef, err := NewUndefined(scope)
		if err != nil {
			t.Fatalf("NewUndefined: %v", err)
		}
		if _, err := CallFunction(scope, handled, promise, []*Value{undef, noop}); err != nil {
			t.Fatalf("chaining then: %v", err)
		}

		if err := deferred.Reject(reason); err != nil {
			t.Fatalf("Reject: %v", err)
		}

		if got := GetPromiseState(promise); got != PromiseRejected {
			t.Fatalf("state after reject = %v, want Rejected", got)
		}
		result, err := GetPromiseResult(scope, promise)
		if err != nil {
			t.Fatalf("GetPromiseResult: %v", err)
		}
		got, err := result.StringUTF8()
		if err != nil {
			t.Fatalf("StringUTF8: %v", err)
		}
		if got != "nope" {
			t.Errorf("result = %q, want %q", got, "nope")
		}
	})
}

func TestUnhandledRejection_DeliveredOnCheckpoint(t *testing.T) {
	env := newTestEnv(t)

	type report struct {
		reason *Value
	}
	var got *report
	env.OnUnhandledRejection(func(_ *Environment, _ *Value, reason *Value) {
		got = &report{reason: reason}
	})

	withScope(env, func(scope *HandleScope) {
		deferred, _, err := CreatePromise(scope)
		if err != nil {
			t.Fatalf("CreatePromise: %v", err)
		}
		reason, err := NewStringUTF8(scope, "uncaught")
		if err != nil {
			t.Fatalf("NewStringUTF8: %v", err)
		}
		if err := deferred.Reject(reason); err != nil {
			t.Fatalf("Reject: %v", err)
		}
	})

	if got == nil {
		t.Fatal("expected OnUnhandledRejection to fire for a never-handled rejection")
	}
	msg, err := got.reason.StringUTF8()
	if err != nil {
		t.Fatalf("StringUTF8: %v", err)
	}
	if msg != "uncaught" {
		t.Errorf("reason = %q, want %q", msg, "uncaught")
	}
}

func TestGetPromiseResult_PendingPanics(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		_, promise, err := CreatePromise(scope)
		if err != nil {
			t.Fatalf("CreatePromise: %v", err)
		}
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic reading the result of a pending promise")
			}
		}()
		GetPromiseResult(scope, promise)
	})
}
