package libqjs

import "testing"

func TestWrapUnwrapRemoveWrap(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		obj, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}

		var finalized bool
		data := "payload"
		if err := Wrap(obj, data, func(_ *Environment, d any, _ any) {
			finalized = true
			if d.(string) != "payload" {
				t.Errorf("finalizer data = %v, want %q", d, "payload")
			}
		}, nil); err != nil {
			t.Fatalf("Wrap: %v", err)
		}

		if got := Unwrap(obj); got != "payload" {
			t.Fatalf("Unwrap = %v, want %q", got, "payload")
		}

		got, err := RemoveWrap(obj)
		if err != nil {
			t.Fatalf("RemoveWrap: %v", err)
		}
		if got != "payload" {
			t.Fatalf("RemoveWrap data = %v, want %q", got, "payload")
		}
		if finalized {
			t.Error("finalizer ran even though RemoveWrap neutralized it")
		}
		if got := Unwrap(obj); got != nil {
			t.Errorf("Unwrap after RemoveWrap = %v, want nil", got)
		}
	})
}

func TestWrap_FinalizerRunsThroughCollectionNotRemoveWrap(t *testing.T) {
	env := newTestEnv(t)

	counter := 0
	func() {
		scope := OpenHandleScope(env)
		defer scope.Close()

		obj, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}
		if err := Wrap(obj, nil, func(_ *Environment, _, _ any) {
			counter = 1
		}, nil); err != nil {
			t.Fatalf("Wrap: %v", err)
		}
		// Dropping the only reference happens on scope.Close() above; no
		// RemoveWrap call here, since the point is that collection alone
		// (not disposal bookkeeping) drives the callback.
	}()

	if counter != 0 {
		t.Fatalf("counter = %d before any GC request, want 0", counter)
	}

	env.CollectGarbage()

	if counter != 1 {
		t.Fatalf("counter = %d after CollectGarbage, want 1", counter)
	}
}

func TestTypeTag_AddAndCheck(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		obj, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}
		tag := TypeTag{Lower: 0x1111, Upper: 0x2222}

		if err := obj.AddTypeTag(tag); err != nil {
			t.Fatalf("AddTypeTag: %v", err)
		}
		if err := obj.AddTypeTag(tag); err == nil {
			t.Fatal("expected a second AddTypeTag on the same object to fail")
		}

		ok, err := obj.CheckTypeTag(tag)
		if err != nil {
			t.Fatalf("CheckTypeTag: %v", err)
		}
		if !ok {
			t.Fatal("CheckTypeTag = false for the tag that was just added")
		}

		other := TypeTag{Lower: 1, Upper: 2}
		ok, err = obj.CheckTypeTag(other)
		if err != nil {
			t.Fatalf("CheckTypeTag(other): %v", err)
		}
		if ok {
			t.Fatal("CheckTypeTag = true for a tag that was never added")
		}
	})
}

func TestAddFinalizer_RunsInReverseOrderAtTeardown(t *testing.T) {
	env := newTestEnv(t)

	var order []int
	withScope(env, func(scope *HandleScope) {
		obj, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}
		for i := 1; i <= 3; i++ {
			i := i
			if err := AddFinalizer(obj, nil, func(_ *Environment, _, _ any) {
				order = append(order, i)
			}, nil); err != nil {
				t.Fatalf("AddFinalizer %d: %v", i, err)
			}
		}
	})

	env.Destroy()
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("finalizer order = %v, want [3 2 1]", order)
	}
}

func TestExternal_RoundtripsHostData(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		type payload struct{ n int }
		v, err := NewExternal(scope, &payload{n: 5})
		if err != nil {
			t.Fatalf("NewExternal: %v", err)
		}
		if !env.isExternal(v) {
			t.Error("isExternal = false for a value created by NewExternal")
		}
		got := ExternalValue(v)
		p, ok := got.(*payload)
		if !ok || p.n != 5 {
			t.Fatalf("ExternalValue = %#v, want payload{n:5}", got)
		}
	})
}
