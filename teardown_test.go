package libqjs

import "testing"

func TestTeardownImmediate_RunsInReverseRegistrationOrder(t *testing.T) {
	env := newTestEnv(t)

	var order []int
	env.AddTeardownImmediate(func(_ *Environment, data any) { order = append(order, data.(int)) }, 1)
	env.AddTeardownImmediate(func(_ *Environment, data any) { order = append(order, data.(int)) }, 2)
	env.AddTeardownImmediate(func(_ *Environment, data any) { order = append(order, data.(int)) }, 3)

	env.Destroy()

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("teardown order = %v, want [3 2 1]", order)
	}
}

func TestRemoveTeardownImmediate_CancelsRegistration(t *testing.T) {
	env := newTestEnv(t)

	ran := false
	env.AddTeardownImmediate(func(_ *Environment, _ any) { ran = true }, "cancel-me")
	env.RemoveTeardownImmediate("cancel-me")

	env.Destroy()
	if ran {
		t.Fatal("removed teardown task still ran at Destroy")
	}
}

func TestTeardownDeferred_BlocksAndUnblocksDestroy(t *testing.T) {
	// This test manages the platform/environment lifecycle itself instead
	// of newTestEnv's t.Cleanup: Destroy() does not complete synchronously
	// while a deferred task is outstanding, so the platform's env count
	// would still be nonzero if we let the shared helper tear it down.
	platform := NewPlatform(PlatformOptions{})
	env, err := NewEnvironment(platform, EnvOptions{})
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}

	var handle *DeferredTeardownHandle
	var received *DeferredTeardownHandle
	handle = env.AddTeardownDeferred(func(h *DeferredTeardownHandle, data any) {
		received = h
		if data != "payload" {
			t.Errorf("deferred task data = %v, want %q", data, "payload")
		}
	}, "payload")

	done := false
	env.AddTeardownImmediate(func(_ *Environment, _ any) { done = true }, nil)

	env.Destroy()
	if !done {
		t.Fatal("immediate teardown task did not run before Destroy returned")
	}
	if received == nil {
		t.Fatal("deferred teardown callback never invoked")
	}

	env.mu.Lock()
	destroyed := env.destroyed
	env.mu.Unlock()
	if destroyed {
		t.Fatal("environment finished destroying before the deferred task completed")
	}

	env.FinishDeferredTeardown(received)
	_ = handle

	env.mu.Lock()
	destroyed = env.destroyed
	env.mu.Unlock()
	if !destroyed {
		t.Fatal("environment did not finish destroying once the deferred task completed")
	}

	platform.Destroy()
}
