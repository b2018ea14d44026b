package libqjs

import (
	"fmt"
	"sync"
)

// Reference is a host-owned handle to an engine value that can outlive
// any handle scope (spec §4.B). Its refcount governs whether the
// underlying engine reference is held strongly or only observed weakly:
// a count of zero installs a weak observer (the target may be collected;
// GetReferenceValue then returns nil) while a positive count keeps it
// alive.
type Reference struct {
	env   *Environment
	mu    sync.Mutex
	id    int
	count int

	// strong holds the rooted value while count > 0. nil while weak.
	strong *Value

	// finalized is set once the registry's FinalizationRegistry reports
	// that the target was collected while this reference was weak.
	finalized bool

	objectLike bool
}

// CreateReference duplicates v's engine reference into a new Reference
// with the given initial count. If count is zero and v is object-like,
// the weak observer is installed immediately instead of holding a strong
// reference (spec §4.B invariant: "a reference's weak observer is
// installed iff count==0 && !finalized && target is object-like").
func CreateReference(v *Value, count int) (*Reference, error) {
	env := v.env
	if err := env.ensureRegistry(); err != nil {
		return nil, err
	}

	// Duplicate the engine reference: re-evaluating globalThis[slot]
	// yields a fresh quickjs.Value handle aliasing the same JS object (or
	// the same primitive), since modernc.org/quickjs exposes no direct
	// Dup primitive (the same constraint HandleScope.Escape documents).
	dup, err := bindAndEval(env, env.globalScope(), v, func(slot string) string {
		return fmt.Sprintf("globalThis[%q]", slot)
	})
	if err != nil {
		return nil, err
	}

	env.mu.Lock()
	env.nextRefID++
	id := env.nextRefID
	env.mu.Unlock()

	ref := &Reference{env: env, id: id, objectLike: dup.IsObject() || dup.IsFunction()}

	env.mu.Lock()
	if env.refsByID == nil {
		env.refsByID = make(map[int]*Reference)
	}
	env.refsByID[id] = ref
	env.mu.Unlock()
	env.mu.Lock()
	if env.refs == nil {
		env.refs = make(map[*Reference]struct{})
	}
	env.refs[ref] = struct{}{}
	env.mu.Unlock()

	if count == 0 && ref.objectLike {
		if err := ref.installWeakObserver(dup); err != nil {
			return nil, err
		}
	} else {
		ref.strong = dup
		ref.count = count
	}

	return ref, nil
}

// Ref increments count; the 0->1 transition fetches the still-live target
// through the weak observer, roots it strongly, and removes the observer.
func (r *Reference) Ref() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 && r.objectLike && !r.finalized {
		if err := r.promoteToStrongLocked(); err != nil {
			return r.count, err
		}
	}
	r.count++
	return r.count, nil
}

// Unref decrements count; the 1->0 transition releases the strong
// reference and re-installs the weak observer (object-like targets only).
func (r *Reference) Unref() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0, fmt.Errorf("libqjs: Unref called with count already zero")
	}
	r.count--
	if r.count == 0 && r.objectLike && !r.finalized {
		if err := r.demoteToWeakLocked(); err != nil {
			return r.count, err
		}
	}
	return r.count, nil
}

// GetReferenceValue returns a fresh wrapper duplicating the current
// value, rooted in scope, or nil if the target has been finalized.
func (r *Reference) GetReferenceValue(scope *HandleScope) (*Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return nil, nil
	}
	if r.strong != nil {
		return bindAndEval(r.env, scope, r.strong, func(slot string) string {
			return fmt.Sprintf("globalThis[%q]", slot)
		})
	}
	// Weak: fetch through the registry's WeakRef slot, if still alive.
	slot := r.weakSlotName()
	n, err := r.env.vm.EvalInt(fmt.Sprintf("globalThis[%q] ? 1 : 0", slot))
	if err != nil || n == 0 {
		return nil, err
	}
	return rootEval(r.env, scope, fmt.Sprintf("globalThis[%q].deref()", slot))
}

// DeleteReference removes any weak observer still installed and releases
// the strong reference if held. The Reference must not be used again.
func (r *Reference) DeleteReference() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	env := r.env
	if r.strong != nil {
		r.strong.release()
		r.strong = nil
	}
	if !r.finalized && r.objectLike {
		if err := env.vm.EvalDiscard(fmt.Sprintf(
			"%s.finalizationRegistry.unregister(%d); delete globalThis[%q];",
			registryGlobal, r.id, r.weakSlotName())); err != nil {
			return err
		}
	}

	env.mu.Lock()
	delete(env.refsByID, r.id)
	delete(env.refs, r)
	env.mu.Unlock()
	return nil
}

func (r *Reference) weakSlotName() string {
	return fmt.Sprintf("__libqjs_weakref_%d__", r.id)
}

func (r *Reference) installWeakObserver(v *Value) error {
	env := r.env
	if err := bindAndEvalDiscard(env, v, func(slot string) string {
		return fmt.Sprintf(
			"globalThis[%q] = new WeakRef(globalThis[%q]); %s.finalizationRegistry.register(globalThis[%q], %d, %d);",
			r.weakSlotName(), slot, registryGlobal, slot, r.id, r.id)
	}); err != nil {
		return err
	}
	v.release()
	return nil
}

func (r *Reference) promoteToStrongLocked() error {
	env := r.env
	slot := r.weakSlotName()
	dup, err := rootEval(env, env.globalScope(), fmt.Sprintf("globalThis[%q].deref()", slot))
	if err != nil {
		return err
	}
	if err := env.vm.EvalDiscard(fmt.Sprintf(
		"%s.finalizationRegistry.unregister(%d); delete globalThis[%q];", registryGlobal, r.id, slot)); err != nil {
		return err
	}
	r.strong = dup
	return nil
}

func (r *Reference) demoteToWeakLocked() error {
	if err := r.installWeakObserver(r.strong); err != nil {
		return err
	}
	r.strong = nil
	return nil
}

// markReferenceFinalized is invoked by the registry's FinalizationRegistry
// callback (through the native __libqjs_ref_finalized__ function) when
// the engine has collected a weakly-observed reference's target.
func (e *Environment) markReferenceFinalized(refID int) {
	e.mu.Lock()
	ref, ok := e.refsByID[refID]
	e.mu.Unlock()
	if !ok {
		return
	}
	ref.mu.Lock()
	ref.finalized = true
	ref.mu.Unlock()
}
