package libqjs

import (
	"fmt"
	"sync"
)

// registryName is the single hidden global installed lazily on an
// environment the first time any finalizer/tag/wrap/proxy bookkeeping is
// needed. The original attaches this state as hidden *properties* on
// each object directly; this package centralizes the bookkeeping in one
// environment-scoped object instead, using WeakMaps so entries do not
// keep their keys alive — equivalent in effect (nothing observable from
// script, objects are still collectible), simpler to wire through the
// eval-bridge this package is built on.
const registryGlobal = "__libqjs_registry__"

// ensureRegistry installs, once per environment, an object holding the
// WeakMaps/WeakSets this package's finalizer/tag/proxy/external tracking
// needs:
//   - typeTags: WeakMap<object, [lower, upper]>
//   - externals: WeakSet<object>   (objects typeof reports as "external")
//   - proxies: WeakSet<object>     (objects created via NewProxy)
//   - wraps: WeakMap<object, id>   (single wrap/unwrap slot, id into Go-side nativeData)
//   - finalizerRegistry: FinalizationRegistry shared by Wrap and
//     AddFinalizer, reporting the native-data id of the collected
//     object's entry through __libqjs_fin_finalized__ (see
//     (*Environment).onNativeFinalized)
//
// QuickJS has no JS-visible equivalent of registering a native C
// finalizer against a host-defined class (that mechanism — JSClassDef's
// finalizer field plus JS_SetOpaque/JS_GetOpaque, which the original's
// js.c uses for exactly this — is reachable only from C code the engine
// itself calls during its GC sweep; modernc.org/libquickjs does not
// expose a way to install a Go closure as that C function-pointer slot,
// and no pack example demonstrates one). FinalizationRegistry is
// ECMAScript's portable substitute and is already used by reference.go
// for weak References, so Wrap/AddFinalizer are wired through the same
// mechanism: a finalizer now fires when the engine actually collects its
// target (driven by real refcount-reaches-zero frees and by
// CollectGarbage's JS_RunGC call for cyclic garbage), pumped by the now
// job-queue-correct RunMicrotasks, not at RemoveWrap/teardown time. See
// DESIGN.md §C.
func (e *Environment) ensureRegistry() error {
	e.mu.Lock()
	if e.registryReady {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	onRefFinalized := func(refID int) { e.markReferenceFinalized(refID) }
	onNativeFinalized := func(id int) { e.onNativeFinalized(id) }
	inner := e.vm.Inner()
	if err := inner.RegisterFunc("__libqjs_ref_finalized__", onRefFinalized, false); err != nil {
		return fmt.Errorf("registering reference-finalization callback: %w", err)
	}
	if err := inner.RegisterFunc("__libqjs_fin_finalized__", onNativeFinalized, false); err != nil {
		return fmt.Errorf("registering wrap/add_finalizer finalization callback: %w", err)
	}

	script := fmt.Sprintf(`(function(){
		if (globalThis[%q]) return;
		globalThis[%q] = {
			typeTags: new WeakMap(),
			externals: new WeakSet(),
			proxies: new WeakSet(),
			wraps: new WeakMap(),
			// Used by reference.go's weak-observer transition: References
			// register their target here (heldValue is the reference's
			// integer id) while count==0, and unregister on the 0->1
			// transition.
			finalizationRegistry: new FinalizationRegistry(function(refID) {
				__libqjs_ref_finalized__(refID);
			}),
			// Used by Wrap and AddFinalizer: heldValue/unregister-token is
			// the native-data id of the wrapEntry/finalizerChain the
			// collected object owned.
			finalizerRegistry: new FinalizationRegistry(function(id) {
				__libqjs_fin_finalized__(id);
			}),
		};
	})()`, registryGlobal, registryGlobal)

	if err := e.vm.EvalDiscard(script); err != nil {
		return fmt.Errorf("installing finalizer registry: %w", err)
	}

	e.mu.Lock()
	e.registryReady = true
	e.mu.Unlock()
	return nil
}

// onNativeFinalized runs the Wrap callback or AddFinalizer chain stored
// under id, invoked by the registry's finalizerRegistry once the engine
// has actually collected the object it was registered against. Harmless
// no-op if id was already neutralized (RemoveWrap) or already run (the
// teardown sweep re-running an id real GC already fired).
func (e *Environment) onNativeFinalized(id int) {
	v := e.loadNative(id)
	switch entry := v.(type) {
	case *wrapEntry:
		if entry.cb != nil {
			cb := entry.cb
			entry.cb = nil
			cb(e, entry.data, entry.hint)
		}
	case *finalizerChain:
		entry.mu.Lock()
		chain := entry.entries
		entry.entries = nil
		entry.mu.Unlock()
		for i := len(chain) - 1; i >= 0; i-- {
			if chain[i].cb != nil {
				chain[i].cb(e, chain[i].data, chain[i].hint)
			}
		}
	}
}

// --- external marker -------------------------------------------------

// isExternal reports whether v was created via NewExternal.
func (e *Environment) isExternal(v *Value) bool {
	if e.ensureRegistry() != nil {
		return false
	}
	return predicate(v, fmt.Sprintf("%s.externals.has(%%s)", registryGlobal))
}

// checkProxyTag reports whether v was created via NewProxy.
func (e *Environment) checkProxyTag(v *Value) bool {
	if e.ensureRegistry() != nil {
		return false
	}
	return predicate(v, fmt.Sprintf("%s.proxies.has(%%s)", registryGlobal))
}

// ExternalData is host data wrapped so that typeof reports "external"
// for it (spec §4.L) without the value itself being directly usable from
// script beyond identity and the trap functions a delegate installs
// around it.
type ExternalData struct {
	mu   sync.Mutex
	data any
}

// NewExternal creates an opaque object tagged as external, carrying an
// arbitrary Go value retrievable later with ExternalValue.
func NewExternal(scope *HandleScope, data any) (*Value, error) {
	env := scope.env
	if err := env.ensureRegistry(); err != nil {
		return nil, err
	}
	holder := &ExternalData{data: data}
	id := env.storeNative(holder)

	val, err := rootEval(env, scope, "({})")
	if err != nil {
		return nil, err
	}
	if err := bindAndEvalDiscard(env, val, func(slot string) string {
		return fmt.Sprintf("%s.externals.add(globalThis[%q]);", registryGlobal, slot)
	}); err != nil {
		return nil, err
	}
	env.setNativeSlot(val, id)
	return val, nil
}

// ExternalValue retrieves the Go value NewExternal stored on v, or nil
// if v is not an external created by this environment.
func ExternalValue(v *Value) any {
	id, ok := v.env.nativeSlot(v)
	if !ok {
		return nil
	}
	holder, ok := v.env.loadNative(id).(*ExternalData)
	if !ok {
		return nil
	}
	holder.mu.Lock()
	defer holder.mu.Unlock()
	return holder.data
}

// --- type tags ---------------------------------------------------------

// TypeTag is the 128-bit (lower, upper) pair spec §4.C/§4.L attach once
// per object.
type TypeTag struct {
	Lower uint64
	Upper uint64
}

// AddTypeTag installs tag on v. A second call on the same object fails
// (spec §4.C: "fails if one is already present").
func (v *Value) AddTypeTag(tag TypeTag) error {
	env := v.env
	if err := env.ensureRegistry(); err != nil {
		return err
	}
	has, err := v.hasTypeTag()
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("libqjs: type tag already present on this object")
	}
	return bindAndEvalDiscard(env, v, func(slot string) string {
		return fmt.Sprintf("%s.typeTags.set(globalThis[%q], [%d, %d]);",
			registryGlobal, slot, tag.Lower, tag.Upper)
	})
}

func (v *Value) hasTypeTag() (bool, error) {
	env := v.env
	slot, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return false, err
	}
	defer cleanup()
	n, err := env.vm.EvalInt(fmt.Sprintf("%s.typeTags.has(globalThis[%q]) ? 1 : 0", registryGlobal, slot))
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// CheckTypeTag reports whether v carries exactly tag.
func (v *Value) CheckTypeTag(tag TypeTag) (bool, error) {
	env := v.env
	if err := env.ensureRegistry(); err != nil {
		return false, err
	}
	slot, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return false, err
	}
	defer cleanup()
	script := fmt.Sprintf(`(function(){
		var t = %s.typeTags.get(globalThis[%q]);
		if (!t) return 0;
		return (t[0] === %d && t[1] === %d) ? 1 : 0;
	})()`, registryGlobal, slot, tag.Lower, tag.Upper)
	n, err := env.vm.EvalInt(script)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// --- wrap / unwrap / remove_wrap --------------------------------------

// FinalizeFunc is a host callback run when a wrapped or finalizer-bearing
// object is collected by the engine (or, failing that, by environment
// teardown's forced sweep — see runAllFinalizers).
type FinalizeFunc func(env *Environment, data any, hint any)

type wrapEntry struct {
	cb   FinalizeFunc
	data any
	hint any
}

// Wrap installs a single finalizer slot on object: data and hint are
// opaque to script; cb runs when the engine collects object, unless
// RemoveWrap is called first (spec §4.C).
func Wrap(object *Value, data any, cb FinalizeFunc, hint any) error {
	env := object.env
	if err := env.ensureRegistry(); err != nil {
		return err
	}
	id := env.storeNative(&wrapEntry{cb: cb, data: data, hint: hint})
	env.setNativeSlot(object, id)
	env.trackFinalizerID(id)
	return bindAndEvalDiscard(env, object, func(slot string) string {
		return fmt.Sprintf(
			"%s.wraps.set(globalThis[%q], %d); %s.finalizerRegistry.register(globalThis[%q], %d, %d);",
			registryGlobal, slot, id, registryGlobal, slot, id, id)
	})
}

// Unwrap returns the data installed by Wrap, or nil if object was not
// wrapped.
func Unwrap(object *Value) any {
	id, ok := object.env.nativeSlot(object)
	if !ok {
		return nil
	}
	entry, ok := object.env.loadNative(id).(*wrapEntry)
	if !ok {
		return nil
	}
	return entry.data
}

// RemoveWrap reads the wrap data, neutralizes the finalizer callback so
// it will never run, unregisters it from the collection-driven
// FinalizationRegistry, and deletes the property.
func RemoveWrap(object *Value) (any, error) {
	id, ok := object.env.nativeSlot(object)
	if !ok {
		return nil, nil
	}
	entry, ok := object.env.loadNative(id).(*wrapEntry)
	if !ok {
		return nil, nil
	}
	entry.cb = nil
	object.env.clearNativeSlot(object)
	env := object.env
	if err := bindAndEvalDiscard(env, object, func(slot string) string {
		return fmt.Sprintf("%s.wraps.delete(globalThis[%q]); %s.finalizerRegistry.unregister(%d);",
			registryGlobal, slot, registryGlobal, id)
	}); err != nil {
		return entry.data, err
	}
	return entry.data, nil
}

// --- add_finalizer (chained, reverse-order) ---------------------------

type finalizerEntry struct {
	cb   FinalizeFunc
	data any
	hint any
}

// finalizerChain is the Go-side home for one object's add_finalizer
// chain, looked up by native-data id (not by *Value) since the
// FinalizationRegistry callback that eventually runs it only carries the
// id — by the time it fires, the JS object itself is gone.
type finalizerChain struct {
	mu      sync.Mutex
	entries []*finalizerEntry
}

// AddFinalizer appends a finalizer to object's chain. Unlike Wrap, an
// object may carry any number of finalizers; when the engine collects
// object all run in reverse attachment order (spec §8: "all k callbacks
// run in reverse attachment order"). Only the first AddFinalizer call for
// a given object registers it with the engine's FinalizationRegistry;
// later calls append to the existing chain.
func AddFinalizer(object *Value, data any, cb FinalizeFunc, hint any) error {
	env := object.env
	if err := env.ensureRegistry(); err != nil {
		return err
	}

	env.mu.Lock()
	id, existed := env.finalizerChainIDs[object]
	env.mu.Unlock()

	var chain *finalizerChain
	if existed {
		chain, _ = env.loadNative(id).(*finalizerChain)
	}
	if chain == nil {
		chain = &finalizerChain{}
		id = env.storeNative(chain)
		env.mu.Lock()
		if env.finalizerChainIDs == nil {
			env.finalizerChainIDs = make(map[*Value]int)
		}
		env.finalizerChainIDs[object] = id
		env.mu.Unlock()
		existed = false
	}

	chain.mu.Lock()
	chain.entries = append(chain.entries, &finalizerEntry{cb: cb, data: data, hint: hint})
	chain.mu.Unlock()

	if existed {
		return nil
	}
	env.trackFinalizerID(id)
	return bindAndEvalDiscard(env, object, func(slot string) string {
		return fmt.Sprintf("%s.finalizerRegistry.register(globalThis[%q], %d, %d);", registryGlobal, slot, id, id)
	})
}

// trackFinalizerID records id so runAllFinalizers can force-run it at
// teardown if the engine's own GC never collected its target first.
func (e *Environment) trackFinalizerID(id int) {
	e.mu.Lock()
	e.finalizerAllIDs = append(e.finalizerAllIDs, id)
	e.mu.Unlock()
}

// runAllFinalizers force-runs every Wrap/AddFinalizer entry still
// outstanding, in registration order. Called once from finishDestroy as
// a guarantee backstop: anything real GC already collected (and whose
// callback already ran through onNativeFinalized) is a harmless no-op
// here, since its native-data id was cleared or its chain emptied.
func (e *Environment) runAllFinalizers() {
	e.mu.Lock()
	ids := append([]int(nil), e.finalizerAllIDs...)
	e.mu.Unlock()

	for _, id := range ids {
		e.onNativeFinalized(id)
	}
}
