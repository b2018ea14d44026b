package libqjs

import (
	"fmt"
	"sync"

	"github.com/holepunchto/libqjs/internal/engine"
	"github.com/holepunchto/libqjs/internal/eventloop"
	"github.com/holepunchto/libqjs/internal/memlimit"
	"modernc.org/quickjs"
)

// EnvOptions configures an Environment at creation. The zero value means
// "use the platform/engine defaults": no explicit memory limit (the
// lesser of constrained/total system memory is used, see
// internal/memlimit), no max stack size override.
type EnvOptions struct {
	// MemoryLimit overrides the default memory ceiling, in bytes. Zero
	// means derive it from memlimit.Default().
	MemoryLimit uint64
}

// UncaughtExceptionFunc is invoked when a script-executing API's
// outermost call returns with an exception nobody consumed.
type UncaughtExceptionFunc func(env *Environment, exception *Value)

// UnhandledRejectionFunc is invoked once per promise that is still
// rejected-and-unhandled after a microtask drain completes.
type UnhandledRejectionFunc func(env *Environment, promise *Value, reason *Value)

// DynamicImportFunc services a script-level dynamic import() expression
// that has no active module resolver to consult.
type DynamicImportFunc func(env *Environment, specifier string, assertions map[string]string, referrer *Module) (*Module, error)

// classIDs holds the environment's private notion of the original's six
// engine-internal class identifiers (external, finalizer, type-tag,
// function, constructor, delegate). The original keeps these as
// per-runtime class IDs registered with the engine; this package has no
// such registration step (objects carrying these roles are tracked by Go
// type and by hidden properties instead), so the struct exists only to
// keep the "these identifiers live in the environment, never as process
// globals" invariant visible and documented — see DESIGN.md.
type classIDs struct {
	external    int
	finalizer   int
	typeTag     int
	function    int
	constructor int
	delegate    int
}

// Environment is one script execution instance: an engine runtime plus
// its single global context, the owned bindings object, handle-scope
// stack, reentrancy depth counter, teardown queue, pending-rejection
// list, and event-loop handles. All API calls against an Environment
// must originate on the goroutine that created it — this package does
// not attempt to make the engine thread-safe, matching the source's
// single-threaded scheduling model (spec §5).
type Environment struct {
	platform *Platform
	vm       *engine.VM
	loop     *eventloop.Loop

	classes classIDs

	mu          sync.Mutex
	scopeStack  []*HandleScope
	depth       int
	destroying  bool
	destroyed   bool
	teardown    *teardownQueue
	rejections  *rejectionList
	refs        map[*Reference]struct{}

	// pendingException mirrors the engine's pending-exception register
	// (spec §3/§4.K): set by Throw/ThrowFormatted and by script-executing
	// calls that catch a thrown value, cleared by GetAndClearLastException.
	pendingException *Value

	// refsByID and nextRefID back reference.go's weak-observer transition:
	// a Reference with count==0 registers its target with the registry's
	// FinalizationRegistry under this integer id so the native
	// __libqjs_ref_finalized__ callback can look the Reference back up
	// when the engine eventually collects the target.
	refsByID  map[int]*Reference
	nextRefID int

	onUncaughtException  UncaughtExceptionFunc
	onUnhandledRejection UnhandledRejectionFunc
	onDynamicImport      DynamicImportFunc

	// resolverStack and evaluators back the module subsystem (§4.G): the
	// engine's resolution hook consults the top of resolverStack, and the
	// evaluation hook matches synthetic modules against evaluators by
	// definition pointer (here, by *Module identity).
	resolverStack []*moduleResolverNode
	evaluators    []*moduleEvaluatorNode

	// registryReady tracks whether ensureRegistry has installed the
	// script-side WeakMap/WeakSet bookkeeping (finalizer.go).
	registryReady bool

	// nativeData and nextNativeID back storeNative/loadNative: an
	// environment-private table of Go values (ExternalData holders,
	// wrapEntry records) indexed by a small integer, since those values
	// cannot be embedded into script state directly.
	nativeData   map[int]any
	nextNativeID int

	// nativeSlots maps a Value to the native-data id associated with it
	// by Wrap/NewExternal (at most one id per Value in this design,
	// matching the "single hidden external property" wrap contract).
	nativeSlots map[*Value]int

	// finalizerChainIDs maps an object with at least one AddFinalizer
	// attachment to the native-data id its chain is stored under (see
	// finalizer.go): the FinalizationRegistry callback receives only that
	// id, not the (by-then-collected) object, so the chain must be
	// reachable by id alone.
	finalizerChainIDs map[*Value]int

	// finalizerAllIDs lists every id ever registered with the shared
	// finalizer/wrap FinalizationRegistry (Wrap entries and AddFinalizer
	// chains alike), in registration order, so environment teardown can
	// force-run anything real GC never got to collect.
	finalizerAllIDs []int

	// delegates maps a delegate Value to its trap record (delegate.go).
	delegates map[*Value]*delegateRecord
}

func (e *Environment) storeNative(v any) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nativeData == nil {
		e.nativeData = make(map[int]any)
	}
	e.nextNativeID++
	id := e.nextNativeID
	e.nativeData[id] = v
	return id
}

func (e *Environment) loadNative(id int) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nativeData[id]
}

func (e *Environment) setNativeSlot(v *Value, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nativeSlots == nil {
		e.nativeSlots = make(map[*Value]int)
	}
	e.nativeSlots[v] = id
}

func (e *Environment) nativeSlot(v *Value) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.nativeSlots[v]
	return id, ok
}

func (e *Environment) clearNativeSlot(v *Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.nativeSlots[v]; ok {
		delete(e.nativeData, id)
	}
	delete(e.nativeSlots, v)
}

// NewEnvironment creates and configures a new Environment against
// platform: allocates the runtime, installs the module loader and
// promise-rejection tracker, applies the memory limit from opts or the
// lesser-of-constrained/total default, registers the environment's class
// identifiers, and initializes the three event-loop handles. Mirrors
// js_create_env (spec §4.N).
func NewEnvironment(platform *Platform, opts EnvOptions) (*Environment, error) {
	limit := opts.MemoryLimit
	if limit == 0 {
		limit = memlimit.Default()
	}

	vm, err := engine.New(limit)
	if err != nil {
		return nil, fmt.Errorf("creating environment runtime: %w", err)
	}

	env := &Environment{
		platform: platform,
		vm:       vm,
		loop:     eventloop.New(),
		teardown: newTeardownQueue(),
		rejections: &rejectionList{},
		refs:     make(map[*Reference]struct{}),
	}

	// The global scope is implicit per spec §3 ("Exactly one global scope
	// is implicit"); user-opened scopes chain from it, so we still push a
	// root frame to give append-only wrapper bookkeeping somewhere to
	// live before the first explicit OpenHandleScope.
	env.scopeStack = []*HandleScope{newHandleScope(env, nil)}

	if err := env.ensureRegistry(); err != nil {
		vm.Close()
		return nil, err
	}
	if err := env.installRejectionTracking(); err != nil {
		vm.Close()
		return nil, err
	}
	if platform.Options().ExposeGarbageCollection {
		if err := env.exposeGarbageCollection(); err != nil {
			vm.Close()
			return nil, err
		}
	}

	platform.trackEnv(1)

	return env, nil
}

// CollectGarbage forces an immediate GC pass (the original's
// expose_garbage_collection path, made callable from Go directly rather
// than only through the optional script-visible `gc()` global) and pumps
// the job queue once afterward so any FinalizationRegistry cleanup jobs
// the collection queued run before this call returns.
func (e *Environment) CollectGarbage() {
	e.vm.CollectGarbage()
	e.checkpointMicrotasks()
}

// exposeGarbageCollection installs a global gc() function calling
// CollectGarbage, matching PlatformOptions.ExposeGarbageCollection /
// the original's expose_garbage_collection option.
func (e *Environment) exposeGarbageCollection() error {
	inner := e.vm.Inner()
	if err := inner.RegisterFunc("__libqjs_gc__", func() { e.CollectGarbage() }, false); err != nil {
		return fmt.Errorf("registering gc global: %w", err)
	}
	return e.vm.EvalDiscard(`globalThis.gc = function(){ __libqjs_gc__(); };`)
}

// Platform returns the platform this environment was created against.
func (e *Environment) Platform() *Platform { return e.platform }

// Loop returns the environment's event-loop handle, usable by host
// bindings that need to register timers or drive a turn of work.
func (e *Environment) Loop() *eventloop.Loop { return e.loop }

// OnUncaughtException registers the callback invoked when a
// script-executing call's outermost depth ends with an unconsumed
// exception. A nil callback means such exceptions are re-thrown to the
// engine instead (spec §4.H / §7).
func (e *Environment) OnUncaughtException(fn UncaughtExceptionFunc) { e.onUncaughtException = fn }

// OnUnhandledRejection registers the callback invoked for promises still
// rejected-and-unhandled after a microtask drain.
func (e *Environment) OnUnhandledRejection(fn UnhandledRejectionFunc) {
	e.onUnhandledRejection = fn
}

// OnDynamicImport registers the callback serving script-level dynamic
// import() expressions that have no active resolver.
func (e *Environment) OnDynamicImport(fn DynamicImportFunc) { e.onDynamicImport = fn }

// globalScope is the always-open frame backing every reference and
// top-level value this environment constructs outside an explicit user
// scope.
func (e *Environment) globalScope() *HandleScope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scopeStack[0]
}

func (e *Environment) topScope() *HandleScope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scopeStack[len(e.scopeStack)-1]
}

// rawVM exposes the underlying engine handle to the rest of this package
// (value construction, property access, calls). Exported only within the
// module.
func (e *Environment) rawVM() *engine.VM { return e.vm }

func (e *Environment) innerVM() *quickjs.VM { return e.vm.Inner() }

// Destroy runs the three-phase close sequence described in spec §4.I:
// sets the destroying flag, drains the teardown queue (immediate tasks
// run inline; deferred tasks keep the environment alive until
// FinishDeferredTeardown is called for each), and only then releases the
// engine runtime.
func (e *Environment) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroying = true
	e.loop.SetDestroying()
	e.mu.Unlock()

	e.teardown.runImmediate(e)

	if e.teardown.outstandingDeferred() > 0 {
		e.loop.RefTeardown()
		// The host is expected to call FinishDeferredTeardown for every
		// deferred task it registered; destroy() itself does not block,
		// matching the original's async, callback-driven close.
		return
	}

	e.finishDestroy()
}

func (e *Environment) finishDestroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.mu.Unlock()

	// Give real GC a last chance to collect anything observed by Wrap/
	// AddFinalizer so their callbacks fire through actual collection
	// rather than only through the teardown sweep below.
	e.vm.CollectGarbage()
	e.vm.RunMicrotasks()
	e.runAllFinalizers()
	e.vm.Close()
	e.platform.trackEnv(-1)
}
