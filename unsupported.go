package libqjs

// This file collects the surfaces the original C API exposes that this
// embedding core deliberately does not implement (package doc comment's
// "This package does not implement..." list): threadsafe cross-thread
// function invocation, inspector/debugger sessions, and context
// duplication (multiple global contexts sharing one runtime). Each stub
// exists so host code written against the fuller C API surface fails
// loudly and immediately rather than silently no-opping.

// ThreadsafeFunction would let a non-owning thread queue a call into this
// environment's owning goroutine. QuickJS's Go wrapper offers no
// thread-safe entry point into a running VM (every API in this package
// assumes single-goroutine ownership, spec §5), so this is permanently
// unsupported.
func (e *Environment) ThreadsafeFunction(name string, data any) (*Reference, error) {
	return nil, ErrUnsupported
}

// AttachInspector would open a debugger/inspector protocol session
// against this environment. Not implemented.
func (e *Environment) AttachInspector() error {
	return ErrUnsupported
}

// DuplicateContext would create a second global context sharing this
// environment's runtime. This package's Environment is a fixed
// one-runtime-one-context pairing (spec §1: "does not implement... multiple
// global contexts per environment"); callers needing isolation should
// create a second Environment instead.
func (e *Environment) DuplicateContext() (*Environment, error) {
	return nil, ErrUnsupported
}

// HeapStatistics would report engine heap usage. QuickJS's Go wrapper
// exposes no heap introspection call; hosts needing memory pressure
// signals should use SetMemoryLimit's ceiling together with
// OnUncaughtException's RangeError surfacing instead.
func (e *Environment) HeapStatistics() (map[string]uint64, error) {
	return nil, ErrUnsupported
}
