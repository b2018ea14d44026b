package libqjs

import (
	"modernc.org/quickjs"
)

// Value is an opaque wrapper around one engine value slot. It is always
// either rooted in a HandleScope or owned by a Reference (spec §3); a
// Value is never shared between scopes except through Escape. Using a
// Value after its owning scope has closed (and it was not escaped or
// referenced) is a caller error, the same way dereferencing a released
// handle in the C API is undefined.
type Value struct {
	env   *Environment
	raw   *quickjs.Value
	scope *HandleScope
	freed bool
}

func newValue(env *Environment, scope *HandleScope, raw *quickjs.Value) *Value {
	v := &Value{env: env, raw: raw, scope: scope}
	scope.append(v)
	return v
}

// inner exposes the underlying engine value for the rest of this
// package (property access, calls, conversions) — not part of the
// public wrapper contract a host would see in the C API.
func (v *Value) inner() *quickjs.Value { return v.raw }

func (v *Value) release() {
	if v.freed || v.raw == nil {
		return
	}
	v.raw.Free()
	v.freed = true
}

// HandleScope is a LIFO frame owning an append-only sequence of Values.
// Closing it releases every Value's engine reference in insertion order
// and pops the environment's scope stack. Scopes MUST close in strict
// LIFO order — closing one that is not the current top is a programming
// error (spec §4.A: "any mismatch is undefined").
type HandleScope struct {
	env      *Environment
	parent   *HandleScope
	values   []*Value
	closed   bool
	escapable bool
	escaped   bool
}

func newHandleScope(env *Environment, parent *HandleScope) *HandleScope {
	return &HandleScope{env: env, parent: parent}
}

func (s *HandleScope) append(v *Value) {
	s.values = append(s.values, v)
}

// OpenHandleScope pushes a new handle-scope frame onto env's scope
// stack.
func OpenHandleScope(env *Environment) *HandleScope {
	env.mu.Lock()
	defer env.mu.Unlock()
	scope := newHandleScope(env, env.scopeStack[len(env.scopeStack)-1])
	env.scopeStack = append(env.scopeStack, scope)
	return scope
}

// OpenEscapableHandleScope pushes a new escapable frame: one that permits
// transferring exactly one of its Values into its parent scope before it
// closes. The source library in this package was modeled on allows
// multiple escapes from one scope; this implementation enforces
// at-most-one instead, the safer policy spec §9's open question
// recommends documenting explicitly.
func OpenEscapableHandleScope(env *Environment) *HandleScope {
	scope := OpenHandleScope(env)
	scope.escapable = true
	return scope
}

// Close releases every Value rooted in scope, in insertion order, and
// pops it from the environment's scope stack. Closing any scope other
// than the current top panics: a caller that does this is violating the
// LIFO close-order invariant every host-callback bridge in this package
// depends on.
func (s *HandleScope) Close() {
	env := s.env
	env.mu.Lock()
	top := env.scopeStack[len(env.scopeStack)-1]
	if top != s {
		env.mu.Unlock()
		panic("libqjs: handle scope closed out of LIFO order")
	}
	if s.closed {
		env.mu.Unlock()
		return
	}
	env.scopeStack = env.scopeStack[:len(env.scopeStack)-1]
	s.closed = true
	env.mu.Unlock()

	for _, v := range s.values {
		v.release()
	}
}

// Escape transfers v, which must be rooted in s, into s's parent scope,
// duplicating its engine reference there. s must still be open and
// escapable, and must not have already escaped a value. Precondition
// violations panic, matching the C API's documented undefined behavior
// for misuse of scope primitives (these are programming errors, not
// runtime conditions per the ambient error-handling stance in
// SPEC_FULL.md).
func (s *HandleScope) Escape(v *Value) *Value {
	if !s.escapable {
		panic("libqjs: Escape called on a non-escapable handle scope")
	}
	if s.closed {
		panic("libqjs: Escape called on a closed handle scope")
	}
	if s.escaped {
		panic("libqjs: at most one escape is permitted per handle scope")
	}
	if v.scope != s {
		panic("libqjs: Escape called with a value not rooted in this scope")
	}

	// modernc.org/quickjs's Value carries its own engine reference with
	// no exposed Dup primitive, so escaping is implemented as a transfer
	// of ownership from s's value list to s.parent's rather than a true
	// duplicate-then-free-original: v is removed from s (so s.Close
	// never releases it) and re-homed on the parent, which achieves the
	// same externally-visible effect spec §4.A describes — the value
	// outlives s's close — without a second live reference to the same
	// slot.
	for i, held := range s.values {
		if held == v {
			s.values = append(s.values[:i], s.values[i+1:]...)
			break
		}
	}
	v.scope = s.parent
	s.parent.append(v)
	s.escaped = true
	return v
}
