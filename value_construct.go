package libqjs

import (
	"encoding/json"
	"fmt"
	"math"
)

// rootEval evaluates script against env's VM and roots the result in
// scope, the construction primitive every scalar/composite constructor
// in this file funnels through — the same "EvalValue against a small
// snippet" idiom the teacher uses throughout execute.go/pool.go for
// anything the high-level wrapper has no direct constructor for.
func rootEval(env *Environment, scope *HandleScope, script string) (*Value, error) {
	raw, err := env.vm.EvalValue(script)
	if err != nil {
		return nil, err
	}
	return newValue(env, scope, raw), nil
}

// NewUndefined, NewNull, NewBool, NewInt32, NewUint32, NewDouble and
// NewString are the scalar constructors of spec §6 "Values". Scopes is
// the scope the new Value is rooted in (typically the environment's
// current top scope).

func NewUndefined(scope *HandleScope) (*Value, error) {
	return rootEval(scope.env, scope, "void 0")
}

func NewNull(scope *HandleScope) (*Value, error) {
	return rootEval(scope.env, scope, "null")
}

func NewBool(scope *HandleScope, b bool) (*Value, error) {
	if b {
		return rootEval(scope.env, scope, "true")
	}
	return rootEval(scope.env, scope, "false")
}

func NewInt32(scope *HandleScope, n int32) (*Value, error) {
	return rootEval(scope.env, scope, fmt.Sprintf("(%d)", n))
}

func NewUint32(scope *HandleScope, n uint32) (*Value, error) {
	return rootEval(scope.env, scope, fmt.Sprintf("(%d)", n))
}

func NewDouble(scope *HandleScope, f float64) (*Value, error) {
	if math.IsNaN(f) {
		return rootEval(scope.env, scope, "(NaN)")
	}
	if math.IsInf(f, 1) {
		return rootEval(scope.env, scope, "(Infinity)")
	}
	if math.IsInf(f, -1) {
		return rootEval(scope.env, scope, "(-Infinity)")
	}
	return rootEval(scope.env, scope, fmt.Sprintf("(%s)", formatFloat(f)))
}

func formatFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// NewStringUTF8 creates a JS string from UTF-8 bytes. JSON-encoding the
// Go string and evaluating it as a literal lets the engine itself do the
// UTF-8 decoding, the same trick execute.go uses to inject arbitrary
// host strings (`JSON.parse(%q)`-style argument marshaling).
func NewStringUTF8(scope *HandleScope, s string) (*Value, error) {
	encoded, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding string literal: %w", err)
	}
	return rootEval(scope.env, scope, string(encoded))
}

// NewStringUTF16LE behaves identically to NewStringUTF8 in this
// implementation: Go strings are UTF-8 internally and the caller is
// expected to have already converted from UTF-16LE bytes to a Go string
// before calling. A dedicated UTF-16 code path exists only at the
// extractor side (GetValueStringUTF16LE) where the original's explicit
// UTF-8→UTF-16 conversion has an observable contract (buffer/length
// semantics); construction has none, so both constructors converge.
func NewStringUTF16LE(scope *HandleScope, s string) (*Value, error) {
	return NewStringUTF8(scope, s)
}

// NewObject creates a plain empty object.
func NewObject(scope *HandleScope) (*Value, error) {
	return rootEval(scope.env, scope, "({})")
}

// NewArray creates an array of the given length, every slot undefined.
func NewArray(scope *HandleScope, length int) (*Value, error) {
	return rootEval(scope.env, scope, fmt.Sprintf("new Array(%d)", length))
}

// NewSymbol creates a symbol, optionally with a description.
func NewSymbol(scope *HandleScope, description string) (*Value, error) {
	if description == "" {
		return rootEval(scope.env, scope, "Symbol()")
	}
	encoded, err := json.Marshal(description)
	if err != nil {
		return nil, fmt.Errorf("encoding symbol description: %w", err)
	}
	return rootEval(scope.env, scope, fmt.Sprintf("Symbol(%s)", encoded))
}

// NewBigIntInt64 and NewBigIntUint64 construct BigInt values.
func NewBigIntInt64(scope *HandleScope, n int64) (*Value, error) {
	return rootEval(scope.env, scope, fmt.Sprintf("(%dn)", n))
}

func NewBigIntUint64(scope *HandleScope, n uint64) (*Value, error) {
	return rootEval(scope.env, scope, fmt.Sprintf("(%dn)", n))
}

// bindAndEval binds v under a generated hidden global and evaluates
// script (which references it via globalThis[name]), freeing the
// binding afterward regardless of outcome. Most of the conversion,
// property, call, and promise APIs in this package funnel through this.
func bindAndEval(env *Environment, scope *HandleScope, v *Value, scriptf func(name string) string) (*Value, error) {
	name, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return rootEval(env, scope, scriptf(name))
}

// bindAndEvalDiscard is bindAndEval's side-effect-only sibling.
func bindAndEvalDiscard(env *Environment, v *Value, scriptf func(name string) string) error {
	name, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return err
	}
	defer cleanup()
	return env.vm.EvalDiscard(scriptf(name))
}
