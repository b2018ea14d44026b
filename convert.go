package libqjs

import (
	"encoding/json"
	"fmt"
	"math"
)

// typeofKind enumerates the set typeof maps to (spec §4.L), widened with
// "external" for objects carrying the external class instance.
type typeofKind string

const (
	TypeUndefined typeofKind = "undefined"
	TypeNull      typeofKind = "null"
	TypeBoolean   typeofKind = "boolean"
	TypeNumber    typeofKind = "number"
	TypeBigInt    typeofKind = "bigint"
	TypeString    typeofKind = "string"
	TypeSymbol    typeofKind = "symbol"
	TypeFunction  typeofKind = "function"
	TypeObject    typeofKind = "object"
	TypeExternal  typeofKind = "external"
)

// predicate runs a boolean-valued snippet against v and returns the
// result. Every Is* predicate below is exception-transparent and
// read-only, matching spec §4.L, so failures here only ever mean "the
// bridge itself broke", never a script-level exception.
func predicate(v *Value, expr string) bool {
	env := v.env
	slot, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return false
	}
	defer cleanup()
	n, err := env.vm.EvalInt(fmt.Sprintf("(%s) ? 1 : 0", fmt.Sprintf(expr, fmt.Sprintf("globalThis[%q]", slot))))
	if err != nil {
		return false
	}
	return n != 0
}

func (v *Value) IsUndefined() bool { return predicate(v, "%s === undefined") }
func (v *Value) IsNull() bool      { return predicate(v, "%s === null") }
func (v *Value) IsBoolean() bool   { return predicate(v, "typeof %s === 'boolean'") }
func (v *Value) IsNumber() bool    { return predicate(v, "typeof %s === 'number'") }
func (v *Value) IsInt32() bool {
	return predicate(v, "typeof %[1]s === 'number' && Number.isInteger(%[1]s) && %[1]s >= -2147483648 && %[1]s <= 2147483647")
}
func (v *Value) IsUint32() bool {
	return predicate(v, "typeof %[1]s === 'number' && Number.isInteger(%[1]s) && %[1]s >= 0 && %[1]s <= 4294967295")
}
func (v *Value) IsBigInt() bool          { return predicate(v, "typeof %s === 'bigint'") }
func (v *Value) IsString() bool          { return predicate(v, "typeof %s === 'string'") }
func (v *Value) IsSymbol() bool          { return predicate(v, "typeof %s === 'symbol'") }
func (v *Value) IsObject() bool          { return predicate(v, "typeof %s === 'object' && %s !== null") }
func (v *Value) IsFunction() bool        { return predicate(v, "typeof %s === 'function'") }
func (v *Value) IsArray() bool           { return predicate(v, "Array.isArray(%s)") }
func (v *Value) IsArrayBuffer() bool     { return predicate(v, "%s instanceof ArrayBuffer") }
func (v *Value) IsSharedArrayBuffer() bool {
	return predicate(v, "typeof SharedArrayBuffer !== 'undefined' && %s instanceof SharedArrayBuffer")
}
func (v *Value) IsDetachedArrayBuffer() bool {
	return predicate(v, "%[1]s instanceof ArrayBuffer && %[1]s.byteLength === 0 && %[1]s.__detached === true")
}
func (v *Value) IsTypedArray() bool { return predicate(v, "ArrayBuffer.isView(%s) && !(%s instanceof DataView)") }
func (v *Value) IsDataView() bool   { return predicate(v, "%s instanceof DataView") }
func (v *Value) IsDate() bool       { return predicate(v, "%s instanceof Date") }
func (v *Value) IsRegExp() bool     { return predicate(v, "%s instanceof RegExp") }
func (v *Value) IsError() bool      { return predicate(v, "%s instanceof Error") }
func (v *Value) IsPromise() bool    { return predicate(v, "%s instanceof Promise") }
func (v *Value) IsMap() bool        { return predicate(v, "%s instanceof Map") }
func (v *Value) IsSet() bool        { return predicate(v, "%s instanceof Set") }
func (v *Value) IsWeakMap() bool    { return predicate(v, "%s instanceof WeakMap") }
func (v *Value) IsWeakSet() bool    { return predicate(v, "%s instanceof WeakSet") }
func (v *Value) IsWeakRef() bool    { return predicate(v, "%s instanceof WeakRef") }
func (v *Value) IsProxy() bool      { return v.env.checkProxyTag(v) }

// typedArrayKinds lists the typed-array global constructors this package
// brand-checks against, in the order IsTypedArrayElementKind reports them.
var typedArrayKinds = []string{
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array", "BigInt64Array", "BigUint64Array",
}

// TypedArrayElementKind returns the name of the typed-array global v is
// an instance of, or "" if v is not a typed array.
func (v *Value) TypedArrayElementKind() string {
	for _, kind := range typedArrayKinds {
		if predicate(v, fmt.Sprintf("%%s instanceof %s", kind)) {
			return kind
		}
	}
	return ""
}

// Typeof implements spec §4.L's widened typeof, promoting "external"
// objects (those carrying the external-class marker this package
// installs, see finalizer.go) over plain "object".
func (v *Value) Typeof() typeofKind {
	if v.env.isExternal(v) {
		return TypeExternal
	}
	env := v.env
	slot, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return TypeUndefined
	}
	defer cleanup()
	s, err := env.vm.EvalString(fmt.Sprintf("(globalThis[%q] === null ? 'null' : typeof globalThis[%q])", slot, slot))
	if err != nil {
		return TypeUndefined
	}
	switch s {
	case "null":
		return TypeNull
	case "boolean":
		return TypeBoolean
	case "number":
		return TypeNumber
	case "bigint":
		return TypeBigInt
	case "string":
		return TypeString
	case "symbol":
		return TypeSymbol
	case "function":
		return TypeFunction
	case "object":
		return TypeObject
	default:
		return TypeUndefined
	}
}

// --- scalar extractors: never fail in this design, lossy conversions
// are silent, matching spec §4.L / §9's documented contract. ---

func (v *Value) Int32() int32 {
	f := v.coerceDouble()
	if math.IsNaN(f) {
		return 0
	}
	return int32(int64(f))
}

func (v *Value) Uint32() uint32 {
	f := v.coerceDouble()
	if math.IsNaN(f) {
		return 0
	}
	return uint32(int64(f))
}

func (v *Value) Int64() int64 {
	f := v.coerceDouble()
	if math.IsNaN(f) {
		return 0
	}
	return int64(f)
}

func (v *Value) Double() float64 { return v.coerceDouble() }

func (v *Value) coerceDouble() float64 {
	env := v.env
	slot, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return math.NaN()
	}
	defer cleanup()
	s, err := env.vm.EvalString(fmt.Sprintf("String(Number(globalThis[%q]))", slot))
	if err != nil {
		return math.NaN()
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return math.NaN()
	}
	return f
}

// Bool coerces v with JS's ToBoolean semantics.
func (v *Value) Bool() bool {
	env := v.env
	slot, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return false
	}
	defer cleanup()
	n, err := env.vm.EvalInt(fmt.Sprintf("globalThis[%q] ? 1 : 0", slot))
	if err != nil {
		return false
	}
	return n != 0
}

// StringUTF8 extracts v's string content as a Go string (UTF-8 native
// representation in Go, so no further conversion is needed beyond
// String(v)).
func (v *Value) StringUTF8() (string, error) {
	env := v.env
	slot, cleanup, err := env.vm.Bind(v.inner())
	if err != nil {
		return "", err
	}
	defer cleanup()
	js, err := env.vm.EvalString(fmt.Sprintf("JSON.stringify(String(globalThis[%q]))", slot))
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal([]byte(js), &s); err != nil {
		return "", fmt.Errorf("decoding string value: %w", err)
	}
	return s, nil
}

// StringUTF16LE returns the same content as StringUTF8: this
// implementation represents strings as Go strings end to end and
// performs the UTF-8/UTF-16 boundary crossing (if any) at the host's
// FFI edge, not inside this package. See SPEC_FULL.md's "String buffer
// semantics" note for why the original's null-terminate-when-short
// buffer contract does not need reproducing here — there is no raw
// buffer handed across a C ABI in this Go implementation.
func (v *Value) StringUTF16LE() (string, error) { return v.StringUTF8() }

// Coerce family: delegate to the engine and surface its pending
// exception on failure (spec §4.L "Coercions delegate to the engine and
// fail with the pending exception on error").
func (v *Value) CoerceToString(scope *HandleScope) (*Value, error) {
	return bindAndEval(v.env, scope, v, func(slot string) string {
		return fmt.Sprintf("String(globalThis[%q])", slot)
	})
}

func (v *Value) CoerceToNumber(scope *HandleScope) (*Value, error) {
	return bindAndEval(v.env, scope, v, func(slot string) string {
		return fmt.Sprintf("Number(globalThis[%q])", slot)
	})
}

func (v *Value) CoerceToObject(scope *HandleScope) (*Value, error) {
	return bindAndEval(v.env, scope, v, func(slot string) string {
		return fmt.Sprintf("Object(globalThis[%q])", slot)
	})
}

func (v *Value) CoerceToBool(scope *HandleScope) (*Value, error) {
	return bindAndEval(v.env, scope, v, func(slot string) string {
		return fmt.Sprintf("Boolean(globalThis[%q])", slot)
	})
}
