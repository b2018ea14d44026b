package libqjs

import "testing"

func TestScalarConstructorsRoundtrip(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		i, err := NewInt32(scope, -7)
		if err != nil {
			t.Fatalf("NewInt32: %v", err)
		}
		if got := i.Int32(); got != -7 {
			t.Errorf("Int32() = %d, want -7", got)
		}

		d, err := NewDouble(scope, 3.5)
		if err != nil {
			t.Fatalf("NewDouble: %v", err)
		}
		if got := d.Double(); got != 3.5 {
			t.Errorf("Double() = %v, want 3.5", got)
		}

		s, err := NewStringUTF8(scope, "héllo wörld")
		if err != nil {
			t.Fatalf("NewStringUTF8: %v", err)
		}
		got, err := s.StringUTF8()
		if err != nil {
			t.Fatalf("StringUTF8: %v", err)
		}
		if got != "héllo wörld" {
			t.Errorf("StringUTF8() = %q, want %q", got, "héllo wörld")
		}

		b, err := NewBool(scope, true)
		if err != nil {
			t.Fatalf("NewBool: %v", err)
		}
		if !b.Bool() {
			t.Error("Bool() = false, want true")
		}
	})
}

func TestTypePredicates(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		obj, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}
		if !obj.IsObject() {
			t.Error("IsObject() = false for a plain object")
		}
		if obj.IsArray() {
			t.Error("IsArray() = true for a plain object")
		}

		arr, err := NewArray(scope, 3)
		if err != nil {
			t.Fatalf("NewArray: %v", err)
		}
		if !arr.IsArray() {
			t.Error("IsArray() = false for an array")
		}

		u, err := NewUndefined(scope)
		if err != nil {
			t.Fatalf("NewUndefined: %v", err)
		}
		if !u.IsUndefined() {
			t.Error("IsUndefined() = false for undefined")
		}

		n, err := NewNull(scope)
		if err != nil {
			t.Fatalf("NewNull: %v", err)
		}
		if !n.IsNull() {
			t.Error("IsNull() = false for null")
		}
		if n.Typeof() != TypeNull {
			t.Errorf("Typeof() = %v, want %v", n.Typeof(), TypeNull)
		}
	})
}

func TestPropertyAccess(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		obj, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}
		val, err := NewInt32(scope, 99)
		if err != nil {
			t.Fatalf("NewInt32: %v", err)
		}
		if err := SetNamedProperty(obj, "x", val); err != nil {
			t.Fatalf("SetNamedProperty: %v", err)
		}

		has, err := HasNamedProperty(obj, "x")
		if err != nil {
			t.Fatalf("HasNamedProperty: %v", err)
		}
		if !has {
			t.Fatal("HasNamedProperty(x) = false after SetNamedProperty")
		}

		got, err := GetNamedProperty(scope, obj, "x")
		if err != nil {
			t.Fatalf("GetNamedProperty: %v", err)
		}
		if got.Int32() != 99 {
			t.Errorf("GetNamedProperty(x) = %d, want 99", got.Int32())
		}

		deleted, err := DeleteNamedProperty(obj, "x")
		if err != nil {
			t.Fatalf("DeleteNamedProperty: %v", err)
		}
		if !deleted {
			t.Fatal("DeleteNamedProperty(x) = false")
		}
		has, err = HasNamedProperty(obj, "x")
		if err != nil {
			t.Fatalf("HasNamedProperty after delete: %v", err)
		}
		if has {
			t.Fatal("HasNamedProperty(x) = true after delete")
		}
	})
}
