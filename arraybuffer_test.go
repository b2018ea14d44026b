package libqjs

import (
	"bytes"
	"testing"
)

func TestArrayBuffer_OwnedZeroedRoundtrip(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		buf, err := NewArrayBuffer(scope, 4)
		if err != nil {
			t.Fatalf("NewArrayBuffer: %v", err)
		}
		got, err := ArrayBufferBytes(buf)
		if err != nil {
			t.Fatalf("ArrayBufferBytes: %v", err)
		}
		if !bytes.Equal(got, []byte{0, 0, 0, 0}) {
			t.Errorf("bytes = %v, want all-zero 4 bytes", got)
		}
	})
}

func TestArrayBuffer_FromBytesRoundtrip(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		want := []byte{1, 2, 3, 4, 5}
		buf, err := NewArrayBufferFromBytes(scope, want)
		if err != nil {
			t.Fatalf("NewArrayBufferFromBytes: %v", err)
		}
		got, err := ArrayBufferBytes(buf)
		if err != nil {
			t.Fatalf("ArrayBufferBytes: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("bytes = %v, want %v", got, want)
		}
	})
}

func TestArrayBuffer_DetachReportsDetached(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		buf, err := NewArrayBuffer(scope, 8)
		if err != nil {
			t.Fatalf("NewArrayBuffer: %v", err)
		}
		if err := DetachArrayBuffer(buf); err != nil {
			t.Fatalf("DetachArrayBuffer: %v", err)
		}
		has, err := HasNamedProperty(buf, "__detached")
		if err != nil {
			t.Fatalf("HasNamedProperty: %v", err)
		}
		if !has {
			t.Error("expected the detached marker property after DetachArrayBuffer")
		}
	})
}

func TestBackingStore_AddRefRelease(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		buf, err := NewArrayBufferFromBytes(scope, []byte{9, 8, 7})
		if err != nil {
			t.Fatalf("NewArrayBufferFromBytes: %v", err)
		}
		store, err := GetArrayBufferBackingStore(buf)
		if err != nil {
			t.Fatalf("GetArrayBufferBackingStore: %v", err)
		}
		store.AddRef()

		got, err := store.Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		if !bytes.Equal(got, []byte{9, 8, 7}) {
			t.Errorf("Bytes = %v, want [9 8 7]", got)
		}

		store.Release()
		if _, err := store.Bytes(); err != nil {
			t.Fatalf("Bytes after one Release (refcount still 1): %v", err)
		}

		store.Release()
		if _, err := store.Bytes(); err == nil {
			t.Fatal("expected an error reading Bytes after the final Release")
		}
	})
}

func TestNewTypedArray_ExposesBufferAndLength(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		buf, err := NewArrayBuffer(scope, 16)
		if err != nil {
			t.Fatalf("NewArrayBuffer: %v", err)
		}
		ta, err := NewTypedArray(scope, "Int32Array", buf, 0, 4)
		if err != nil {
			t.Fatalf("NewTypedArray: %v", err)
		}
		info, err := GetTypedArrayInfo(scope, ta)
		if err != nil {
			t.Fatalf("GetTypedArrayInfo: %v", err)
		}
		if info.Length != 4 {
			t.Errorf("Length = %d, want 4", info.Length)
		}
		if info.ByteOffset != 0 {
			t.Errorf("ByteOffset = %d, want 0", info.ByteOffset)
		}
		if info.Kind != "Int32Array" {
			t.Errorf("Kind = %q, want %q", info.Kind, "Int32Array")
		}
	})
}

func TestNewTypedArray_UnknownKindRejected(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		buf, err := NewArrayBuffer(scope, 8)
		if err != nil {
			t.Fatalf("NewArrayBuffer: %v", err)
		}
		if _, err := NewTypedArray(scope, "NotARealKind", buf, 0, 1); err == nil {
			t.Fatal("expected an error for an unrecognized typed array kind")
		}
	})
}

func TestNewDataView_Roundtrip(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		buf, err := NewArrayBufferFromBytes(scope, []byte{0, 0, 0, 0})
		if err != nil {
			t.Fatalf("NewArrayBufferFromBytes: %v", err)
		}
		dv, err := NewDataView(scope, buf, 0, 4)
		if err != nil {
			t.Fatalf("NewDataView: %v", err)
		}
		setUint32, err := GetNamedProperty(scope, dv, "setUint32")
		if err != nil {
			t.Fatalf("GetNamedProperty(setUint32): %v", err)
		}
		zero, _ := NewInt32(scope, 0)
		value, _ := NewInt32(scope, 0x01020304)
		if _, err := CallFunction(scope, setUint32, dv, []*Value{zero, value}); err != nil {
			t.Fatalf("setUint32 call: %v", err)
		}
		got, err := ArrayBufferBytes(buf)
		if err != nil {
			t.Fatalf("ArrayBufferBytes: %v", err)
		}
		if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
			t.Errorf("bytes = %v, want [1 2 3 4]", got)
		}
	})
}
