package engine

import (
	"encoding/base64"
	"fmt"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// btChunkSize is the raw byte chunk size used by the fallback base64
// transfer path, matching the teacher's own constant and rationale:
// 192 KB raw per round trip, base64-inflated to 256 KB.
const btChunkSize = 196608

// NewArrayBufferFromBytes creates an ArrayBuffer whose contents are a copy
// of data. When the raw C API is reachable this is a single memcpy via
// JS_NewArrayBufferCopy, exactly as the teacher's WriteBinaryToJS does;
// otherwise it degrades to the chunked base64 bridge.
func (v *VM) NewArrayBufferFromBytes(data []byte) (*quickjs.Value, error) {
	if len(data) == 0 {
		return v.EvalValue("new ArrayBuffer(0)")
	}

	if !v.rawOK {
		return v.newArrayBufferFallback(data)
	}

	bufPtr := uintptr(unsafe.Pointer(&data[0]))
	raw := lib.XJS_NewArrayBufferCopy(v.tls, v.ctx, bufPtr, lib.Tsize_t(len(data)))

	cName, err := libc.CString("__tmp_engine_ab")
	if err != nil {
		lib.XFreeValue(v.tls, v.ctx, raw)
		return nil, fmt.Errorf("allocating property name: %w", err)
	}
	defer libc.Xfree(v.tls, cName)

	glob := lib.XJS_GetGlobalObject(v.tls, v.ctx)
	ret := lib.XJS_SetPropertyStr(v.tls, v.ctx, glob, cName, raw) // consumes raw
	lib.XFreeValue(v.tls, v.ctx, glob)
	if ret < 0 {
		return nil, fmt.Errorf("setting temp arraybuffer slot")
	}

	result, err := v.EvalValue("(function(){var b = globalThis.__tmp_engine_ab; delete globalThis.__tmp_engine_ab; return b;})()")
	if err != nil {
		return nil, fmt.Errorf("retrieving temp arraybuffer slot: %w", err)
	}
	return result, nil
}

// ReadBytes copies the bytes backing buf into a fresh Go slice, through
// the raw C API (JS_GetArrayBuffer) when available, otherwise through the
// chunked base64 bridge — mirroring the teacher's ReadBinaryFromJS.
func (v *VM) ReadBytes(buf *quickjs.Value) ([]byte, error) {
	if !v.rawOK {
		return v.readBytesFallback(buf)
	}

	name, cleanup, err := v.Bind(buf)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cName, err := libc.CString(name)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}
	defer libc.Xfree(v.tls, cName)

	glob := lib.XJS_GetGlobalObject(v.tls, v.ctx)
	jsVal := lib.XJS_GetPropertyStr(v.tls, v.ctx, glob, cName)
	lib.XFreeValue(v.tls, v.ctx, glob)

	var size lib.Tsize_t
	dataPtr := lib.XJS_GetArrayBuffer(v.tls, v.ctx, uintptr(unsafe.Pointer(&size)), jsVal)

	if dataPtr == 0 || size == 0 {
		lib.XFreeValue(v.tls, v.ctx, jsVal)
		return nil, nil
	}

	result := make([]byte, size)
	copy(result, unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), size))

	lib.XFreeValue(v.tls, v.ctx, jsVal)

	return result, nil
}

// --- fallback path: chunked base64 transfer over a hidden global ---

func (v *VM) newArrayBufferFallback(data []byte) (*quickjs.Value, error) {
	script := fmt.Sprintf("new ArrayBuffer(%d)", len(data))
	buf, err := v.EvalValue(script)
	if err != nil {
		return nil, fmt.Errorf("allocating arraybuffer: %w", err)
	}

	slotName, slotCleanup, err := v.Bind(buf)
	if err != nil {
		buf.Free()
		return nil, err
	}
	defer slotCleanup()

	for off := 0; off < len(data); off += btChunkSize {
		end := off + btChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := base64.StdEncoding.EncodeToString(data[off:end])
		writeScript := fmt.Sprintf(`(function(){
			var view = new Uint8Array(globalThis[%q]);
			var raw = atob(%q);
			for (var i = 0; i < raw.length; i++) view[%d + i] = raw.charCodeAt(i);
		})()`, slotName, chunk, off)
		if err := v.EvalDiscard(writeScript); err != nil {
			buf.Free()
			return nil, fmt.Errorf("writing binary chunk at offset %d: %w", off, err)
		}
	}

	return buf, nil
}

func (v *VM) readBytesFallback(buf *quickjs.Value) ([]byte, error) {
	name, cleanup, err := v.Bind(buf)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	size, err := v.EvalInt(fmt.Sprintf("globalThis[%q].byteLength", name))
	if err != nil {
		return nil, fmt.Errorf("reading byte length: %w", err)
	}
	if size == 0 {
		return nil, nil
	}

	result := make([]byte, 0, size)
	for off := 0; off < size; off += btChunkSize {
		end := off + btChunkSize
		if end > size {
			end = size
		}
		b64, err := v.EvalString(fmt.Sprintf(`(function(){
			var view = new Uint8Array(globalThis[%q]).subarray(%d, %d);
			var parts = [];
			for (var i = 0; i < view.length; i += 8192) {
				parts.push(String.fromCharCode.apply(null, view.subarray(i, Math.min(i + 8192, view.length))));
			}
			return btoa(parts.join(''));
		})()`, name, off, end))
		if err != nil {
			return nil, fmt.Errorf("reading binary chunk at offset %d: %w", off, err)
		}
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decoding binary chunk: %w", err)
		}
		result = append(result, decoded...)
	}
	return result, nil
}
