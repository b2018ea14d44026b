// Package memlimit picks a default heap ceiling for a freshly created
// QuickJS environment, the way js_create_env's fallback path does: the
// lesser of the process's constrained memory and the host's total memory.
package memlimit

import "github.com/pbnjay/memory"

// Default returns the memory limit, in bytes, to apply to an environment
// that was not given an explicit one. It mirrors the original's
// uv_get_constrained_memory/uv_get_total_memory pair, except that this
// pack carries no dependency that reliably reports cgroup-constrained
// memory without side effects (see DESIGN.md), so the "constrained"
// half of the comparison is always absent and the total is used as-is.
//
// A return of 0 means no limit could be determined; the caller should
// leave the runtime's allocator unconstrained in that case.
func Default() uint64 {
	return memory.TotalMemory()
}
