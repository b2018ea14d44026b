package engine

import (
	"fmt"
	"sync/atomic"

	"modernc.org/quickjs"
)

// slotSeq generates unique hidden-global names, the same way the teacher's
// execute.go numbers __fn_arg_0, __fn_arg_1, ... per call.
var slotSeq uint64

func nextSlotName(prefix string) string {
	return fmt.Sprintf("__%s_%d", prefix, atomic.AddUint64(&slotSeq, 1))
}

// Bind installs value under a freshly generated hidden global name and
// returns that name plus a cleanup that deletes it. This is the general
// form of the teacher's "set a global, reference it from a script,
// delete it" convention (SetGlobal + globalThis.__fn_arg_N in
// execute.go, globalThisCleanupJS in pool.go).
func (v *VM) Bind(value *quickjs.Value) (name string, cleanup func(), err error) {
	name = nextSlotName("slot")
	atom, err := v.vm.NewAtom(name)
	if err != nil {
		return "", nil, fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := v.vm.GlobalObject()
	setErr := glob.SetProperty(atom, value)
	glob.Free()
	if setErr != nil {
		return "", nil, fmt.Errorf("binding %q: %w", name, setErr)
	}
	return name, func() {
		_ = v.EvalDiscard(fmt.Sprintf("delete globalThis[%q];", name))
	}, nil
}

// BindMany binds several values at once and returns one cleanup that
// removes all of them. Partial failures unwind the bindings already
// made.
func (v *VM) BindMany(values []*quickjs.Value) (names []string, cleanup func(), err error) {
	names = make([]string, 0, len(values))
	var cleanups []func()
	cleanup = func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	for _, val := range values {
		name, c, bindErr := v.Bind(val)
		if bindErr != nil {
			cleanup()
			return nil, nil, bindErr
		}
		names = append(names, name)
		cleanups = append(cleanups, c)
	}
	return names, cleanup, nil
}

// Call evaluates a snippet that references bound globals and returns the
// rooted result, mirroring execute.go's "build a call script against
// globalThis.__fn_arg_N, EvalValue it" pattern.
func (v *VM) Call(script string) (*quickjs.Value, error) {
	return v.EvalValue(script)
}
