package libqjs

import "fmt"

// DelegateGetFunc implements a delegate's get trap. A nil *Value return
// (with nil error) means "property absent", matching spec §4.M's "a null
// return means absent" contract.
type DelegateGetFunc func(env *Environment, target, prop *Value) (*Value, error)

// DelegateHasFunc implements a delegate's has trap.
type DelegateHasFunc func(env *Environment, target, prop *Value) (bool, error)

// DelegateSetFunc implements a delegate's set trap.
type DelegateSetFunc func(env *Environment, target, prop, value *Value) error

// DelegateDeleteFunc implements a delegate's delete_property trap.
type DelegateDeleteFunc func(env *Environment, target, prop *Value) (bool, error)

// DelegateOwnKeysFunc implements a delegate's own_keys trap.
type DelegateOwnKeysFunc func(env *Environment, target *Value) ([]string, error)

// DelegateTraps bundles the optional exotic-object hooks a delegate
// installs (spec §4.M). A nil field means that trap is not provided and
// the engine's default object behavior applies.
type DelegateTraps struct {
	Get       DelegateGetFunc
	Has       DelegateHasFunc
	Set       DelegateSetFunc
	Delete    DelegateDeleteFunc
	OwnKeys   DelegateOwnKeysFunc
}

type delegateRecord struct {
	target *Value
	traps  DelegateTraps
	data   any
	hint   any
}

// NewDelegate creates a Proxy-backed delegate over target, dispatching
// property access through traps (spec §4.M). Delegates carry a finalizer
// record (finalizer.go's AddFinalizer chain, reused rather than a
// separate mechanism) that runs finalize with data and hint when the
// engine collects the delegate.
func NewDelegate(scope *HandleScope, target *Value, traps DelegateTraps, data any, finalize FinalizeFunc, hint any) (*Value, error) {
	env := scope.env
	if err := env.ensureRegistry(); err != nil {
		return nil, err
	}

	handler, err := NewObject(scope)
	if err != nil {
		return nil, err
	}

	if traps.Has != nil {
		fn, err := NewFunction(scope, "has", nil, func(info *CallbackInfo) (*Value, error) {
			ok, err := traps.Has(env, target, info.Arg(1))
			if err != nil {
				return nil, err
			}
			return NewBool(info.Scope, ok)
		})
		if err != nil {
			return nil, err
		}
		if err := SetNamedProperty(handler, "has", fn); err != nil {
			return nil, err
		}
	}

	if traps.Get != nil {
		fn, err := NewFunction(scope, "get", nil, func(info *CallbackInfo) (*Value, error) {
			v, err := traps.Get(env, target, info.Arg(1))
			if err != nil {
				return nil, err
			}
			if v == nil {
				return NewUndefined(info.Scope)
			}
			return v, nil
		})
		if err != nil {
			return nil, err
		}
		if err := SetNamedProperty(handler, "get", fn); err != nil {
			return nil, err
		}
	}

	if traps.Set != nil {
		fn, err := NewFunction(scope, "set", nil, func(info *CallbackInfo) (*Value, error) {
			if err := traps.Set(env, target, info.Arg(1), info.Arg(2)); err != nil {
				return nil, err
			}
			return NewBool(info.Scope, true)
		})
		if err != nil {
			return nil, err
		}
		if err := SetNamedProperty(handler, "set", fn); err != nil {
			return nil, err
		}
	}

	if traps.Delete != nil {
		fn, err := NewFunction(scope, "deleteProperty", nil, func(info *CallbackInfo) (*Value, error) {
			ok, err := traps.Delete(env, target, info.Arg(1))
			if err != nil {
				return nil, err
			}
			return NewBool(info.Scope, ok)
		})
		if err != nil {
			return nil, err
		}
		if err := SetNamedProperty(handler, "deleteProperty", fn); err != nil {
			return nil, err
		}
	}

	if traps.OwnKeys != nil {
		fn, err := NewFunction(scope, "ownKeys", nil, func(info *CallbackInfo) (*Value, error) {
			names, err := traps.OwnKeys(env, target)
			if err != nil {
				return nil, err
			}
			arr, err := NewArray(info.Scope, 0)
			if err != nil {
				return nil, err
			}
			for i, n := range names {
				s, err := NewStringUTF8(info.Scope, n)
				if err != nil {
					return nil, err
				}
				if err := SetElement(arr, uint32(i), s); err != nil {
					return nil, err
				}
			}
			return arr, nil
		})
		if err != nil {
			return nil, err
		}
		if err := SetNamedProperty(handler, "ownKeys", fn); err != nil {
			return nil, err
		}
	}

	delegate, err := twoSlotEval(env, scope, target, handler, "new Proxy(globalThis[%q], globalThis[%q])")
	if err != nil {
		return nil, err
	}

	if err := bindAndEvalDiscard(env, delegate, func(slot string) string {
		return fmt.Sprintf("%s.proxies.add(globalThis[%q]);", registryGlobal, slot)
	}); err != nil {
		return nil, err
	}

	env.mu.Lock()
	if env.delegates == nil {
		env.delegates = make(map[*Value]*delegateRecord)
	}
	env.delegates[delegate] = &delegateRecord{target: target, traps: traps, data: data, hint: hint}
	env.mu.Unlock()

	if finalize != nil {
		if err := AddFinalizer(delegate, data, finalize, hint); err != nil {
			return nil, err
		}
	}

	return delegate, nil
}

// twoSlotEval binds a and b under generated globals and evaluates
// scriptf(aSlot, bSlot).
func twoSlotEval(env *Environment, scope *HandleScope, a, b *Value, scriptFmt string) (*Value, error) {
	aSlot, aCleanup, err := env.vm.Bind(a.inner())
	if err != nil {
		return nil, err
	}
	defer aCleanup()
	bSlot, bCleanup, err := env.vm.Bind(b.inner())
	if err != nil {
		return nil, err
	}
	defer bCleanup()
	return rootEval(env, scope, fmt.Sprintf(scriptFmt, aSlot, bSlot))
}

// DelegateData returns the data associated with a delegate created by
// NewDelegate, or nil if v is not such a delegate.
func DelegateData(v *Value) any {
	v.env.mu.Lock()
	rec, ok := v.env.delegates[v]
	v.env.mu.Unlock()
	if !ok {
		return nil
	}
	return rec.data
}
