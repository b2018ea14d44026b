package libqjs

import (
	"encoding/json"
	"fmt"
)

// GetNamedProperty reads obj[name] (a plain string key) and roots the
// result in scope.
func GetNamedProperty(scope *HandleScope, obj *Value, name string) (*Value, error) {
	encodedName, err := json.Marshal(name)
	if err != nil {
		return nil, fmt.Errorf("encoding property name: %w", err)
	}
	return bindAndEval(obj.env, scope, obj, func(slot string) string {
		return fmt.Sprintf("globalThis[%q][%s]", slot, encodedName)
	})
}

// SetNamedProperty assigns obj[name] = value.
func SetNamedProperty(obj *Value, name string, value *Value) error {
	encodedName, err := json.Marshal(name)
	if err != nil {
		return fmt.Errorf("encoding property name: %w", err)
	}
	env := obj.env
	objSlot, objCleanup, err := env.vm.Bind(obj.inner())
	if err != nil {
		return err
	}
	defer objCleanup()
	valSlot, valCleanup, err := env.vm.Bind(value.inner())
	if err != nil {
		return err
	}
	defer valCleanup()

	script := fmt.Sprintf("globalThis[%q][%s] = globalThis[%q];", objSlot, encodedName, valSlot)
	return env.vm.EvalDiscard(script)
}

// HasNamedProperty reports whether name is present on obj (own or
// inherited, matching the `in` operator).
func HasNamedProperty(obj *Value, name string) (bool, error) {
	encodedName, err := json.Marshal(name)
	if err != nil {
		return false, fmt.Errorf("encoding property name: %w", err)
	}
	env := obj.env
	slot, cleanup, err := env.vm.Bind(obj.inner())
	if err != nil {
		return false, err
	}
	defer cleanup()
	n, err := env.vm.EvalInt(fmt.Sprintf("(%s in globalThis[%q]) ? 1 : 0", encodedName, slot))
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// DeleteNamedProperty removes name from obj, returning whether the
// delete succeeded (false for non-configurable properties in strict
// evaluation).
func DeleteNamedProperty(obj *Value, name string) (bool, error) {
	encodedName, err := json.Marshal(name)
	if err != nil {
		return false, fmt.Errorf("encoding property name: %w", err)
	}
	env := obj.env
	slot, cleanup, err := env.vm.Bind(obj.inner())
	if err != nil {
		return false, err
	}
	defer cleanup()
	n, err := env.vm.EvalInt(fmt.Sprintf("(delete globalThis[%q][%s]) ? 1 : 0", slot, encodedName))
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// GetElement and SetElement are the numeric-index forms of
// GetNamedProperty/SetNamedProperty.
func GetElement(scope *HandleScope, obj *Value, index uint32) (*Value, error) {
	return bindAndEval(obj.env, scope, obj, func(slot string) string {
		return fmt.Sprintf("globalThis[%q][%d]", slot, index)
	})
}

func SetElement(obj *Value, index uint32, value *Value) error {
	env := obj.env
	objSlot, objCleanup, err := env.vm.Bind(obj.inner())
	if err != nil {
		return err
	}
	defer objCleanup()
	valSlot, valCleanup, err := env.vm.Bind(value.inner())
	if err != nil {
		return err
	}
	defer valCleanup()
	return env.vm.EvalDiscard(fmt.Sprintf("globalThis[%q][%d] = globalThis[%q];", objSlot, index, valSlot))
}

// GetProperty/SetProperty/HasProperty take the key itself as a Value
// (covering Symbol keys, not just plain strings).
func GetProperty(scope *HandleScope, obj *Value, key *Value) (*Value, error) {
	env := obj.env
	objSlot, objCleanup, err := env.vm.Bind(obj.inner())
	if err != nil {
		return nil, err
	}
	defer objCleanup()
	keySlot, keyCleanup, err := env.vm.Bind(key.inner())
	if err != nil {
		return nil, err
	}
	defer keyCleanup()
	return rootEval(env, scope, fmt.Sprintf("globalThis[%q][globalThis[%q]]", objSlot, keySlot))
}

func SetProperty(obj *Value, key *Value, value *Value) error {
	env := obj.env
	objSlot, c1, err := env.vm.Bind(obj.inner())
	if err != nil {
		return err
	}
	defer c1()
	keySlot, c2, err := env.vm.Bind(key.inner())
	if err != nil {
		return err
	}
	defer c2()
	valSlot, c3, err := env.vm.Bind(value.inner())
	if err != nil {
		return err
	}
	defer c3()
	return env.vm.EvalDiscard(fmt.Sprintf(
		"globalThis[%q][globalThis[%q]] = globalThis[%q];", objSlot, keySlot, valSlot))
}

// GetPropertyNames lists obj's own enumerable string-keyed property
// names, the backing for the spec's "list property names" surface.
func GetPropertyNames(obj *Value) ([]string, error) {
	env := obj.env
	slot, cleanup, err := env.vm.Bind(obj.inner())
	if err != nil {
		return nil, err
	}
	defer cleanup()
	js, err := env.vm.EvalString(fmt.Sprintf("JSON.stringify(Object.keys(globalThis[%q]))", slot))
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(js), &names); err != nil {
		return nil, fmt.Errorf("decoding property names: %w", err)
	}
	return names, nil
}

// PropertyDescriptor mirrors the fields define-properties accepts:
// Value for a data property, or Get/Set for an accessor (at most one of
// the two shapes should be populated).
type PropertyDescriptor struct {
	Name         string
	Value        *Value
	Get          *Value
	Set          *Value
	Enumerable   bool
	Configurable bool
	Writable     bool
}

// DefineProperties installs each descriptor on obj via
// Object.defineProperty, matching the engine semantics exactly (rather
// than re-deriving them) instead of poking properties one at a time.
func DefineProperties(obj *Value, descriptors []PropertyDescriptor) error {
	env := obj.env
	objSlot, cleanup, err := env.vm.Bind(obj.inner())
	if err != nil {
		return err
	}
	defer cleanup()

	for _, d := range descriptors {
		if err := defineOneProperty(env, objSlot, d); err != nil {
			return fmt.Errorf("defining property %q: %w", d.Name, err)
		}
	}
	return nil
}

func defineOneProperty(env *Environment, objSlot string, d PropertyDescriptor) error {
	nameJSON, err := json.Marshal(d.Name)
	if err != nil {
		return err
	}

	var cleanups []func()
	defer func() {
		for _, c := range cleanups {
			c()
		}
	}()

	fields := fmt.Sprintf("enumerable: %v, configurable: %v", d.Enumerable, d.Configurable)
	switch {
	case d.Get != nil || d.Set != nil:
		if d.Get != nil {
			slot, c, err := env.vm.Bind(d.Get.inner())
			if err != nil {
				return err
			}
			cleanups = append(cleanups, c)
			fields += fmt.Sprintf(", get: globalThis[%q]", slot)
		}
		if d.Set != nil {
			slot, c, err := env.vm.Bind(d.Set.inner())
			if err != nil {
				return err
			}
			cleanups = append(cleanups, c)
			fields += fmt.Sprintf(", set: globalThis[%q]", slot)
		}
	default:
		valSlot, c, err := env.vm.Bind(d.Value.inner())
		if err != nil {
			return err
		}
		cleanups = append(cleanups, c)
		fields += fmt.Sprintf(", value: globalThis[%q], writable: %v", valSlot, d.Writable)
	}

	script := fmt.Sprintf("Object.defineProperty(globalThis[%q], %s, {%s});", objSlot, nameJSON, fields)
	return env.vm.EvalDiscard(script)
}

// ClassMember describes one member of a DefineClass call: a name, a
// native-backed value (typically produced by NewFunction), and whether
// it belongs on the constructor itself (static) rather than on
// prototype.
type ClassMember struct {
	Name     string
	Value    *Value
	IsStatic bool
}

// DefineClass creates a constructor function named name and installs
// members on its prototype (IsStatic == false) or on the constructor
// itself (IsStatic == true), mirroring the instance-vs-static descriptor
// split spec §6 calls for ("static" attribute bit).
func DefineClass(scope *HandleScope, name string, constructor *Value, members []ClassMember) (*Value, error) {
	env := scope.env
	ctorSlot, cleanup, err := env.vm.Bind(constructor.inner())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	for _, m := range members {
		target := "prototype"
		if m.IsStatic {
			target = ""
		}
		memberSlot, mc, err := env.vm.Bind(m.Value.inner())
		if err != nil {
			return nil, err
		}
		nameJSON, _ := json.Marshal(m.Name)
		var script string
		if target == "" {
			script = fmt.Sprintf("globalThis[%q][%s] = globalThis[%q];", ctorSlot, nameJSON, memberSlot)
		} else {
			script = fmt.Sprintf("globalThis[%q].prototype[%s] = globalThis[%q];", ctorSlot, nameJSON, memberSlot)
		}
		err = env.vm.EvalDiscard(script)
		mc()
		if err != nil {
			return nil, fmt.Errorf("installing class member %q: %w", m.Name, err)
		}
	}

	return rootEval(env, scope, fmt.Sprintf("globalThis[%q]", ctorSlot))
}
