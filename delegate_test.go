package libqjs

import "testing"

func TestDelegate_GetAndHasTraps(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		target, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}

		traps := DelegateTraps{
			Get: func(_ *Environment, _, prop *Value) (*Value, error) {
				name, err := prop.StringUTF8()
				if err != nil {
					return nil, err
				}
				if name != "answer" {
					return nil, nil
				}
				return NewInt32(scope, 42)
			},
			Has: func(_ *Environment, _, prop *Value) (bool, error) {
				name, err := prop.StringUTF8()
				if err != nil {
					return false, err
				}
				return name == "answer", nil
			},
		}

		delegate, err := NewDelegate(scope, target, traps, "payload", nil, nil)
		if err != nil {
			t.Fatalf("NewDelegate: %v", err)
		}

		has, err := HasNamedProperty(delegate, "answer")
		if err != nil {
			t.Fatalf("HasNamedProperty: %v", err)
		}
		if !has {
			t.Error("HasNamedProperty(answer) = false, want true via Has trap")
		}

		has, err = HasNamedProperty(delegate, "missing")
		if err != nil {
			t.Fatalf("HasNamedProperty(missing): %v", err)
		}
		if has {
			t.Error("HasNamedProperty(missing) = true, want false via Has trap")
		}

		v, err := GetNamedProperty(scope, delegate, "answer")
		if err != nil {
			t.Fatalf("GetNamedProperty: %v", err)
		}
		if got := v.Int32(); got != 42 {
			t.Errorf("GetNamedProperty(answer) = %d, want 42", got)
		}

		if got := DelegateData(delegate); got != "payload" {
			t.Errorf("DelegateData = %v, want %q", got, "payload")
		}
	})
}

func TestDelegate_SetTrap(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		target, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}

		var gotProp string
		var gotValue int32
		traps := DelegateTraps{
			Set: func(_ *Environment, _, prop, value *Value) error {
				name, err := prop.StringUTF8()
				if err != nil {
					return err
				}
				gotProp = name
				gotValue = value.Int32()
				return nil
			},
		}
		delegate, err := NewDelegate(scope, target, traps, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewDelegate: %v", err)
		}

		value, err := NewInt32(scope, 7)
		if err != nil {
			t.Fatalf("NewInt32: %v", err)
		}
		if err := SetNamedProperty(delegate, "count", value); err != nil {
			t.Fatalf("SetNamedProperty: %v", err)
		}

		if gotProp != "count" || gotValue != 7 {
			t.Errorf("Set trap saw (%q, %d), want (\"count\", 7)", gotProp, gotValue)
		}
	})
}

func TestDelegate_FinalizeRunsAtTeardown(t *testing.T) {
	env := newTestEnv(t)

	var finalized bool
	withScope(env, func(scope *HandleScope) {
		target, err := NewObject(scope)
		if err != nil {
			t.Fatalf("NewObject: %v", err)
		}
		_, err = NewDelegate(scope, target, DelegateTraps{}, "hint-data", func(_ *Environment, data, hint any) {
			finalized = true
			if data != "hint-data" {
				t.Errorf("finalize data = %v, want %q", data, "hint-data")
			}
		}, nil)
		if err != nil {
			t.Fatalf("NewDelegate: %v", err)
		}
	})

	env.Destroy()
	if !finalized {
		t.Error("delegate finalizer never ran at teardown")
	}
}
