package libqjs

import "testing"

func TestSyntheticModule_ExportsViaEvaluator(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		mod := NewSyntheticModule(env, "config", []string{"greeting"}, func(env *Environment, m *Module) error {
			v, err := NewStringUTF8(env.globalScope(), "hello")
			if err != nil {
				return err
			}
			return m.SetModuleExport("greeting", v)
		})

		ns, err := RunModule(scope, mod)
		if err != nil {
			t.Fatalf("RunModule: %v", err)
		}
		greeting, err := GetNamedProperty(scope, ns, "greeting")
		if err != nil {
			t.Fatalf("GetNamedProperty: %v", err)
		}
		got, err := greeting.StringUTF8()
		if err != nil {
			t.Fatalf("StringUTF8: %v", err)
		}
		if got != "hello" {
			t.Errorf("greeting = %q, want %q", got, "hello")
		}
	})
}

func TestSyntheticModule_MissingExportRejects(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		mod := NewSyntheticModule(env, "broken", []string{"missing"}, func(env *Environment, m *Module) error {
			return nil
		})

		result, err := RunModule(scope, mod)
		if err != nil {
			t.Fatalf("RunModule returned a Go error instead of a rejected promise: %v", err)
		}
		if GetPromiseState(result) != PromiseRejected {
			t.Fatalf("state = %v, want Rejected", GetPromiseState(result))
		}
	})
}

func TestSourceTextModule_RequireResolvesAgainstActiveResolver(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		dep := NewSyntheticModule(env, "dep", []string{"value"}, func(env *Environment, m *Module) error {
			v, err := NewInt32(env.globalScope(), 21)
			if err != nil {
				return err
			}
			return m.SetModuleExport("value", v)
		})

		main := NewSourceTextModule(env, "main", `
			var dep = require("dep");
			module.exports = { doubled: dep.value * 2 };
		`)

		resolver := func(_ *Environment, specifier string, _ *Module) (*Module, error) {
			if specifier == "dep" {
				return dep, nil
			}
			return nil, errUnknownSpecifier(specifier)
		}

		if err := env.InstantiateModule(main, resolver, nil); err != nil {
			t.Fatalf("InstantiateModule: %v", err)
		}

		ns, err := RunModule(scope, main)
		if err != nil {
			t.Fatalf("RunModule: %v", err)
		}
		doubled, err := GetNamedProperty(scope, ns, "doubled")
		if err != nil {
			t.Fatalf("GetNamedProperty: %v", err)
		}
		if got := doubled.Int32(); got != 42 {
			t.Errorf("doubled = %d, want 42", got)
		}
	})
}

func TestRunModule_CachesNamespaceAcrossCalls(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		calls := 0
		mod := NewSyntheticModule(env, "once", []string{"n"}, func(env *Environment, m *Module) error {
			calls++
			v, err := NewInt32(env.globalScope(), int32(calls))
			if err != nil {
				return err
			}
			return m.SetModuleExport("n", v)
		})

		if _, err := RunModule(scope, mod); err != nil {
			t.Fatalf("first RunModule: %v", err)
		}
		if _, err := RunModule(scope, mod); err != nil {
			t.Fatalf("second RunModule: %v", err)
		}
		if calls != 1 {
			t.Fatalf("evaluator ran %d times, want 1", calls)
		}
	})
}

func TestSourceTextModule_LiteralImportExportSyntax(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		dep := NewSourceTextModule(env, "m", `
			export const x = 41;
			export function bump(n) { return n + 1; }
		`)
		resolver := func(_ *Environment, specifier string, _ *Module) (*Module, error) {
			if specifier == "m" {
				return dep, nil
			}
			return nil, errUnknownSpecifier(specifier)
		}
		if err := env.InstantiateModule(dep, resolver, nil); err != nil {
			t.Fatalf("InstantiateModule(dep): %v", err)
		}

		main := NewSourceTextModule(env, "main", `
			import {x, bump} from "m";
			globalThis.r = bump(x);
		`)
		if err := env.InstantiateModule(main, resolver, nil); err != nil {
			t.Fatalf("InstantiateModule(main): %v", err)
		}

		if _, err := RunModule(scope, main); err != nil {
			t.Fatalf("RunModule: %v", err)
		}

		r, err := rootEval(env, scope, "globalThis.r")
		if err != nil {
			t.Fatalf("reading globalThis.r: %v", err)
		}
		if got := r.Int32(); got != 42 {
			t.Errorf("globalThis.r = %d, want 42", got)
		}
	})
}

func TestSourceTextModule_DefaultAndNamespaceImports(t *testing.T) {
	env := newTestEnv(t)
	withScope(env, func(scope *HandleScope) {
		dep := NewSourceTextModule(env, "lib", `
			export default 7;
			export const tag = "lib";
		`)
		resolver := func(_ *Environment, specifier string, _ *Module) (*Module, error) {
			if specifier == "lib" {
				return dep, nil
			}
			return nil, errUnknownSpecifier(specifier)
		}
		if err := env.InstantiateModule(dep, resolver, nil); err != nil {
			t.Fatalf("InstantiateModule(dep): %v", err)
		}

		main := NewSourceTextModule(env, "main", `
			import def, { tag as t } from "lib";
			import * as ns from "lib";
			module.exports = { sum: def + ns.default, tag: t };
		`)
		if err := env.InstantiateModule(main, resolver, nil); err != nil {
			t.Fatalf("InstantiateModule(main): %v", err)
		}

		ns, err := RunModule(scope, main)
		if err != nil {
			t.Fatalf("RunModule: %v", err)
		}
		sum, err := GetNamedProperty(scope, ns, "sum")
		if err != nil {
			t.Fatalf("GetNamedProperty(sum): %v", err)
		}
		if got := sum.Int32(); got != 14 {
			t.Errorf("sum = %d, want 14", got)
		}
		tag, err := GetNamedProperty(scope, ns, "tag")
		if err != nil {
			t.Fatalf("GetNamedProperty(tag): %v", err)
		}
		got, err := tag.StringUTF8()
		if err != nil {
			t.Fatalf("StringUTF8: %v", err)
		}
		if got != "lib" {
			t.Errorf("tag = %q, want %q", got, "lib")
		}
	})
}

type unknownSpecifierError struct{ specifier string }

func (e *unknownSpecifierError) Error() string {
	return "libqjs: no such module " + e.specifier
}

func errUnknownSpecifier(specifier string) error {
	return &unknownSpecifierError{specifier: specifier}
}
