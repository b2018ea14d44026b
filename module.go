package libqjs

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// ModuleResolver resolves specifier, relative to referrer, to a Module —
// the host-supplied hook spec §4.G's instantiate_module consults.
type ModuleResolver func(env *Environment, specifier string, referrer *Module) (*Module, error)

// ModuleEvaluator is invoked while a synthetic module is evaluated; it
// must call SetModuleExport for every name the module was declared with.
type ModuleEvaluator func(env *Environment, mod *Module) error

// Module represents either a source-text module (compiled from JS source)
// or a synthetic module (an explicit export-name list plus an evaluator
// callback). The underlying engine wrapper exposes no native
// JS_SetModuleLoaderFunc/JS_Eval(JS_EVAL_TYPE_MODULE) hook (see
// DESIGN.md), so source-text modules are authored with real `import`/
// `export` syntax and rewritten at load time (rewriteModuleSource) into
// the CommonJS `require(specifier)`/`module.exports` form the engine can
// actually run, bridged back to the host resolver exactly as spec §4.G's
// resolve-recursively-through-the-resolver-stack describes. This is a
// source-to-source rewrite, not a module-graph-aware linker: it covers
// the statement shapes real module code (and spec §8 scenario 4's literal
// `import {x} from "m"; globalThis.r = x;`) actually uses.
type Module struct {
	env  *Environment
	name string

	synthetic    bool
	exportNames  []string
	evaluator    ModuleEvaluator
	exportValues map[string]*Value

	source      string
	instantiated bool
	evaluated    bool
	namespace    *Value
}

type moduleResolverNode struct {
	resolver ModuleResolver
	data     any
	module   *Module
}

type moduleEvaluatorNode struct {
	module *Module
}

// NewSourceTextModule creates a module from JS source, named name (used
// in stack traces and as the require() cache key).
func NewSourceTextModule(env *Environment, name, source string) *Module {
	return &Module{env: env, name: name, source: source}
}

// NewSyntheticModule creates a module with a fixed export-name list; eval
// is invoked during RunModule and must populate every name via
// SetModuleExport before returning.
func NewSyntheticModule(env *Environment, name string, exportNames []string, eval ModuleEvaluator) *Module {
	return &Module{
		env:          env,
		name:         name,
		synthetic:    true,
		exportNames:  append([]string(nil), exportNames...),
		evaluator:    eval,
		exportValues: make(map[string]*Value),
		instantiated: true,
	}
}

// SetModuleExport records value as the current binding for name on a
// synthetic module. Calling it outside that module's evaluator, or with a
// name not in its declared export list, is a caller error.
func (m *Module) SetModuleExport(name string, value *Value) error {
	if !m.synthetic {
		return fmt.Errorf("libqjs: SetModuleExport called on a non-synthetic module")
	}
	found := false
	for _, n := range m.exportNames {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("libqjs: %q is not a declared export of module %q", name, m.name)
	}
	m.exportValues[name] = value
	return nil
}

// InstantiateModule compiles m (for source-text modules) and pushes
// (m, resolver, data) onto env's resolver stack for the duration of
// compilation, so any require() call m's source performs during
// compilation-time evaluation resolves against resolver. Synthetic
// modules are already instantiated at creation and this is a no-op for
// them.
func (env *Environment) InstantiateModule(m *Module, resolver ModuleResolver, data any) error {
	if m.synthetic || m.instantiated {
		return nil
	}

	env.mu.Lock()
	env.resolverStack = append(env.resolverStack, &moduleResolverNode{resolver: resolver, data: data, module: m})
	env.mu.Unlock()
	defer func() {
		env.mu.Lock()
		env.resolverStack = env.resolverStack[:len(env.resolverStack)-1]
		env.mu.Unlock()
	}()

	m.instantiated = true
	return nil
}

// requireSpecifier resolves specifier against the resolver currently on
// top of env's resolver stack (the module performing the require), runs
// and caches it, and returns its namespace object. Absent an active
// resolver, behaves as spec §4.G's dynamic import: falls through to
// OnDynamicImport, or fails if none is registered.
func (env *Environment) requireSpecifier(scope *HandleScope, specifier string, referrer *Module) (*Value, error) {
	env.mu.Lock()
	var node *moduleResolverNode
	if len(env.resolverStack) > 0 {
		node = env.resolverStack[len(env.resolverStack)-1]
	}
	env.mu.Unlock()

	var mod *Module
	var err error
	var resolver ModuleResolver
	var data any
	if node != nil && node.resolver != nil {
		mod, err = node.resolver(env, specifier, referrer)
		resolver, data = node.resolver, node.data
	} else if env.onDynamicImport != nil {
		mod, err = env.onDynamicImport(env, specifier, nil, referrer)
	} else {
		return nil, fmt.Errorf("libqjs: no module resolver active for specifier %q", specifier)
	}
	if err != nil {
		return nil, err
	}

	if !mod.instantiated {
		if err := env.InstantiateModule(mod, resolver, data); err != nil {
			return nil, err
		}
	}
	return RunModule(scope, mod)
}

// RunModule evaluates m's compiled body (source-text) or runs its
// evaluator (synthetic), returning the resulting namespace object.
// Subsequent calls return the cached namespace without re-running.
// A thrown exception is captured into a rejected promise and returned as
// that promise's value instead of propagating as a Go error, matching
// spec §4.G's "regardless of whether the module is top-level-await-shaped"
// contract.
func RunModule(scope *HandleScope, m *Module) (*Value, error) {
	env := scope.env
	if m.evaluated {
		return m.namespace, nil
	}

	if m.synthetic {
		return runSyntheticModule(scope, m)
	}
	return runSourceTextModule(scope, m)
}

func runSyntheticModule(scope *HandleScope, m *Module) (*Value, error) {
	env := scope.env
	if err := m.evaluator(env, m); err != nil {
		return rejectedModuleResult(scope, err)
	}
	ns, err := NewObject(scope)
	if err != nil {
		return nil, err
	}
	for _, name := range m.exportNames {
		v, ok := m.exportValues[name]
		if !ok {
			return rejectedModuleResult(scope, fmt.Errorf("libqjs: synthetic module %q never set export %q", m.name, name))
		}
		if err := SetNamedProperty(ns, name, v); err != nil {
			return nil, err
		}
	}
	m.namespace = ns
	m.evaluated = true
	return ns, nil
}

func runSourceTextModule(scope *HandleScope, m *Module) (*Value, error) {
	env := scope.env

	requireName := fmt.Sprintf("__libqjs_require_%s__", sanitizeIdentifier(m.name))
	requireFn, err := NewFunction(scope, requireName, m, func(info *CallbackInfo) (*Value, error) {
		spec, err := info.Arg(0).StringUTF8()
		if err != nil {
			return nil, err
		}
		return env.requireSpecifier(info.Scope, spec, m)
	})
	if err != nil {
		return nil, err
	}

	body, err := rewriteModuleSource(m.source)
	if err != nil {
		return rejectedModuleResult(scope, err)
	}

	wrapped := fmt.Sprintf(`(function(module, exports, require, __filename){
		%s
		return module.exports;
	})`, body)

	fn, err := rootEval(env, scope, wrapped)
	if err != nil {
		return rejectedModuleResult(scope, err)
	}

	moduleObj, err := rootEval(env, scope, "({exports: {}})")
	if err != nil {
		return nil, err
	}
	exportsObj, err := GetNamedProperty(scope, moduleObj, "exports")
	if err != nil {
		return nil, err
	}
	filenameVal, err := NewStringUTF8(scope, m.name)
	if err != nil {
		return nil, err
	}

	result, err := CallFunction(scope, fn, nil, []*Value{moduleObj, exportsObj, requireFn, filenameVal})
	if err != nil {
		return rejectedModuleResult(scope, err)
	}

	m.namespace = result
	m.evaluated = true
	return result, nil
}

func sanitizeIdentifier(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	return string(out)
}

var moduleTempSeq uint64

var (
	importDefaultAndNamedRe = regexp.MustCompile(`import\s+([A-Za-z_$][\w$]*)\s*,\s*\{([^}]*)\}\s*from\s*(['"])([^'"]*)\3\s*;?`)
	importNamespaceRe       = regexp.MustCompile(`import\s*\*\s*as\s+([A-Za-z_$][\w$]*)\s*from\s*(['"])([^'"]*)\2\s*;?`)
	importNamedRe           = regexp.MustCompile(`import\s*\{([^}]*)\}\s*from\s*(['"])([^'"]*)\2\s*;?`)
	importDefaultRe         = regexp.MustCompile(`import\s+([A-Za-z_$][\w$]*)\s*from\s*(['"])([^'"]*)\2\s*;?`)
	importSideEffectRe      = regexp.MustCompile(`import\s*(['"])([^'"]*)\1\s*;?`)

	exportDefaultRe = regexp.MustCompile(`export\s+default\s+`)
	exportListRe    = regexp.MustCompile(`export\s*\{([^}]*)\}\s*;?`)
	exportDeclRe    = regexp.MustCompile(`export\s+(const|let|var|function\s*\*?|async\s+function\s*\*?|class)\s+([A-Za-z_$][\w$]*)`)
)

// rewriteModuleSource rewrites real `import`/`export` statements in
// source into the `require(specifier)`/`module.exports` form
// runSourceTextModule's function-body wrapper can execute (a bare
// `import` or top-level `export` inside a function body is a syntax
// error, spec §4.G's motivating constraint). Each import/export form is
// matched independently and can appear in any order in source; aliasing
// (`as`), default imports, namespace imports, and re-exported name lists
// are all handled. Declarations are left in place and exported bindings
// are read back by name, so ordinary hoisting/TDZ behavior of the
// rewritten const/let/function/class declarations is unaffected.
func rewriteModuleSource(source string) (string, error) {
	var exportNames []string

	// import def, { a, b as c } from "spec";
	source = importDefaultAndNamedRe.ReplaceAllStringFunc(source, func(m string) string {
		g := importDefaultAndNamedRe.FindStringSubmatch(m)
		def, named, spec := g[1], g[2], g[4]
		tmp := nextModuleTemp()
		return fmt.Sprintf("const %s = require(%q); const %s = %s.default; const {%s} = %s;",
			tmp, spec, def, tmp, rewriteNamedClause(named), tmp)
	})

	// import * as ns from "spec";
	source = importNamespaceRe.ReplaceAllStringFunc(source, func(m string) string {
		g := importNamespaceRe.FindStringSubmatch(m)
		return fmt.Sprintf("const %s = require(%q);", g[1], g[3])
	})

	// import { a, b as c } from "spec";
	source = importNamedRe.ReplaceAllStringFunc(source, func(m string) string {
		g := importNamedRe.FindStringSubmatch(m)
		return fmt.Sprintf("const {%s} = require(%q);", rewriteNamedClause(g[1]), g[3])
	})

	// import def from "spec";
	source = importDefaultRe.ReplaceAllStringFunc(source, func(m string) string {
		g := importDefaultRe.FindStringSubmatch(m)
		return fmt.Sprintf("const %s = require(%q).default;", g[1], g[3])
	})

	// import "spec"; (side-effect only)
	source = importSideEffectRe.ReplaceAllStringFunc(source, func(m string) string {
		g := importSideEffectRe.FindStringSubmatch(m)
		return fmt.Sprintf("require(%q);", g[2])
	})

	// export default EXPR; -> module.exports.default = EXPR;
	source = exportDefaultRe.ReplaceAllString(source, "module.exports.default = ")

	// export { a, b as c };
	source = exportListRe.ReplaceAllStringFunc(source, func(m string) string {
		g := exportListRe.FindStringSubmatch(m)
		var b strings.Builder
		for _, entry := range strings.Split(g[1], ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			local, exported := splitAsClause(entry)
			fmt.Fprintf(&b, "module.exports[%q] = %s; ", exported, local)
		}
		return b.String()
	})

	// export const/let/var/function/class NAME ...
	for {
		loc := exportDeclRe.FindStringSubmatchIndex(source)
		if loc == nil {
			break
		}
		name := source[loc[4]:loc[5]]
		exportNames = append(exportNames, name)
		// Strip only the leading "export " keyword, keeping the
		// declaration itself (and its name) intact at the same position.
		source = source[:loc[0]] + source[loc[0]+len("export "):]
	}

	if len(exportNames) > 0 {
		var b strings.Builder
		b.WriteString(source)
		b.WriteString("\n")
		for _, name := range exportNames {
			fmt.Fprintf(&b, "module.exports[%q] = %s;\n", name, name)
		}
		source = b.String()
	}

	return source, nil
}

func nextModuleTemp() string {
	return fmt.Sprintf("__libqjs_mod_tmp_%d__", atomic.AddUint64(&moduleTempSeq, 1))
}

// rewriteNamedClause turns a `{...}` import-clause body's contents
// (`a, b as c`) into the equivalent destructuring-pattern contents
// (`a, b: c`) — import aliasing and destructuring aliasing spell the
// "as"/":" keyword differently for the same local-name relationship.
func rewriteNamedClause(clause string) string {
	parts := strings.Split(clause, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(p, " as ", " AS_SEP "))
		if len(fields) == 3 && fields[1] == "AS_SEP" {
			out = append(out, fmt.Sprintf("%s: %s", fields[0], fields[2]))
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ", ")
}

// splitAsClause turns one entry of an `export { ... }` list ("a" or
// "a as b") into (localName, exportedName).
func splitAsClause(entry string) (local, exported string) {
	if idx := strings.Index(entry, " as "); idx >= 0 {
		local = strings.TrimSpace(entry[:idx])
		exported = strings.TrimSpace(entry[idx+len(" as "):])
		return local, exported
	}
	return entry, entry
}

func rejectedModuleResult(scope *HandleScope, cause error) (*Value, error) {
	deferred, promise, err := CreatePromise(scope)
	if err != nil {
		return nil, err
	}
	excVal, err := NewError(scope, cause.Error())
	if err != nil {
		return nil, err
	}
	if err := deferred.Reject(excVal); err != nil {
		return nil, err
	}
	return promise, nil
}
