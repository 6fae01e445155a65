package dynload

import (
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// JSResolver is a ModuleResolver whose dependency-resolution policy is a
// user-supplied ECMAScript function: given a DT_NEEDED name, it returns
// either a filesystem path to load, or a falsy value meaning "not found".
// Exists so callers can script what satisfies a dependency without writing
// a new Go ModuleResolver per scenario.
type JSResolver struct {
	vm   *goja.Runtime
	fn   goja.Callable
	seen map[string]*Module
}

// NewJSResolver compiles script (expected to evaluate to a function taking
// one string argument, the dependency name) and returns a resolver that
// calls it on every miss.
func NewJSResolver(script string) (*JSResolver, error) {
	vm := goja.New()
	v, err := vm.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("dynload: jsresolver: compile: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("dynload: jsresolver: script must evaluate to a function")
	}
	return &JSResolver{vm: vm, fn: fn, seen: make(map[string]*Module)}, nil
}

// GetModule calls the scripted function with name. A returned string is
// treated as a path: its contents are read and loaded via LoadFromMemory,
// resolving further DT_NEEDED entries against this same JSResolver. Any
// other result (undefined, null, false, "") means "not found".
func (r *JSResolver) GetModule(name string) (Capability, error) {
	if m, ok := r.seen[name]; ok {
		return m, nil
	}

	result, err := r.fn(goja.Undefined(), r.vm.ToValue(name))
	if err != nil {
		return nil, fmt.Errorf("dynload: jsresolver: %s: %w", name, err)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) || !result.ToBoolean() {
		return nil, nil
	}

	path := result.String()
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dynload: jsresolver: read %s: %w", path, err)
	}
	m, err := LoadFromMemory(buf, r)
	if err != nil {
		return nil, fmt.Errorf("dynload: jsresolver: load %s: %w", path, err)
	}
	r.seen[name] = m
	return m, nil
}
