package starlarkvm

import (
	"sync"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

var (
	modulesMu sync.RWMutex
	modules   = map[string]starlark.Value{}
)

func init() {
	RegisterModule("math", math.Module)
	RegisterModule("time", time.Module)
	RegisterModule("json", json.Module)
}

// RegisterModule makes v importable under name ahead of the import chain.
func RegisterModule(name string, v starlark.Value) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules[name] = v
}

func lookupModule(name string) (starlark.Value, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	v, ok := modules[name]
	return v, ok
}

// moduleMembers returns the members a load statement can bind from a built-in module.
func moduleMembers(name string, v starlark.Value) starlark.StringDict {
	if m, ok := v.(*starlarkstruct.Module); ok {
		return m.Members
	}
	return starlark.StringDict{name: v}
}
