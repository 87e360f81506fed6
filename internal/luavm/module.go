package luavm

import "fmt"

// Preloaded modules give embedders (internal/bigint) a place to hang a
// Go-implemented module behind the VM's standard module loader, the
// same role package.preload plays for a real Lua embedding: a script
// calls require("name") and gets back whatever the loader produces,
// computed at most once per Interp.
type preloadEntry struct {
	loader func() *Table
	loaded *Table
}

// Preload registers a module loader for require(name) to resolve.
// Embedders call this during setup, before any script runs; the
// loader itself runs lazily, the first time a script actually
// requires the module.
func (i *Interp) Preload(name string, loader func() *Table) {
	if i.preload == nil {
		i.preload = make(map[string]*preloadEntry)
		i.Register("require", i.builtinRequire)
	}
	i.preload[name] = &preloadEntry{loader: loader}
}

func (i *Interp) builtinRequire(_ *Interp, args []Value) ([]Value, error) {
	if len(args) == 0 || !args[0].IsString() {
		return nil, fmt.Errorf("luavm: require expects a module name string")
	}
	name := args[0].AsString()
	entry, ok := i.preload[name]
	if !ok {
		return nil, fmt.Errorf("luavm: module %q not found", name)
	}
	if entry.loaded == nil {
		entry.loaded = entry.loader()
	}
	return []Value{TableValue(entry.loaded)}, nil
}
