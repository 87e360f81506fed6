package luavm

import "fmt"

// State is the small lua_State-shaped facade the rest of this module
// programs against, so internal/exttable, internal/funccodec, and
// internal/dispatch read the way they would against the real C
// embedding API rather than against these tree-walking internals.
type State struct {
	*Interp
}

// NewState creates a VM with the standard library loaded, the
// equivalent of luaL_newstate + luaL_openlibs.
func NewState() *State {
	s := &State{Interp: NewInterp()}
	s.OpenLibs()
	return s
}

// LoadString compiles source into a callable chunk without running it,
// the analogue of luaL_loadstring. A syntax error here is spec.md's
// `Compile` error kind.
func (s *State) LoadString(src string) (*Function, error) {
	stmts, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Function{Body: stmts, Env: s.Global, Vararg: true}, nil
}

// PCall runs a chunk in protected mode: an internal panic (stack
// overflow, a nil dereference in a native function) is recovered and
// reported as an error instead of reaching the host, the same contract
// lua_pcall gives a C embedder.
func (s *State) PCall(fn *Function) (vals []Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("luavm: %v", r)
		}
	}()
	return s.CallValue(FunctionValue(fn), nil)
}

// NewLuaTable is the analogue of lua_newtable.
func (s *State) NewLuaTable() *Table { return NewTable() }
