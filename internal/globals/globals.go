// Package globals implements spec.md §4.6: the two well-known proxy
// tables, _home (persistent) and _io (per-call), and the
// attach/reset operations the exports boundary drives. It also
// registers §4.5's script-visible ext module (ext.new_table/ext.attach/
// ext.keys), the only place a script can reach exttable.Manager at all.
package globals

import (
	"fmt"

	"github.com/extio/luabridge/internal/exttable"
	"github.com/extio/luabridge/internal/luavm"
)

const (
	homeGlobal  = "_home"
	ioGlobal    = "_io"
	extGlobal   = "ext"
	aliasGlobal = "Memory"
	slotInput   = "input"
	slotOutput  = "output"
	slotMeta    = "meta"
)

// Globals owns the two canonical proxies' lifecycle against one
// luavm.Interp and exttable.Manager.
type Globals struct {
	interp  *luavm.Interp
	manager *exttable.Manager

	homeID uint32
	ioID   uint32

	aliasEnabled bool
}

func New(interp *luavm.Interp, manager *exttable.Manager) *Globals {
	return &Globals{interp: interp, manager: manager}
}

// Init implements the `init` export's global-setup steps (§4.6):
// create _io fresh, and create _home unless a prior ID is already
// known (priorHomeID == 0 means "none supplied yet").
func (g *Globals) Init(priorHomeID uint32) {
	g.registerExt()

	io := g.manager.NewTable()
	g.ioID = io.ExtTableID
	g.interp.SetGlobal(ioGlobal, luavm.TableValue(io))

	if priorHomeID == 0 {
		home := g.manager.NewTable()
		g.homeID = home.ExtTableID
	} else {
		g.homeID = priorHomeID
	}
	g.setHomeGlobal()
}

// registerExt installs §4.5's script-visible ext module: ext.new_table(),
// ext.attach(id), ext.keys(t). This is the only script-reachable path to
// exttable.Manager — Runtime.NewTable (bridge.go) is the Go-host
// equivalent, used before a script runs rather than from within one.
func (g *Globals) registerExt() {
	ext := luavm.NewTable()
	set := func(name string, fn func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error)) {
		_ = ext.RawSet(luavm.Str(name), luavm.NativeValue(&luavm.NativeFunc{Name: "ext." + name, Fn: fn}))
	}
	set("new_table", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		return []luavm.Value{luavm.TableValue(g.manager.NewTable())}, nil
	})
	set("attach", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		if len(args) == 0 || !args[0].IsInt() {
			return nil, fmt.Errorf("ext.attach: expected an integer table id")
		}
		return []luavm.Value{luavm.TableValue(g.manager.Attach(uint32(args[0].AsInt())))}, nil
	})
	set("keys", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		if len(args) == 0 || !args[0].IsTable() {
			return nil, fmt.Errorf("ext.keys: expected a proxy table")
		}
		keys, err := g.manager.Keys(args[0].AsTable())
		if err != nil {
			return nil, err
		}
		return []luavm.Value{luavm.Str(keys)}, nil
	})
	g.interp.SetGlobal(extGlobal, luavm.TableValue(ext))
}

func (g *Globals) setHomeGlobal() {
	home := g.manager.Attach(g.homeID)
	g.interp.SetGlobal(homeGlobal, luavm.TableValue(home))
	if g.aliasEnabled {
		g.interp.SetGlobal(aliasGlobal, luavm.TableValue(home))
	}
}

// AttachMemoryTable implements attach_memory_table(id): reattach an
// existing ID as _home, overwriting the global. The caller (the
// exports boundary) is responsible for having already called
// lifecycle.Counter.Sync beforehand, per §4.8 step ordering.
func (g *Globals) AttachMemoryTable(id uint32) {
	g.homeID = id
	g.setHomeGlobal()
}

// SetMemoryAliasEnabled implements the set_memory_alias_enabled export
// (§4.6 step 3's "legacy alias toggle").
func (g *Globals) SetMemoryAliasEnabled(enabled bool) {
	g.aliasEnabled = enabled
	if enabled {
		home := g.manager.Attach(g.homeID)
		g.interp.SetGlobal(aliasGlobal, luavm.TableValue(home))
	} else {
		g.interp.SetGlobal(aliasGlobal, luavm.Nil)
	}
}

// MemoryTableID implements get_memory_table_id.
func (g *Globals) MemoryTableID() uint32 { return g.homeID }

// IOTableID implements get_io_table_id.
func (g *Globals) IOTableID() uint32 { return g.ioID }

// ClearIOTable implements clear_io_table: nil out input/output/meta
// without tearing down the proxy itself (§4.6: "_io contract").
func (g *Globals) ClearIOTable() error {
	io := g.manager.Attach(g.ioID)
	ioVal := luavm.TableValue(io)
	for _, slot := range []string{slotInput, slotOutput, slotMeta} {
		if err := g.interp.NewIndex(ioVal, luavm.Str(slot), luavm.Nil); err != nil {
			return err
		}
	}
	return nil
}

// SetInput implements the host-side set_input convenience: encode an
// arbitrary script value into _io.input. v is supplied already as a
// luavm.Value; the exports boundary (bridge.Runtime.SetInput) passes
// the host's value through unchanged, so building that value is the
// host's job.
func (g *Globals) SetInput(v luavm.Value) error {
	return g.setIOSlot(slotInput, v)
}

// SetMeta implements set_meta.
func (g *Globals) SetMeta(v luavm.Value) error {
	return g.setIOSlot(slotMeta, v)
}

func (g *Globals) setIOSlot(slot string, v luavm.Value) error {
	io := g.manager.Attach(g.ioID)
	return g.interp.NewIndex(luavm.TableValue(io), luavm.Str(slot), v)
}

// Output reads _io.output back out for the host.
func (g *Globals) Output() (luavm.Value, error) {
	io := g.manager.Attach(g.ioID)
	return g.interp.Index(luavm.TableValue(io), luavm.Str(slotOutput))
}
