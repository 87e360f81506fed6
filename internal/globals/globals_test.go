package globals

import (
	"testing"

	"github.com/extio/luabridge/internal/exttable"
	"github.com/extio/luabridge/internal/funccodec"
	"github.com/extio/luabridge/internal/hoststore"
	"github.com/extio/luabridge/internal/lifecycle"
	"github.com/extio/luabridge/internal/luavm"
	"github.com/extio/luabridge/internal/wire"
)

func newTestGlobals(t *testing.T) (*luavm.Interp, *exttable.Manager, *Globals) {
	t.Helper()
	state := luavm.NewState()
	counter := lifecycle.New()
	store := hoststore.NewMemstore()
	manager := exttable.NewManager(store, counter.Next)
	reg := funccodec.Build(state.Interp)
	codec := wire.New(reg, manager, state.Global)
	manager.SetCodec(codec)
	return state.Interp, manager, New(state.Interp, manager)
}

func TestInitCreatesHomeAndIO(t *testing.T) {
	interp, _, g := newTestGlobals(t)
	g.Init(0)

	if g.MemoryTableID() == 0 {
		t.Fatal("MemoryTableID() must be nonzero after init with no prior id")
	}
	if g.IOTableID() == 0 {
		t.Fatal("IOTableID() must be nonzero after init")
	}
	if g.MemoryTableID() == g.IOTableID() {
		t.Fatal("_home and _io must not share a table id")
	}

	home := interp.GetGlobal("_home")
	if !home.IsTable() {
		t.Fatal("_home global must be a table after init")
	}
	io := interp.GetGlobal("_io")
	if !io.IsTable() {
		t.Fatal("_io global must be a table after init")
	}
}

func TestInitWithPriorHomeIDAttaches(t *testing.T) {
	interp, _, g := newTestGlobals(t)
	g.Init(777)
	if g.MemoryTableID() != 777 {
		t.Fatalf("MemoryTableID() = %d, want 777", g.MemoryTableID())
	}
	home := interp.GetGlobal("_home")
	if home.AsTable().ExtTableID != 777 {
		t.Fatalf("_home's ExtTableID = %d, want 777", home.AsTable().ExtTableID)
	}
}

// §8 property 4: _home persistence across attach.
func TestHomePersistsAcrossAttach(t *testing.T) {
	interp, manager, g := newTestGlobals(t)
	g.Init(0)

	home := interp.GetGlobal("_home")
	if err := interp.NewIndex(home, luavm.Str("counter"), luavm.Int(1)); err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	id := g.MemoryTableID()

	// Simulate a fresh Globals (new "process") attaching to the same id.
	_ = manager
	g2 := New(interp, manager)
	g2.AttachMemoryTable(id)

	reattached := interp.GetGlobal("_home")
	got, err := interp.Index(reattached, luavm.Str("counter"))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got.AsInt() != 1 {
		t.Fatalf("counter after reattach = %v, want 1", got)
	}
}

func TestClearIOTableNilsSlotsOnly(t *testing.T) {
	interp, _, g := newTestGlobals(t)
	g.Init(0)

	if err := g.SetInput(luavm.Str("in")); err != nil {
		t.Fatalf("SetInput: %v", err)
	}
	if err := g.SetMeta(luavm.Str("meta")); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}

	if err := g.ClearIOTable(); err != nil {
		t.Fatalf("ClearIOTable: %v", err)
	}

	io := interp.GetGlobal("_io")
	for _, slot := range []string{"input", "output", "meta"} {
		v, err := interp.Index(io, luavm.Str(slot))
		if err != nil {
			t.Fatalf("Index(_io.%s): %v", slot, err)
		}
		if !v.IsNil() {
			t.Fatalf("_io.%s = %v after clear, want nil", slot, v)
		}
	}
	// The proxy itself must still be usable afterward.
	if err := interp.NewIndex(io, luavm.Str("input"), luavm.Int(9)); err != nil {
		t.Fatalf("_io usable after clear: %v", err)
	}
}

// §4.5: ext.new_table/ext.attach/ext.keys must be reachable from script
// code, not just from the Go-host manager directly.
func TestExtModuleIsScriptVisible(t *testing.T) {
	state := luavm.NewState()
	counter := lifecycle.New()
	store := hoststore.NewMemstore()
	manager := exttable.NewManager(store, counter.Next)
	reg := funccodec.Build(state.Interp)
	codec := wire.New(reg, manager, state.Global)
	manager.SetCodec(codec)
	g := New(state.Interp, manager)
	g.Init(0)

	fn, err := state.LoadString(`
		local t = ext.new_table()
		t.a = 1
		t.b = 2
		local id = t.__ext_table_id

		local reattached = ext.attach(id)
		local keys = ext.keys(reattached)
		return reattached.a, reattached.b, keys
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	vals, err := state.PCall(fn)
	if err != nil {
		t.Fatalf("PCall: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("got %d return values, want 3", len(vals))
	}
	if vals[0].AsInt() != 1 || vals[1].AsInt() != 2 {
		t.Fatalf("reattached.a, reattached.b = %v, %v, want 1, 2", vals[0], vals[1])
	}
	keys := vals[2].AsString()
	if keys != "a\nb" {
		t.Fatalf("ext.keys() = %q, want %q", keys, "a\nb")
	}
}

func TestMemoryAliasToggle(t *testing.T) {
	interp, _, g := newTestGlobals(t)
	g.Init(0)
	g.SetMemoryAliasEnabled(true)

	alias := interp.GetGlobal("Memory")
	if !alias.IsTable() || alias.AsTable().ExtTableID != g.MemoryTableID() {
		t.Fatal("Memory alias must point at the same table id as _home when enabled")
	}

	g.SetMemoryAliasEnabled(false)
	if got := interp.GetGlobal("Memory"); !got.IsNil() {
		t.Fatalf("Memory = %v after disabling alias, want nil", got)
	}
}
