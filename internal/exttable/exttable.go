// Package exttable implements spec.md §3's "Proxy object" and §4.5's
// external-table proxy: a luavm.Table whose metatable forwards
// __index/__newindex/__len to a host-side key/value map through five
// synchronous callbacks, exactly the shape wagon's exec.Process gives
// WASM imports — a fixed, typed callback surface the interpreter calls
// out to and never calls back into except through that surface.
package exttable

import (
	"github.com/extio/luabridge/internal/bridgeerr"
	"github.com/extio/luabridge/internal/luavm"
	"github.com/extio/luabridge/internal/wire"
)

// HostStore is spec.md §4.9's five imports, expressed as a Go
// interface instead of (ptr, len) pairs over the I/O buffer — the
// boundary a pure-Go module this is embedded in would punch through
// cgo or a WASM import table in a real build. internal/hoststore
// provides the memstore and pgstore implementations.
type HostStore interface {
	Set(id uint32, key string, val []byte) error
	Get(id uint32, key string) (val []byte, ok bool, err error)
	Delete(id uint32, key string) error
	Size(id uint32) (int, error)
	Keys(id uint32) ([]string, error)
}

// extTableIDKey is the protected attribute name from §3: "reading or
// writing __ext_table_id through the proxy must bypass the metatable."
const extTableIDKey = "__ext_table_id"

// Manager owns the shared proxy metatable and the host store, and
// mints/attaches proxy tables (§4.5 "ext.new_table()" / "ext.attach(id)").
// It implements wire.TableManager so the codec can auto-promote plain
// tables without importing this package.
type Manager struct {
	host  HostStore
	codec *wire.Codec
	meta  *luavm.Table
	nextID func() uint32
}

// NewManager builds the shared metatable and binds it to host. codec
// must be attached afterward via SetCodec once the codec itself is
// constructed (the two are mutually referential: the codec needs a
// TableManager, this manager needs a codec to encode/decode values
// flowing through get/set).
func NewManager(host HostStore, nextID func() uint32) *Manager {
	m := &Manager{host: host, nextID: nextID}
	m.meta = buildMetatable(m)
	return m
}

// SetCodec completes construction. Called once, before any script runs.
func (m *Manager) SetCodec(c *wire.Codec) { m.codec = c }

// NewTable implements ext.new_table(): a fresh ID and an empty host map
// (the map is implicitly empty — nothing has been Set into it yet).
func (m *Manager) NewTable() *luavm.Table {
	t := luavm.NewTable()
	t.ExtTableID = m.nextID()
	t.IsProxy = true
	t.SetMetatable(m.meta)
	return t
}

// NewProxy satisfies wire.TableManager for the auto-promotion path.
func (m *Manager) NewProxy() (*luavm.Table, error) {
	return m.NewTable(), nil
}

// Attach implements ext.attach(id): a proxy bound to an existing ID,
// host map untouched (§3 Lifecycle: "reattached by attach(id) ->
// existing ID, host map untouched").
func (m *Manager) Attach(id uint32) *luavm.Table {
	t := luavm.NewTable()
	t.ExtTableID = id
	t.IsProxy = true
	t.SetMetatable(m.meta)
	return t
}

// HostSet satisfies wire.TableManager: write one already-encoded value.
func (m *Manager) HostSet(id uint32, key string, encoded []byte) error {
	return m.host.Set(id, key, encoded)
}

// Keys implements ext.keys(t): a newline-joined key list (§4.5,
// "Rationale: iterating a remote map with per-key round-trips is a
// footgun; make it explicit").
func (m *Manager) Keys(t *luavm.Table) (string, error) {
	if !t.IsProxy {
		return "", bridgeerr.New(bridgeerr.KindRuntime, "exttable: ext.keys() requires a proxy table")
	}
	keys, err := m.host.Keys(t.ExtTableID)
	if err != nil {
		return "", bridgeerr.Wrap(bridgeerr.KindHostFailure, err, "exttable: keys")
	}
	out := make([]byte, 0, 64)
	for i, k := range keys {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, k...)
	}
	return string(out), nil
}

// Metatable exposes the shared metatable M, e.g. for diagnostics.
func (m *Manager) Metatable() *luavm.Table { return m.meta }

func buildMetatable(m *Manager) *luavm.Table {
	meta := luavm.NewTable()
	set := func(name string, fn func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error)) {
		_ = meta.RawSet(luavm.Str(name), luavm.NativeValue(&luavm.NativeFunc{Name: name, Fn: fn}))
	}
	set("__index", m.metaIndex)
	set("__newindex", m.metaNewIndex)
	set("__len", m.metaLen)
	return meta
}

func stringifyKey(k luavm.Value) (string, error) {
	switch {
	case k.IsString():
		return k.AsString(), nil
	case k.IsNumber() && k.IsInt():
		return k.ToString(), nil
	case k.IsNumber():
		// §4.5: "Floats are not permitted as keys."
		return "", bridgeerr.New(bridgeerr.KindRuntime, "exttable: float keys are not permitted")
	default:
		return "", bridgeerr.Newf(bridgeerr.KindRuntime, "exttable: key must be a string or integer, got %s", k.Type())
	}
}

func (m *Manager) metaIndex(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
	if len(args) < 2 || !args[0].IsTable() {
		return nil, bridgeerr.New(bridgeerr.KindRuntime, "exttable: __index requires (table, key)")
	}
	t, k := args[0].AsTable(), args[1]
	if k.IsString() && k.AsString() == extTableIDKey {
		return []luavm.Value{luavm.Int(int64(t.ExtTableID))}, nil
	}
	key, err := stringifyKey(k)
	if err != nil {
		return nil, err
	}
	raw, ok, err := m.host.Get(t.ExtTableID, key)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindHostFailure, err, "exttable: get")
	}
	if !ok {
		// §7 Host.Absent: "Silently becomes nil read."
		return []luavm.Value{luavm.Nil}, nil
	}
	v, err := m.codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	return []luavm.Value{v}, nil
}

func (m *Manager) metaNewIndex(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
	if len(args) < 3 || !args[0].IsTable() {
		return nil, bridgeerr.New(bridgeerr.KindRuntime, "exttable: __newindex requires (table, key, value)")
	}
	t, k, v := args[0].AsTable(), args[1], args[2]
	if k.IsString() && k.AsString() == extTableIDKey {
		return nil, bridgeerr.New(bridgeerr.KindRuntime, "exttable: __ext_table_id is read-only")
	}
	key, err := stringifyKey(k)
	if err != nil {
		return nil, err
	}
	if v.IsNil() {
		if err := m.host.Delete(t.ExtTableID, key); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindHostFailure, err, "exttable: delete")
		}
		return nil, nil
	}
	enc, err := m.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	if err := m.host.Set(t.ExtTableID, key, enc); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindHostFailure, err, "exttable: set")
	}
	return nil, nil
}

func (m *Manager) metaLen(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
	if len(args) < 1 || !args[0].IsTable() {
		return nil, bridgeerr.New(bridgeerr.KindRuntime, "exttable: __len requires a table")
	}
	t := args[0].AsTable()
	n, err := m.host.Size(t.ExtTableID)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindHostFailure, err, "exttable: size")
	}
	return []luavm.Value{luavm.Int(int64(n))}, nil
}
