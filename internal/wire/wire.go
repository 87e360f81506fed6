// Package wire implements spec.md §3/§4.3: the type-tagged binary
// codec that crosses the WASM<->host boundary. Every Value that can
// reach a proxy table's host-side map, a dumped closure, or a compute
// call's encoded return value passes through Encode/Decode here.
//
// The codec is deliberately ignorant of how a table-ref ID gets a host
// map behind it — that's internal/exttable's job. Encode talks to a
// Manager interface instead of importing internal/exttable directly,
// the same separation the teacher draws between github.com/go-interpreter/wagon's
// exec.VM (bytecode semantics) and its compile package (native-code
// AOT): the codec owns the wire format, the manager owns table
// identity.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/extio/luabridge/internal/bridgeerr"
	"github.com/extio/luabridge/internal/funccodec"
	"github.com/extio/luabridge/internal/luavm"
)

// Tag values per spec.md §3.
const (
	TagNil      byte = 0x00
	TagBool     byte = 0x01
	TagInt      byte = 0x02
	TagFloat    byte = 0x03
	TagString   byte = 0x04
	TagFunction byte = 0x05
	TagBuiltin  byte = 0x06
	TagTableRef byte = 0x07
)

// MaxStringLen is the largest string/blob length the u32 length prefix
// can carry (spec.md §4.3: "strings > 2^32-1 bytes are Unsupported").
const MaxStringLen = math.MaxUint32

// TableManager is the subset of internal/exttable.Manager the codec
// needs: creating a fresh proxy for auto-promotion (§4.3 rule (b)),
// writing one string-keyed entry into a proxy's host map, and attaching
// a proxy to a table-ref ID read off the wire.
type TableManager interface {
	// NewProxy allocates a fresh external table ID and returns a proxy
	// table bound to it (empty host map).
	NewProxy() (*luavm.Table, error)
	// HostSet upserts one already-encoded value under key in the proxy
	// identified by id.
	HostSet(id uint32, key string, encoded []byte) error
	// Attach returns a proxy bound to an existing ID without touching
	// the host map, for table-ref decode.
	Attach(id uint32) *luavm.Table
}

// Codec is spec.md §4.3's encode/decode pair, parameterized by the
// builtin-function registry and a table manager for proxy identity and
// auto-promotion.
type Codec struct {
	Registry *funccodec.Registry
	Manager  TableManager
	// GlobalEnv is the environment a decoded closure is bound to.
	// Restored closures have no upvalues (§4.4/§8 property 7), so
	// binding to the global env rather than some caller-local scope is
	// both correct and the only env guaranteed to outlive the decode.
	GlobalEnv *luavm.Env
	// AllowPromotion selects spec.md's open question (a) vs (b) for a
	// plain in-VM table reaching a top-level encode call. SPEC_FULL.md
	// DESIGN.md records this decision as "promote" (true).
	AllowPromotion bool
}

func New(reg *funccodec.Registry, mgr TableManager, globalEnv *luavm.Env) *Codec {
	return &Codec{Registry: reg, Manager: mgr, GlobalEnv: globalEnv, AllowPromotion: true}
}

// Encode implements §4.3's public encode(value) -> bytes entry point.
func (c *Codec) Encode(v luavm.Value) ([]byte, error) {
	return c.encode(v, map[*luavm.Table]bool{})
}

func (c *Codec) encode(v luavm.Value, seen map[*luavm.Table]bool) ([]byte, error) {
	switch v.Type() {
	case luavm.TNil:
		return []byte{TagNil}, nil
	case luavm.TBoolean:
		b := byte(0)
		if v.AsBool() {
			b = 1
		}
		return []byte{TagBool, b}, nil
	case luavm.TNumber:
		if v.IsInt() {
			out := make([]byte, 9)
			out[0] = TagInt
			binary.LittleEndian.PutUint64(out[1:], uint64(v.AsInt()))
			return out, nil
		}
		out := make([]byte, 9)
		out[0] = TagFloat
		binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v.AsFloat()))
		return out, nil
	case luavm.TString:
		s := v.AsString()
		if uint64(len(s)) > MaxStringLen {
			return nil, bridgeerr.New(bridgeerr.KindUnsupported, "wire: string exceeds max length")
		}
		out := make([]byte, 5+len(s))
		out[0] = TagString
		binary.LittleEndian.PutUint32(out[1:5], uint32(len(s)))
		copy(out[5:], s)
		return out, nil
	case luavm.TFunction:
		return c.encodeFunction(v)
	case luavm.TTable:
		return c.encodeTable(v.AsTable(), seen)
	}
	return nil, bridgeerr.Newf(bridgeerr.KindUnsupported, "wire: cannot encode value of type %s", v.Type())
}

func (c *Codec) encodeFunction(v luavm.Value) ([]byte, error) {
	if nf := v.AsNative(); nf != nil {
		if c.Registry == nil {
			return nil, bridgeerr.New(bridgeerr.KindUnsupported, "wire: no builtin registry configured")
		}
		idx, ok := c.Registry.IndexOf(nf)
		if !ok {
			return nil, bridgeerr.Newf(bridgeerr.KindUnsupported, "wire: builtin %q is not in the registry", nf.Name)
		}
		out := make([]byte, 3)
		out[0] = TagBuiltin
		binary.LittleEndian.PutUint16(out[1:], idx)
		return out, nil
	}
	blob, err := funccodec.Dump(v.AsClosure())
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindUnsupported, err, "wire: dump closure")
	}
	if uint64(len(blob)) > MaxStringLen {
		return nil, bridgeerr.New(bridgeerr.KindUnsupported, "wire: dumped closure exceeds max length")
	}
	out := make([]byte, 5+len(blob))
	out[0] = TagFunction
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(blob)))
	copy(out[5:], blob)
	return out, nil
}

func (c *Codec) encodeTable(t *luavm.Table, seen map[*luavm.Table]bool) ([]byte, error) {
	if t.IsProxy {
		out := make([]byte, 5)
		out[0] = TagTableRef
		binary.LittleEndian.PutUint32(out[1:], t.ExtTableID)
		return out, nil
	}
	// Plain in-VM table: spec.md §4.3's open question, resolved to
	// auto-promotion (rule b) — see DESIGN.md.
	if !c.AllowPromotion {
		return nil, bridgeerr.New(bridgeerr.KindUnsupported, "wire: plain tables cannot cross the boundary")
	}
	if seen[t] {
		return nil, bridgeerr.New(bridgeerr.KindUnsupported, "wire: cyclic table cannot be auto-promoted")
	}
	if t.HasNonStringIntKeys() {
		return nil, bridgeerr.New(bridgeerr.KindUnsupported, "wire: table has a key that is neither string nor integer")
	}
	seen[t] = true
	proxy, err := c.Manager.NewProxy()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindUnsupported, err, "wire: auto-promote")
	}
	for k, v := range t.StringEntries() {
		eb, err := c.encode(v, seen)
		if err != nil {
			return nil, err
		}
		if err := c.Manager.HostSet(proxy.ExtTableID, k, eb); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindHostFailure, err, "wire: auto-promote host write")
		}
	}
	out := make([]byte, 5)
	out[0] = TagTableRef
	binary.LittleEndian.PutUint32(out[1:], proxy.ExtTableID)
	return out, nil
}

// Decode implements §4.3's public decode(bytes) -> value entry point.
// It reads exactly the declared length for variable-width tags and
// ignores anything past it, per §3's "a decoder must read exactly the
// declared length; trailing bytes beyond the last value are ignored."
func (c *Codec) Decode(b []byte) (luavm.Value, error) {
	if len(b) == 0 {
		return luavm.Nil, bridgeerr.New(bridgeerr.KindMalformed, "wire: empty buffer")
	}
	switch b[0] {
	case TagNil:
		return luavm.Nil, nil
	case TagBool:
		if len(b) < 2 {
			return luavm.Nil, bridgeerr.New(bridgeerr.KindMalformed, "wire: truncated boolean")
		}
		return luavm.Bool(b[1] != 0), nil
	case TagInt:
		if len(b) < 9 {
			return luavm.Nil, bridgeerr.New(bridgeerr.KindMalformed, "wire: truncated integer")
		}
		return luavm.Int(int64(binary.LittleEndian.Uint64(b[1:9]))), nil
	case TagFloat:
		if len(b) < 9 {
			return luavm.Nil, bridgeerr.New(bridgeerr.KindMalformed, "wire: truncated float")
		}
		return luavm.Float(math.Float64frombits(binary.LittleEndian.Uint64(b[1:9]))), nil
	case TagString:
		s, _, err := readLenPrefixed(b[1:])
		if err != nil {
			return luavm.Nil, err
		}
		return luavm.Str(string(s)), nil
	case TagFunction:
		blob, _, err := readLenPrefixed(b[1:])
		if err != nil {
			return luavm.Nil, err
		}
		fn, err := funccodec.Load(blob, c.GlobalEnv)
		if err != nil {
			return luavm.Nil, bridgeerr.Wrap(bridgeerr.KindMalformed, err, "wire: load closure")
		}
		return luavm.FunctionValue(fn), nil
	case TagBuiltin:
		if len(b) < 3 {
			return luavm.Nil, bridgeerr.New(bridgeerr.KindMalformed, "wire: truncated builtin ref")
		}
		idx := binary.LittleEndian.Uint16(b[1:3])
		if c.Registry == nil {
			return luavm.Nil, bridgeerr.New(bridgeerr.KindMalformed, "wire: no builtin registry configured")
		}
		nf, err := c.Registry.ByIndex(idx)
		if err != nil {
			return luavm.Nil, bridgeerr.Wrap(bridgeerr.KindMalformed, err, "wire: builtin ref")
		}
		return luavm.NativeValue(nf), nil
	case TagTableRef:
		if len(b) < 5 {
			return luavm.Nil, bridgeerr.New(bridgeerr.KindMalformed, "wire: truncated table ref")
		}
		id := binary.LittleEndian.Uint32(b[1:5])
		return luavm.TableValue(c.Manager.Attach(id)), nil
	}
	return luavm.Nil, bridgeerr.Newf(bridgeerr.KindMalformed, "wire: unknown tag 0x%02x", b[0])
}

func readLenPrefixed(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, bridgeerr.New(bridgeerr.KindMalformed, "wire: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(b[:4])
	if uint64(4+n) > uint64(len(b)) {
		return nil, 0, bridgeerr.New(bridgeerr.KindMalformed, "wire: declared length exceeds buffer")
	}
	return b[4 : 4+n], int(4 + n), nil
}

// EncodeInto writes Encode(v)'s bytes into out starting at offset 0,
// for a destination that is a fixed-capacity scratch slice (spec.md's
// "out_ptr, out_cap" host-callback parameters). internal/dispatch and
// internal/exttable call Encode, not this. Returns BufferTooSmall
// rather than silently truncating.
func (c *Codec) EncodeInto(v luavm.Value, out []byte) (int, error) {
	b, err := c.Encode(v)
	if err != nil {
		return 0, err
	}
	if len(b) > len(out) {
		return 0, bridgeerr.Newf(bridgeerr.KindBufferTooSmall, "wire: encoded value needs %d bytes, have %d", len(b), len(out))
	}
	return copy(out, b), nil
}
