// Package luavm is the collaborator spec.md places out of scope: "the
// embedded interpreter itself... consumed through its standard C
// embedding API and its bytecode dumper." No pure-Go Lua 5.4 embedding
// was available to pull from the retrieval pack, so this package
// implements the minimal subset of Lua 5.4 semantics the rest of the
// module needs to drive against something real: values, tables with
// metatables, closures with upvalues, and a tree-walking evaluator.
//
// Everything above this package (exttable, funccodec, dispatch) is
// written against the State API in state.go exactly as it would be
// written against lua.h, not against these internals directly.
package luavm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Type tags a Value's dynamic type, mirroring lua_type().
type Type int

const (
	TNil Type = iota
	TBoolean
	TNumber
	TString
	TTable
	TFunction
)

func (t Type) String() string {
	switch t {
	case TNil:
		return "nil"
	case TBoolean:
		return "boolean"
	case TNumber:
		return "number"
	case TString:
		return "string"
	case TTable:
		return "table"
	case TFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Value is the discriminated union of every Lua value this package
// supports. Numbers keep Lua 5.4's integer/float subtype distinction
// (IsInt) since spec.md's wire format (tags 0x02 / 0x03) depends on it.
type Value struct {
	typ    Type
	b      bool
	isInt  bool
	i      int64
	f      float64
	s      string
	table  *Table
	fn     *Function
	native *NativeFunc
}

// Nil is the singleton nil value.
var Nil = Value{typ: TNil}

func Bool(b bool) Value { return Value{typ: TBoolean, b: b} }
func Int(i int64) Value { return Value{typ: TNumber, isInt: true, i: i} }
func Float(f float64) Value {
	return Value{typ: TNumber, isInt: false, f: f}
}
func Str(s string) Value { return Value{typ: TString, s: s} }
func TableValue(t *Table) Value {
	if t == nil {
		return Nil
	}
	return Value{typ: TTable, table: t}
}
func FunctionValue(fn *Function) Value {
	return Value{typ: TFunction, fn: fn}
}
func NativeValue(nf *NativeFunc) Value {
	return Value{typ: TFunction, native: nf}
}

func (v Value) Type() Type     { return v.typ }
func (v Value) IsNil() bool    { return v.typ == TNil }
func (v Value) IsTable() bool  { return v.typ == TTable }
func (v Value) IsString() bool { return v.typ == TString }
func (v Value) IsNumber() bool { return v.typ == TNumber }
func (v Value) IsInt() bool    { return v.typ == TNumber && v.isInt }
func (v Value) IsFunction() bool {
	return v.typ == TFunction
}

func (v Value) AsBool() bool       { return v.b }
func (v Value) AsInt() int64       { return v.i }
func (v Value) AsFloat() float64   { return v.f }
func (v Value) AsString() string   { return v.s }
func (v Value) AsTable() *Table     { return v.table }
func (v Value) AsClosure() *Function { return v.fn }
func (v Value) AsNative() *NativeFunc { return v.native }

// ToNumberFloat returns the value as a float64, widening an integer.
func (v Value) ToNumberFloat() float64 {
	if v.isInt {
		return float64(v.i)
	}
	return v.f
}

// Truthy implements Lua's truthiness rule: everything but nil and false
// is truthy.
func (v Value) Truthy() bool {
	return !(v.typ == TNil || (v.typ == TBoolean && !v.b))
}

// Equals implements primitive equality (no __eq fallback here; callers
// needing metamethod-aware equality go through the table helpers).
func (v Value) Equals(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TNil:
		return true
	case TBoolean:
		return v.b == o.b
	case TNumber:
		if v.isInt && o.isInt {
			return v.i == o.i
		}
		return v.ToNumberFloat() == o.ToNumberFloat()
	case TString:
		return v.s == o.s
	case TTable:
		return v.table == o.table
	case TFunction:
		return v.fn == o.fn && v.native == o.native
	}
	return false
}

// ToString implements Lua's tostring() for values without a __tostring
// metamethod; callers wanting metamethod dispatch use
// Interp.ToDisplayString.
func (v Value) ToString() string {
	switch v.typ {
	case TNil:
		return "nil"
	case TBoolean:
		if v.b {
			return "true"
		}
		return "false"
	case TNumber:
		if v.isInt {
			return strconv.FormatInt(v.i, 10)
		}
		return formatFloat(v.f)
	case TString:
		return v.s
	case TTable:
		return fmt.Sprintf("table: %p", v.table)
	case TFunction:
		if v.fn != nil {
			return fmt.Sprintf("function: %p", v.fn)
		}
		return fmt.Sprintf("function: builtin:%p", v.native)
	}
	return "?"
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', 14, 64)
}

// NativeFunc is a Go-implemented builtin, the analogue of a C function
// registered with the VM. Each one is identified by Name for the
// function codec's builtin registry (§4.4).
type NativeFunc struct {
	Name string
	Fn   func(i *Interp, args []Value) ([]Value, error)
}

// Table is a Lua table: an associative array plus an optional
// metatable. Keys are restricted to strings, integers, and floats (Lua
// itself allows any non-nil, non-NaN value as a key; this subset
// doesn't need more than that for the scripts the rest of the module
// drives).
type Table struct {
	hash map[interface{}]Value
	meta *Table

	// ExtTableID holds the protected __ext_table_id attribute used by
	// internal/exttable (§3 "Proxy object"). Zero means "not a proxy".
	// Reads/writes to this field must bypass __index/__newindex, exactly
	// as spec.md requires.
	ExtTableID uint32
	IsProxy    bool
}

func NewTable() *Table {
	return &Table{hash: make(map[interface{}]Value)}
}

func normalizeKey(k Value) (interface{}, error) {
	switch k.typ {
	case TString:
		return "s:" + k.s, nil
	case TNumber:
		if k.isInt {
			return k.i, nil
		}
		if k.f == math.Trunc(k.f) && !math.IsInf(k.f, 0) {
			return int64(k.f), nil
		}
		return k.f, nil
	case TNil:
		return nil, fmt.Errorf("table index is nil")
	default:
		return nil, fmt.Errorf("unsupported table key type %s", k.typ)
	}
}

// RawGet reads without consulting the metatable.
func (t *Table) RawGet(k Value) Value {
	nk, err := normalizeKey(k)
	if err != nil {
		return Nil
	}
	if v, ok := t.hash[nk]; ok {
		return v
	}
	return Nil
}

// RawSet writes without consulting the metatable; a nil value deletes.
func (t *Table) RawSet(k, v Value) error {
	nk, err := normalizeKey(k)
	if err != nil {
		return err
	}
	if v.IsNil() {
		delete(t.hash, nk)
		return nil
	}
	t.hash[nk] = v
	return nil
}

// RawLen is the non-metamethod length: the count of entries for a
// proxy-style table (spec.md §4.5 defines __len as the host entry
// count), or the Lua "border" for plain array-like tables.
func (t *Table) RawLen() int64 {
	if t.IsProxy {
		return int64(len(t.hash))
	}
	var n int64
	for {
		if _, ok := t.hash[n+1]; !ok {
			break
		}
		n++
	}
	return n
}

// Keys returns the table's string keys in sorted order, for pairs() and
// diagnostics. (The auto-promotion path in internal/wire uses
// StringEntries instead.)
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.hash))
	for k := range t.hash {
		if s, ok := k.(string); ok && strings.HasPrefix(s, "s:") {
			keys = append(keys, s[2:])
		}
	}
	sort.Strings(keys)
	return keys
}

// StringEntries returns string-keyed entries only, used when
// auto-promoting a plain table to a proxy (§4.3).
func (t *Table) StringEntries() map[string]Value {
	out := make(map[string]Value)
	for k, v := range t.hash {
		if s, ok := k.(string); ok && strings.HasPrefix(s, "s:") {
			out[s[2:]] = v
		}
	}
	return out
}

// HasNonStringIntKeys reports whether any key is neither a string nor a
// finite integer, used by the auto-promotion rejection rule in §4.3.
func (t *Table) HasNonStringIntKeys() bool {
	for k := range t.hash {
		switch k.(type) {
		case string, int64:
		default:
			return true
		}
	}
	return false
}

func (t *Table) Metatable() *Table     { return t.meta }
func (t *Table) SetMetatable(m *Table) { t.meta = m }

// Function is a script-defined closure: parameter names, body, and the
// environment it closes over (its upvalues). Capture itself happens
// through Env's parent chain, not a separate upvalue list — see
// internal/luavm/dump.go for why a dumped/loaded closure loses that
// chain entirely rather than carrying it across the wire.
type Function struct {
	Params []string
	Vararg bool
	Body   []Stmt
	Env    *Env
	Name   string
}
