package luavm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OpenLibs installs the freestanding subset of the standard library
// that spec.md §6 allows: base functions plus string and math globals
// (there is no table library), but no io, os,
// debug, or anything reaching the host OS or a clock. The script-visible
// ext module (ext.new_table/ext.attach/ext.keys, §4.5) is a separate,
// host-backed global registered by internal/globals, not part of this
// freestanding set.
func (i *Interp) OpenLibs() {
	i.Register("print", builtinPrint)
	i.Register("tostring", builtinToString)
	i.Register("tonumber", builtinToNumber)
	i.Register("type", builtinType)
	i.Register("pairs", builtinPairs)
	i.Register("error", builtinError)
	i.Register("assert", builtinAssert)

	mathTbl := NewTable()
	setNative(mathTbl, "sin", func(i *Interp, a []Value) ([]Value, error) { return num1(a, math.Sin) })
	setNative(mathTbl, "cos", func(i *Interp, a []Value) ([]Value, error) { return num1(a, math.Cos) })
	setNative(mathTbl, "sqrt", func(i *Interp, a []Value) ([]Value, error) { return num1(a, math.Sqrt) })
	setNative(mathTbl, "floor", func(i *Interp, a []Value) ([]Value, error) {
		if len(a) == 0 {
			return nil, fmt.Errorf("luavm: bad argument to 'floor'")
		}
		return []Value{Int(int64(math.Floor(a[0].ToNumberFloat())))}, nil
	})
	setNative(mathTbl, "abs", func(i *Interp, a []Value) ([]Value, error) {
		if len(a) == 0 {
			return nil, fmt.Errorf("luavm: bad argument to 'abs'")
		}
		if a[0].IsInt() {
			v := a[0].AsInt()
			if v < 0 {
				v = -v
			}
			return []Value{Int(v)}, nil
		}
		return []Value{Float(math.Abs(a[0].ToNumberFloat()))}, nil
	})
	_ = mathTbl.RawSet(Str("pi"), Float(math.Pi))
	_ = mathTbl.RawSet(Str("huge"), Float(math.Inf(1)))
	i.SetGlobal("math", TableValue(mathTbl))

	strTbl := NewTable()
	setNative(strTbl, "len", func(i *Interp, a []Value) ([]Value, error) {
		if len(a) == 0 || !a[0].IsString() {
			return nil, fmt.Errorf("luavm: bad argument to 'len'")
		}
		return []Value{Int(int64(len(a[0].AsString())))}, nil
	})
	setNative(strTbl, "upper", func(i *Interp, a []Value) ([]Value, error) {
		return []Value{Str(strings.ToUpper(a[0].AsString()))}, nil
	})
	setNative(strTbl, "lower", func(i *Interp, a []Value) ([]Value, error) {
		return []Value{Str(strings.ToLower(a[0].AsString()))}, nil
	})
	i.SetGlobal("string", TableValue(strTbl))
}

func setNative(t *Table, name string, fn func(i *Interp, args []Value) ([]Value, error)) {
	_ = t.RawSet(Str(name), NativeValue(&NativeFunc{Name: name, Fn: fn}))
}

func num1(a []Value, f func(float64) float64) ([]Value, error) {
	if len(a) == 0 || !a[0].IsNumber() {
		return nil, fmt.Errorf("luavm: bad argument (number expected)")
	}
	return []Value{Float(f(a[0].ToNumberFloat()))}, nil
}

func builtinPrint(i *Interp, args []Value) ([]Value, error) {
	parts := make([]string, len(args))
	for idx, a := range args {
		s, err := i.ToDisplayString(a)
		if err != nil {
			return nil, err
		}
		parts[idx] = s
	}
	i.Print(strings.Join(parts, "\t") + "\n")
	return nil, nil
}

func builtinToString(i *Interp, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return []Value{Str("nil")}, nil
	}
	s, err := i.ToDisplayString(args[0])
	if err != nil {
		return nil, err
	}
	return []Value{Str(s)}, nil
}

func builtinToNumber(i *Interp, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return []Value{Nil}, nil
	}
	v := args[0]
	if v.IsNumber() {
		return []Value{v}, nil
	}
	if v.IsString() {
		s := strings.TrimSpace(v.AsString())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return []Value{Int(n)}, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return []Value{Float(f)}, nil
		}
	}
	return []Value{Nil}, nil
}

func builtinType(i *Interp, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return []Value{Str("nil")}, nil
	}
	return []Value{Str(args[0].Type().String())}, nil
}

// builtinPairs returns an iterator over the table's string keys only, in
// sorted order; integer and float keys are skipped. The iterator keeps
// its position in its own closure and ignores its arguments. It reads
// the table with RawGet, so on a proxy table it sees no host entries
// (§4.5 leaves enumeration of proxies to ext.keys).
func builtinPairs(i *Interp, args []Value) ([]Value, error) {
	if len(args) == 0 || !args[0].IsTable() {
		return nil, fmt.Errorf("luavm: bad argument to 'pairs' (table expected)")
	}
	t := args[0].AsTable()
	keys := make([]Value, 0)
	for _, k := range t.Keys() {
		keys = append(keys, Str(k))
	}
	idx := 0
	iter := &NativeFunc{Name: "pairs.iterator", Fn: func(i *Interp, a []Value) ([]Value, error) {
		if idx >= len(keys) {
			return []Value{Nil}, nil
		}
		k := keys[idx]
		idx++
		return []Value{k, t.RawGet(k)}, nil
	}}
	return []Value{NativeValue(iter), args[0], Nil}, nil
}

func builtinError(i *Interp, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("luavm: error")
	}
	msg, err := i.ToDisplayString(args[0])
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s", msg)
}

func builtinAssert(i *Interp, args []Value) ([]Value, error) {
	if len(args) == 0 || !args[0].Truthy() {
		if len(args) > 1 {
			msg, _ := i.ToDisplayString(args[1])
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("luavm: assertion failed!")
	}
	return args, nil
}
