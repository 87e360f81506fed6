// Package bigint adapts github.com/cockroachdb/apd's arbitrary
// precision decimal into the script-visible `bigint` module spec.md
// §6 names as a collaborator "reachable as a scripting module...
// specified only at the module-loading surface": bigint.new, the
// arithmetic/comparison operators, and metatable operators so a
// bigint value behaves like a number from script code.
//
// apd.Decimal is a decimal, not a pure integer type. The shared
// Context only sets a precision of 100 significant digits; bigint.new
// accepts any decimal string apd can parse (a fractional input such as
// "1.5" stays fractional), so values behave as integers only when they
// are entered as integers and combined with +, - and *.
package bigint

import (
	"fmt"

	"github.com/cockroachdb/apd"

	"github.com/extio/luabridge/internal/luavm"
)

// luavm has no userdata type, so a bigint value is a plain table with
// a metatable; the apd.Decimal it carries lives in a Go-side map
// keyed by the table pointer (values, below) — scripts only ever see
// the metamethods, never this side table.
var ctx = apd.BaseContext.WithPrecision(100)

// Module builds the bigint table to register as a global/preload
// entry (internal/luavm's require() resolves it by name — see
// Register below).
func Module(interp *luavm.Interp) *luavm.Table {
	values := make(map[*luavm.Table]*apd.Decimal)
	meta := newMetatable(values)

	wrap := func(d *apd.Decimal) luavm.Value {
		t := luavm.NewTable()
		t.SetMetatable(meta)
		values[t] = d
		return luavm.TableValue(t)
	}

	mod := luavm.NewTable()
	setNative(mod, "new", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("bigint.new: expected a number or string argument")
		}
		d, _, err := apd.NewFromString(args[0].ToString())
		if err != nil {
			return nil, fmt.Errorf("bigint.new: %w", err)
		}
		return []luavm.Value{wrap(d)}, nil
	})
	setNative(mod, "add", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		return binop(values, wrap, args, func(out, a, b *apd.Decimal) error { _, err := ctx.Add(out, a, b); return err })
	})
	setNative(mod, "sub", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		return binop(values, wrap, args, func(out, a, b *apd.Decimal) error { _, err := ctx.Sub(out, a, b); return err })
	})
	setNative(mod, "mul", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		return binop(values, wrap, args, func(out, a, b *apd.Decimal) error { _, err := ctx.Mul(out, a, b); return err })
	})
	setNative(mod, "div", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		return binop(values, wrap, args, func(out, a, b *apd.Decimal) error { _, err := ctx.Quo(out, a, b); return err })
	})
	return mod
}

func newMetatable(values map[*luavm.Table]*apd.Decimal) *luavm.Table {
	meta := luavm.NewTable()
	arith := func(op func(out, a, b *apd.Decimal) error) func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		return func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
			return binop(values, func(d *apd.Decimal) luavm.Value {
				t := luavm.NewTable()
				t.SetMetatable(meta)
				values[t] = d
				return luavm.TableValue(t)
			}, args, op)
		}
	}
	setNative(meta, "__add", arith(func(out, a, b *apd.Decimal) error { _, err := ctx.Add(out, a, b); return err }))
	setNative(meta, "__sub", arith(func(out, a, b *apd.Decimal) error { _, err := ctx.Sub(out, a, b); return err }))
	setNative(meta, "__mul", arith(func(out, a, b *apd.Decimal) error { _, err := ctx.Mul(out, a, b); return err }))
	setNative(meta, "__div", arith(func(out, a, b *apd.Decimal) error { _, err := ctx.Quo(out, a, b); return err }))
	setNative(meta, "__eq", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		a, b, err := operands(values, args)
		if err != nil {
			return nil, err
		}
		return []luavm.Value{luavm.Bool(a.Cmp(b) == 0)}, nil
	})
	setNative(meta, "__lt", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		a, b, err := operands(values, args)
		if err != nil {
			return nil, err
		}
		return []luavm.Value{luavm.Bool(a.Cmp(b) < 0)}, nil
	})
	setNative(meta, "__tostring", func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error) {
		if len(args) == 0 || !args[0].IsTable() {
			return nil, fmt.Errorf("bigint: __tostring requires a bigint value")
		}
		d, ok := values[args[0].AsTable()]
		if !ok {
			return nil, fmt.Errorf("bigint: not a bigint value")
		}
		return []luavm.Value{luavm.Str(d.String())}, nil
	})
	return meta
}

func operands(values map[*luavm.Table]*apd.Decimal, args []luavm.Value) (*apd.Decimal, *apd.Decimal, error) {
	if len(args) < 2 || !args[0].IsTable() || !args[1].IsTable() {
		return nil, nil, fmt.Errorf("bigint: expected two bigint values")
	}
	a, ok := values[args[0].AsTable()]
	if !ok {
		return nil, nil, fmt.Errorf("bigint: left operand is not a bigint value")
	}
	b, ok := values[args[1].AsTable()]
	if !ok {
		return nil, nil, fmt.Errorf("bigint: right operand is not a bigint value")
	}
	return a, b, nil
}

func binop(values map[*luavm.Table]*apd.Decimal, wrap func(*apd.Decimal) luavm.Value, args []luavm.Value, op func(out, a, b *apd.Decimal) error) ([]luavm.Value, error) {
	a, b, err := operands(values, args)
	if err != nil {
		return nil, err
	}
	out := new(apd.Decimal)
	if err := op(out, a, b); err != nil {
		return nil, fmt.Errorf("bigint: %w", err)
	}
	return []luavm.Value{wrap(out)}, nil
}

func setNative(t *luavm.Table, name string, fn func(i *luavm.Interp, args []luavm.Value) ([]luavm.Value, error)) {
	_ = t.RawSet(luavm.Str(name), luavm.NativeValue(&luavm.NativeFunc{Name: name, Fn: fn}))
}

// Register installs the module so require("bigint") (internal/luavm's
// module loader) resolves it, per §6: "registered as a module
// resolvable by the VM's standard module loader."
func Register(interp *luavm.Interp) {
	interp.Preload("bigint", func() *luavm.Table { return Module(interp) })
}
