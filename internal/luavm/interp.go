package luavm

import (
	"fmt"
	"math"
)

// breakSignal unwinds a Lua break statement up to the nearest loop.
type breakSignal struct{}

func (breakSignal) Error() string { return "break outside loop" }

// returnSignal unwinds to the enclosing function call carrying the
// return values.
type returnSignal struct{ values []Value }

func (returnSignal) Error() string { return "return outside function" }

// Interp is the tree-walking evaluator. One Interp corresponds to one
// Lua "lua_State": a global table plus whatever the embedding registers
// into it via Register/SetGlobal.
type Interp struct {
	Global *Env
	root   *Table

	Print func(s string) // stdout sink; internal/dispatch wires the capture buffer here

	callDepth int
	preload   map[string]*preloadEntry
}

const maxCallDepth = 200

// NewInterp creates an interpreter with an empty global table.
func NewInterp() *Interp {
	root := NewTable()
	env := NewEnv(nil)
	i := &Interp{Global: env, root: root, Print: func(string) {}}
	env.declare("_ENV", TableValue(root))
	return i
}

// GlobalTable returns the backing table for global variable reads and
// writes (the analogue of _G).
func (i *Interp) GlobalTable() *Table { return i.root }

// SetGlobal assigns a global, bypassing any metatable _G might carry
// (globals are plain assignment targets in this subset).
func (i *Interp) SetGlobal(name string, v Value) {
	_ = i.root.RawSet(Str(name), v)
}

func (i *Interp) GetGlobal(name string) Value {
	return i.root.RawGet(Str(name))
}

// Register installs a native (Go) function as a global, the analogue of
// lua_register.
func (i *Interp) Register(name string, fn func(i *Interp, args []Value) ([]Value, error)) {
	i.SetGlobal(name, NativeValue(&NativeFunc{Name: name, Fn: fn}))
}

// Run executes a parsed chunk as the top level: statements see the
// global table for any unresolved identifier. Returns every value from
// a top-level return statement (possibly none).
func (i *Interp) Run(stmts []Stmt) ([]Value, error) {
	env := NewEnv(i.Global)
	vals, _, _, err := i.execBlock(stmts, env)
	return vals, err
}

func (i *Interp) execBlock(stmts []Stmt, env *Env) (ret []Value, returned bool, broke bool, err error) {
	for _, s := range stmts {
		rv, didReturn, brk, err := i.execStmt(s, env)
		if err != nil {
			return nil, false, false, err
		}
		if didReturn {
			return rv, true, false, nil
		}
		if brk {
			return nil, false, true, nil
		}
	}
	return nil, false, false, nil
}

func (i *Interp) execStmt(s Stmt, env *Env) ([]Value, bool, bool, error) {
	switch st := s.(type) {
	case *LocalStmt:
		vals, err := i.evalExprList(st.Exprs, env)
		if err != nil {
			return nil, false, false, err
		}
		for idx, name := range st.Names {
			var v Value
			if idx < len(vals) {
				v = vals[idx]
			}
			env.declare(name, v)
		}
		return nil, false, false, nil

	case *LocalFuncStmt:
		env.declare(st.Name, Nil)
		fn := &Function{Params: st.Fn.Params, Vararg: st.Fn.Vararg, Body: st.Fn.Body, Env: env, Name: st.Name}
		c, _ := env.lookup(st.Name)
		c.v = FunctionValue(fn)
		return nil, false, false, nil

	case *FuncStmt:
		fn := &Function{Params: st.Fn.Params, Vararg: st.Fn.Vararg, Body: st.Fn.Body, Env: env}
		if err := i.assign(st.Target, FunctionValue(fn), env); err != nil {
			return nil, false, false, err
		}
		return nil, false, false, nil

	case *AssignStmt:
		vals, err := i.evalExprList(st.Exprs, env)
		if err != nil {
			return nil, false, false, err
		}
		for idx, target := range st.Targets {
			var v Value
			if idx < len(vals) {
				v = vals[idx]
			}
			if err := i.assign(target, v, env); err != nil {
				return nil, false, false, err
			}
		}
		return nil, false, false, nil

	case *CallStmt:
		_, err := i.evalCall(st.Call, env)
		return nil, false, false, err

	case *IfStmt:
		cond, err := i.evalExpr(st.Cond, env)
		if err != nil {
			return nil, false, false, err
		}
		if cond.Truthy() {
			return i.execBlock(st.Then, NewEnv(env))
		}
		for _, ei := range st.Elifs {
			c, err := i.evalExpr(ei.Cond, env)
			if err != nil {
				return nil, false, false, err
			}
			if c.Truthy() {
				return i.execBlock(ei.Body, NewEnv(env))
			}
		}
		if st.Else != nil {
			return i.execBlock(st.Else, NewEnv(env))
		}
		return nil, false, false, nil

	case *WhileStmt:
		for {
			c, err := i.evalExpr(st.Cond, env)
			if err != nil {
				return nil, false, false, err
			}
			if !c.Truthy() {
				break
			}
			rv, didReturn, brk, err := i.execBlock(st.Body, NewEnv(env))
			if err != nil {
				return nil, false, false, err
			}
			if didReturn {
				return rv, true, false, nil
			}
			if brk {
				break
			}
		}
		return nil, false, false, nil

	case *NumForStmt:
		startV, err := i.evalExpr(st.Start, env)
		if err != nil {
			return nil, false, false, err
		}
		stopV, err := i.evalExpr(st.Stop, env)
		if err != nil {
			return nil, false, false, err
		}
		step := 1.0
		if st.Step != nil {
			sv, err := i.evalExpr(st.Step, env)
			if err != nil {
				return nil, false, false, err
			}
			step = sv.ToNumberFloat()
		}
		cur := startV.ToNumberFloat()
		stop := stopV.ToNumberFloat()
		allInt := startV.IsInt() && stopV.IsInt() && (st.Step == nil || true)
		for (step > 0 && cur <= stop) || (step < 0 && cur >= stop) {
			loopEnv := NewEnv(env)
			if allInt {
				loopEnv.declare(st.Var, Int(int64(cur)))
			} else {
				loopEnv.declare(st.Var, Float(cur))
			}
			rv, didReturn, brk, err := i.execBlock(st.Body, loopEnv)
			if err != nil {
				return nil, false, false, err
			}
			if didReturn {
				return rv, true, false, nil
			}
			if brk {
				break
			}
			cur += step
		}
		return nil, false, false, nil

	case *ReturnStmt:
		vals, err := i.evalExprList(st.Exprs, env)
		if err != nil {
			return nil, false, false, err
		}
		return vals, true, false, nil

	case *BreakStmt:
		return nil, false, true, nil
	}
	return nil, false, false, fmt.Errorf("luavm: unhandled statement %T", s)
}

func (i *Interp) assign(target Expr, v Value, env *Env) error {
	switch t := target.(type) {
	case *Ident:
		if c, ok := env.lookup(t.Name); ok {
			c.v = v
			return nil
		}
		i.SetGlobal(t.Name, v)
		return nil
	case *IndexExpr:
		obj, err := i.evalExpr(t.Obj, env)
		if err != nil {
			return err
		}
		key, err := i.evalExpr(t.Key, env)
		if err != nil {
			return err
		}
		return i.NewIndex(obj, key, v)
	}
	return fmt.Errorf("luavm: invalid assignment target %T", target)
}

// evalExprList evaluates a comma list, expanding the final call or
// vararg expression into all of its results (Lua's multi-value rule).
func (i *Interp) evalExprList(exprs []Expr, env *Env) ([]Value, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	var out []Value
	for idx, e := range exprs {
		if idx == len(exprs)-1 {
			vals, err := i.evalMulti(e, env)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
			continue
		}
		v, err := i.evalExpr(e, env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (i *Interp) evalMulti(e Expr, env *Env) ([]Value, error) {
	switch ex := e.(type) {
	case *CallExpr:
		return i.evalCall(ex, env)
	case *VarargExpr:
		if c, ok := env.lookup("..."); ok {
			if c.v.typ == TTable && c.v.table != nil {
				// varargs stashed as an internal array-like table
				n := c.v.table.RawLen()
				out := make([]Value, 0, n)
				for k := int64(1); k <= n; k++ {
					out = append(out, c.v.table.RawGet(Int(k)))
				}
				return out, nil
			}
		}
		return nil, nil
	default:
		v, err := i.evalExpr(e, env)
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil
	}
}

func (i *Interp) evalExpr(e Expr, env *Env) (Value, error) {
	switch ex := e.(type) {
	case *NilExpr:
		return Nil, nil
	case *TrueExpr:
		return Bool(true), nil
	case *FalseExpr:
		return Bool(false), nil
	case *IntExpr:
		return Int(ex.Value), nil
	case *FloatExpr:
		return Float(ex.Value), nil
	case *StringExpr:
		return Str(ex.Value), nil
	case *VarargExpr:
		vals, err := i.evalMulti(ex, env)
		if err != nil || len(vals) == 0 {
			return Nil, err
		}
		return vals[0], nil
	case *Ident:
		if c, ok := env.lookup(ex.Name); ok {
			return c.v, nil
		}
		return i.GetGlobal(ex.Name), nil
	case *IndexExpr:
		obj, err := i.evalExpr(ex.Obj, env)
		if err != nil {
			return Nil, err
		}
		key, err := i.evalExpr(ex.Key, env)
		if err != nil {
			return Nil, err
		}
		return i.Index(obj, key)
	case *CallExpr:
		vals, err := i.evalCall(ex, env)
		if err != nil || len(vals) == 0 {
			return Nil, err
		}
		return vals[0], nil
	case *FuncExpr:
		return FunctionValue(&Function{Params: ex.Params, Vararg: ex.Vararg, Body: ex.Body, Env: env}), nil
	case *TableExpr:
		return i.evalTable(ex, env)
	case *UnExpr:
		return i.evalUnary(ex, env)
	case *BinExpr:
		return i.evalBinary(ex, env)
	}
	return Nil, fmt.Errorf("luavm: unhandled expression %T", e)
}

func (i *Interp) evalTable(ex *TableExpr, env *Env) (Value, error) {
	t := NewTable()
	arrayIdx := int64(1)
	for idx := range ex.AVals {
		v, err := i.evalExpr(ex.AVals[idx], env)
		if err != nil {
			return Nil, err
		}
		if ex.AKeys[idx] == nil {
			_ = t.RawSet(Int(arrayIdx), v)
			arrayIdx++
			continue
		}
		k, err := i.evalExpr(ex.AKeys[idx], env)
		if err != nil {
			return Nil, err
		}
		if err := t.RawSet(k, v); err != nil {
			return Nil, err
		}
	}
	return TableValue(t), nil
}

func (i *Interp) evalCall(ex *CallExpr, env *Env) ([]Value, error) {
	fnVal, err := i.evalExpr(ex.Fn, env)
	if err != nil {
		return nil, err
	}
	args, err := i.evalExprList(ex.Args, env)
	if err != nil {
		return nil, err
	}
	return i.CallValue(fnVal, args)
}

// CallValue invokes a function Value (native or script closure). It is
// exported because internal/exttable and internal/funccodec call back
// into scripted/native functions from outside expression evaluation
// (metamethods, restored closures).
func (i *Interp) CallValue(fnVal Value, args []Value) ([]Value, error) {
	if fnVal.typ != TFunction {
		return nil, fmt.Errorf("luavm: attempt to call a %s value", fnVal.typ)
	}
	i.callDepth++
	defer func() { i.callDepth-- }()
	if i.callDepth > maxCallDepth {
		return nil, fmt.Errorf("luavm: stack overflow")
	}
	if fnVal.native != nil {
		return fnVal.native.Fn(i, args)
	}
	fn := fnVal.fn
	callEnv := NewEnv(fn.Env)
	for idx, p := range fn.Params {
		var v Value
		if idx < len(args) {
			v = args[idx]
		}
		callEnv.declare(p, v)
	}
	if fn.Vararg {
		extra := NewTable()
		if len(args) > len(fn.Params) {
			for idx, v := range args[len(fn.Params):] {
				_ = extra.RawSet(Int(int64(idx+1)), v)
			}
		}
		callEnv.declare("...", TableValue(extra))
	}
	vals, returned, _, err := i.execBlock(fn.Body, callEnv)
	if err != nil {
		return nil, err
	}
	if !returned {
		return nil, nil
	}
	return vals, nil
}

// Index implements indexing with metatable fallback (§4.5 __index).
func (i *Interp) Index(obj, key Value) (Value, error) {
	if obj.typ != TTable {
		if obj.typ == TString {
			return Nil, nil // string metatable/methods out of scope for this subset
		}
		return Nil, fmt.Errorf("luavm: attempt to index a %s value", obj.typ)
	}
	t := obj.table
	if v := t.RawGet(key); !v.IsNil() {
		return v, nil
	}
	if t.meta == nil {
		return Nil, nil
	}
	idx := t.meta.RawGet(Str("__index"))
	switch idx.typ {
	case TNil:
		return Nil, nil
	case TFunction:
		vals, err := i.CallValue(idx, []Value{obj, key})
		if err != nil || len(vals) == 0 {
			return Nil, err
		}
		return vals[0], nil
	case TTable:
		return i.Index(idx, key)
	default:
		return Nil, nil
	}
}

// NewIndex implements assignment with metatable fallback (§4.5
// __newindex).
func (i *Interp) NewIndex(obj, key, val Value) error {
	if obj.typ != TTable {
		return fmt.Errorf("luavm: attempt to index a %s value", obj.typ)
	}
	t := obj.table
	if t.meta != nil {
		if !t.RawGet(key).IsNil() {
			return t.RawSet(key, val)
		}
		ni := t.meta.RawGet(Str("__newindex"))
		switch ni.typ {
		case TFunction:
			_, err := i.CallValue(ni, []Value{obj, key, val})
			return err
		case TTable:
			return i.NewIndex(ni, key, val)
		}
	}
	return t.RawSet(key, val)
}

// Len implements the # operator with __len fallback.
func (i *Interp) Len(obj Value) (Value, error) {
	switch obj.typ {
	case TString:
		return Int(int64(len(obj.s))), nil
	case TTable:
		if obj.table.meta != nil {
			if lf := obj.table.meta.RawGet(Str("__len")); lf.typ == TFunction {
				vals, err := i.CallValue(lf, []Value{obj})
				if err != nil || len(vals) == 0 {
					return Nil, err
				}
				return vals[0], nil
			}
		}
		return Int(obj.table.RawLen()), nil
	}
	return Nil, fmt.Errorf("luavm: attempt to get length of a %s value", obj.typ)
}

// ToDisplayString implements tostring() including __tostring dispatch,
// used by print and by concatenation error messages.
func (i *Interp) ToDisplayString(v Value) (string, error) {
	if v.typ == TTable && v.table.meta != nil {
		if tf := v.table.meta.RawGet(Str("__tostring")); tf.typ == TFunction {
			vals, err := i.CallValue(tf, []Value{v})
			if err != nil {
				return "", err
			}
			if len(vals) > 0 {
				return vals[0].ToString(), nil
			}
		}
	}
	return v.ToString(), nil
}

func (i *Interp) evalUnary(ex *UnExpr, env *Env) (Value, error) {
	v, err := i.evalExpr(ex.E, env)
	if err != nil {
		return Nil, err
	}
	switch ex.Op {
	case "-":
		if !v.IsNumber() {
			return Nil, fmt.Errorf("luavm: attempt to perform arithmetic on a %s value", v.typ)
		}
		if v.isInt {
			return Int(-v.i), nil
		}
		return Float(-v.f), nil
	case "not":
		return Bool(!v.Truthy()), nil
	case "#":
		return i.Len(v)
	}
	return Nil, fmt.Errorf("luavm: unknown unary operator %q", ex.Op)
}

func (i *Interp) evalBinary(ex *BinExpr, env *Env) (Value, error) {
	switch ex.Op {
	case "and":
		l, err := i.evalExpr(ex.L, env)
		if err != nil {
			return Nil, err
		}
		if !l.Truthy() {
			return l, nil
		}
		return i.evalExpr(ex.R, env)
	case "or":
		l, err := i.evalExpr(ex.L, env)
		if err != nil {
			return Nil, err
		}
		if l.Truthy() {
			return l, nil
		}
		return i.evalExpr(ex.R, env)
	}
	l, err := i.evalExpr(ex.L, env)
	if err != nil {
		return Nil, err
	}
	r, err := i.evalExpr(ex.R, env)
	if err != nil {
		return Nil, err
	}
	switch ex.Op {
	case "+", "-", "*", "/", "%", "^":
		return i.arith(ex.Op, l, r)
	case "..":
		return i.concat(l, r)
	case "==":
		return Bool(i.valuesEqual(l, r)), nil
	case "~=":
		return Bool(!i.valuesEqual(l, r)), nil
	case "<", "<=", ">", ">=":
		return i.compare(ex.Op, l, r)
	}
	return Nil, fmt.Errorf("luavm: unknown binary operator %q", ex.Op)
}

// arithMetamethods maps infix operators to the metamethod name invoked
// when either operand is a table (internal/bigint registers the first
// four: __add, __sub, __mul, __div),
// the same dispatch valuesEqual/metaLess give __eq/__lt.
var arithMetamethods = map[string]string{
	"+": "__add", "-": "__sub", "*": "__mul", "/": "__div", "%": "__mod", "^": "__pow",
}

func (i *Interp) arith(op string, l, r Value) (Value, error) {
	if l.typ == TTable || r.typ == TTable {
		return i.metaArith(op, l, r)
	}
	if !l.IsNumber() || !r.IsNumber() {
		return Nil, fmt.Errorf("luavm: attempt to perform arithmetic on a %s value", pickNonNumberType(l, r))
	}
	if op == "/" || op == "^" {
		lf, rf := l.ToNumberFloat(), r.ToNumberFloat()
		if op == "/" {
			return Float(lf / rf), nil
		}
		return Float(math.Pow(lf, rf)), nil
	}
	if l.isInt && r.isInt {
		switch op {
		case "+":
			return Int(l.i + r.i), nil
		case "-":
			return Int(l.i - r.i), nil
		case "*":
			return Int(l.i * r.i), nil
		case "%":
			if r.i == 0 {
				return Nil, fmt.Errorf("luavm: attempt to perform 'n%%0'")
			}
			m := l.i % r.i
			if m != 0 && (m < 0) != (r.i < 0) {
				m += r.i
			}
			return Int(m), nil
		}
	}
	lf, rf := l.ToNumberFloat(), r.ToNumberFloat()
	switch op {
	case "+":
		return Float(lf + rf), nil
	case "-":
		return Float(lf - rf), nil
	case "*":
		return Float(lf * rf), nil
	case "%":
		return Float(math.Mod(lf, rf)), nil
	}
	return Nil, fmt.Errorf("luavm: unknown arithmetic operator %q", op)
}

func (i *Interp) metaArith(op string, l, r Value) (Value, error) {
	name, ok := arithMetamethods[op]
	if !ok {
		return Nil, fmt.Errorf("luavm: unknown arithmetic operator %q", op)
	}
	for _, v := range []Value{l, r} {
		if v.typ != TTable || v.table.meta == nil {
			continue
		}
		fn := v.table.meta.RawGet(Str(name))
		if fn.typ != TFunction {
			continue
		}
		vals, err := i.CallValue(fn, []Value{l, r})
		if err != nil {
			return Nil, err
		}
		if len(vals) == 0 {
			return Nil, nil
		}
		return vals[0], nil
	}
	return Nil, fmt.Errorf("luavm: attempt to perform arithmetic on a %s value", pickNonNumberType(l, r))
}

func pickNonNumberType(l, r Value) Type {
	if !l.IsNumber() {
		return l.typ
	}
	return r.typ
}

func (i *Interp) concat(l, r Value) (Value, error) {
	ls, lok := concatOperand(l)
	rs, rok := concatOperand(r)
	if !lok || !rok {
		bad := l
		if lok {
			bad = r
		}
		return Nil, fmt.Errorf("luavm: attempt to concatenate a %s value", bad.typ)
	}
	return Str(ls + rs), nil
}

func concatOperand(v Value) (string, bool) {
	switch v.typ {
	case TString:
		return v.s, true
	case TNumber:
		return v.ToString(), true
	default:
		return "", false
	}
}

func (i *Interp) valuesEqual(l, r Value) bool {
	if l.typ == TTable && r.typ == TTable && l.table != r.table {
		if l.table.meta != nil {
			if eq := l.table.meta.RawGet(Str("__eq")); eq.typ == TFunction {
				vals, err := i.CallValue(eq, []Value{l, r})
				if err == nil && len(vals) > 0 {
					return vals[0].Truthy()
				}
			}
		}
	}
	return l.Equals(r)
}

// metaLess dispatches l < r through __lt when both sides are tables
// carrying a metatable that defines it (e.g. internal/bigint's
// comparison operators); ok is false when no __lt is available, so the
// caller can report "attempt to compare" instead.
func (i *Interp) metaLess(l, r Value) (less bool, ok bool, err error) {
	if l.table == nil || l.table.meta == nil {
		return false, false, nil
	}
	lt := l.table.meta.RawGet(Str("__lt"))
	if lt.typ != TFunction {
		return false, false, nil
	}
	vals, err := i.CallValue(lt, []Value{l, r})
	if err != nil {
		return false, true, err
	}
	return len(vals) > 0 && vals[0].Truthy(), true, nil
}

func (i *Interp) compare(op string, l, r Value) (Value, error) {
	var less, eq bool
	switch {
	case l.typ == TNumber && r.typ == TNumber:
		lf, rf := l.ToNumberFloat(), r.ToNumberFloat()
		less, eq = lf < rf, lf == rf
	case l.typ == TString && r.typ == TString:
		less, eq = l.s < r.s, l.s == r.s
	case l.typ == TTable && r.typ == TTable:
		lt, ok, err := i.metaLess(l, r)
		if err != nil {
			return Nil, err
		}
		if !ok {
			return Nil, fmt.Errorf("luavm: attempt to compare two table values")
		}
		switch op {
		case "<":
			return Bool(lt), nil
		case ">":
			gt, _, err := i.metaLess(r, l)
			return Bool(gt), err
		case "<=":
			gt, _, err := i.metaLess(r, l)
			return Bool(!gt), err
		case ">=":
			return Bool(!lt), nil
		}
		return Nil, fmt.Errorf("luavm: unknown comparison operator %q", op)
	default:
		return Nil, fmt.Errorf("luavm: attempt to compare %s with %s", l.typ, r.typ)
	}
	switch op {
	case "<":
		return Bool(less), nil
	case "<=":
		return Bool(less || eq), nil
	case ">":
		return Bool(!less && !eq), nil
	case ">=":
		return Bool(!less), nil
	}
	return Nil, fmt.Errorf("luavm: unknown comparison operator %q", op)
}
