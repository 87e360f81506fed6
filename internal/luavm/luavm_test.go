package luavm

import "testing"

func run(t *testing.T, src string) []Value {
	t.Helper()
	state := NewState()
	fn, err := state.LoadString(src)
	if err != nil {
		t.Fatalf("LoadString(%q): %v", src, err)
	}
	vals, err := state.PCall(fn)
	if err != nil {
		t.Fatalf("PCall(%q): %v", src, err)
	}
	return vals
}

func TestArithmeticAndReturn(t *testing.T) {
	vals := run(t, "return 1 + 1")
	if len(vals) != 1 || vals[0].AsInt() != 2 {
		t.Fatalf("got %v, want [2]", vals)
	}
}

func TestPrintAndStringReturn(t *testing.T) {
	var printed string
	state := NewState()
	state.Print = func(s string) { printed += s }
	fn, err := state.LoadString("print('hi'); return 'ok'")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	vals, err := state.PCall(fn)
	if err != nil {
		t.Fatalf("PCall: %v", err)
	}
	if printed != "hi\n" {
		t.Fatalf("printed = %q, want %q", printed, "hi\n")
	}
	if len(vals) != 1 || vals[0].AsString() != "ok" {
		t.Fatalf("return value = %v, want [ok]", vals)
	}
}

func TestClosureCapturesUpvalue(t *testing.T) {
	state := NewState()
	fn, _ := state.LoadString(`
		local n = 10
		local function addN(x) return x + n end
		return addN(5)
	`)
	vals, err := state.PCall(fn)
	if err != nil {
		t.Fatalf("PCall: %v", err)
	}
	if len(vals) != 1 || vals[0].AsInt() != 15 {
		t.Fatalf("got %v, want [15]", vals)
	}
}

func TestTableIndexAssign(t *testing.T) {
	vals := run(t, `
		local t = {}
		t.x = 42
		return t.x
	`)
	if len(vals) != 1 || vals[0].AsInt() != 42 {
		t.Fatalf("got %v, want [42]", vals)
	}
}

func TestIfAndNumericFor(t *testing.T) {
	vals := run(t, `
		local sum = 0
		for i = 1, 5 do
			if i % 2 == 0 then
				sum = sum + i
			end
		end
		return sum
	`)
	if len(vals) != 1 || vals[0].AsInt() != 6 {
		t.Fatalf("got %v, want [6]", vals)
	}
}

func TestCompileErrorOnBadSyntax(t *testing.T) {
	state := NewState()
	if _, err := state.LoadString("foo bar"); err == nil {
		t.Fatal("expected a compile error for invalid syntax")
	}
}

func TestRuntimeErrorFromAssert(t *testing.T) {
	state := NewState()
	fn, err := state.LoadString("assert(false, 'boom')")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if _, err := state.PCall(fn); err == nil {
		t.Fatal("expected a runtime error from a failed assertion")
	}
}

func TestGlobalsPersistAcrossSeparateLoads(t *testing.T) {
	state := NewState()
	fn1, _ := state.LoadString("counter = (counter or 0) + 1")
	if _, err := state.PCall(fn1); err != nil {
		t.Fatalf("PCall 1: %v", err)
	}
	fn2, _ := state.LoadString("return counter")
	vals, err := state.PCall(fn2)
	if err != nil {
		t.Fatalf("PCall 2: %v", err)
	}
	if len(vals) != 1 || vals[0].AsInt() != 1 {
		t.Fatalf("got %v, want [1]", vals)
	}
}
