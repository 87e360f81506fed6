package bigint

import (
	"testing"

	"github.com/extio/luabridge/internal/luavm"
)

func TestBigintArithmeticViaModule(t *testing.T) {
	state := luavm.NewState()
	Register(state.Interp)

	fn, err := state.LoadString(`
		local bigint = require("bigint")
		local a = bigint.new("123456789012345678901234567890")
		local b = bigint.new("1")
		local c = a + b
		return tostring(c)
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	vals, err := state.PCall(fn)
	if err != nil {
		t.Fatalf("PCall: %v", err)
	}
	if len(vals) != 1 || vals[0].AsString() != "123456789012345678901234567891" {
		t.Fatalf("got %v, want [123456789012345678901234567891]", vals)
	}
}

func TestBigintComparisonOperators(t *testing.T) {
	state := luavm.NewState()
	Register(state.Interp)

	fn, err := state.LoadString(`
		local bigint = require("bigint")
		local a = bigint.new("10")
		local b = bigint.new("20")
		return a < b, a == bigint.new("10")
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	vals, err := state.PCall(fn)
	if err != nil {
		t.Fatalf("PCall: %v", err)
	}
	if len(vals) != 2 || !vals[0].AsBool() || !vals[1].AsBool() {
		t.Fatalf("got %v, want [true true]", vals)
	}
}

func TestBigintRequireIsIdempotent(t *testing.T) {
	state := luavm.NewState()
	Register(state.Interp)
	fn, err := state.LoadString(`
		local a = require("bigint")
		local b = require("bigint")
		return a == b
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	vals, err := state.PCall(fn)
	if err != nil {
		t.Fatalf("PCall: %v", err)
	}
	if len(vals) != 1 || !vals[0].AsBool() {
		t.Fatal("require(\"bigint\") must return the same module table each call")
	}
}
