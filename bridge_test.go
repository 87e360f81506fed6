package bridge

import (
	"encoding/binary"
	"testing"

	"github.com/extio/luabridge/internal/hoststore"
	"github.com/extio/luabridge/internal/luavm"
	"github.com/extio/luabridge/internal/wire"
)

func decodeFrame(t *testing.T, r *Runtime, n int32) (output string, value []byte) {
	t.Helper()
	if n < 0 {
		t.Fatalf("Compute returned error frame: %s", string(r.BufferBytes()[:-n]))
	}
	buf := r.BufferBytes()
	outLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	return string(buf[4 : 4+outLen]), buf[4+outLen : n]
}

func mustCompute(t *testing.T, r *Runtime, script string) (string, []byte) {
	t.Helper()
	n := r.Compute(0, int32(r.WriteScript(script)))
	return decodeFrame(t, r, n)
}

// WriteScript writes a script into the runtime's own I/O buffer and
// returns its length, the in-process equivalent of a host writing at
// GetBufferPtr() before calling Compute(ptr, len).
func (r *Runtime) WriteScript(script string) int {
	return r.buf.WriteAt(0, []byte(script))
}

// §8 scenario 1.
func TestScenarioArithmetic(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	out, val := mustCompute(t, r, "return 1 + 1")
	if out != "" {
		t.Fatalf("stdout = %q, want empty", out)
	}
	if val[0] != wire.TagInt || int64(binary.LittleEndian.Uint64(val[1:9])) != 2 {
		t.Fatalf("value frame = %v, want int 2", val)
	}
}

// §8 scenario 2.
func TestScenarioPrintAndReturn(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	out, val := mustCompute(t, r, "print('hi'); return 'ok'")
	if out != "hi\n" {
		t.Fatalf("stdout = %q, want %q", out, "hi\n")
	}
	if val[0] != wire.TagString {
		t.Fatalf("expected a string value tag, got 0x%02x", val[0])
	}
}

// §8 scenario 3: _home persistence across a simulated save/restore.
func TestScenarioHomeCounterAcrossRestore(t *testing.T) {
	store := hoststore.NewMemstore()
	r1, err := New(WithHostStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for want := int64(1); want <= 2; want++ {
		_, val := mustCompute(t, r1, "_home.counter = (_home.counter or 0) + 1; return _home.counter")
		got := int64(binary.LittleEndian.Uint64(val[1:9]))
		if got != want {
			t.Fatalf("run %d: counter = %d, want %d", want, got, want)
		}
	}

	homeID := r1.GetMemoryTableID()
	nextID := r1.GetMemoryStats().NextTableID
	r1.Close()

	r2, err := New(WithHostStore(store))
	if err != nil {
		t.Fatalf("New (restore): %v", err)
	}
	defer r2.Close()
	r2.SyncExternalTableCounter(nextID)
	r2.AttachMemoryTable(homeID)

	_, val := mustCompute(t, r2, "_home.counter = (_home.counter or 0) + 1; return _home.counter")
	got := int64(binary.LittleEndian.Uint64(val[1:9]))
	if got != 3 {
		t.Fatalf("counter after restore = %d, want 3", got)
	}
}

// §8 scenario 4: a plain host-constructed table auto-promotes through
// _io.input.
func TestScenarioSetInput(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	in := luavm.NewTable()
	_ = in.RawSet(luavm.Str("name"), luavm.Str("Alice"))
	_ = in.RawSet(luavm.Str("age"), luavm.Int(30))
	if err := r.SetInput(luavm.TableValue(in)); err != nil {
		t.Fatalf("SetInput: %v", err)
	}

	_, val := mustCompute(t, r, "return _io.input.name .. ' is ' .. _io.input.age")
	codec, decoded := r.codec, luavm.Value{}
	decoded, err = codec.Decode(val)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.AsString() != "Alice is 30" {
		t.Fatalf("got %q, want %q", decoded.AsString(), "Alice is 30")
	}
}

// §8 scenario 5: a closure stored in _home survives a save/restore
// boundary, with fresh (nil) upvalues.
func TestScenarioClosureRoundTripAcrossRestore(t *testing.T) {
	store := hoststore.NewMemstore()
	r1, err := New(WithHostStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, val := mustCompute(t, r1, "_home.f = function(x) return x*x end; return _home.f(3)"); val[0] != wire.TagInt {
		t.Fatalf("unexpected first-call value tag 0x%02x", val[0])
	}

	homeID := r1.GetMemoryTableID()
	nextID := r1.GetMemoryStats().NextTableID
	r1.Close()

	r2, err := New(WithHostStore(store))
	if err != nil {
		t.Fatalf("New (restore): %v", err)
	}
	defer r2.Close()
	r2.SyncExternalTableCounter(nextID)
	r2.AttachMemoryTable(homeID)

	_, val := mustCompute(t, r2, "return _home.f(7)")
	got := int64(binary.LittleEndian.Uint64(val[1:9]))
	if got != 49 {
		t.Fatalf("restored _home.f(7) = %d, want 49", got)
	}
}

// §8 property 7, exercised end-to-end through Compute rather than
// internal/wire directly: unlike the no-upvalue closure above, a closure
// that captures a local loses it once it is stored in _home. Every read
// of _home.f decodes the dumped closure, so the first call in the same
// session already sees the upvalue as nil, and the restored call after
// the save/restore boundary sees nil too, not the value that was live
// when _home.f was dumped.
func TestScenarioClosureUpvalueLostAcrossRestore(t *testing.T) {
	store := hoststore.NewMemstore()
	r1, err := New(WithHostStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, val := mustCompute(t, r1, "local n = 5; _home.f = function() return n end; return _home.f()"); val[0] != wire.TagNil {
		t.Fatalf("first-call value tag = 0x%02x, want TagNil (reading _home.f back drops the upvalue)", val[0])
	}

	homeID := r1.GetMemoryTableID()
	nextID := r1.GetMemoryStats().NextTableID
	r1.Close()

	r2, err := New(WithHostStore(store))
	if err != nil {
		t.Fatalf("New (restore): %v", err)
	}
	defer r2.Close()
	r2.SyncExternalTableCounter(nextID)
	r2.AttachMemoryTable(homeID)

	_, val := mustCompute(t, r2, "return _home.f()")
	if val[0] != wire.TagNil {
		t.Fatalf("restored _home.f() value tag = 0x%02x, want TagNil (upvalue must be lost)", val[0])
	}
}

// §8 scenario 6.
func TestScenarioHomeIsTruthyAfterInit(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	_, val := mustCompute(t, r, "return not not _home")
	if val[0] != wire.TagBool || val[1] != 1 {
		t.Fatalf("not not _home = %v, want true", val)
	}
	if r.GetMemoryTableID() == 0 {
		t.Fatal("GetMemoryTableID() must be > 0 after init")
	}
}

// §8 scenario 7 / property 9: error continuity.
func TestScenarioCompileErrorThenSuccess(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	n := r.Compute(0, int32(r.WriteScript("foo bar")))
	if n >= 0 {
		t.Fatalf("expected a negative return for a compile error, got %d", n)
	}
	msg := string(r.BufferBytes()[:-n])
	if len(msg) < len("compile:") || msg[:len("compile:")] != "compile:" {
		t.Fatalf("error frame = %q, want a compile: prefix", msg)
	}

	_, val := mustCompute(t, r, "return 42")
	got := int64(binary.LittleEndian.Uint64(val[1:9]))
	if got != 42 {
		t.Fatalf("got %d after recovering from a compile error, want 42", got)
	}
}

func TestIDMonotonicityAcrossTables(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	var prev uint32
	for i := 0; i < 5; i++ {
		tbl := r.NewTable()
		if tbl.ExtTableID <= prev {
			t.Fatalf("table id %d did not increase past %d", tbl.ExtTableID, prev)
		}
		prev = tbl.ExtTableID
	}
}
