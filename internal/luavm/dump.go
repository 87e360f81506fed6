package luavm

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// DumpMagic is the first four bytes of every dumped closure, the
// analogue of Lua's own "\x1bLua" bytecode signature. §4.4 requires
// decoders to reject a blob before attempting to load it if these
// bytes don't match.
var DumpMagic = [4]byte{0x1b, 'L', 'u', 'V'}

func init() {
	gob.Register(&LocalStmt{})
	gob.Register(&AssignStmt{})
	gob.Register(&CallStmt{})
	gob.Register(&IfStmt{})
	gob.Register(&WhileStmt{})
	gob.Register(&NumForStmt{})
	gob.Register(&ReturnStmt{})
	gob.Register(&BreakStmt{})
	gob.Register(&FuncStmt{})
	gob.Register(&LocalFuncStmt{})
	gob.Register(&NilExpr{})
	gob.Register(&TrueExpr{})
	gob.Register(&FalseExpr{})
	gob.Register(&VarargExpr{})
	gob.Register(&IntExpr{})
	gob.Register(&FloatExpr{})
	gob.Register(&StringExpr{})
	gob.Register(&Ident{})
	gob.Register(&IndexExpr{})
	gob.Register(&CallExpr{})
	gob.Register(&BinExpr{})
	gob.Register(&UnExpr{})
	gob.Register(&FuncExpr{})
	gob.Register(&TableExpr{})
}

type dumpedChunk struct {
	Params []string
	Vararg bool
	Body   []Stmt
}

// Dump serializes a closure's body into a portable, debug-info-free
// blob, mirroring string.dump: no source positions travel (this AST
// never carried line numbers past parsing) and, critically, no upvalue
// values travel — only the parameter list and statement body do.
func Dump(fn *Function) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(DumpMagic[:])
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(dumpedChunk{Params: fn.Params, Vararg: fn.Vararg, Body: fn.Body}); err != nil {
		return nil, fmt.Errorf("luavm: dump failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Load validates the magic header, then deserializes a closure bound to
// env. Because no upvalue state is encoded, the returned closure's free
// variables resolve through env exactly as if it had just been defined
// there with none of its original captures — the documented §4.4/§8
// upvalue loss.
func Load(blob []byte, env *Env) (*Function, error) {
	if len(blob) < len(DumpMagic) || !bytes.Equal(blob[:len(DumpMagic)], DumpMagic[:]) {
		return nil, fmt.Errorf("luavm: bytecode header mismatch")
	}
	dec := gob.NewDecoder(bytes.NewReader(blob[len(DumpMagic):]))
	var chunk dumpedChunk
	if err := dec.Decode(&chunk); err != nil {
		return nil, fmt.Errorf("luavm: corrupt bytecode: %w", err)
	}
	return &Function{Params: chunk.Params, Vararg: chunk.Vararg, Body: chunk.Body, Env: env}, nil
}
