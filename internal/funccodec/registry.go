package funccodec

import (
	"fmt"
	"strings"

	"github.com/extio/luabridge/internal/luavm"
)

// registryNames is the append-only, ordered list of qualified builtin
// names the registry knows how to round-trip by index (§4.4: "the
// registry is append-only across releases to preserve compatibility;
// removing or reordering entries breaks persisted state"). A release
// that adds a new builtin appends a new name to the end of this slice
// and never touches the existing entries.
var registryNames = []string{
	"print",
	"tostring",
	"tonumber",
	"type",
	"pairs",
	"error",
	"assert",
	"math.sin",
	"math.cos",
	"math.sqrt",
	"math.floor",
	"math.abs",
	"string.len",
	"string.upper",
	"string.lower",
}

// Registry maps builtin functions to stable indices within one running
// interpreter. It is built once at init from the live global table so
// the *luavm.NativeFunc pointers match exactly what scripts observe.
type Registry struct {
	byIndex []*luavm.NativeFunc
	names   []string
	byPtr   map[*luavm.NativeFunc]uint16
}

// Build resolves every name in registryNames against interp's globals.
// A name that can't be resolved (a stripped-down embedding without the
// string library, say) is left as a nil slot: encoding never produces
// that index, and decoding that index is a Malformed blob.
func Build(interp *luavm.Interp) *Registry {
	r := &Registry{byPtr: make(map[*luavm.NativeFunc]uint16)}
	for _, name := range registryNames {
		nf := resolve(interp, name)
		idx := uint16(len(r.byIndex))
		r.byIndex = append(r.byIndex, nf)
		r.names = append(r.names, name)
		if nf != nil {
			r.byPtr[nf] = idx
		}
	}
	return r
}

func resolve(interp *luavm.Interp, qualified string) *luavm.NativeFunc {
	parts := strings.SplitN(qualified, ".", 2)
	var v luavm.Value
	if len(parts) == 1 {
		v = interp.GetGlobal(parts[0])
	} else {
		tbl := interp.GetGlobal(parts[0])
		if !tbl.IsTable() {
			return nil
		}
		v = tbl.AsTable().RawGet(luavm.Str(parts[1]))
	}
	if !v.IsFunction() {
		return nil
	}
	return v.AsNative()
}

// IndexOf returns the registry slot for a builtin, for §4.3's tag 0x06
// encode path. ok is false when the function isn't registered
// ("Unsupported", per §4.4).
func (r *Registry) IndexOf(nf *luavm.NativeFunc) (uint16, bool) {
	idx, ok := r.byPtr[nf]
	return idx, ok
}

// ByIndex resolves a decoded registry index back to a function. An
// out-of-range index is Malformed, not Unsupported — the blob itself is
// corrupt or from an incompatible registry version.
func (r *Registry) ByIndex(idx uint16) (*luavm.NativeFunc, error) {
	if int(idx) >= len(r.byIndex) || r.byIndex[idx] == nil {
		return nil, fmt.Errorf("funccodec: builtin index %d not in registry", idx)
	}
	return r.byIndex[idx], nil
}
