// Package dispatch implements spec.md §4.7: load-and-run a script
// string, capture print output, encode the last value, and frame
// either a success result or a tagged error message into the shared
// I/O buffer.
package dispatch

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/extio/luabridge/internal/bridgeerr"
	"github.com/extio/luabridge/internal/iobuf"
	"github.com/extio/luabridge/internal/luavm"
	"github.com/extio/luabridge/internal/wire"
)

// printCapCapacity is "default 64 KiB minus overhead" from §4.7 step 2.
const printCapCapacity = iobuf.Size - 4096

const ellipsis = "..."

// captureSink bounds the print buffer and appends an ellipsis marker
// once it overflows, per §4.7: "overflow appends a three-byte ellipsis
// marker ... and stops capturing."
type captureSink struct {
	buf      []byte
	overflow bool
}

func (s *captureSink) write(str string) {
	if s.overflow {
		return
	}
	remaining := printCapCapacity - len(s.buf)
	if len(str) <= remaining {
		s.buf = append(s.buf, str...)
		return
	}
	s.buf = append(s.buf, str[:remaining]...)
	s.buf = append(s.buf, ellipsis...)
	s.overflow = true
}

// Dispatcher wires one luavm.State and wire.Codec against the shared
// I/O buffer, implementing the `compute` export.
type Dispatcher struct {
	State  *luavm.State
	Codec  *wire.Codec
	Buffer *iobuf.Buffer
}

func New(state *luavm.State, codec *wire.Codec, buf *iobuf.Buffer) *Dispatcher {
	return &Dispatcher{State: state, Codec: codec, Buffer: buf}
}

// Compute implements the `compute(script_ptr, script_len) -> i32`
// export. Since this module is not actually running inside a WASM
// instance, script bytes are handed in directly rather than read out
// of the buffer at an address; the root bridge package (the exports
// boundary) is the layer responsible for reading script_len bytes from
// script_ptr in the buffer before calling this. Returns the same
// signed byte count the real export would: positive/zero for success,
// negative for an error, with the frame already written into Buffer.
func (d *Dispatcher) Compute(script []byte) int {
	if len(script) > iobuf.Size {
		return d.writeError(bridgeerr.KindInvalidLength, errors.New("dispatch: script exceeds I/O buffer size"))
	}

	sink := &captureSink{}
	d.State.Print = sink.write

	fn, err := d.State.LoadString(string(script))
	if err != nil {
		return d.writeError(bridgeerr.KindCompile, err)
	}

	vals, err := d.State.PCall(fn)
	if err != nil {
		return d.writeError(bridgeerr.KindRuntime, err)
	}

	// §4.7 step 5: "scalar-or-last convention... this spec picks
	// last-value to match typical REPL behavior."
	var ret luavm.Value
	if len(vals) > 0 {
		ret = vals[len(vals)-1]
	} else {
		ret = luavm.Nil
	}

	encoded, err := d.Codec.Encode(ret)
	if err != nil {
		return d.writeError(bridgeerr.KindOf(err), err)
	}

	return d.writeSuccess(sink.buf, encoded)
}

func (d *Dispatcher) writeSuccess(output, value []byte) int {
	buf := d.Buffer.Bytes()
	if 4+len(output)+len(value) > len(buf) {
		return d.writeError(bridgeerr.KindBufferTooSmall, errors.New("dispatch: result frame exceeds I/O buffer"))
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(output)))
	off := 4
	off += copy(buf[off:], output)
	off += copy(buf[off:], value)
	return off
}

// writeError implements §6's "Error encoding on compute failure": a
// UTF-8 message prefixed by a short tag word, no length prefix, return
// value is the negative byte count.
func (d *Dispatcher) writeError(kind bridgeerr.Kind, cause error) int {
	msg := kind.Tag() + cause.Error()
	buf := d.Buffer.Bytes()
	n := copy(buf, msg)
	return -n
}
