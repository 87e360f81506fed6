// Package iobuf implements spec.md §4.2: the fixed 64 KiB shared byte
// region all host<->VM traffic for a compute call passes through,
// backed by internal/memregion the same way internal/allocator backs
// its region — a real mapped range rather than a bare Go slice, so
// get_buffer_ptr (§4.9) names an address a host could genuinely read
// out-of-process from if this were compiled to WASM.
package iobuf

import "github.com/extio/luabridge/internal/memregion"

// Size is the fixed buffer size spec.md §4.2 mandates.
const Size = 65536

// Buffer is the single shared region. No concurrent access is
// supported, matching §5's single-threaded, non-reentrant model.
type Buffer struct {
	region *memregion.Region
}

func New() (*Buffer, error) {
	r, err := memregion.New(Size)
	if err != nil {
		return nil, err
	}
	return &Buffer{region: r}, nil
}

// Bytes exposes the full 64 KiB region.
func (b *Buffer) Bytes() []byte { return b.region.Bytes()[:Size] }

// WriteAt copies p into the buffer starting at offset off, the
// equivalent of a host write through the exported base pointer.
func (b *Buffer) WriteAt(off int, p []byte) int {
	n := copy(b.Bytes()[off:], p)
	return n
}

// ReadAt reads n bytes starting at offset off.
func (b *Buffer) ReadAt(off, n int) []byte {
	return b.Bytes()[off : off+n]
}

// Close releases the backing region.
func (b *Buffer) Close() error { return b.region.Close() }
