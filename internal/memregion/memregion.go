// Package memregion backs spec.md §4.1's "contiguous byte array in
// linear memory" with a real OS-backed anonymous mapping instead of a
// plain Go slice, using the teacher's own github.com/edsrzf/mmap-go
// dependency (wagon uses it to map compiled native-backend trampolines;
// here it stands in for the WASM instance's linear memory pages so the
// allocator shim in internal/allocator operates on genuinely
// externally-addressable memory; Region exposes Flush and Close, which
// unmaps).
package memregion

import (
	"fmt"

	"github.com/edsrzf/mmap-go"
)

// Region is a fixed-size, page-backed byte range standing in for a
// WASM module's linear memory.
type Region struct {
	m mmap.MMap
}

// New allocates a zeroed anonymous region of the given size. Size is
// rounded up by the OS to a page boundary; callers needing an exact
// logical size (the 64 KiB I/O buffer, for instance) just slice it
// down.
func New(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memregion: size must be positive, got %d", size)
	}
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("memregion: mmap failed: %w", err)
	}
	return &Region{m: m}, nil
}

// Bytes exposes the whole backing slice. Growing or shrinking it is not
// supported; the allocator shim is sized once at construction per
// spec.md's "configurable size (default >= 512 KiB)".
func (r *Region) Bytes() []byte { return r.m }

// Len reports the region's byte capacity.
func (r *Region) Len() int { return len(r.m) }

// Flush asks the OS to write the mapping back (a no-op for anonymous
// memory, kept for symmetry with a future file-backed region and to
// exercise the dependency's full surface).
func (r *Region) Flush() error { return r.m.Flush() }

// Close unmaps the region. Safe to call once; the allocator shim calls
// it from the runtime's Close/shutdown path.
func (r *Region) Close() error { return r.m.Unmap() }
