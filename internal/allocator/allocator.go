// Package allocator implements spec.md §4.1: a single function
// conforming to the embedded VM's allocation callback contract
// `(user_data, old_ptr, old_size, new_size) -> ptr_or_null`, backed by
// a bump-and-free-list region of linear memory (internal/memregion).
//
// Per §5 ("nothing in the core uses locks because nothing can
// contend"), this type is deliberately not safe for concurrent use —
// the embedding VM never calls it reentrantly.
package allocator

import (
	"sort"

	"github.com/extio/luabridge/internal/memregion"
)

const alignment = 8

func align(n uint32) uint32 {
	return (n + alignment - 1) &^ (alignment - 1)
}

type run struct {
	off, size uint32
}

// Allocator is the bump+free-list shim. Ptr 0 is reserved to mean
// "null", matching the embedding contract's old_ptr == null case; real
// allocations therefore start at offset >= alignment.
type Allocator struct {
	region *memregion.Region
	bump   uint32
	free   []run // sorted by offset, non-overlapping
	used   map[uint32]uint32
}

// New creates an allocator over a freshly mapped region of the given
// size (spec.md's "default >= 512 KiB, grown at init to fit VM
// bootstrap").
func New(size int) (*Allocator, error) {
	r, err := memregion.New(size)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		region: r,
		bump:   alignment, // reserve [0, alignment) so offset 0 can mean null
		used:   make(map[uint32]uint32),
	}, nil
}

// Region exposes the backing linear memory for callers (the I/O buffer
// and proxy scratch space are carved from the same address space in a
// real embedding; here they use their own memregion, but components
// needing raw access to VM-managed allocations read through this).
func (a *Allocator) Region() *memregion.Region { return a.region }

// Alloc implements the embedding callback contract:
//
//	new_size == 0          -> free old_ptr, return null
//	old_ptr == 0 (null)    -> allocate new_size
//	otherwise              -> resize in place if possible, else
//	                          allocate+copy+free
//
// Returns (0, false) on exhaustion, matching "failure returns null...
// no abort."
func (a *Allocator) Alloc(oldPtr, oldSize, newSize uint32) (uint32, bool) {
	if newSize == 0 {
		if oldPtr != 0 {
			a.free_(oldPtr, oldSize)
		}
		return 0, true
	}
	want := align(newSize)
	if oldPtr == 0 {
		return a.alloc(want)
	}
	if want <= align(oldSize) {
		return oldPtr, true
	}
	if a.growInPlace(oldPtr, oldSize, want) {
		a.used[oldPtr] = want
		return oldPtr, true
	}
	newPtr, ok := a.alloc(want)
	if !ok {
		return 0, false
	}
	copy(a.region.Bytes()[newPtr:newPtr+want], a.region.Bytes()[oldPtr:oldPtr+oldSize])
	a.free_(oldPtr, oldSize)
	return newPtr, true
}

func (a *Allocator) alloc(want uint32) (uint32, bool) {
	// first-fit over the free list
	for idx, r := range a.free {
		if r.size >= want {
			ptr := r.off
			if r.size == want {
				a.free = append(a.free[:idx], a.free[idx+1:]...)
			} else {
				a.free[idx] = run{off: r.off + want, size: r.size - want}
			}
			a.used[ptr] = want
			return ptr, true
		}
	}
	if uint64(a.bump)+uint64(want) > uint64(a.region.Len()) {
		return 0, false
	}
	ptr := a.bump
	a.bump += want
	a.used[ptr] = want
	return ptr, true
}

func (a *Allocator) growInPlace(ptr, oldSize, want uint32) bool {
	oldAligned := align(oldSize)
	need := want - oldAligned
	end := ptr + oldAligned
	if end == a.bump && uint64(a.bump)+uint64(need) <= uint64(a.region.Len()) {
		a.bump += need
		return true
	}
	for idx, r := range a.free {
		if r.off == end && r.size >= need {
			if r.size == need {
				a.free = append(a.free[:idx], a.free[idx+1:]...)
			} else {
				a.free[idx] = run{off: r.off + need, size: r.size - need}
			}
			return true
		}
	}
	return false
}

func (a *Allocator) free_(ptr, size uint32) {
	delete(a.used, ptr)
	a.free = append(a.free, run{off: ptr, size: align(size)})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].off < a.free[j].off })
	merged := a.free[:0]
	for _, r := range a.free {
		if len(merged) > 0 && merged[len(merged)-1].off+merged[len(merged)-1].size == r.off {
			merged[len(merged)-1].size += r.size
			continue
		}
		merged = append(merged, r)
	}
	a.free = merged
}

// Close unmaps the backing region.
func (a *Allocator) Close() error { return a.region.Close() }

// Stats reports coarse usage for get_memory_stats (§4.9).
type Stats struct {
	RegionBytes uint32
	UsedBytes   uint32
	FreeRuns    int
}

func (a *Allocator) Stats() Stats {
	var used uint32
	for _, v := range a.used {
		used += v
	}
	return Stats{RegionBytes: uint32(a.region.Len()), UsedBytes: used, FreeRuns: len(a.free)}
}
