// Package lifecycle implements spec.md §4.8: the single u32 counter
// that hands out external-table IDs, plus the sync/attach dance that
// keeps a restored session's allocator from colliding with IDs the
// host already persisted.
package lifecycle

import "sync"

// Counter is the monotonic ID allocator. The core never calls it
// concurrently (§5: "nothing in the core uses locks because nothing can
// contend"); every method still takes the mutex, so accidental
// concurrent access from Go code embedding this module outside the
// single-threaded WASM contract is safe.
type Counter struct {
	mu     sync.Mutex
	nextID uint32
}

// New starts a counter at 1; zero is reserved so an uninitialized
// table_id is recognizably invalid.
func New() *Counter {
	return &Counter{nextID: 1}
}

// Next implements ext.new_table()'s ID allocation: "takes its current
// value, increments, returns."
func (c *Counter) Next() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

// Sync implements sync_external_table_counter(next_id): "if our
// counter is smaller, set it to next_id; never decrease it."
func (c *Counter) Sync(nextID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nextID > c.nextID {
		c.nextID = nextID
	}
}

// Peek reports the counter's current value without allocating,
// exposed for get_memory_stats / diagnostics.
func (c *Counter) Peek() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID
}
