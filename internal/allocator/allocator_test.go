package allocator

import "testing"

func TestAllocDistinctNonOverlapping(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	p1, ok := a.Alloc(0, 0, 64)
	if !ok {
		t.Fatal("Alloc p1 failed")
	}
	p2, ok := a.Alloc(0, 0, 64)
	if !ok {
		t.Fatal("Alloc p2 failed")
	}
	if p1 == p2 {
		t.Fatalf("two live allocations share offset %d", p1)
	}
	if p1 == 0 || p2 == 0 {
		t.Fatal("offset 0 is reserved for null and must never be handed out")
	}
}

func TestFreeThenReallocReusesSpace(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	p1, _ := a.Alloc(0, 0, 128)
	statsBefore := a.Stats()

	if _, ok := a.Alloc(p1, 128, 0); !ok {
		t.Fatal("free via Alloc(ptr, size, 0) failed")
	}

	p2, ok := a.Alloc(0, 0, 128)
	if !ok {
		t.Fatal("realloc after free failed")
	}
	if p2 != p1 {
		t.Fatalf("expected free-list reuse at offset %d, got %d", p1, p2)
	}
	statsAfter := a.Stats()
	if statsAfter.UsedBytes != statsBefore.UsedBytes {
		t.Fatalf("used bytes changed across free+realloc of the same size: %d vs %d",
			statsBefore.UsedBytes, statsAfter.UsedBytes)
	}
}

func TestOOMReturnsNullNotPanic(t *testing.T) {
	a, err := New(64) // far smaller than the 1 MiB request below
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, ok := a.Alloc(0, 0, 1<<20); ok {
		t.Fatal("expected exhaustion to fail cleanly")
	}
}

func TestGrowInPlaceAtBump(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	p, ok := a.Alloc(0, 0, 32)
	if !ok {
		t.Fatal("initial alloc failed")
	}
	grown, ok := a.Alloc(p, 32, 64)
	if !ok {
		t.Fatal("grow in place failed")
	}
	if grown != p {
		t.Fatalf("growing the most recent bump allocation should keep its offset: got %d, want %d", grown, p)
	}
}
