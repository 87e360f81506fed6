// Package hoststore provides implementations of internal/exttable's
// HostStore interface: the host-side "key/value database exposing
// 'open table N -> map of key->bytes'" spec.md §1 places out of scope
// as an external collaborator but SPEC_FULL.md's DOMAIN STACK asks us
// to give a home to anyway, so the module is exercisable end to end
// without a real host process.
//
// Memstore is the default, dependency-free reference implementation;
// Pgstore (pgstore.go) backs the same interface with a real
// github.com/jackc/pgx connection, the teacher's own persistence
// dependency.
package hoststore

import (
	"sort"
	"sync"
)

// Memstore is a process-local, in-memory HostStore: a map of table ID
// to a map of key to the already-encoded value bytes the wire codec
// produced. It never errors on Set/Delete — the reference host is
// assumed infallible — which is also why internal/hoststore/pgstore.go
// exists: to exercise the Host.Failure path against something that can
// genuinely fail (a dropped connection, a failed transaction).
type Memstore struct {
	mu     sync.Mutex
	tables map[uint32]map[string][]byte
}

func NewMemstore() *Memstore {
	return &Memstore{tables: make(map[uint32]map[string][]byte)}
}

func (m *Memstore) table(id uint32) map[string][]byte {
	t, ok := m.tables[id]
	if !ok {
		t = make(map[string][]byte)
		m.tables[id] = t
	}
	return t
}

func (m *Memstore) Set(id uint32, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(val))
	copy(cp, val)
	m.table(id)[key] = cp
	return nil
}

func (m *Memstore) Get(id uint32, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, false, nil
	}
	v, ok := t[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *Memstore) Delete(id uint32, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[id]; ok {
		delete(t, key)
	}
	return nil
}

func (m *Memstore) Size(id uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[id]), nil
}

func (m *Memstore) Keys(id uint32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[id]
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Snapshot copies out every key/value pair for table id, for tests and
// for a host's own persistence layer to serialize (§6 "Persistence
// layout (suggested, not mandatory)").
func (m *Memstore) Snapshot(id uint32) map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range m.tables[id] {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
