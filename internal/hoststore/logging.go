package hoststore

import "github.com/extio/luabridge/internal/oplog"

// HostStore mirrors internal/exttable.HostStore structurally so this
// package doesn't need to import exttable; any concrete store here
// (Memstore, Pgstore) satisfies both.
type HostStore interface {
	Set(id uint32, key string, val []byte) error
	Get(id uint32, key string) (val []byte, ok bool, err error)
	Delete(id uint32, key string) error
	Size(id uint32) (int, error)
	Keys(id uint32) ([]string, error)
}

// recorder is the subset of oplog.Log a LoggingStore needs; satisfied
// by *oplog.Log (including its nil-pool no-op mode).
type recorder interface {
	Record(op string, tableID uint32, key string, ok bool)
}

// LoggingStore wraps any HostStore and records every call through an
// operation journal, so a host wiring internal/oplog gets a row for
// each ext_table_set/get/delete/keys/size without exttable.Manager
// needing to know the journal exists.
type LoggingStore struct {
	inner HostStore
	log   recorder
}

func NewLoggingStore(inner HostStore, log *oplog.Log) *LoggingStore {
	return &LoggingStore{inner: inner, log: log}
}

func (s *LoggingStore) Set(id uint32, key string, val []byte) error {
	err := s.inner.Set(id, key, val)
	s.log.Record("set", id, key, err == nil)
	return err
}

func (s *LoggingStore) Get(id uint32, key string) ([]byte, bool, error) {
	v, ok, err := s.inner.Get(id, key)
	s.log.Record("get", id, key, err == nil && ok)
	return v, ok, err
}

func (s *LoggingStore) Delete(id uint32, key string) error {
	err := s.inner.Delete(id, key)
	s.log.Record("delete", id, key, err == nil)
	return err
}

func (s *LoggingStore) Size(id uint32) (int, error) {
	n, err := s.inner.Size(id)
	s.log.Record("size", id, "", err == nil)
	return n, err
}

func (s *LoggingStore) Keys(id uint32) ([]string, error) {
	keys, err := s.inner.Keys(id)
	s.log.Record("keys", id, "", err == nil)
	return keys, err
}
