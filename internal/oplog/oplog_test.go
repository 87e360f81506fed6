package oplog

import (
	"testing"

	uuid "github.com/satori/go.uuid"
)

func TestNewWithNilPoolIsNoOp(t *testing.T) {
	l, err := New(nil, uuid.NewV4())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Record("get", 1, "k", true)
	l.Record("set", 1, "k", true)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRecordOnNilLogIsSafe(t *testing.T) {
	var l *Log
	l.Record("get", 1, "k", true)
	if err := l.Close(); err != nil {
		t.Fatalf("Close on nil *Log: %v", err)
	}
}
