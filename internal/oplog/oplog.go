// Package oplog is the optional structured operation journal
// SPEC_FULL.md's AMBIENT STACK section describes: one row per host
// round trip (ext_table_get/set/delete/keys/size), written through
// github.com/jackc/pgx the way the teacher's own opLog batches writes
// into Postgres inside a running transaction and commits every 10,000
// rows (plus a final commit on Close), rather than committing per row.
package oplog

import (
	"github.com/jackc/pgx"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

const batchSize = 10000

// Log batches operation rows inside one open transaction, committing
// every batchSize rows and on Close, mirroring the teacher's
// opLog.commit cadence.
type Log struct {
	pool      *pgx.ConnPool
	sessionID uuid.UUID
	tx        *pgx.Tx
	pending   int
}

// New opens a log against pool tagged with sessionID (SPEC_FULL.md's
// "each bridge.Runtime is tagged with a uuid.UUID session id... attached
// to every operation-log row"). A nil pool disables the journal
// entirely; every method becomes a no-op, so wiring an operation log is
// opt-in per bridge.WithOperationLog.
func New(pool *pgx.ConnPool, sessionID uuid.UUID) (*Log, error) {
	if pool == nil {
		return &Log{}, nil
	}
	if _, err := pool.Exec(`
		CREATE TABLE IF NOT EXISTS bridge_oplog (
			session_id UUID NOT NULL,
			op         TEXT NOT NULL,
			table_id   BIGINT NOT NULL,
			key        TEXT,
			ok         BOOLEAN NOT NULL
		)`); err != nil {
		return nil, errors.Wrap(err, "oplog: ensure schema")
	}
	tx, err := pool.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "oplog: begin")
	}
	return &Log{pool: pool, sessionID: sessionID, tx: tx}, nil
}

// Record appends one row for a single host-callback invocation (§4.9's
// five imports): op is one of "get"/"set"/"delete"/"size"/"keys".
func (l *Log) Record(op string, tableID uint32, key string, ok bool) {
	if l == nil || l.tx == nil {
		return
	}
	if _, err := l.tx.Exec(
		`INSERT INTO bridge_oplog (session_id, op, table_id, key, ok) VALUES ($1, $2, $3, $4, $5)`,
		l.sessionID, op, tableID, key, ok,
	); err != nil {
		// A journal write failing is never allowed to surface as a
		// script-visible error (§7's taxonomy has no slot for it); the
		// operation it's logging has already happened.
		return
	}
	l.pending++
	if l.pending >= batchSize {
		l.commit()
	}
}

func (l *Log) commit() {
	if l.tx == nil {
		return
	}
	_ = l.tx.Commit()
	tx, err := l.pool.Begin()
	if err != nil {
		l.tx = nil
		return
	}
	l.tx = tx
	l.pending = 0
}

// Close commits any pending rows and releases the transaction.
func (l *Log) Close() error {
	if l == nil || l.tx == nil {
		return nil
	}
	err := l.tx.Commit()
	l.tx = nil
	return errors.Wrap(err, "oplog: final commit")
}
