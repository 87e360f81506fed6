package hoststore

import (
	"github.com/jackc/pgx"
	"github.com/pkg/errors"
)

// Pgstore backs HostStore with a real table in Postgres, using
// github.com/jackc/pgx the same way the teacher uses it for its own
// AOT-cache persistence (a pgx.ConnPool held for the process lifetime,
// one statement per call, no transaction spanning multiple host
// calls — each of the five imports is independently atomic, matching
// §7's "failed writes leave host state unchanged iff the host's
// callback is atomic"). The schema is the one SPEC_FULL.md's DOMAIN
// STACK table names: table_entries(table_id, key, value).
type Pgstore struct {
	pool *pgx.ConnPool
}

// NewPgstore wraps an already-connected pool. Schema creation is the
// host's job (spec.md places the persistent backing store itself out
// of core scope); EnsureSchema below is an optional convenience for
// creating it. Nothing in this module calls it.
func NewPgstore(pool *pgx.ConnPool) *Pgstore {
	return &Pgstore{pool: pool}
}

// EnsureSchema creates table_entries if it does not already exist.
func (p *Pgstore) EnsureSchema() error {
	_, err := p.pool.Exec(`
		CREATE TABLE IF NOT EXISTS table_entries (
			table_id BIGINT NOT NULL,
			key      TEXT NOT NULL,
			value    BYTEA NOT NULL,
			PRIMARY KEY (table_id, key)
		)`)
	return errors.Wrap(err, "pgstore: ensure schema")
}

func (p *Pgstore) Set(id uint32, key string, val []byte) error {
	_, err := p.pool.Exec(`
		INSERT INTO table_entries (table_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (table_id, key) DO UPDATE SET value = EXCLUDED.value`,
		id, key, val)
	return errors.Wrap(err, "pgstore: set")
}

func (p *Pgstore) Get(id uint32, key string) ([]byte, bool, error) {
	var val []byte
	err := p.pool.QueryRow(`SELECT value FROM table_entries WHERE table_id = $1 AND key = $2`, id, key).Scan(&val)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "pgstore: get")
	}
	return val, true, nil
}

func (p *Pgstore) Delete(id uint32, key string) error {
	_, err := p.pool.Exec(`DELETE FROM table_entries WHERE table_id = $1 AND key = $2`, id, key)
	return errors.Wrap(err, "pgstore: delete")
}

func (p *Pgstore) Size(id uint32) (int, error) {
	var n int
	err := p.pool.QueryRow(`SELECT count(*) FROM table_entries WHERE table_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "pgstore: size")
	}
	return n, nil
}

func (p *Pgstore) Keys(id uint32) ([]string, error) {
	rows, err := p.pool.Query(`SELECT key FROM table_entries WHERE table_id = $1 ORDER BY key`, id)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "pgstore: keys scan")
		}
		keys = append(keys, k)
	}
	return keys, errors.Wrap(rows.Err(), "pgstore: keys rows")
}
