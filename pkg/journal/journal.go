// Package journal implements a small embedded SQLite journal of ungraceful
// disconnects, for post-mortem debugging of production duskproto sessions.
// It is purely additive: no transport behavior depends on a journal being
// configured, and a nil *DB is a safe no-op sink.
package journal

import (
	"context"
	"net/netip"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
)

// DB stores disconnect records in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a DB from the provided sqlite3
// filename, and migrates it to the latest known schema version.
func Open(name string) (*DB, error) {
	// note: WAL and a larger cache makes our writes and queries MUCH faster
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	db := &DB{x}
	if _, required, err := db.Version(); err != nil {
		x.Close()
		return nil, err
	} else if err := db.MigrateUp(context.Background(), required); err != nil {
		x.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying database. It is a no-op on a nil *DB.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	return db.x.Close()
}

// Entry is a single recorded ungraceful disconnect.
type Entry struct {
	Time   time.Time
	Remote netip.AddrPort
	GUID   uint64
	Reason string
}

// RecordDisconnect appends an ungraceful-disconnect entry to the journal. It
// is a no-op on a nil *DB, so callers can wire it unconditionally and only
// pay for it when a journal path was actually configured.
func (db *DB) RecordDisconnect(e Entry) error {
	if db == nil {
		return nil
	}
	_, err := db.x.NamedExec(`
		INSERT INTO disconnects (time, remote, guid, reason)
		VALUES (:time, :remote, :guid, :reason)
	`, map[string]any{
		"time":   e.Time.UnixMilli(),
		"remote": e.Remote.String(),
		"guid":   e.GUID,
		"reason": e.Reason,
	})
	return err
}

// RecentDisconnects returns the most recent n disconnect entries, newest
// first. It returns a nil slice (not an error) on a nil *DB.
func (db *DB) RecentDisconnects(n int) ([]Entry, error) {
	if db == nil {
		return nil, nil
	}
	var rows []struct {
		Time   int64  `db:"time"`
		Remote string `db:"remote"`
		GUID   uint64 `db:"guid"`
		Reason string `db:"reason"`
	}
	if err := db.x.Select(&rows, `
		SELECT time, remote, guid, reason FROM disconnects
		ORDER BY time DESC LIMIT ?
	`, n); err != nil {
		return nil, err
	}

	es := make([]Entry, 0, len(rows))
	for _, r := range rows {
		addr, err := netip.ParseAddrPort(r.Remote)
		if err != nil {
			continue
		}
		es = append(es, Entry{
			Time:   time.UnixMilli(r.Time),
			Remote: addr,
			GUID:   r.GUID,
			Reason: r.Reason,
		})
	}
	return es, nil
}
