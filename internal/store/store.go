// Package store is the durable entity store: the single source of
// truth the UI reads. Every record carries a sync-state tag; the
// reconciliation engine drives tagged records through the state
// machine and back to synced.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/trace"

	"github.com/spotsync/client/internal/observability"
)

// DB wraps the SQL handle with the dialect flag the stores need for
// placeholder rebinding.
type DB struct {
	sql *sql.DB
	pg  bool
}

// OpenSQLite creates and initializes the default embedded database.
func OpenSQLite(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	d := &DB{sql: db}
	if err := d.createTables(schemaSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// OpenPostgres initializes a Postgres-backed store for shared desktop
// deployments (DATABASE_URL set).
func OpenPostgres(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	d := &DB{sql: db, pg: true}
	if err := d.createTables(schemaPostgres); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.sql.Close()
}

// rebind converts ?-placeholders to $n for Postgres.
func (d *DB) rebind(query string) string {
	if !d.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) createTables(schema string) error {
	_, err := d.sql.Exec(schema)
	return err
}

// endStoreSpan finishes a store span with the operation's outcome.
func endStoreSpan(span trace.Span, err error) {
	if err != nil {
		observability.RecordError(span, err)
	} else {
		observability.SetSuccess(span)
	}
	span.End()
}

const schemaSQLite = `
	-- Spots: points of interest, server ids (provisional ids are negative)
	CREATE TABLE IF NOT EXISTS spots (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		amenities TEXT NOT NULL DEFAULT '[]',
		rating REAL NOT NULL DEFAULT 0,
		photo_url TEXT NOT NULL DEFAULT '',
		sync_state TEXT NOT NULL DEFAULT 'synced',
		modified_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spots_sync_state ON spots(sync_state);
	CREATE INDEX IF NOT EXISTS idx_spots_name ON spots(name);

	-- Visits reference spots; while a spot is pending creation the
	-- reference holds the spot's provisional id
	CREATE TABLE IF NOT EXISTS visits (
		id INTEGER PRIMARY KEY,
		spot_id INTEGER NOT NULL,
		visited_at DATETIME NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		rating INTEGER NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL DEFAULT 'synced',
		modified_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_visits_spot_id ON visits(spot_id);
	CREATE INDEX IF NOT EXISTS idx_visits_sync_state ON visits(sync_state);

	-- Users: the logged-in profile, mirrored locally
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		sync_state TEXT NOT NULL DEFAULT 'synced',
		modified_at DATETIME NOT NULL
	);

	-- Pending photos: local-only upload queue
	CREATE TABLE IF NOT EXISTS pending_photos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		spot_id INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		is_main INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_photos_spot_id ON pending_photos(spot_id);

	-- Meta: provisional id counter, last sync time
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

const schemaPostgres = `
	CREATE TABLE IF NOT EXISTS spots (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		amenities TEXT NOT NULL DEFAULT '[]',
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		photo_url TEXT NOT NULL DEFAULT '',
		sync_state TEXT NOT NULL DEFAULT 'synced',
		modified_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spots_sync_state ON spots(sync_state);
	CREATE INDEX IF NOT EXISTS idx_spots_name ON spots(name);

	CREATE TABLE IF NOT EXISTS visits (
		id BIGINT PRIMARY KEY,
		spot_id BIGINT NOT NULL,
		visited_at TIMESTAMPTZ NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		rating INTEGER NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL DEFAULT 'synced',
		modified_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_visits_spot_id ON visits(spot_id);
	CREATE INDEX IF NOT EXISTS idx_visits_sync_state ON visits(sync_state);

	CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		sync_state TEXT NOT NULL DEFAULT 'synced',
		modified_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_photos (
		id BIGSERIAL PRIMARY KEY,
		spot_id BIGINT NOT NULL,
		file_path TEXT NOT NULL,
		is_main INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_photos_spot_id ON pending_photos(spot_id);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

const (
	metaProvisionalID = "next_provisional_id"
	metaLastSyncAt    = "last_sync_at"
)

// nextProvisionalID hands out the next negative placeholder id inside
// the caller's transaction. The first allocation is -1.
func (d *DB) nextProvisionalID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var raw string
	err := tx.QueryRowContext(ctx, d.rebind(`SELECT value FROM meta WHERE key = ?`), metaProvisionalID).Scan(&raw)

	next := int64(-1)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, d.rebind(`INSERT INTO meta (key, value) VALUES (?, ?)`),
			metaProvisionalID, strconv.FormatInt(next-1, 10)); err != nil {
			return 0, err
		}
		return next, nil
	case err != nil:
		return 0, err
	}

	next, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt provisional id counter %q: %w", raw, err)
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE meta SET value = ? WHERE key = ?`),
		strconv.FormatInt(next-1, 10), metaProvisionalID); err != nil {
		return 0, err
	}
	return next, nil
}

// LastSyncAt returns the completion time of the last reconciliation
// pass, or the zero time if none has run.
func (d *DB) LastSyncAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := d.sql.QueryRowContext(ctx, d.rebind(`SELECT value FROM meta WHERE key = ?`), metaLastSyncAt).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, raw)
}

// SetLastSyncAt records the completion time of a reconciliation pass.
func (d *DB) SetLastSyncAt(ctx context.Context, t time.Time) error {
	value := t.UTC().Format(time.RFC3339)
	res, err := d.sql.ExecContext(ctx, d.rebind(`UPDATE meta SET value = ? WHERE key = ?`), value, metaLastSyncAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = d.sql.ExecContext(ctx, d.rebind(`INSERT INTO meta (key, value) VALUES (?, ?)`), metaLastSyncAt, value)
	return err
}
