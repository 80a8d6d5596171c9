package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists lookup outcomes in a local SQLite database so repeated
// runs over the same data skip the external services.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS lookup_cache (
	key       TEXT PRIMARY KEY,
	found     INTEGER NOT NULL,
	value     BLOB,
	cached_at INTEGER NOT NULL
);
`

// NewSQLite opens (or creates) the cache database at dsn. A positive ttl
// hides entries older than ttl.
func NewSQLite(ctx context.Context, dsn string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite cache: open")
	}
	// One writer at a time; the pipeline is the only user.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite cache: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteCacheSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite cache: migrate")
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var found bool
	var value []byte
	var cachedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT found, value, cached_at FROM lookup_cache WHERE key = ?`, key,
	).Scan(&found, &value, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "sqlite cache: get")
	}

	if s.ttl > 0 && s.now().Sub(time.Unix(0, cachedAt)) > s.ttl {
		return Entry{}, false, nil
	}
	return Entry{Found: found, Value: value}, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lookup_cache (key, found, value, cached_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			found = excluded.found,
			value = excluded.value,
			cached_at = excluded.cached_at`,
		key, e.Found, e.Value, s.now().UnixNano(),
	)
	return eris.Wrap(err, "sqlite cache: set")
}

// Purge deletes every entry, or only confirmed absences when absentOnly is
// set. It returns the number of deleted rows.
func (s *SQLiteStore) Purge(ctx context.Context, absentOnly bool) (int64, error) {
	query := `DELETE FROM lookup_cache`
	if absentOnly {
		query += ` WHERE found = 0`
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite cache: purge")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite cache: purge rows affected")
}

// Count returns the number of positive and absent entries.
func (s *SQLiteStore) Count(ctx context.Context) (found, absent int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(found), 0), COALESCE(SUM(1 - found), 0) FROM lookup_cache`,
	).Scan(&found, &absent)
	return found, absent, eris.Wrap(err, "sqlite cache: count")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
