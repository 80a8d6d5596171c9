package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresStore shares a lookup cache across machines through a Postgres
// table.
type PostgresStore struct {
	pool    Pool
	table   string
	ttlDays int
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTable overrides the cache table name.
func WithTable(table string) PostgresOption {
	return func(s *PostgresStore) {
		s.table = table
	}
}

// WithTTLDays hides entries older than days.
func WithTTLDays(days int) PostgresOption {
	return func(s *PostgresStore) {
		s.ttlDays = days
	}
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, table: "public.lookup_cache"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectPostgres opens a pool for dsn and ensures the cache table exists.
func ConnectPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres cache: connect")
	}
	s := NewPostgres(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the cache table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key       TEXT PRIMARY KEY,
			found     BOOLEAN NOT NULL,
			value     BYTEA,
			cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table))
	return eris.Wrap(err, "postgres cache: migrate")
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	query := fmt.Sprintf("SELECT found, value FROM %s WHERE key = $1", s.table)
	if s.ttlDays > 0 {
		query += fmt.Sprintf(" AND cached_at > now() - interval '%d days'", s.ttlDays)
	}

	var e Entry
	err := s.pool.QueryRow(ctx, query, key).Scan(&e.Found, &e.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "postgres cache: get")
	}
	zap.L().Debug("postgres cache hit", zap.String("key", key), zap.Bool("found", e.Found))
	return e, true, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key string, e Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, found, value, cached_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET
			found = EXCLUDED.found,
			value = EXCLUDED.value,
			cached_at = now()`, s.table)

	_, err := s.pool.Exec(ctx, query, key, e.Found, e.Value)
	return eris.Wrap(err, "postgres cache: set")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
