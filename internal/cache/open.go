package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options selects and configures a cache backend.
type Options struct {
	Driver      string // memory, sqlite, postgres, redis
	MaxEntries  int    // memory only
	Path        string // sqlite only
	DatabaseURL string // postgres only
	Table       string // postgres only
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	TTL         time.Duration
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	zap.L().Debug("opening lookup cache", zap.String("driver", opts.Driver))

	switch opts.Driver {
	case "", "memory":
		return NewMemory(opts.MaxEntries), nil
	case "sqlite":
		if opts.Path == "" {
			return nil, eris.New("cache: sqlite driver requires a path")
		}
		return NewSQLite(ctx, opts.Path, opts.TTL)
	case "postgres":
		if opts.DatabaseURL == "" {
			return nil, eris.New("cache: postgres driver requires a database url")
		}
		var pgOpts []PostgresOption
		if opts.Table != "" {
			pgOpts = append(pgOpts, WithTable(opts.Table))
		}
		if days := int(opts.TTL / (24 * time.Hour)); days > 0 {
			pgOpts = append(pgOpts, WithTTLDays(days))
		}
		return ConnectPostgres(ctx, opts.DatabaseURL, pgOpts...)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, eris.New("cache: redis driver requires an address")
		}
		return ConnectRedis(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPass,
			DB:       opts.RedisDB,
			TTL:      opts.TTL,
		})
	default:
		return nil, eris.Errorf("cache: unknown driver %q", opts.Driver)
	}
}
