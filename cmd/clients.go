package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/cache"
	"github.com/sells-group/geoenrich/internal/config"
	"github.com/sells-group/geoenrich/internal/enrich"
	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/metrics"
	"github.com/sells-group/geoenrich/internal/monitoring"
	"github.com/sells-group/geoenrich/internal/resilience"
	"github.com/sells-group/geoenrich/internal/store"
	"github.com/sells-group/geoenrich/pkg/cep"
	"github.com/sells-group/geoenrich/pkg/geocode"
)

// env holds the long-lived dependencies shared by the enrich and serve
// commands.
type env struct {
	Validator *cep.Validator
	Geocoder  *geocode.Client
	Processor *enrich.Processor
	Store     store.Store
	Metrics   *metrics.Metrics
	Alerter   *monitoring.Alerter

	closers []func() error
}

// Close releases caches and the run store.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close dependency", zap.Error(err))
		}
	}
}

// enrichOverrides are command-line values that take precedence over config.
type enrichOverrides struct {
	ChunkSize   int
	Concurrency int
	Delimiter   string
	Encoding    string
	ColumnMap   string
}

// applyOverrides copies non-zero flag values into the enrich config.
func applyOverrides(c *config.EnrichConfig, o enrichOverrides) {
	if o.ChunkSize > 0 {
		c.ChunkSize = o.ChunkSize
	}
	if o.Concurrency > 0 {
		c.Concurrency = o.Concurrency
	}
	if o.Delimiter != "" {
		c.Delimiter = o.Delimiter
	}
	if o.Encoding != "" {
		c.Encoding = o.Encoding
	}
	if o.ColumnMap != "" {
		c.ColumnMapFile = o.ColumnMap
	}
}

// cacheOptions maps config to cache.Options. maxEntries applies to the
// memory driver only.
func cacheOptions(c config.CacheConfig, maxEntries int) cache.Options {
	return cache.Options{
		Driver:      c.Driver,
		MaxEntries:  maxEntries,
		Path:        c.Path,
		DatabaseURL: c.DatabaseURL,
		Table:       c.Table,
		RedisAddr:   c.RedisAddr,
		RedisPass:   c.RedisPassword,
		RedisDB:     c.RedisDB,
		TTL:         time.Duration(c.TTLHours) * time.Hour,
	}
}

// openCaches returns the cep and geocode caches. The memory driver gives
// each client its own LRU; other drivers share one store since keys are
// prefixed per service.
func openCaches(ctx context.Context, c *config.Config) (cepCache, geoCache cache.Store, err error) {
	if c.Cache.Driver == "" || c.Cache.Driver == "memory" {
		return cache.NewMemory(c.CEP.CacheEntries), cache.NewMemory(c.Geocoder.CacheEntries), nil
	}
	shared, err := cache.Open(ctx, cacheOptions(c.Cache, 0))
	if err != nil {
		return nil, nil, err
	}
	return shared, shared, nil
}

// initStore opens the run history store, or returns nil when none is
// configured.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "":
		return nil, nil
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv builds the lookup clients, caches, run store, metrics and
// processor from cfg.
func initEnv(ctx context.Context) (*env, error) {
	e := &env{Metrics: metrics.New()}

	cepCache, geoCache, err := openCaches(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "open lookup cache")
	}
	e.closers = append(e.closers, cepCache.Close)
	if geoCache != cepCache {
		e.closers = append(e.closers, geoCache.Close)
	}

	e.Validator = cep.New(
		cep.WithBaseURL(cfg.CEP.BaseURL),
		cep.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.CEP.TimeoutSecs) * time.Second}),
		cep.WithGate(resilience.FromGateConfig(cfg.CEP.IntervalMs)),
		cep.WithRetry(resilience.FromRetryConfig(cfg.CEP.MaxAttempts, cfg.CEP.RetryDelayMs)),
		cep.WithCache(cepCache),
		cep.WithObserver(e.Metrics.Observer("viacep")),
	)
	e.Geocoder = geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocoder.BaseURL),
		geocode.WithAppName(cfg.Geocoder.AppName),
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Geocoder.TimeoutSecs) * time.Second}),
		geocode.WithGate(resilience.FromGateConfig(cfg.Geocoder.IntervalMs)),
		geocode.WithRetry(resilience.FromRetryConfig(cfg.Geocoder.MaxAttempts, cfg.Geocoder.RetryDelayMs)),
		geocode.WithCache(geoCache),
		geocode.WithObserver(e.Metrics.Observer("nominatim")),
	)

	st, err := initStore(ctx)
	if err != nil {
		e.Close()
		return nil, eris.Wrap(err, "open run store")
	}
	if st != nil {
		e.Store = st
		e.closers = append(e.closers, st.Close)
	}

	e.Alerter = monitoring.NewAlerter(cfg.Monitoring)

	opts, err := processorOptions(cfg.Enrich)
	if err != nil {
		e.Close()
		return nil, err
	}
	opts = append(opts,
		enrich.WithMetrics(e.Metrics),
		enrich.WithAlerter(e.Alerter),
		enrich.WithResolver(&fetcher.Resolver{
			HTTP:   fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
			FTP:    fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
			TmpDir: cfg.Enrich.TempDir,
		}),
	)
	if e.Store != nil {
		opts = append(opts, enrich.WithRunStore(e.Store))
	}
	e.Processor = enrich.New(e.Validator, e.Geocoder, opts...)

	return e, nil
}

// processorOptions converts the enrich config to processor options.
func processorOptions(c config.EnrichConfig) ([]enrich.Option, error) {
	enc, err := fetcher.ParseEncoding(c.Encoding)
	if err != nil {
		return nil, err
	}
	delim := []rune(c.Delimiter)
	if len(delim) != 1 {
		return nil, eris.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}

	opts := []enrich.Option{
		enrich.WithChunkSize(c.ChunkSize),
		enrich.WithConcurrency(c.Concurrency),
		enrich.WithDelimiter(delim[0]),
		enrich.WithEncoding(enc),
	}
	if c.ColumnMapFile != "" {
		m, err := enrich.LoadColumnMap(c.ColumnMapFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, enrich.WithColumnMap(m))
	}
	return opts, nil
}
