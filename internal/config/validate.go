package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command mode depends on. Modes are
// "enrich", "serve" and "cache".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "enrich":
		errs = append(errs, c.validateClients()...)
		errs = append(errs, c.validateEnrich()...)
	case "serve":
		errs = append(errs, c.validateClients()...)
		errs = append(errs, c.validateEnrich()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, "server.max_upload_mb must be > 0")
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server.rate_limit_rps must be >= 0")
		}
	case "cache":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateMonitoring()...)

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateClients() []string {
	var errs []string
	if c.CEP.BaseURL == "" {
		errs = append(errs, "cep.base_url is required")
	}
	if c.Geocoder.BaseURL == "" {
		errs = append(errs, "geocoder.base_url is required")
	}
	if c.Geocoder.AppName == "" {
		errs = append(errs, "geocoder.app_name is required")
	}
	for _, s := range []struct {
		name        string
		attempts    int
		intervalMs  int
		timeoutSecs int
	}{
		{"cep", c.CEP.MaxAttempts, c.CEP.IntervalMs, c.CEP.TimeoutSecs},
		{"geocoder", c.Geocoder.MaxAttempts, c.Geocoder.IntervalMs, c.Geocoder.TimeoutSecs},
	} {
		if s.attempts < 1 || s.attempts > 10 {
			errs = append(errs, fmt.Sprintf("%s.max_attempts must be between 1 and 10", s.name))
		}
		if s.intervalMs < 0 {
			errs = append(errs, fmt.Sprintf("%s.interval_ms must be >= 0", s.name))
		}
		if s.timeoutSecs <= 0 {
			errs = append(errs, fmt.Sprintf("%s.timeout_secs must be > 0", s.name))
		}
	}
	return errs
}

func (c *Config) validateEnrich() []string {
	var errs []string
	if c.Enrich.ChunkSize < 1 {
		errs = append(errs, "enrich.chunk_size must be >= 1")
	}
	if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 32 {
		errs = append(errs, "enrich.concurrency must be between 1 and 32")
	}
	if utf8.RuneCountInString(c.Enrich.Delimiter) != 1 {
		errs = append(errs, "enrich.delimiter must be a single character")
	}
	switch strings.ToLower(c.Enrich.Encoding) {
	case "", "auto", "utf-8", "utf8", "latin-1", "latin1", "iso-8859-1":
	default:
		errs = append(errs, fmt.Sprintf("enrich.encoding %q is not supported", c.Enrich.Encoding))
	}
	switch c.Store.Driver {
	case "":
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateCache() []string {
	var errs []string
	switch c.Cache.Driver {
	case "", "memory":
	case "sqlite":
		if c.Cache.Path == "" {
			errs = append(errs, "cache.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Cache.DatabaseURL == "" {
			errs = append(errs, "cache.database_url is required for the postgres driver")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.driver %q is not supported", c.Cache.Driver))
	}
	if c.Cache.TTLHours < 0 {
		errs = append(errs, "cache.ttl_hours must be >= 0")
	}
	return errs
}

func (c *Config) validateMonitoring() []string {
	var errs []string
	m := c.Monitoring
	if m.ErrorRateThreshold < 0 || m.ErrorRateThreshold > 1 {
		errs = append(errs, "monitoring.error_rate_threshold must be between 0 and 1")
	}
	if m.MinCoordinateRate < 0 || m.MinCoordinateRate > 1 {
		errs = append(errs, "monitoring.min_coordinate_rate must be between 0 and 1")
	}
	if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	return errs
}
