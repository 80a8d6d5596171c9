package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://viacep.com.br/ws", cfg.CEP.BaseURL)
	assert.Equal(t, 10, cfg.CEP.TimeoutSecs)
	assert.Equal(t, 150, cfg.CEP.IntervalMs)
	assert.Equal(t, 3, cfg.CEP.MaxAttempts)
	assert.Equal(t, 50000, cfg.CEP.CacheEntries)
	assert.Equal(t, "https://nominatim.openstreetmap.org/search", cfg.Geocoder.BaseURL)
	assert.Equal(t, "GeoEnrich", cfg.Geocoder.AppName)
	assert.Equal(t, 1500, cfg.Geocoder.IntervalMs)
	assert.Equal(t, 3000, cfg.Geocoder.RetryDelayMs)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 1000, cfg.Enrich.ChunkSize)
	assert.Equal(t, 1, cfg.Enrich.Concurrency)
	assert.Equal(t, ",", cfg.Enrich.Delimiter)
	assert.Equal(t, "auto", cfg.Enrich.Encoding)
	assert.Empty(t, cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 0.10, cfg.Monitoring.ErrorRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)

	assert.NoError(t, cfg.Validate("enrich"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
cache:
  driver: sqlite
  path: lookups.db
enrich:
  chunk_size: 250
  delimiter: ";"
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, "lookups.db", cfg.Cache.Path)
	assert.Equal(t, 250, cfg.Enrich.ChunkSize)
	assert.Equal(t, ";", cfg.Enrich.Delimiter)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 1500, cfg.Geocoder.IntervalMs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
cache:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOENRICH_CACHE_DRIVER", "redis")
	t.Setenv("GEOENRICH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GEOENRICH_SERVER_PORT", "3000")
	t.Setenv("GEOENRICH_GEOCODER_INTERVAL_MS", "2000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 2000, cfg.Geocoder.IntervalMs)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
