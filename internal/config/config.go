package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	CEP        CEPConfig        `yaml:"cep" mapstructure:"cep"`
	Geocoder   GeocoderConfig   `yaml:"geocoder" mapstructure:"geocoder"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CEPConfig configures the ViaCEP client.
type CEPConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	IntervalMs   int    `yaml:"interval_ms" mapstructure:"interval_ms"`
	MaxAttempts  int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	CacheEntries int    `yaml:"cache_entries" mapstructure:"cache_entries"`
}

// GeocoderConfig configures the Nominatim client.
type GeocoderConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	AppName      string `yaml:"app_name" mapstructure:"app_name"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	IntervalMs   int    `yaml:"interval_ms" mapstructure:"interval_ms"`
	MaxAttempts  int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	CacheEntries int    `yaml:"cache_entries" mapstructure:"cache_entries"`
}

// CacheConfig selects the lookup cache backend. The memory driver gives
// each client its own LRU sized by cep.cache_entries and
// geocoder.cache_entries; other drivers are shared.
type CacheConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	Path          string `yaml:"path" mapstructure:"path"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	Table         string `yaml:"table" mapstructure:"table"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLHours      int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// EnrichConfig configures the file pipeline.
type EnrichConfig struct {
	ChunkSize     int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
	Delimiter     string `yaml:"delimiter" mapstructure:"delimiter"`
	Encoding      string `yaml:"encoding" mapstructure:"encoding"`
	ColumnMapFile string `yaml:"column_map_file" mapstructure:"column_map_file"`
	TempDir       string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// StoreConfig configures the run history database. An empty driver
// disables run history.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRateThreshold   float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	MinCoordinateRate    float64 `yaml:"min_coordinate_rate" mapstructure:"min_coordinate_rate"`
	MinRows              int     `yaml:"min_rows" mapstructure:"min_rows"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cep.base_url", "https://viacep.com.br/ws")
	v.SetDefault("cep.timeout_secs", 10)
	v.SetDefault("cep.interval_ms", 150)
	v.SetDefault("cep.max_attempts", 3)
	v.SetDefault("cep.retry_delay_ms", 1000)
	v.SetDefault("cep.cache_entries", 50000)
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocoder.app_name", "GeoEnrich")
	v.SetDefault("geocoder.timeout_secs", 30)
	v.SetDefault("geocoder.interval_ms", 1500)
	v.SetDefault("geocoder.max_attempts", 3)
	v.SetDefault("geocoder.retry_delay_ms", 3000)
	v.SetDefault("geocoder.cache_entries", 100000)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.path", "cache.db")
	v.SetDefault("cache.table", "public.lookup_cache")
	v.SetDefault("enrich.chunk_size", 1000)
	v.SetDefault("enrich.concurrency", 1)
	v.SetDefault("enrich.delimiter", ",")
	v.SetDefault("enrich.encoding", "auto")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 64)
	v.SetDefault("server.rate_limit_rps", 1.0)
	v.SetDefault("server.rate_limit_burst", 5)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.error_rate_threshold", 0.10)
	v.SetDefault("monitoring.min_rows", 20)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
