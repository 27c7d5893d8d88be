// Package config loads kgstore settings from an optional YAML file, a .env file,
// and KG_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dan-solli/kgstore/pkg/kgstore"
	"github.com/dan-solli/kgstore/pkg/metrics"
	"github.com/dan-solli/kgstore/pkg/search"
	"github.com/dan-solli/kgstore/pkg/store"
	"github.com/dan-solli/kgstore/pkg/trace"
)

// EnvPrefix is prepended to every environment key: search.max_results is read
// from KG_SEARCH_MAX_RESULTS.
const EnvPrefix = "KG"

// Config holds all configuration for kgstore
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Search configuration
	Search SearchConfig `mapstructure:"search"`

	// CircuitBreaker configuration for database search
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Trace configuration
	Trace TraceConfig `mapstructure:"trace"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Type              string        `mapstructure:"type"` // sqlite, postgresql
	ConnectionString  string        `mapstructure:"connection_string"`
	MaxConnections    int           `mapstructure:"max_connections"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	Verbose           bool          `mapstructure:"verbose"`
}

// SearchConfig holds search behaviour and limits
type SearchConfig struct {
	UseDatabase          bool     `mapstructure:"use_database"`
	FuzzyThreshold       float64  `mapstructure:"fuzzy_threshold"`
	EnableClientFallback bool     `mapstructure:"enable_client_fallback"`
	ClientThreshold      *float64 `mapstructure:"client_threshold"` // unset: fuzzy_threshold
	ClientDistance       int      `mapstructure:"client_distance"`
	IgnoreLocation       bool     `mapstructure:"ignore_location"`

	// Limits stay raw so that search.LimitsFromEnv parses them: unparsable
	// values fall back to defaults instead of failing the load.
	MaxResults        string `mapstructure:"max_results"`
	BatchSize         string `mapstructure:"batch_size"`
	MaxClientEntities string `mapstructure:"max_client_entities"`
	ClientChunkSize   string `mapstructure:"client_chunk_size"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// MetricsConfig toggles the Prometheus collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TraceConfig configures the trace file exporter (effective in -tags tracing builds)
type TraceConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxRotated int    `mapstructure:"max_rotated"`
}

// Load reads configuration from path (optional), .env in the working directory
// (optional), and the environment. Environment values win over the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Optional keys have no default, so AutomaticEnv alone would not see them.
	if err := v.BindEnv("search.client_threshold"); err != nil {
		return nil, fmt.Errorf("bind search.client_threshold: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default configuration values. Every key needs a default so
// that AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.type", string(store.StorageTypeSQLite))
	v.SetDefault("storage.connection_string", "sqlite://./kgstore.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.idle_timeout", 30*time.Second)
	v.SetDefault("storage.connection_timeout", 5*time.Second)
	v.SetDefault("storage.verbose", false)

	v.SetDefault("search.use_database", true)
	v.SetDefault("search.fuzzy_threshold", search.DefaultFuzzyThreshold)
	v.SetDefault("search.enable_client_fallback", true)
	v.SetDefault("search.client_distance", 100)
	v.SetDefault("search.ignore_location", true)
	v.SetDefault("search.max_results", search.DefaultMaxResults)
	v.SetDefault("search.batch_size", search.DefaultBatchSize)
	v.SetDefault("search.max_client_entities", search.DefaultMaxClientEntities)
	v.SetDefault("search.client_chunk_size", search.DefaultClientChunkSize)

	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.max_requests", 1)
	v.SetDefault("circuit_breaker.interval", time.Duration(0))
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.min_requests", 3)
	v.SetDefault("circuit_breaker.failure_ratio", 0.6)

	v.SetDefault("metrics.enabled", false)

	v.SetDefault("trace.path", "")
	v.SetDefault("trace.max_size_mb", 10)
	v.SetDefault("trace.max_rotated", 5)
}

// Validate rejects values that cannot be clamped into a working configuration.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (supported: text, json)", c.Log.Format)
	}
	if c.Search.FuzzyThreshold < 0 || c.Search.FuzzyThreshold > 1 {
		return fmt.Errorf("search.fuzzy_threshold must be within [0,1], got %v", c.Search.FuzzyThreshold)
	}
	if t := c.Search.ClientThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("search.client_threshold must be within [0,1], got %v", *t)
	}
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	return nil
}

// StorageConfig builds the validated store.Config.
func (c *Config) StorageConfig() (store.Config, error) {
	return store.NewConfig(store.StorageType(c.Storage.Type), c.Storage.ConnectionString, store.Options{
		MaxConnections:    c.Storage.MaxConnections,
		IdleTimeout:       c.Storage.IdleTimeout,
		ConnectionTimeout: c.Storage.ConnectionTimeout,
		Verbose:           c.Storage.Verbose,
	})
}

// SearchConfig builds the search.Config.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		UseDatabaseSearch:    c.Search.UseDatabase,
		FuzzyThreshold:       c.Search.FuzzyThreshold,
		EnableClientFallback: c.Search.EnableClientFallback,
		Client: search.ClientOptions{
			Threshold:      c.Search.ClientThreshold,
			Distance:       c.Search.ClientDistance,
			IgnoreLocation: c.Search.IgnoreLocation,
		},
	}
}

// Limits builds the clamped search.Limits from the merged file and environment values.
func (c *Config) Limits() search.Limits {
	raw := map[string]string{
		search.EnvMaxResults:        c.Search.MaxResults,
		search.EnvBatchSize:         c.Search.BatchSize,
		search.EnvMaxClientEntities: c.Search.MaxClientEntities,
		search.EnvClientChunkSize:   c.Search.ClientChunkSize,
	}
	return search.LimitsFromEnv(func(key string) (string, bool) {
		v, ok := raw[key]
		return v, ok && v != ""
	})
}

// BreakerConfig builds the search.BreakerConfig.
func (c *Config) BreakerConfig() search.BreakerConfig {
	return search.BreakerConfig{
		Enabled:      c.CircuitBreaker.Enabled,
		MaxRequests:  c.CircuitBreaker.MaxRequests,
		Interval:     c.CircuitBreaker.Interval,
		Timeout:      c.CircuitBreaker.Timeout,
		MinRequests:  c.CircuitBreaker.MinRequests,
		FailureRatio: c.CircuitBreaker.FailureRatio,
	}
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// KGStore assembles the kgstore.Config. The returned exporter (nil when tracing
// is not configured) must be closed by the caller after the store.
func (c *Config) KGStore(logger *slog.Logger) (kgstore.Config, trace.Exporter, error) {
	storageCfg, err := c.StorageConfig()
	if err != nil {
		return kgstore.Config{}, nil, err
	}

	cfg := kgstore.Config{
		Storage: storageCfg,
		Search:  c.SearchConfig(),
		Limits:  c.Limits(),
		Breaker: c.BreakerConfig(),
		Logger:  logger,
	}
	if c.Metrics.Enabled {
		cfg.Metrics = metrics.NewCollector()
	}

	var exporter trace.Exporter
	if c.Trace.Path != "" {
		exporter, err = trace.NewFileExporter(c.Trace.Path,
			trace.WithMaxSize(int64(c.Trace.MaxSizeMB)*1024*1024),
			trace.WithMaxRotatedFiles(c.Trace.MaxRotated))
		if err != nil {
			return kgstore.Config{}, nil, fmt.Errorf("create trace exporter: %w", err)
		}
		cfg.Exporter = exporter
	}
	return cfg, exporter, nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
