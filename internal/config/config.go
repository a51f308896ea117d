// Package config provides configuration management for the latent-journey
// engine. Settings start from built-in defaults, are optionally overlaid by a
// YAML file, and are finally overridden by environment variables with the
// LATENT_ prefix.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = goerr.New("invalid configuration")

// Config holds all configuration settings.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reduction ReductionConfig `yaml:"reduction"`
	Events    EventsConfig    `yaml:"events"`
	Storage   StorageConfig   `yaml:"storage"`
	Timeline  TimelineConfig  `yaml:"timeline"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Log       LogConfig       `yaml:"log"`
}

// EmbeddingConfig configures the remote embedding resolver.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`    // http, ollama or none (default: http)
	URL         string        `yaml:"url"`         // Embedding service base URL (default: http://localhost:8081)
	Model       string        `yaml:"model"`       // Model name for the ollama provider (default: nomic-embed-text)
	Timeout     time.Duration `yaml:"timeout"`     // Per-request timeout (default: 5s)
	PreferReal  bool          `yaml:"prefer_real"` // Try the remote service before the deterministic embedder (default: true)
	Concurrency int           `yaml:"concurrency"` // Batch window size (default: 6)
	CacheSize   int           `yaml:"cache_size"`  // LRU capacity (default: 2048)
	RateLimit   float64       `yaml:"rate_limit"`  // Requests per second, 0 disables (default: 0)
	RateBurst   int           `yaml:"rate_burst"`  // Limiter burst (default: 6)
}

// ReductionConfig configures the remote dimensionality reducer.
type ReductionConfig struct {
	URL       string        `yaml:"url"`        // Reduction service base URL (default: http://localhost:8081)
	Method    string        `yaml:"method"`     // Reduction method sent to the service (default: pca)
	Timeout   time.Duration `yaml:"timeout"`    // Per-request timeout (default: 30s)
	CacheSize int64         `yaml:"cache_size"` // Approximate number of cached projections (default: 256)
}

// EventsConfig configures where events come from.
type EventsConfig struct {
	Source       string        `yaml:"source"`        // remote, sqlite or postgres (default: remote)
	URL          string        `yaml:"url"`           // Event source base URL (default: http://localhost:8082)
	FeedURL      string        `yaml:"feed_url"`      // Optional websocket feed URL
	InitialLimit int           `yaml:"initial_limit"` // Events fetched by Initialize (default: 200)
	PollInterval time.Duration `yaml:"poll_interval"` // Incremental ingestion interval (default: 2s)
	Timeout      time.Duration `yaml:"timeout"`       // Per-request timeout (default: 30s)
}

// StorageConfig configures the local event log.
type StorageConfig struct {
	DataPath    string `yaml:"data_path"`    // Directory for the SQLite file (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Connection string when Events.Source is postgres
}

// TimelineConfig configures the event store and the waypoint synchronizer.
type TimelineConfig struct {
	Capacity     int           `yaml:"capacity"`      // Maximum events kept (default: 500)
	GuardTimeout time.Duration `yaml:"guard_timeout"` // Oscillation guard auto-clear (default: 100ms)
	Tick         time.Duration `yaml:"tick"`          // Playback tick (default: 100ms)
}

// BreakerConfig configures the circuit breaker around remote calls.
type BreakerConfig struct {
	MaxFailures          uint32        `yaml:"max_failures"`            // Consecutive failures before opening (default: 3)
	Timeout              time.Duration `yaml:"timeout"`                 // Open state duration (default: 30s)
	HalfOpenMaxSuccesses uint32        `yaml:"half_open_max_successes"` // Successes needed to close (default: 2)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // console or json (default: console)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads defaults, overlays the YAML file at path, then applies
// environment overrides. An empty path behaves like LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return LoadConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "read config file", goerr.V("path", path))
	}

	cfg := buildBaseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "parse config file", goerr.V("path", path))
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "http", "ollama", "none":
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown embedding provider", goerr.V("provider", c.Embedding.Provider))
	}
	switch c.Events.Source {
	case "remote", "sqlite", "postgres":
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown event source", goerr.V("source", c.Events.Source))
	}
	if c.Events.Source == "postgres" && c.Storage.PostgresDSN == "" {
		return goerr.Wrap(ErrInvalidConfig, "postgres event source requires a DSN")
	}
	if c.Embedding.Concurrency < 1 {
		return goerr.Wrap(ErrInvalidConfig, "embedding concurrency must be positive", goerr.V("concurrency", c.Embedding.Concurrency))
	}
	if c.Timeline.Capacity < 1 {
		return goerr.Wrap(ErrInvalidConfig, "timeline capacity must be positive", goerr.V("capacity", c.Timeline.Capacity))
	}
	if c.Events.InitialLimit < 1 {
		return goerr.Wrap(ErrInvalidConfig, "initial limit must be positive", goerr.V("limit", c.Events.InitialLimit))
	}
	if c.Embedding.RateLimit < 0 {
		return goerr.Wrap(ErrInvalidConfig, "rate limit cannot be negative")
	}
	return nil
}

// buildBaseConfig constructs a Config holding the built-in defaults.
func buildBaseConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:    "http",
			URL:         "http://localhost:8081",
			Model:       "nomic-embed-text",
			Timeout:     5 * time.Second,
			PreferReal:  true,
			Concurrency: 6,
			CacheSize:   2048,
			RateBurst:   6,
		},
		Reduction: ReductionConfig{
			URL:       "http://localhost:8081",
			Method:    "pca",
			Timeout:   30 * time.Second,
			CacheSize: 256,
		},
		Events: EventsConfig{
			Source:       "remote",
			URL:          "http://localhost:8082",
			InitialLimit: 200,
			PollInterval: 2 * time.Second,
			Timeout:      30 * time.Second,
		},
		Storage: StorageConfig{
			DataPath: "./data",
		},
		Timeline: TimelineConfig{
			Capacity:     500,
			GuardTimeout: 100 * time.Millisecond,
			Tick:         100 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			MaxFailures:          3,
			Timeout:              30 * time.Second,
			HalfOpenMaxSuccesses: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// applyEnv overrides cfg with any LATENT_* variables that are set.
func applyEnv(cfg *Config) {
	cfg.Embedding.Provider = getEnv("LATENT_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.URL = getEnv("LATENT_EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Model = getEnv("LATENT_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Timeout = getEnvDuration("LATENT_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.PreferReal = getEnvBool("LATENT_PREFER_REAL", cfg.Embedding.PreferReal)
	cfg.Embedding.Concurrency = getEnvInt("LATENT_EMBEDDING_CONCURRENCY", cfg.Embedding.Concurrency)
	cfg.Embedding.CacheSize = getEnvInt("LATENT_EMBEDDING_CACHE_SIZE", cfg.Embedding.CacheSize)
	cfg.Embedding.RateLimit = getEnvFloat("LATENT_EMBEDDING_RATE_LIMIT", cfg.Embedding.RateLimit)
	cfg.Embedding.RateBurst = getEnvInt("LATENT_EMBEDDING_RATE_BURST", cfg.Embedding.RateBurst)

	cfg.Reduction.URL = getEnv("LATENT_REDUCTION_URL", cfg.Reduction.URL)
	cfg.Reduction.Method = getEnv("LATENT_REDUCTION_METHOD", cfg.Reduction.Method)
	cfg.Reduction.Timeout = getEnvDuration("LATENT_REDUCTION_TIMEOUT", cfg.Reduction.Timeout)
	cfg.Reduction.CacheSize = int64(getEnvInt("LATENT_REDUCTION_CACHE_SIZE", int(cfg.Reduction.CacheSize)))

	cfg.Events.Source = getEnv("LATENT_EVENTS_SOURCE", cfg.Events.Source)
	cfg.Events.URL = getEnv("LATENT_EVENTS_URL", cfg.Events.URL)
	cfg.Events.FeedURL = getEnv("LATENT_EVENTS_FEED_URL", cfg.Events.FeedURL)
	cfg.Events.InitialLimit = getEnvInt("LATENT_EVENTS_INITIAL_LIMIT", cfg.Events.InitialLimit)
	cfg.Events.PollInterval = getEnvDuration("LATENT_EVENTS_POLL_INTERVAL", cfg.Events.PollInterval)
	cfg.Events.Timeout = getEnvDuration("LATENT_EVENTS_TIMEOUT", cfg.Events.Timeout)

	cfg.Storage.DataPath = getEnv("LATENT_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("LATENT_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Timeline.Capacity = getEnvInt("LATENT_TIMELINE_CAPACITY", cfg.Timeline.Capacity)
	cfg.Timeline.GuardTimeout = getEnvDuration("LATENT_TIMELINE_GUARD_TIMEOUT", cfg.Timeline.GuardTimeout)
	cfg.Timeline.Tick = getEnvDuration("LATENT_TIMELINE_TICK", cfg.Timeline.Tick)

	cfg.Breaker.MaxFailures = uint32(getEnvInt("LATENT_BREAKER_MAX_FAILURES", int(cfg.Breaker.MaxFailures)))
	cfg.Breaker.Timeout = getEnvDuration("LATENT_BREAKER_TIMEOUT", cfg.Breaker.Timeout)
	cfg.Breaker.HalfOpenMaxSuccesses = uint32(getEnvInt("LATENT_BREAKER_HALF_OPEN_SUCCESSES", int(cfg.Breaker.HalfOpenMaxSuccesses)))

	cfg.Log.Level = getEnv("LATENT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LATENT_LOG_FORMAT", cfg.Log.Format)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration ("250ms", "5s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
