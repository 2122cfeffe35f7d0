package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for the learning service.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Learning  LearningConfig  `yaml:"learning" json:"learning"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	NATS      NATSConfig      `yaml:"nats" json:"nats"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	HotReload HotReloadConfig `yaml:"hot_reload" json:"hot_reload"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port" json:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins,omitempty"`
	// APIKeys, when non-empty, are required in the X-API-Key header of every
	// request except health and metrics.
	APIKeys []string `yaml:"api_keys" json:"-"`
}

// LearningConfig configures the learning loop
type LearningConfig struct {
	Params models.LearningParams `yaml:"params" json:"params"`

	FastInterval    time.Duration `yaml:"fast_interval" json:"fast_interval"`
	SlowInterval    time.Duration `yaml:"slow_interval" json:"slow_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	ExecutorTimeout time.Duration `yaml:"executor_timeout" json:"executor_timeout"`
	Executor        string        `yaml:"executor" json:"executor"` // "logging" or "nats"

	RecordCapacity   int `yaml:"record_capacity" json:"record_capacity"` // per agent
	MinRecords       int `yaml:"min_records" json:"min_records"`
	WindowSize       int `yaml:"window_size" json:"window_size"`
	PatternRetention int `yaml:"pattern_retention" json:"pattern_retention"`
	InsightRetention int `yaml:"insight_retention" json:"insight_retention"`
}

// DatabaseConfig selects the key/value persistence backend
type DatabaseConfig struct {
	Type string `yaml:"type" json:"type"` // "memory", "postgres" or "redis"
	DSN  string `yaml:"dsn" json:"dsn,omitempty"`
}

// CacheConfig configures prediction caching
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	DefaultTTL    time.Duration `yaml:"default_ttl" json:"default_ttl"`
	MaxSize       int           `yaml:"max_size" json:"max_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period" json:"cleanup_period"`
}

// NATSConfig configures the event bus
type NATSConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	URL        string        `yaml:"url" json:"url"`
	StreamName string        `yaml:"stream_name" json:"stream_name"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// HotReloadConfig configures reloading of the learning section when the
// config file changes on disk.
type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LoadConfigFromFile loads configuration from a YAML file at the specified
// path. Fields missing from the file keep their DefaultConfig values.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables (e.g. ${DATABASE_URL}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Learning: LearningConfig{
			Params:           models.DefaultLearningParams(),
			FastInterval:     60 * time.Second,
			SlowInterval:     time.Hour,
			ShutdownTimeout:  30 * time.Second,
			ExecutorTimeout:  5 * time.Second,
			Executor:         "logging",
			RecordCapacity:   10000,
			MinRecords:       10,
			WindowSize:       100,
			PatternRetention: 50000,
			InsightRetention: 10000,
		},
		Database: DatabaseConfig{
			Type: "memory",
		},
		Cache: CacheConfig{
			Enabled:       true,
			DefaultTTL:    10 * time.Minute,
			MaxSize:       10000,
			CleanupPeriod: 5 * time.Minute,
		},
		NATS: NATSConfig{
			Enabled:    false,
			URL:        "nats://localhost:4222",
			StreamName: "LOOMLEARN",
			Timeout:    10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "loomlearn",
		},
		HotReload: HotReloadConfig{
			Enabled:  false,
			Debounce: 100 * time.Millisecond,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if err := c.Learning.Params.Validate(); err != nil {
		return fmt.Errorf("learning.params: %w", err)
	}
	l := c.Learning
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"learning.fast_interval", l.FastInterval},
		{"learning.slow_interval", l.SlowInterval},
		{"learning.shutdown_timeout", l.ShutdownTimeout},
		{"learning.executor_timeout", l.ExecutorTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return models.NewValidationError(d.name, "must be positive")
		}
	}
	sizes := []struct {
		name  string
		value int
	}{
		{"learning.record_capacity", l.RecordCapacity},
		{"learning.min_records", l.MinRecords},
		{"learning.window_size", l.WindowSize},
		{"learning.pattern_retention", l.PatternRetention},
		{"learning.insight_retention", l.InsightRetention},
	}
	for _, s := range sizes {
		if s.value <= 0 {
			return models.NewValidationError(s.name, "must be positive")
		}
	}
	switch l.Executor {
	case "logging":
	case "nats":
		if !c.NATS.Enabled {
			return models.NewValidationError("learning.executor", "nats executor requires nats.enabled")
		}
	default:
		return models.NewValidationError("learning.executor", fmt.Sprintf("unknown executor %q", l.Executor))
	}
	switch c.Database.Type {
	case "memory":
	case "postgres", "redis":
		if c.Database.DSN == "" {
			return models.NewValidationError("database.dsn", "is required for "+c.Database.Type)
		}
	default:
		return models.NewValidationError("database.type", fmt.Sprintf("unknown database type %q", c.Database.Type))
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return models.NewValidationError("server.http_port", "must be between 1 and 65535")
	}
	return nil
}
