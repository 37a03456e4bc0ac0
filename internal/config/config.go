// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	KV        KVConfig        `yaml:"kv" mapstructure:"kv"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the relational backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// KVConfig configures the key-value substrate backing cache, locks,
// queue and budget versions.
type KVConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // memory | sqlite
	Path   string `yaml:"path" mapstructure:"path"`
}

// LockConfig configures distributed lock behavior.
type LockConfig struct {
	TTLSecs int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// CacheConfig configures the stampede-safe cache miss path.
type CacheConfig struct {
	FillBackoffMs  int `yaml:"fill_backoff_ms" mapstructure:"fill_backoff_ms"`
	MaxFillRetries int `yaml:"max_fill_retries" mapstructure:"max_fill_retries"`
	ConfigTTLSecs  int `yaml:"config_ttl_secs" mapstructure:"config_ttl_secs"`
}

// RetryConfig configures transient-failure retry behavior.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// AnalyzerConfig configures briefing analysis. The three confidence
// weights must sum to 1.
type AnalyzerConfig struct {
	CacheTTLHours      int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	UseClaude          bool    `yaml:"use_claude" mapstructure:"use_claude"`
	CoverageWeight     float64 `yaml:"coverage_weight" mapstructure:"coverage_weight"`
	ConsistencyWeight  float64 `yaml:"consistency_weight" mapstructure:"consistency_weight"`
	TypologyWeight     float64 `yaml:"typology_weight" mapstructure:"typology_weight"`
	FallbackArea       float64 `yaml:"fallback_area" mapstructure:"fallback_area"`
	FallbackConfidence float64 `yaml:"fallback_confidence" mapstructure:"fallback_confidence"`
}

// PricingConfig configures the plausibility band applied to typologies
// without an explicit band (R$ per m²).
type PricingConfig struct {
	BandMinPerM2 float64 `yaml:"band_min_per_m2" mapstructure:"band_min_per_m2"`
	BandMaxPerM2 float64 `yaml:"band_max_per_m2" mapstructure:"band_max_per_m2"`
}

// AnthropicConfig holds Anthropic API settings for the extraction
// assist.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// QueueConfig configures asynchronous budget generation.
type QueueConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	RatePerSec   float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst    int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	DeadlineSecs int      `yaml:"deadline_secs" mapstructure:"deadline_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TTL returns the lock TTL as a duration.
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ARCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "arcflow.db")
	v.SetDefault("kv.driver", "sqlite")
	v.SetDefault("kv.path", "arcflow-kv.db")
	v.SetDefault("lock.ttl_secs", 30)
	v.SetDefault("cache.fill_backoff_ms", 100)
	v.SetDefault("cache.max_fill_retries", 20)
	v.SetDefault("cache.config_ttl_secs", 300)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("analyzer.cache_ttl_hours", 1)
	v.SetDefault("analyzer.use_claude", false)
	v.SetDefault("analyzer.coverage_weight", 0.4)
	v.SetDefault("analyzer.consistency_weight", 0.4)
	v.SetDefault("analyzer.typology_weight", 0.2)
	v.SetDefault("analyzer.fallback_area", 120)
	v.SetDefault("analyzer.fallback_confidence", 0.3)
	v.SetDefault("pricing.band_min_per_m2", 40)
	v.SetDefault("pricing.band_max_per_m2", 5000)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("queue.workers", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_per_sec", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.deadline_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the configuration for the given run mode. Modes:
// "cli" for one-shot commands, "worker" for queue draining, "serve" for
// the HTTP API.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	switch c.KV.Driver {
	case "memory", "sqlite":
	default:
		problems = append(problems, "kv.driver must be memory or sqlite")
	}
	if c.KV.Driver == "sqlite" && c.KV.Path == "" {
		problems = append(problems, "kv.path is required for the sqlite driver")
	}
	if c.Lock.TTLSecs <= 0 {
		problems = append(problems, "lock.ttl_secs must be > 0")
	}
	if c.Analyzer.UseClaude && c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required when analyzer.use_claude is set")
	}
	weightSum := c.Analyzer.CoverageWeight + c.Analyzer.ConsistencyWeight + c.Analyzer.TypologyWeight
	if math.Abs(weightSum-1) > 1e-9 {
		problems = append(problems, "analyzer confidence weights must sum to 1")
	}
	if c.Pricing.BandMinPerM2 <= 0 || c.Pricing.BandMaxPerM2 <= c.Pricing.BandMinPerM2 {
		problems = append(problems, "pricing band must satisfy 0 < band_min_per_m2 < band_max_per_m2")
	}

	switch mode {
	case "cli":
	case "worker":
		if c.Queue.Workers < 1 || c.Queue.Workers > 50 {
			problems = append(problems, "queue.workers must be between 1 and 50")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.RatePerSec <= 0 {
			problems = append(problems, "server.rate_per_sec must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
