// Package config provides application configuration management.
//
// Configuration is loaded from environment variables using the envconfig
// package. This follows the 12-factor app methodology for configuration
// management.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults. Required fields will cause the application to fail if not
// provided.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	ServerHost string `envconfig:"FLUXGATE_HOST" default:"0.0.0.0"`
	ServerPort int    `envconfig:"FLUXGATE_PORT" default:"8080"`

	Database      DatabaseConfig
	Store         StoreConfig
	RateLimit     RateLimitConfig
	WaitForRefill WaitForRefillConfig
	Reload        ReloadConfig
	Cache         CacheConfig

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"` // json or console

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds rule-repository database configuration.
type DatabaseConfig struct {
	DSN string `envconfig:"POSTGRES_DSN" required:"true"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// StoreConfig holds the shared KV (token bucket) store configuration.
//
// Maps to spec keys store.uri, store.timeout, store.mode.
type StoreConfig struct {
	URI     string        `envconfig:"STORE_URI" default:"redis://localhost:6379/0"`
	Timeout time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
	Mode    string        `envconfig:"STORE_MODE" default:"STANDALONE"` // STANDALONE or CLUSTER

	PoolSize     int           `envconfig:"STORE_POOL_SIZE" default:"50"`
	MinIdleConns int           `envconfig:"STORE_MIN_IDLE_CONNS" default:"10"`
	MaxRetries   int           `envconfig:"STORE_MAX_RETRIES" default:"3"`
	DialTimeout  time.Duration `envconfig:"STORE_DIAL_TIMEOUT" default:"5s"`
}

// RateLimitConfig holds orchestrator filtering and behavior configuration.
//
// Maps to spec keys ratelimit.*.
type RateLimitConfig struct {
	FilterEnabled       bool     `envconfig:"RATELIMIT_FILTER_ENABLED" default:"true"`
	DefaultRuleSetID    string   `envconfig:"RATELIMIT_DEFAULT_RULE_SET_ID" default:"default"`
	IncludePatterns     []string `envconfig:"RATELIMIT_INCLUDE_PATTERNS"`
	ExcludePatterns     []string `envconfig:"RATELIMIT_EXCLUDE_PATTERNS"`
	MissingRuleBehavior string   `envconfig:"RATELIMIT_MISSING_RULE_BEHAVIOR" default:"ALLOW"` // ALLOW or DENY

	ClientIPHeader      string `envconfig:"RATELIMIT_CLIENT_IP_HEADER" default:"X-Forwarded-For"`
	TrustClientIPHeader bool   `envconfig:"RATELIMIT_TRUST_CLIENT_IP_HEADER" default:"false"`
	UserIDHeader        string `envconfig:"RATELIMIT_USER_ID_HEADER" default:"X-User-Id"`
	APIKeyHeader        string `envconfig:"RATELIMIT_API_KEY_HEADER" default:"X-Api-Key"`
}

// WaitForRefillConfig holds bounded-wait behavior configuration.
type WaitForRefillConfig struct {
	Enabled            bool `envconfig:"WAIT_FOR_REFILL_ENABLED" default:"true"`
	MaxWaitMs          int  `envconfig:"WAIT_FOR_REFILL_MAX_WAIT_MS" default:"5000"`
	MaxConcurrentWaits int  `envconfig:"WAIT_FOR_REFILL_MAX_CONCURRENT_WAITS" default:"100"`
}

// ReloadConfig holds hot-reload strategy configuration.
type ReloadConfig struct {
	Strategy             string        `envconfig:"RELOAD_STRATEGY" default:"PUBSUB"` // POLLING, PUBSUB, KAFKA
	PollingInterval      time.Duration `envconfig:"RELOAD_POLLING_INTERVAL" default:"30s"`
	InitialDelay         time.Duration `envconfig:"RELOAD_INITIAL_DELAY" default:"5s"`
	ResetBucketsOnReload bool          `envconfig:"RELOAD_RESET_BUCKETS_ON_RELOAD" default:"true"`
	PubSubChannel        string        `envconfig:"RELOAD_PUBSUB_CHANNEL" default:"fluxgate:rule-reload"`
	KafkaBrokers         string        `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic           string        `envconfig:"RELOAD_KAFKA_TOPIC" default:"fluxgate.rule-reload"`
}

// CacheConfig holds rule-set cache configuration.
type CacheConfig struct {
	MaxSize int           `envconfig:"CACHE_MAX_SIZE" default:"10000"`
	TTL     time.Duration `envconfig:"CACHE_TTL" default:"5m"`
}

// Load loads configuration from environment variables.
//
// It uses envconfig to parse environment variables into the Config struct.
// Returns an error if required variables are missing or invalid.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("server_host", cfg.ServerHost).
		Int("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("log_format", cfg.LogFormat).
		Str("reload_strategy", cfg.Reload.Strategy).
		Msg("Configuration loaded successfully")

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validEnvironments := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvironments[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, production, or test)", c.Environment)
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.ServerPort)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 1 {
		return fmt.Errorf("max_idle_conns must be at least 1")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) cannot be greater than max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.RateLimit.MissingRuleBehavior != "ALLOW" && c.RateLimit.MissingRuleBehavior != "DENY" {
		return fmt.Errorf("invalid missing-rule-behavior: %s (must be ALLOW or DENY)", c.RateLimit.MissingRuleBehavior)
	}

	switch c.Reload.Strategy {
	case "POLLING", "PUBSUB", "KAFKA":
	default:
		return fmt.Errorf("invalid reload strategy: %s (must be POLLING, PUBSUB, or KAFKA)", c.Reload.Strategy)
	}

	if c.WaitForRefill.MaxConcurrentWaits < 0 {
		return fmt.Errorf("wait-for-refill max-concurrent-waits must be non-negative")
	}

	return nil
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ServerAddress returns the server address in host:port format.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
