// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the keyshard server configuration from YAML with
// KEYSHARD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/custody"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYSHARD_"

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Sharing   SharingConfig   `yaml:"sharing" mapstructure:"sharing"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Custody   CustodyConfig   `yaml:"custody" mapstructure:"custody"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies, including sealed file uploads.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// SharingConfig holds the default share count and threshold.
type SharingConfig struct {
	Shares    int `yaml:"shares" mapstructure:"shares"`
	Threshold int `yaml:"threshold" mapstructure:"threshold"`
}

type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // memory, file
	Path    string `yaml:"path" mapstructure:"path"`
}

type CustodyConfig struct {
	// DefaultTTL accepts the forms understood by custody.ParseTTL,
	// for example "24h" or "7d". Empty means files never expire.
	DefaultTTL    string        `yaml:"default_ttl" mapstructure:"default_ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval" mapstructure:"purge_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`

	// OpensPerMin limits reconstruction attempts per file.
	OpensPerMin int `yaml:"opens_per_min" mapstructure:"opens_per_min"`

	// UploadsPerMin limits sealing requests per client.
	UploadsPerMin int `yaml:"uploads_per_min" mapstructure:"uploads_per_min"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    32 << 20,
		},
		Sharing: SharingConfig{
			Shares:    custody.DefaultShares,
			Threshold: custody.DefaultThreshold,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Custody: CustodyConfig{
			PurgeInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			OpensPerMin:    5,
			UploadsPerMin:  10,
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func applyEnvOverrides(cfg *Config) {
	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid environment override", "name", EnvPrefix+name, "value", v, "error", err)
			return
		}
		*dst = n
	}
	setBool := func(name string, dst *bool) {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("ignoring invalid environment override", "name", EnvPrefix+name, "value", v, "error", err)
			return
		}
		*dst = b
	}

	setString("HOST", &cfg.Server.Host)
	setInt("PORT", &cfg.Server.Port)
	setInt("SHARES", &cfg.Sharing.Shares)
	setInt("THRESHOLD", &cfg.Sharing.Threshold)
	setString("STORAGE_BACKEND", &cfg.Storage.Backend)
	setString("DATA_DIR", &cfg.Storage.Path)
	setString("DEFAULT_TTL", &cfg.Custody.DefaultTTL)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setBool("RATELIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("RATELIMIT_REQUESTS_PER_MIN", &cfg.RateLimit.RequestsPerMin)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("max_body_bytes cannot be negative")
	}

	if c.Sharing.Shares < 1 || c.Sharing.Shares > secretsharing.MaxShares {
		return fmt.Errorf("sharing.shares must be between 1 and %d, got %d", secretsharing.MaxShares, c.Sharing.Shares)
	}
	if c.Sharing.Threshold < 1 || c.Sharing.Threshold > c.Sharing.Shares {
		return fmt.Errorf("sharing.threshold must be between 1 and shares (%d), got %d", c.Sharing.Shares, c.Sharing.Threshold)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return errors.New("storage path must be specified for the file backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or file)", c.Storage.Backend)
	}

	if _, err := custody.ParseTTL(c.Custody.DefaultTTL); err != nil {
		return fmt.Errorf("custody.default_ttl: %w", err)
	}
	if c.Custody.PurgeInterval < 0 {
		return errors.New("custody.purge_interval cannot be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("ratelimit.requests_per_min must be positive when enabled, got %d", c.RateLimit.RequestsPerMin)
	}
	if c.RateLimit.Burst < 0 || c.RateLimit.OpensPerMin < 0 || c.RateLimit.UploadsPerMin < 0 {
		return errors.New("ratelimit burst, opens_per_min and uploads_per_min cannot be negative")
	}
	return nil
}

// DefaultTTL returns the parsed custody default TTL.
func (c *Config) DefaultTTL() time.Duration {
	ttl, _ := custody.ParseTTL(c.Custody.DefaultTTL)
	return ttl
}
