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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyshard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Sharing.Shares)
	assert.Equal(t, 3, cfg.Sharing.Threshold)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Zero(t, cfg.DefaultTTL())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 9443
  read_timeout: 5s
sharing:
  shares: 7
  threshold: 4
storage:
  backend: file
  path: /var/lib/keyshard
custody:
  default_ttl: 7d
  purge_interval: 30s
logging:
  level: debug
  format: json
ratelimit:
  enabled: true
  requests_per_min: 120
  burst: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, 7, cfg.Sharing.Shares)
	assert.Equal(t, 4, cfg.Sharing.Threshold)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/keyshard", cfg.Storage.Path)
	assert.Equal(t, 7*24*time.Hour, cfg.DefaultTTL())
	assert.Equal(t, 30*time.Second, cfg.Custody.PurgeInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMin)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 5, cfg.RateLimit.OpensPerMin)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "sharing:\n  shares: 2\n  threshold: 3\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KEYSHARD_PORT", "9000")
	t.Setenv("KEYSHARD_SHARES", "10")
	t.Setenv("KEYSHARD_THRESHOLD", "6")
	t.Setenv("KEYSHARD_STORAGE_BACKEND", "file")
	t.Setenv("KEYSHARD_DATA_DIR", "/tmp/shards")
	t.Setenv("KEYSHARD_LOG_LEVEL", "warn")
	t.Setenv("KEYSHARD_METRICS_ENABLED", "false")
	t.Setenv("KEYSHARD_DEFAULT_TTL", "24h")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Sharing.Shares)
	assert.Equal(t, 6, cfg.Sharing.Threshold)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/shards", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.DefaultTTL())
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("KEYSHARD_PORT", "not-a-number")
	t.Setenv("KEYSHARD_METRICS_ENABLED", "maybe")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "invalid port"},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid port"},
		{name: "negative body limit", mutate: func(c *Config) { c.Server.MaxBodyBytes = -1 }, wantErr: "max_body_bytes"},
		{name: "zero shares", mutate: func(c *Config) { c.Sharing.Shares = 0 }, wantErr: "sharing.shares"},
		{name: "too many shares", mutate: func(c *Config) { c.Sharing.Shares = 256 }, wantErr: "sharing.shares"},
		{name: "threshold above shares", mutate: func(c *Config) { c.Sharing.Threshold = 6 }, wantErr: "sharing.threshold"},
		{name: "file backend without path", mutate: func(c *Config) { c.Storage.Backend = "file" }, wantErr: "storage path"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: "invalid storage backend"},
		{name: "bad ttl", mutate: func(c *Config) { c.Custody.DefaultTTL = "forever" }, wantErr: "default_ttl"},
		{name: "negative purge interval", mutate: func(c *Config) { c.Custody.PurgeInterval = -time.Second }, wantErr: "purge_interval"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "relative metrics path", mutate: func(c *Config) { c.Metrics.Path = "metrics" }, wantErr: "metrics path"},
		{name: "zero rate", mutate: func(c *Config) { c.RateLimit.RequestsPerMin = 0 }, wantErr: "requests_per_min"},
		{name: "negative burst", mutate: func(c *Config) { c.RateLimit.Burst = -1 }, wantErr: "cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("rate limit disabled skips rate check", func(t *testing.T) {
		cfg := Default()
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.RequestsPerMin = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("metrics disabled skips path check", func(t *testing.T) {
		cfg := Default()
		cfg.Metrics.Enabled = false
		cfg.Metrics.Path = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestMarshal(t *testing.T) {
	cfg := Default()
	cfg.Custody.DefaultTTL = "7d"

	data, err := cfg.Marshal()
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, *cfg, decoded)
}
