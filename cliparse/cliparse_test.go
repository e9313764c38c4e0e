// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv(EnvPrefix+"TOKEN_SECRET", "token-secret")
	t.Setenv(EnvPrefix+"WEBHOOK_SECRET", "webhook-secret")
	t.Setenv(EnvPrefix+"ENCRYPTION_KEY", testKey)
}

func TestLoad_EnvVars(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv(EnvPrefix+"SHELLY_RECONNECT_DELAY", "2s")

	cfg, err := Load([]string{})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 2*time.Second, cfg.ShellyReconnectDelay)
	assert.Equal(t, 60, cfg.ShellyRateLimit)
	assert.Equal(t, 100, cfg.ShellyQueueSize)
	assert.Equal(t, 7*24*time.Hour, cfg.ConnectionRetention)
}

func TestLoad_CLIOverridesEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")

	cfg, err := Load([]string{"-p", "8080", "--log-format", "console"})
	require.NoError(t, err)

	// CLI should override env
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_PrefixedEnvOverridesLegacy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv(EnvPrefix+"PORT", "9100")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
}

func TestLoad_ConfigFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"port: 7000",
		"database_type: postgres",
		"shelly_rate_limit: 30",
		"maintenance_schedule: \"@every 30m\"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseType)
	assert.Equal(t, 30, cfg.ShellyRateLimit)
	assert.Equal(t, "@every 30m", cfg.MaintenanceSchedule)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Port:          3318,
		DatabaseURL:   "file:x.db",
		DatabaseType:  "sqlite",
		TokenSecret:   "a",
		WebhookSecret: "b",
		EncryptionKey: testKey,
		LogFormat:     "json",
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"missing db", func(c *Config) { c.DatabaseURL = "" }, "database URL required"},
		{"unknown db type", func(c *Config) { c.DatabaseType = "mysql" }, "unknown database type"},
		{"missing token secret", func(c *Config) { c.TokenSecret = "" }, "TOKEN_SECRET"},
		{"missing webhook secret", func(c *Config) { c.WebhookSecret = "" }, "WEBHOOK_SECRET"},
		{"short key", func(c *Config) { c.EncryptionKey = "abcd" }, "32 bytes"},
		{"non hex key", func(c *Config) { c.EncryptionKey = "zz" }, "must be hex"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
