// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix namespaces every environment variable the server reads.
const EnvPrefix = "WEEKCAL_"

const maxConfigFileSize = 1024 * 1024

type Config struct {
	Port         int    `koanf:"port"`
	DatabaseURL  string `koanf:"database_url"`
	DatabaseType string `koanf:"database_type"`

	TokenSecret   string `koanf:"token_secret"`
	WebhookSecret string `koanf:"webhook_secret"`
	EncryptionKey string `koanf:"encryption_key"`

	ShellyReconnectDelay time.Duration `koanf:"shelly_reconnect_delay"`
	ShellyRateLimit      int           `koanf:"shelly_rate_limit"`
	ShellyQueueSize      int           `koanf:"shelly_queue_size"`
	ShellyWSPort         int           `koanf:"shelly_ws_port"`

	NATSURL             string        `koanf:"nats_url"`
	MaintenanceSchedule string        `koanf:"maintenance_schedule"`
	ConnectionRetention time.Duration `koanf:"connection_retention"`
	ShutdownTimeout     time.Duration `koanf:"shutdown_timeout"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// flagKeys maps long flag names to config keys.
var flagKeys = map[string]string{
	"port":           "port",
	"database-url":   "database_url",
	"database-type":  "database_type",
	"token-secret":   "token_secret",
	"webhook-secret": "webhook_secret",
	"encryption-key": "encryption_key",
	"nats-url":       "nats_url",
	"log-level":      "log_level",
	"log-format":     "log_format",
}

// legacyEnv are unprefixed variables accepted for compatibility with
// common PaaS conventions.
var legacyEnv = map[string]string{
	"PORT":          "port",
	"DATABASE_URL":  "database_url",
	"DATABASE_TYPE": "database_type",
}

// NewFlagSet declares every flag Load understands.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.String("config", "", "Path to a YAML config file")

	// Network config (can be CLI args or env)
	fs.IntP("port", "p", 0, "Server port")
	fs.StringP("database-url", "d", "", "Database URL")
	fs.StringP("database-type", "t", "", "Database type (sqlite or postgres)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.String("token-secret", "", "Bearer token HMAC secret (prefer env)")
	fs.String("webhook-secret", "", "Webhook token HMAC secret (prefer env)")
	fs.String("encryption-key", "", "32-byte hex key for stored Shelly tokens (prefer env)")

	fs.String("nats-url", "", "Optional NATS server for event fan-out")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (json or console)")
	return fs
}

// Load parses args and layers configuration: defaults, YAML file, .env,
// environment, then flags. The result is validated.
func Load(args []string) (Config, error) {
	fs := NewFlagSet("weekly-calendar")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return LoadFlags(fs)
}

// LoadFlags is Load for an already parsed flag set.
func LoadFlags(flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	// CLI flags take precedence; only flags the caller set are applied
	var setErr error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || setErr != nil {
			return
		}
		setErr = k.Set(key, f.Value.String())
	})
	if setErr != nil {
		return Config{}, fmt.Errorf("failed to apply flags: %w", setErr)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 3318
	}
	if cfg.DatabaseType == "" {
		cfg.DatabaseType = "sqlite"
	}
	if cfg.ShellyReconnectDelay == 0 {
		cfg.ShellyReconnectDelay = 5 * time.Second
	}
	if cfg.ShellyRateLimit == 0 {
		cfg.ShellyRateLimit = 60
	}
	if cfg.ShellyQueueSize == 0 {
		cfg.ShellyQueueSize = 100
	}
	if cfg.ShellyWSPort == 0 {
		cfg.ShellyWSPort = 6113
	}
	if cfg.MaintenanceSchedule == "" {
		cfg.MaintenanceSchedule = "@every 1h"
	}
	if cfg.ConnectionRetention == 0 {
		cfg.ConnectionRetention = 7 * 24 * time.Hour
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

// Validate checks required values and formats.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DatabaseURL == "" {
		return errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if c.DatabaseType != "sqlite" && c.DatabaseType != "postgres" {
		return fmt.Errorf("unknown database type %q (sqlite or postgres)", c.DatabaseType)
	}

	// Secrets - MUST be provided
	if c.TokenSecret == "" {
		return errors.New(EnvPrefix + "TOKEN_SECRET required")
	}
	if c.WebhookSecret == "" {
		return errors.New(EnvPrefix + "WEBHOOK_SECRET required")
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}

	if c.ShellyRateLimit < 0 || c.ShellyQueueSize < 0 {
		return errors.New("shelly limits must not be negative")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// EncryptionKeyBytes decodes the hex encryption key.
func (c Config) EncryptionKeyBytes() (*[32]byte, error) {
	raw, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%sENCRYPTION_KEY must be hex: %w", EnvPrefix, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%sENCRYPTION_KEY must decode to 32 bytes, got %d", EnvPrefix, len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
