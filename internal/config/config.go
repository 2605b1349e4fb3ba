// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads credkeeper configuration. Values are layered as
// built-in defaults, then an optional YAML file, then the DATABASE_URL
// environment variable, then command-line flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/credkeeper/internal/auth"
	"github.com/holomush/credkeeper/internal/notify"
)

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DatabaseURLEnv is read when database.url is not set on the command line.
const DatabaseURLEnv = "DATABASE_URL"

// Config is the full service configuration.
type Config struct {
	Reset     ResetConfig     `koanf:"reset"`
	History   HistoryConfig   `koanf:"history"`
	Change    ChangeConfig    `koanf:"change"`
	Notify    NotifyConfig    `koanf:"notify"`
	Sweep     SweepConfig     `koanf:"sweep"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Redis     RedisConfig     `koanf:"redis"`
	Database  DatabaseConfig  `koanf:"database"`
	HTTP      HTTPConfig      `koanf:"http"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// ResetConfig governs password reset tokens.
type ResetConfig struct {
	TokenLifetime time.Duration `koanf:"token_lifetime"`
	RateLimit     int           `koanf:"rate_limit"`
	RateWindow    time.Duration `koanf:"rate_window"`
}

// HistoryConfig governs password history retention.
type HistoryConfig struct {
	RetentionCount int           `koanf:"retention_count"`
	MaxAge         time.Duration `koanf:"max_age"`
}

// ChangeConfig governs direct password changes.
type ChangeConfig struct {
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`
}

// NotifyConfig configures outbound email.
type NotifyConfig struct {
	FromAddress   string          `koanf:"from_address"`
	FromName      string          `koanf:"from_name"`
	ResetLinkBase string          `koanf:"reset_link_base"`
	QueueSize     int             `koanf:"queue_size"`
	Templates     TemplatesConfig `koanf:"templates"`
	SMTP          SMTPConfig      `koanf:"smtp"`
}

// TemplatesConfig holds optional plain-text template overrides, one path per kind.
type TemplatesConfig struct {
	PasswordChanged string `koanf:"password_changed"`
	ResetRequested  string `koanf:"reset_requested"`
	ResetSucceeded  string `koanf:"reset_succeeded"`
}

// SMTPConfig locates the mail relay. An empty host logs messages instead of sending them.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// SweepConfig controls the background token sweeper.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// RateLimitConfig selects the limiter backend.
type RateLimitConfig struct {
	Backend string `koanf:"backend"`
}

// RedisConfig locates the shared limiter store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the metrics and health listener. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Reset: ResetConfig{
			TokenLifetime: auth.DefaultResetTokenLifetime,
			RateLimit:     auth.DefaultResetRateLimit,
			RateWindow:    auth.DefaultResetRateWindow,
		},
		History: HistoryConfig{
			RetentionCount: auth.DefaultHistoryRetentionCount,
			MaxAge:         auth.DefaultHistoryMaxAge,
		},
		Change: ChangeConfig{
			RateLimit:  auth.DefaultChangeRateLimit,
			RateWindow: auth.DefaultChangeRateWindow,
		},
		Notify: NotifyConfig{
			FromName:  "Credkeeper",
			QueueSize: notify.DefaultQueueSize,
			SMTP:      SMTPConfig{Port: notify.DefaultSMTPPort},
		},
		Sweep:     SweepConfig{Interval: auth.DefaultSweepInterval},
		RateLimit: RateLimitConfig{Backend: BackendMemory},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Database:  DatabaseConfig{MaxConns: 10},
		HTTP:      HTTPConfig{Addr: "127.0.0.1:8080"},
		Metrics:   MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:       LogConfig{Format: "json", Level: "info"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"database-url":      "database.url",
	"http-addr":         "http.addr",
	"metrics-addr":      "metrics.addr",
	"log-format":        "log.format",
	"log-level":         "log.level",
	"ratelimit-backend": "ratelimit.backend",
	"redis-addr":        "redis.addr",
}

// RegisterFlags adds the overridable settings to fs. Flag defaults are
// display-only; unset flags never override the file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("database-url", "", "PostgreSQL connection URL (default: $"+DatabaseURLEnv+")")
	fs.String("http-addr", d.HTTP.Addr, "public API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("ratelimit-backend", d.RateLimit.Backend, "rate limiter backend (memory or redis)")
	fs.String("redis-addr", d.Redis.Addr, "redis address for the redis rate limiter")
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the environment and any changed flags in fs (may be nil).
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := setDefaults(k); err != nil {
		return nil, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if dsn := os.Getenv(DatabaseURLEnv); dsn != "" && !k.Exists("database.url") {
		if err := k.Set("database.url", dsn); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.RateLimit.Backend = strings.ToLower(cfg.RateLimit.Backend)
	return &cfg, nil
}

// setDefaults seeds k with every key except database.url, whose presence
// signals that the file or flags set it explicitly.
func setDefaults(k *koanf.Koanf) error {
	d := Defaults()
	defaults := map[string]interface{}{
		"reset.token_lifetime":    d.Reset.TokenLifetime,
		"reset.rate_limit":        d.Reset.RateLimit,
		"reset.rate_window":       d.Reset.RateWindow,
		"history.retention_count": d.History.RetentionCount,
		"history.max_age":         d.History.MaxAge,
		"change.rate_limit":       d.Change.RateLimit,
		"change.rate_window":      d.Change.RateWindow,
		"notify.from_name":        d.Notify.FromName,
		"notify.queue_size":       d.Notify.QueueSize,
		"notify.smtp.port":        d.Notify.SMTP.Port,
		"sweep.interval":          d.Sweep.Interval,
		"ratelimit.backend":       d.RateLimit.Backend,
		"redis.addr":              d.Redis.Addr,
		"database.max_conns":      d.Database.MaxConns,
		"http.addr":               d.HTTP.Addr,
		"metrics.addr":            d.Metrics.Addr,
		"log.format":              d.Log.Format,
		"log.level":               d.Log.Level,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	positive := []struct {
		key string
		ok  bool
	}{
		{"reset.token_lifetime", c.Reset.TokenLifetime > 0},
		{"reset.rate_limit", c.Reset.RateLimit > 0},
		{"reset.rate_window", c.Reset.RateWindow > 0},
		{"history.retention_count", c.History.RetentionCount > 0},
		{"history.max_age", c.History.MaxAge > 0},
		{"change.rate_limit", c.Change.RateLimit > 0},
		{"change.rate_window", c.Change.RateWindow > 0},
		{"notify.queue_size", c.Notify.QueueSize > 0},
		{"sweep.interval", c.Sweep.Interval > 0},
		{"database.max_conns", c.Database.MaxConns > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return oops.Code("CONFIG_INVALID").With("key", p.key).Errorf("%s must be positive", p.key)
		}
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return oops.Code("CONFIG_INVALID").With("key", "redis.addr").Errorf("redis.addr is required for the redis backend")
		}
	default:
		return oops.Code("CONFIG_INVALID").With("key", "ratelimit.backend").
			Errorf("ratelimit.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Backend)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}

	if c.Notify.SMTP.Host != "" {
		if c.Notify.FromAddress == "" {
			return oops.Code("CONFIG_INVALID").With("key", "notify.from_address").
				Errorf("notify.from_address is required when notify.smtp.host is set")
		}
		if c.Notify.SMTP.Port <= 0 || c.Notify.SMTP.Port > 65535 {
			return oops.Code("CONFIG_INVALID").With("key", "notify.smtp.port").
				Errorf("notify.smtp.port out of range: %d", c.Notify.SMTP.Port)
		}
	}

	if c.Notify.ResetLinkBase != "" {
		u, err := url.Parse(c.Notify.ResetLinkBase)
		if err != nil || !u.IsAbs() {
			return oops.Code("CONFIG_INVALID").With("key", "notify.reset_link_base").
				Errorf("notify.reset_link_base must be an absolute URL")
		}
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("database.url (or %s) is required", DatabaseURLEnv)
	}
	return nil
}

// ResetService returns the reset coordinator settings.
func (c *Config) ResetService() auth.ResetServiceConfig {
	return auth.ResetServiceConfig{
		TokenLifetime: c.Reset.TokenLifetime,
		RateLimit:     auth.RateLimitPolicy{Limit: c.Reset.RateLimit, Window: c.Reset.RateWindow},
	}
}

// ChangeGuard returns the password change guard settings.
func (c *Config) ChangeGuard() auth.ChangeGuardConfig {
	return auth.ChangeGuardConfig{
		HistoryLimit: c.History.RetentionCount,
		RateLimit:    auth.RateLimitPolicy{Limit: c.Change.RateLimit, Window: c.Change.RateWindow},
	}
}

// Sweeper returns the token sweeper settings.
func (c *Config) Sweeper() auth.SweepConfig {
	return auth.SweepConfig{
		Interval:      c.Sweep.Interval,
		HistoryMaxAge: c.History.MaxAge,
	}
}

// TemplateOverrides returns the configured template paths keyed by kind.
func (c *Config) TemplateOverrides() notify.TemplateOverrides {
	overrides := notify.TemplateOverrides{}
	for kind, path := range map[notify.Kind]string{
		notify.KindPasswordChanged: c.Notify.Templates.PasswordChanged,
		notify.KindResetRequested:  c.Notify.Templates.ResetRequested,
		notify.KindResetSucceeded:  c.Notify.Templates.ResetSucceeded,
	} {
		if path != "" {
			overrides[kind] = path
		}
	}
	return overrides
}

// SMTP returns the mail relay settings.
func (c *Config) SMTP() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:        c.Notify.SMTP.Host,
		Port:        c.Notify.SMTP.Port,
		Username:    c.Notify.SMTP.Username,
		Password:    c.Notify.SMTP.Password,
		FromAddress: c.Notify.FromAddress,
		FromName:    c.Notify.FromName,
	}
}

// String renders the config for debug logs with secrets masked.
func (c Config) String() string {
	masked := c
	if masked.Notify.SMTP.Password != "" {
		masked.Notify.SMTP.Password = "[REDACTED]"
	}
	if masked.Redis.Password != "" {
		masked.Redis.Password = "[REDACTED]"
	}
	masked.Database.URL = redactURL(masked.Database.URL)
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	return u.Redacted()
}
