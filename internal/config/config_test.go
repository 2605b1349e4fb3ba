// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeeper/internal/notify"
	"github.com/holomush/credkeeper/pkg/errutil"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Reset.TokenLifetime)
	assert.Equal(t, 3, cfg.Reset.RateLimit)
	assert.Equal(t, time.Hour, cfg.Reset.RateWindow)
	assert.Equal(t, 10, cfg.History.RetentionCount)
	assert.Equal(t, 365*24*time.Hour, cfg.History.MaxAge)
	assert.Equal(t, 5, cfg.Change.RateLimit)
	assert.Equal(t, 128, cfg.Notify.QueueSize)
	assert.Equal(t, 587, cfg.Notify.SMTP.Port)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.Interval)
	assert.Equal(t, BackendMemory, cfg.RateLimit.Backend)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Database.URL)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")
	path := writeYAML(t, `
reset:
  token_lifetime: 15m
  rate_limit: 2
history:
  retention_count: 4
  max_age: 720h
notify:
  from_address: security@example.com
  reset_link_base: https://example.com/reset
  templates:
    reset_requested: /etc/credkeeper/reset.txt
  smtp:
    host: mail.example.com
    port: 2525
ratelimit:
  backend: Redis
redis:
  addr: cache:6379
database:
  url: postgres://file@db/credkeeper
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Reset.TokenLifetime)
	assert.Equal(t, 2, cfg.Reset.RateLimit)
	assert.Equal(t, time.Hour, cfg.Reset.RateWindow, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.History.RetentionCount)
	assert.Equal(t, 720*time.Hour, cfg.History.MaxAge)
	assert.Equal(t, "mail.example.com", cfg.Notify.SMTP.Host)
	assert.Equal(t, 2525, cfg.Notify.SMTP.Port)
	assert.Equal(t, BackendRedis, cfg.RateLimit.Backend, "backend is case-insensitive")
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres://file@db/credkeeper", cfg.Database.URL)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, notify.TemplateOverrides{notify.KindResetRequested: "/etc/credkeeper/reset.txt"}, cfg.TemplateOverrides())
}

func TestLoad_DatabaseURLFromEnv(t *testing.T) {
	t.Run("env used when file is silent", func(t *testing.T) {
		t.Setenv(DatabaseURLEnv, "postgres://env@db/credkeeper")
		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://env@db/credkeeper", cfg.Database.URL)
	})

	t.Run("file wins over env", func(t *testing.T) {
		t.Setenv(DatabaseURLEnv, "postgres://env@db/credkeeper")
		path := writeYAML(t, "database:\n  url: postgres://file@db/credkeeper\n")
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://file@db/credkeeper", cfg.Database.URL)
	})

	t.Run("flag wins over env", func(t *testing.T) {
		t.Setenv(DatabaseURLEnv, "postgres://env@db/credkeeper")
		cfg, err := Load("", newFlags(t, "--database-url", "postgres://flag@db/credkeeper"))
		require.NoError(t, err)
		assert.Equal(t, "postgres://flag@db/credkeeper", cfg.Database.URL)
	})
}

func TestLoad_Flags(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")
	path := writeYAML(t, "http:\n  addr: 0.0.0.0:8000\nlog:\n  format: text\n")

	t.Run("unchanged flags do not override the file", func(t *testing.T) {
		cfg, err := Load(path, newFlags(t))
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8000", cfg.HTTP.Addr)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("changed flags override the file", func(t *testing.T) {
		cfg, err := Load(path, newFlags(t, "--http-addr", ":9999", "--log-format", "JSON", "--metrics-addr", ""))
		require.NoError(t, err)
		assert.Equal(t, ":9999", cfg.HTTP.Addr)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Empty(t, cfg.Metrics.Addr, "metrics can be disabled from the command line")
	})

	t.Run("unrelated flags are ignored", func(t *testing.T) {
		fs := newFlags(t)
		fs.Bool("dry-run", false, "")
		require.NoError(t, fs.Set("dry-run", "true"))
		_, err := Load(path, fs)
		require.NoError(t, err)
	})
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")

	_, err = Load(writeYAML(t, "reset: [not, a, map"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")

	_, err = Load(writeYAML(t, "reset:\n  token_lifetime: soon\n"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"zero token lifetime", func(c *Config) { c.Reset.TokenLifetime = 0 }, "reset.token_lifetime"},
		{"negative reset limit", func(c *Config) { c.Reset.RateLimit = -1 }, "reset.rate_limit"},
		{"zero history", func(c *Config) { c.History.RetentionCount = 0 }, "history.retention_count"},
		{"zero change window", func(c *Config) { c.Change.RateWindow = 0 }, "change.rate_window"},
		{"zero queue", func(c *Config) { c.Notify.QueueSize = 0 }, "notify.queue_size"},
		{"zero sweep interval", func(c *Config) { c.Sweep.Interval = 0 }, "sweep.interval"},
		{"unknown backend", func(c *Config) { c.RateLimit.Backend = "memcached" }, "ratelimit.backend"},
		{"redis without addr", func(c *Config) {
			c.RateLimit.Backend = BackendRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"smtp without sender", func(c *Config) { c.Notify.SMTP.Host = "mail" }, "notify.from_address"},
		{"smtp port out of range", func(c *Config) {
			c.Notify.SMTP.Host = "mail"
			c.Notify.FromAddress = "a@example.com"
			c.Notify.SMTP.Port = 70000
		}, "notify.smtp.port"},
		{"relative link base", func(c *Config) { c.Notify.ResetLinkBase = "/reset" }, "notify.reset_link_base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestConfig_RequireDatabase(t *testing.T) {
	cfg := Defaults()
	errutil.AssertErrorCode(t, cfg.RequireDatabase(), "CONFIG_INVALID")

	cfg.Database.URL = "postgres://localhost/credkeeper"
	assert.NoError(t, cfg.RequireDatabase())
}

func TestConfig_ServiceSettings(t *testing.T) {
	cfg := Defaults()
	cfg.Reset.TokenLifetime = 10 * time.Minute
	cfg.History.RetentionCount = 6
	cfg.Change.RateLimit = 9

	reset := cfg.ResetService()
	assert.Equal(t, 10*time.Minute, reset.TokenLifetime)
	assert.Equal(t, 3, reset.RateLimit.Limit)

	guard := cfg.ChangeGuard()
	assert.Equal(t, 6, guard.HistoryLimit)
	assert.Equal(t, 9, guard.RateLimit.Limit)
	assert.Equal(t, time.Hour, guard.RateLimit.Window)

	sweep := cfg.Sweeper()
	assert.Equal(t, 24*time.Hour, sweep.Interval)
	assert.Equal(t, cfg.History.MaxAge, sweep.HistoryMaxAge)

	cfg.Notify.FromAddress = "security@example.com"
	smtp := cfg.SMTP()
	assert.Equal(t, "security@example.com", smtp.FromAddress)
	assert.Equal(t, "Credkeeper", smtp.FromName)
	assert.Empty(t, cfg.TemplateOverrides())
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Database.URL = "postgres://app:hunter2@db/credkeeper"
	cfg.Notify.SMTP.Password = "smtp-secret"
	cfg.Redis.Password = "redis-secret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "smtp-secret")
	assert.NotContains(t, out, "redis-secret")
	assert.Contains(t, out, "db/credkeeper")
	assert.Equal(t, "postgres://app:hunter2@db/credkeeper", cfg.Database.URL, "original is untouched")
}
