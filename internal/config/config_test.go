package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/gcal-companion/internal/security"
)

func TestLoad_CreatesDefaultFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gcal-companion")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval())
	assert.Equal(t, 15*time.Minute, cfg.ReminderLead())
	assert.True(t, cfg.Notifications.Enabled)
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.toml")
	content := `
[oauth]
client_id = "abc.apps.googleusercontent.com"

[sync]
interval_minutes = 5

[notifications]
enabled = false
minutes_before = 0
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "abc.apps.googleusercontent.com", cfg.OAuth.ClientID)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval())
	assert.False(t, cfg.Notifications.Enabled)
	assert.Equal(t, time.Duration(0), cfg.ReminderLead())
	assert.Equal(t, "primary", cfg.API.CalendarID, "unset keys keep defaults")
	assert.NoError(t, cfg.RequireClientID())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GCAL_OAUTH_CLIENT_ID", "from-env")
	t.Setenv("GCAL_SYNC_INTERVAL_MINUTES", "45")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.OAuth.ClientID)
	assert.Equal(t, 45, cfg.Sync.IntervalMinutes)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[sync]\ninterval_minutes = 0\n"), 0644))

	_, err := Load(dir)
	var cfgErr *security.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "sync.interval_minutes", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"loopback token endpoint", func(c *Config) { c.OAuth.TokenURL = "http://127.0.0.1:9000/token" }, ""},
		{"custom scheme redirect", func(c *Config) { c.OAuth.RedirectURI = "com.example.app:/oauth2redirect" }, ""},
		{"plain http base url", func(c *Config) { c.API.BaseURL = "http://example.com/calendar/v3" }, "api.base_url"},
		{"ftp auth url", func(c *Config) { c.OAuth.AuthURL = "ftp://accounts.google.com/auth" }, "oauth.auth_url"},
		{"empty token url", func(c *Config) { c.OAuth.TokenURL = "" }, "oauth.token_url"},
		{"remote http redirect", func(c *Config) { c.OAuth.RedirectURI = "http://example.com/cb" }, "oauth.redirect_uri"},
		{"negative lead", func(c *Config) { c.Notifications.MinutesBefore = -1 }, "notifications.minutes_before"},
		{"blank calendar", func(c *Config) { c.API.CalendarID = " " }, "api.calendar_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *security.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestRequireClientID(t *testing.T) {
	err := Default().RequireClientID()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GCAL_OAUTH_CLIENT_ID")
}
