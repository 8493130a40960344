package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "GCAL"

type Config struct {
	OAuth         OAuthConfig        `mapstructure:"oauth"`
	API           APIConfig          `mapstructure:"api"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

type OAuthConfig struct {
	ClientID    string   `mapstructure:"client_id"`
	RedirectURI string   `mapstructure:"redirect_uri"`
	Scopes      []string `mapstructure:"scopes"`
	AuthURL     string   `mapstructure:"auth_url"`
	TokenURL    string   `mapstructure:"token_url"`
}

type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	CalendarID string `mapstructure:"calendar_id"`
}

type SyncConfig struct {
	AutoSync        bool `mapstructure:"auto_sync"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

type NotificationConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MinutesBefore int  `mapstructure:"minutes_before"`
}

var defaultConfig = Config{
	OAuth: OAuthConfig{
		ClientID:    "",
		RedirectURI: "http://127.0.0.1:8085/oauth2redirect",
		Scopes:      []string{"https://www.googleapis.com/auth/calendar.readonly"},
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
	},
	API: APIConfig{
		BaseURL:    "https://www.googleapis.com/calendar/v3",
		CalendarID: "primary",
	},
	Sync: SyncConfig{
		AutoSync:        true,
		IntervalMinutes: 30,
	},
	Notifications: NotificationConfig{
		Enabled:       true,
		MinutesBefore: 15,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	c.OAuth.Scopes = append([]string(nil), defaultConfig.OAuth.Scopes...)
	return &c
}

// Load reads config.toml from configPath, which may be a directory or the
// file itself. A missing file is created with defaults. GCAL_* environment
// variables override the file, e.g. GCAL_OAUTH_CLIENT_ID.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configDir, err := getDefaultConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configPath = configDir
	}

	configDir, configFile := configPath, filepath.Join(configPath, "config.toml")
	if strings.HasSuffix(configPath, ".toml") {
		configDir, configFile = filepath.Dir(configPath), configPath
	}
	v.SetConfigFile(configFile)

	setDefaults(v)

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if err := createDefaultConfig(configDir, configFile); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SyncInterval is the pause between periodic syncs.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// ReminderLead is how long before an event its reminder fires.
func (c *Config) ReminderLead() time.Duration {
	return time.Duration(c.Notifications.MinutesBefore) * time.Minute
}

func setDefaults(v *viper.Viper) {
	// OAuth
	v.SetDefault("oauth.client_id", defaultConfig.OAuth.ClientID)
	v.SetDefault("oauth.redirect_uri", defaultConfig.OAuth.RedirectURI)
	v.SetDefault("oauth.scopes", defaultConfig.OAuth.Scopes)
	v.SetDefault("oauth.auth_url", defaultConfig.OAuth.AuthURL)
	v.SetDefault("oauth.token_url", defaultConfig.OAuth.TokenURL)

	// API
	v.SetDefault("api.base_url", defaultConfig.API.BaseURL)
	v.SetDefault("api.calendar_id", defaultConfig.API.CalendarID)

	// Sync
	v.SetDefault("sync.auto_sync", defaultConfig.Sync.AutoSync)
	v.SetDefault("sync.interval_minutes", defaultConfig.Sync.IntervalMinutes)

	// Notifications
	v.SetDefault("notifications.enabled", defaultConfig.Notifications.Enabled)
	v.SetDefault("notifications.minutes_before", defaultConfig.Notifications.MinutesBefore)
}

func createDefaultConfig(configDir, configFile string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configContent := `# gcal-companion configuration

[oauth]
client_id = ""  # OAuth client ID of your installed-app credentials
redirect_uri = "http://127.0.0.1:8085/oauth2redirect"
scopes = ["https://www.googleapis.com/auth/calendar.readonly"]
auth_url = "https://accounts.google.com/o/oauth2/v2/auth"
token_url = "https://oauth2.googleapis.com/token"

[api]
base_url = "https://www.googleapis.com/calendar/v3"
calendar_id = "primary"

[sync]
auto_sync = true
interval_minutes = 30

[notifications]
enabled = true
minutes_before = 15  # reminder lead time
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func getDefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "gcal-companion"), nil
}

func GetDefaultConfigDir() (string, error) {
	return getDefaultConfigDir()
}
