package config

import (
	"net"
	"net/url"
	"strings"

	"github.com/bnema/gcal-companion/internal/security"
)

// Validate checks endpoint URLs and numeric settings. The client ID is not
// required here so that status and export work before it is configured.
func (c *Config) Validate() error {
	endpoints := []struct {
		field string
		value string
	}{
		{"oauth.auth_url", c.OAuth.AuthURL},
		{"oauth.token_url", c.OAuth.TokenURL},
		{"api.base_url", c.API.BaseURL},
	}
	for _, e := range endpoints {
		if err := validateEndpoint(e.field, e.value); err != nil {
			return err
		}
	}

	if err := validateRedirectURI(c.OAuth.RedirectURI); err != nil {
		return err
	}

	if c.Sync.IntervalMinutes < 1 {
		return security.NewConfigError("sync.interval_minutes", "", "must be at least 1 minute")
	}
	if c.Notifications.MinutesBefore < 0 {
		return security.NewConfigError("notifications.minutes_before", "", "must not be negative")
	}
	if strings.TrimSpace(c.API.CalendarID) == "" {
		return security.NewConfigError("api.calendar_id", "", "cannot be empty")
	}

	return nil
}

// RequireClientID fails when no OAuth client is configured.
func (c *Config) RequireClientID() error {
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		return security.NewConfigError("oauth.client_id", "",
			"not set (edit config.toml or export GCAL_OAUTH_CLIENT_ID)")
	}
	return nil
}

// validateEndpoint requires HTTPS except for loopback hosts.
func validateEndpoint(field, raw string) error {
	if raw == "" {
		return security.NewConfigError(field, "", "cannot be empty")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return security.NewConfigError(field, raw, "invalid URL format").WithCause(err)
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return security.NewConfigError(field, raw, "scheme must be http or https")
	}

	if parsedURL.Host == "" {
		return security.NewConfigError(field, raw, "missing host")
	}

	if parsedURL.Scheme != "https" && !isLoopback(parsedURL.Hostname()) {
		return security.NewConfigError(field, raw, "must use HTTPS for non-loopback hosts")
	}

	return nil
}

// validateRedirectURI accepts loopback HTTP listeners and custom schemes
// such as com.example.app:/oauth2redirect.
func validateRedirectURI(raw string) error {
	if raw == "" {
		return security.NewConfigError("oauth.redirect_uri", "", "cannot be empty")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return security.NewConfigError("oauth.redirect_uri", raw, "invalid URL format").WithCause(err)
	}

	switch parsedURL.Scheme {
	case "":
		return security.NewConfigError("oauth.redirect_uri", raw, "missing scheme")
	case "http":
		if !isLoopback(parsedURL.Hostname()) {
			return security.NewConfigError("oauth.redirect_uri", raw, "plain HTTP is only allowed for loopback hosts")
		}
	}

	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
