package auth

import "time"

// Google OAuth 2.0 endpoints and scopes.
const (
	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"

	ScopeCalendarReadonly = "https://www.googleapis.com/auth/calendar.readonly"

	DefaultRedirectURI = "http://127.0.0.1:8085/oauth2redirect"
)

// RefreshMargin is subtracted from every server-declared token lifetime so
// the session treats a token as expired before the server would reject it.
const RefreshMargin = 300 * time.Second

// DefaultScopes is what the companion asks for: read-only calendar access.
var DefaultScopes = []string{ScopeCalendarReadonly}
