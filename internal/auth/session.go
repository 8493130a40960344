// Package auth owns the OAuth 2.0 authorization-code + PKCE session: consent
// URL, code exchange, token refresh and logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/bnema/gcal-companion/internal/pkce"
	"github.com/bnema/gcal-companion/internal/security"
	"github.com/bnema/gcal-companion/internal/tokenstore"
)

// State is the position of the session in its lifecycle.
type State int

const (
	Unauthenticated State = iota
	AwaitingConsent
	ExchangingCode
	Authenticated
	NeedsRefresh
	Refreshing
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingConsent:
		return "awaiting_consent"
	case ExchangingCode:
		return "exchanging_code"
	case Authenticated:
		return "authenticated"
	case NeedsRefresh:
		return "needs_refresh"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Config identifies the OAuth client. Empty endpoints and scopes fall back
// to Google's.
type Config struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	AuthURL     string
	TokenURL    string
}

func (c Config) oauth2Config() *oauth2.Config {
	authURL, tokenURL := c.AuthURL, c.TokenURL
	if authURL == "" {
		authURL = GoogleAuthURL
	}
	if tokenURL == "" {
		tokenURL = GoogleTokenURL
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	redirect := c.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}

	return &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: redirect,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
			// Public client: credentials go in the form body, so a failed
			// request is never retried with the other auth style.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithHTTPClient sets the client used for the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithLogger sets the redacting logger.
func WithLogger(l *security.SecureLogger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is the single authenticated identity of the companion. One
// instance is constructed at startup and shared by reference.
type Session struct {
	oauth      *oauth2.Config
	store      tokenstore.Store
	httpClient *http.Client
	logger     *security.SecureLogger
	now        func() time.Time

	refreshGroup singleflight.Group

	mu           sync.Mutex
	state        State
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	pending      *pkce.Pair
	// generation changes whenever the token set is replaced or dropped
	// outside a refresh; a refresh that started under an older one
	// discards its outcome.
	generation uint64
}

// New restores a session from store.
func New(cfg Config, store tokenstore.Store, opts ...Option) *Session {
	s := &Session{
		oauth: cfg.oauth2Config(),
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = security.NewHTTPClient(30 * time.Second)
	}
	if s.logger == nil {
		s.logger = security.NewSecureLogger(false)
	}

	persisted := store.Load()
	s.accessToken = persisted.AccessToken
	s.refreshToken = persisted.RefreshToken
	s.expiresAt = persisted.ExpiresAt
	if s.accessToken != "" || s.refreshToken != "" {
		s.state = Authenticated
	}

	s.logger.LogAuthEvent("session_restored", true, map[string]any{
		"has_access_token":  s.accessToken != "",
		"has_refresh_token": s.refreshToken != "",
	})

	return s
}

// IsAuthenticated reports whether a non-expired access token is held. It
// never triggers a refresh.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticatedLocked()
}

func (s *Session) authenticatedLocked() bool {
	return s.accessToken != "" && s.now().Before(s.expiresAt)
}

// State returns the lifecycle position. An Authenticated session whose
// access token has lapsed reports NeedsRefresh.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Authenticated && !s.authenticatedLocked() {
		return NeedsRefresh
	}
	return s.state
}

// AccessToken returns the current access token, or "" when none is held.
// Whether it is still valid is for IsAuthenticated to say.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// ExpiresAt returns the margin-adjusted expiry of the access token.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// HasRefreshToken reports whether Refresh can contact the token endpoint.
func (s *Session) HasRefreshToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken != ""
}

// Token satisfies oauth2.TokenSource with the current access token. It
// hands out the token even when it has lapsed locally: the server decides,
// and a 401 goes through Refresh.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken == "" {
		return nil, ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken: s.accessToken,
		TokenType:   "Bearer",
		Expiry:      s.expiresAt,
	}, nil
}

// BeginAuthorization starts a new attempt with a fresh PKCE pair and
// returns the consent URL for the browser collaborator. Any earlier pending
// pair is discarded.
func (s *Session) BeginAuthorization() (string, error) {
	pair, err := pkce.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate PKCE pair: %w", err)
	}

	s.mu.Lock()
	s.pending = &pair
	s.state = AwaitingConsent
	s.mu.Unlock()

	authURL := s.oauth.AuthCodeURL("",
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	)

	s.logger.LogAuthEvent("authorization_begin", true, map[string]any{
		"redirect_uri": s.oauth.RedirectURL,
	})

	return authURL, nil
}

// CompleteAuthorization extracts the code from the captured redirect URL
// and exchanges it.
func (s *Session) CompleteAuthorization(ctx context.Context, redirectURL string) error {
	code := ExtractCode(redirectURL)
	if code == "" {
		s.mu.Lock()
		s.pending = nil
		s.state = Unauthenticated
		s.mu.Unlock()
		s.logger.LogAuthEvent("authorization_redirect", false, map[string]any{
			"reason": "no code in redirect",
		})
		return fmt.Errorf("%w: redirect carried no authorization code", ErrAuthExchangeFailed)
	}
	return s.ExchangeCode(ctx, code)
}

// ExchangeCode trades an authorization code plus the pending verifier for
// tokens. The PKCE pair is consumed whatever the outcome.
func (s *Session) ExchangeCode(ctx context.Context, code string) error {
	s.mu.Lock()
	pair := s.pending
	s.pending = nil
	if pair == nil {
		s.state = Unauthenticated
		s.mu.Unlock()
		return fmt.Errorf("%w: no authorization in progress", ErrAuthExchangeFailed)
	}
	s.state = ExchangingCode
	s.mu.Unlock()

	start := time.Now()
	tok, err := s.oauth.Exchange(s.clientContext(ctx), code, oauth2.VerifierOption(pair.Verifier))
	s.logger.LogNetworkEvent(http.MethodPost, s.oauth.Endpoint.TokenURL, retrieveStatus(err), time.Since(start).String())
	if err != nil {
		s.mu.Lock()
		s.state = Unauthenticated
		s.mu.Unlock()
		s.logger.LogAuthEvent("code_exchange", false, map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %w", ErrAuthExchangeFailed, err)
	}

	s.mu.Lock()
	s.accessToken = tok.AccessToken
	s.refreshToken = tok.RefreshToken
	s.expiresAt = s.expiryFor(tok)
	s.state = Authenticated
	s.generation++
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		s.logger.Error("Failed to persist tokens after exchange", "error", err)
	}

	s.logger.LogAuthEvent("code_exchange", true, map[string]any{
		"has_refresh_token": tok.RefreshToken != "",
		"expires_at":        snapshot.ExpiresAt.Format(time.RFC3339),
	})
	return nil
}

// Refresh obtains a new access token. Concurrent callers share one request
// to the token endpoint. The request itself is not tied to any caller's
// cancellation: a caller whose ctx ends stops waiting, but the refresh
// finishes and its outcome is applied. A rejected refresh logs the session
// out.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	hasRefresh := s.refreshToken != ""
	s.mu.Unlock()
	if !hasRefresh {
		s.logger.LogAuthEvent("token_refresh", false, map[string]any{"reason": "no refresh token"})
		return ErrNoRefreshToken
	}

	detached := context.WithoutCancel(ctx)
	ch := s.refreshGroup.DoChan("refresh", func() (any, error) {
		return nil, s.refresh(detached)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshIfExpired refreshes only when the access token has lapsed and a
// refresh token is available.
func (s *Session) RefreshIfExpired(ctx context.Context) error {
	if s.IsAuthenticated() {
		return nil
	}
	return s.Refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.refreshToken
	if refreshToken == "" {
		s.mu.Unlock()
		return ErrNoRefreshToken
	}
	generation := s.generation
	s.state = Refreshing
	s.mu.Unlock()

	s.logger.LogAuthEvent("token_refresh_start", true, nil)

	start := time.Now()
	src := s.oauth.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	s.logger.LogNetworkEvent(http.MethodPost, s.oauth.Endpoint.TokenURL, retrieveStatus(err), time.Since(start).String())
	if err != nil {
		s.logger.LogAuthEvent("token_refresh", false, map[string]any{"error": err.Error()})
		if s.currentGeneration() == generation {
			if logoutErr := s.Logout(); logoutErr != nil {
				s.logger.Error("Failed to clear tokens after refresh failure", "error", logoutErr)
			}
		}
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		s.logger.LogAuthEvent("token_refresh", false, map[string]any{"reason": "session replaced during refresh"})
		return fmt.Errorf("%w: session changed during refresh", ErrRefreshFailed)
	}
	s.accessToken = tok.AccessToken
	s.expiresAt = s.expiryFor(tok)
	s.state = Authenticated
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		s.logger.Error("Failed to persist tokens after refresh", "error", err)
	}

	s.logger.LogAuthEvent("token_refresh", true, map[string]any{
		"expires_at": snapshot.ExpiresAt.Format(time.RFC3339),
	})
	return nil
}

// Logout forgets every token in memory and in the store.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.pending = nil
	s.state = Unauthenticated
	s.generation++
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear token store: %w", err)
	}
	s.logger.LogAuthEvent("logout", true, nil)
	return nil
}

// expiryFor applies RefreshMargin to the declared lifetime.
func (s *Session) expiryFor(tok *oauth2.Token) time.Time {
	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if lifetime <= 0 && !tok.Expiry.IsZero() {
		lifetime = tok.Expiry.Sub(s.now())
	}
	return s.now().Add(lifetime - RefreshMargin)
}

func (s *Session) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) snapshotLocked() tokenstore.Tokens {
	return tokenstore.Tokens{
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
		ExpiresAt:    s.expiresAt,
	}
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// ExtractCode returns the value of the code query parameter in a captured
// redirect URL, terminated by '&' or the end of the string. It returns ""
// when the URL carries no code.
func ExtractCode(redirectURL string) string {
	idx := strings.Index(redirectURL, "code=")
	for idx > 0 && redirectURL[idx-1] != '?' && redirectURL[idx-1] != '&' {
		next := strings.Index(redirectURL[idx+1:], "code=")
		if next < 0 {
			return ""
		}
		idx += next + 1
	}
	if idx < 0 {
		return ""
	}

	raw := redirectURL[idx+len("code="):]
	if amp := strings.IndexByte(raw, '&'); amp >= 0 {
		raw = raw[:amp]
	}
	if hash := strings.IndexByte(raw, '#'); hash >= 0 {
		raw = raw[:hash]
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func retrieveStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}
