package auth

import "errors"

var (
	// ErrAuthExchangeFailed means the authorization code could not be
	// turned into tokens. The PKCE pair of that attempt is gone.
	ErrAuthExchangeFailed = errors.New("authorization code exchange failed")

	// ErrNoRefreshToken is returned by Refresh before any network call when
	// the session holds no refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed means the token endpoint rejected the refresh. The
	// session has been logged out and must restart from authorization.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrNotAuthenticated is returned by Token when no access token is held.
	ErrNotAuthenticated = errors.New("session is not authenticated")
)
