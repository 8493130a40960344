package calendar

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can produce a distinct message for
// each one.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationRequired
	KindAuthExchangeFailed
	KindNoRefreshToken
	KindRefreshFailed
	KindAuthorizationDenied
	KindRateLimited
	KindServerError
	KindNetworkError
	KindParseError
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindAuthExchangeFailed:
		return "auth_exchange_failed"
	case KindNoRefreshToken:
		return "no_refresh_token"
	case KindRefreshFailed:
		return "refresh_failed"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindNetworkError:
		return "network_error"
	case KindParseError:
		return "parse_error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired}
	ErrAuthExchangeFailed     = &Error{Kind: KindAuthExchangeFailed}
	ErrNoRefreshToken         = &Error{Kind: KindNoRefreshToken}
	ErrRefreshFailed          = &Error{Kind: KindRefreshFailed}
	ErrAuthorizationDenied    = &Error{Kind: KindAuthorizationDenied}
	ErrRateLimited            = &Error{Kind: KindRateLimited}
	ErrServerError            = &Error{Kind: KindServerError}
	ErrNetworkError           = &Error{Kind: KindNetworkError}
	ErrParseError             = &Error{Kind: KindParseError}
	ErrTimeout                = &Error{Kind: KindTimeout}
)

// Error is a classified failure. Status is the last HTTP status seen, zero
// when no response was received.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, Op: "fetch events", Status: status, Err: err}
}
