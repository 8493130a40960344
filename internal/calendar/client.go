// Package calendar fetches events from the Google Calendar API on behalf of
// an authenticated session, classifying failures and retrying the ones
// worth retrying.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bnema/gcal-companion/internal/auth"
	"github.com/bnema/gcal-companion/internal/logger"
	"github.com/bnema/gcal-companion/internal/security"
)

// DefaultCalendarID is the signed-in user's own calendar.
const DefaultCalendarID = "primary"

// Session is what the client needs from the auth layer. *auth.Session
// satisfies it.
type Session interface {
	IsAuthenticated() bool
	Refresh(ctx context.Context) error
	Token() (*oauth2.Token, error)
}

type Client struct {
	session    Session
	service    *gcal.Service
	calendarID string
	sleep      SleepFunc
}

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
	sleep      SleepFunc
	calendarID string
}

// Option customizes a Client.
type Option func(*clientOptions)

// WithBaseURL points the client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithHTTPClient sets the client whose transport carries the requests.
// Bearer tokens are added on top of it.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithSleep replaces the delay between retries.
func WithSleep(fn SleepFunc) Option {
	return func(o *clientOptions) { o.sleep = fn }
}

func WithCalendarID(id string) Option {
	return func(o *clientOptions) { o.calendarID = id }
}

func NewClient(session Session, opts ...Option) (*Client, error) {
	o := clientOptions{
		sleep:      sleepContext,
		calendarID: DefaultCalendarID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = security.NewHTTPClient(30 * time.Second)
	}

	authed := &http.Client{
		Transport:     &oauth2.Transport{Source: session, Base: o.httpClient.Transport},
		Timeout:       o.httpClient.Timeout,
		CheckRedirect: o.httpClient.CheckRedirect,
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(authed)}
	if o.baseURL != "" {
		base := o.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		svcOpts = append(svcOpts, option.WithEndpoint(base))
	}

	srv, err := gcal.NewService(context.Background(), svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{
		session:    session,
		service:    srv,
		calendarID: o.calendarID,
		sleep:      o.sleep,
	}, nil
}

// FetchEvents lists the events in r in chronological order, recurring
// events expanded. A 401 triggers one refresh and one more attempt;
// statuses in RetryPolicies are retried with their fixed delay; every other
// failure is returned at once as an *Error.
func (c *Client) FetchEvents(ctx context.Context, r TimeRange) ([]Event, error) {
	if !c.session.IsAuthenticated() {
		return nil, newError(KindAuthenticationRequired, 0, errors.New("session holds no valid access token"))
	}

	var (
		retries   int
		refreshed bool
	)
	for {
		events, err := c.list(ctx, r)
		if err == nil {
			return events, nil
		}

		cerr := classify(err)
		switch {
		case cerr.Status == http.StatusUnauthorized:
			if refreshed {
				return nil, newError(KindAuthenticationRequired, cerr.Status, err)
			}
			refreshed = true
			logger.Info("access token rejected, refreshing", "calendar_id", c.calendarID)
			if rerr := c.session.Refresh(ctx); rerr != nil {
				if ctx.Err() != nil {
					return nil, contextError(ctx.Err())
				}
				return nil, newError(KindAuthenticationRequired, cerr.Status, rerr)
			}
			continue
		case cerr.Status != 0:
			policy, ok := RetryPolicies[cerr.Status]
			if !ok {
				return nil, cerr
			}
			if retries >= policy.MaxRetries {
				logger.Warn("retries exhausted", "status", cerr.Status, "retries", retries)
				return nil, newError(policy.Kind, cerr.Status, err)
			}
			retries++
			logger.Debug("retrying event fetch", "status", cerr.Status, "attempt", retries, "delay", policy.Delay)
			if serr := c.sleep(ctx, policy.Delay); serr != nil {
				return nil, contextError(serr)
			}
			continue
		}
		return nil, cerr
	}
}

func (c *Client) list(ctx context.Context, r TimeRange) ([]Event, error) {
	logger.Debug("fetching events", "calendar_id", c.calendarID, "time_min", r.Start, "time_max", r.End)

	res, err := c.service.Events.List(c.calendarID).
		TimeMin(formatBound(r.Start)).
		TimeMax(formatBound(r.End)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	events := parseEvents(res.Items)
	logger.Info("fetched events", "calendar_id", c.calendarID, "event_count", len(events))
	return events, nil
}

// formatBound renders t as RFC 3339 in UTC with a trailing Z.
func formatBound(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func classify(err error) *Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return newError(KindAuthenticationRequired, gerr.Code, err)
		case http.StatusForbidden:
			return newError(KindAuthorizationDenied, gerr.Code, err)
		}
		if policy, ok := RetryPolicies[gerr.Code]; ok {
			return newError(policy.Kind, gerr.Code, err)
		}
		return newError(KindNetworkError, gerr.Code, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err)
	}
	if errors.Is(err, auth.ErrNotAuthenticated) {
		return newError(KindAuthenticationRequired, 0, err)
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return newError(KindNetworkError, 0, err)
	}

	// Anything else came out of decoding a 2xx body.
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return newError(KindParseError, 0, err)
	}
	return newError(KindNetworkError, 0, err)
}

func contextError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, 0, err)
	}
	return newError(KindNetworkError, 0, err)
}
