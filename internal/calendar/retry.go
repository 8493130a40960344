package calendar

import (
	"context"
	"net/http"
	"time"
)

// RetryPolicy bounds the retries for one status code.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Kind       Kind // reported once retries are exhausted
}

// RetryPolicies maps retryable statuses to their policy. Anything absent is
// not retried.
var RetryPolicies = map[int]RetryPolicy{
	http.StatusTooManyRequests:     {MaxRetries: 3, Delay: 2 * time.Second, Kind: KindRateLimited},
	http.StatusInternalServerError: {MaxRetries: 3, Delay: 1 * time.Second, Kind: KindServerError},
	http.StatusServiceUnavailable:  {MaxRetries: 3, Delay: 1 * time.Second, Kind: KindServerError},
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
