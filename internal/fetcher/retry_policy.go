package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/botmd/internal/urlguard"
)

// LinearRetryPolicy waits (attempt+1) × BaseDelay between attempts.
type LinearRetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// NewLinearRetryPolicy builds the default policy: two retries, one second apart and growing.
func NewLinearRetryPolicy() LinearRetryPolicy {
	return LinearRetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultRetryBaseDelay,
	}
}

// Attempts returns the total number of tries, including the first.
func (p LinearRetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// ShouldRetry decides whether err is worth another attempt. Client errors,
// size violations, and guard rejections cannot change on retry.
func (p LinearRetryPolicy) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil || attempt+1 >= p.Attempts() {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.IsClientError() {
		return false
	}
	if errors.Is(err, ErrSizeLimitExceeded) ||
		errors.Is(err, urlguard.ErrSSRFRejected) ||
		errors.Is(err, urlguard.ErrInvalidURL) {
		return false
	}
	return true
}

// Backoff returns the wait before the attempt following attempt.
func (p LinearRetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	return time.Duration(attempt+1) * p.BaseDelay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
