package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a failed page fetch is retried and how long
// to wait between attempts.
type RetryPolicy interface {
	ShouldRetry(err error) bool
	// NewBackOff returns a fresh schedule for one page. backoff.Stop ends retries.
	NewBackOff() backoff.BackOff
}

// ExponentialRetryPolicy implements RetryPolicy with jittered exponential backoff
// and a fixed retry limit per page.
type ExponentialRetryPolicy struct {
	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy. Zero values fall back to 3 retries
// starting at 500ms and capped at 10s.
func NewExponentialRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		maxRetries: uint64(maxRetries), //nolint:gosec // clamped above
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return !fetchErr.Permanent()
	}
	return true
}

// NewBackOff returns the per-page retry schedule.
func (p *ExponentialRetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay
	b.MaxInterval = p.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, p.maxRetries)
}

// MaxRetries returns the retry limit per page.
func (p *ExponentialRetryPolicy) MaxRetries() int {
	return int(p.maxRetries) //nolint:gosec // bounded by constructor input
}
