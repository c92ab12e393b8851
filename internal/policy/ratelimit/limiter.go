// Package ratelimit implements the politeness gate that spaces successive
// requests to the archive mirror.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/hood-archiver/internal/metrics"
)

// Limiter guarantees at least MinInterval between the starts of successive
// fetches. It is a token bucket with burst 1, so the first call never waits.
type Limiter struct {
	limiter  *rate.Limiter
	interval time.Duration

	mu        sync.Mutex
	lastFetch time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	MinInterval time.Duration
}

// New creates a new Limiter. A non-positive interval disables spacing.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.MinInterval > 0 {
		r = rate.Every(cfg.MinInterval)
	}
	return &Limiter{
		limiter:  rate.NewLimiter(r, 1),
		interval: cfg.MinInterval,
	}
}

// Wait blocks until the next fetch may start, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}

	l.mu.Lock()
	l.lastFetch = time.Now()
	l.mu.Unlock()
	return nil
}

// LastFetch reports when the gate last let a fetch through.
func (l *Limiter) LastFetch() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFetch
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
