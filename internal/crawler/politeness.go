package crawler

import (
	"context"
	"time"
)

// retryPauser waits out a backoff delay between attempts at one page. It
// returns the context error when the run is cancelled mid-wait.
type retryPauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type backoffSleeper struct{}

func (backoffSleeper) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
