package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/metrics"
)

// fetchState tracks one page through its fetch attempts.
type fetchState int

const (
	stateFetching fetchState = iota
	stateRetrying
	stateGivenUp
	stateSucceeded
)

func (s fetchState) String() string {
	switch s {
	case stateFetching:
		return "fetching"
	case stateRetrying:
		return "retrying"
	case stateGivenUp:
		return "given_up"
	case stateSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// paginate fetches pages 1..N of a unit until the parser reports no next
// page, the page cap is reached, or a page gives up. Items from pages that
// succeeded are always returned. Only context errors are returned.
func (e *Engine) paginate(ctx context.Context, unit Unit, baseURL string) ([]Item, error) {
	logger := e.logger.With(zap.String("unit", unit.String()))
	var items []Item

	for page := 1; page <= e.cfg.MaxPages; page++ {
		pageURL, err := PageURL(baseURL, e.cfg.PageParam, page)
		if err != nil {
			logger.Warn("cannot build page url; ending pagination", zap.Int("page", page), zap.Error(err))
			break
		}

		resp, err := e.fetchPage(ctx, pageURL, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("page gave up; keeping partial results",
				zap.Int("page", page),
				zap.Int("items_so_far", len(items)),
				zap.Error(err),
			)
			break
		}

		parsed, err := e.parser.Parse(resp.Body, pageURL)
		if err != nil {
			logger.Warn("unparseable page; ending pagination", zap.Int("page", page), zap.Error(err))
			break
		}
		items = append(items, parsed.Items...)
		e.updateStats(func(s *Stats) { s.ItemsSeen += len(parsed.Items) })
		metrics.ObserveItems(len(parsed.Items))
		logger.Debug("page parsed",
			zap.Int("page", page),
			zap.Int("items", len(parsed.Items)),
			zap.Bool("has_next", parsed.HasNext),
		)

		if !parsed.HasNext {
			break
		}
		if page == e.cfg.MaxPages {
			logger.Warn("page cap reached; ending pagination", zap.Int("max_pages", e.cfg.MaxPages))
		}
	}
	return items, nil
}

// fetchPage runs the per-page state machine: every attempt passes the
// politeness gate, retryable failures wait out the backoff schedule, and the
// page gives up once the schedule stops.
func (e *Engine) fetchPage(ctx context.Context, pageURL string, page int) (FetchResponse, error) {
	schedule := e.retry.NewBackOff()
	var (
		resp     FetchResponse
		lastErr  error
		delay    = backoff.Stop
		attempts int
	)

	state := stateFetching
	for {
		switch state {
		case stateFetching:
			if err := e.limiter.Wait(ctx); err != nil {
				return FetchResponse{}, fmt.Errorf("politeness wait: %w", err)
			}
			attempts++
			r, err := e.fetcher.Fetch(ctx, FetchRequest{URL: pageURL})
			if err == nil {
				resp = r
				state = stateSucceeded
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return FetchResponse{}, ctxErr
			}
			lastErr = err
			if !e.retry.ShouldRetry(err) {
				state = stateGivenUp
				continue
			}
			delay = schedule.NextBackOff()
			if delay == backoff.Stop {
				state = stateGivenUp
				continue
			}
			state = stateRetrying

		case stateRetrying:
			e.logger.Debug("retrying page",
				zap.String("url", pageURL),
				zap.Int("attempt", attempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			e.updateStats(func(s *Stats) { s.Retries++ })
			metrics.ObserveRetry()
			if err := e.pauser.Pause(ctx, delay); err != nil {
				return FetchResponse{}, err
			}
			state = stateFetching

		case stateGivenUp:
			e.updateStats(func(s *Stats) { s.PagesFailed++ })
			metrics.ObservePage(pageURL, "failed", 0)
			return FetchResponse{}, &TransientFetchError{URL: pageURL, Page: page, Attempts: attempts, Err: lastErr}

		case stateSucceeded:
			e.updateStats(func(s *Stats) { s.PagesFetched++ })
			metrics.ObservePage(pageURL, "fetched", len(resp.Body))
			return resp, nil

		default:
			return FetchResponse{}, errors.New("fetch state machine reached an unknown state")
		}
	}
}
