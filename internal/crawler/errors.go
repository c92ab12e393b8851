package crawler

import (
	"fmt"
	"net/http"
)

// FetchError is returned by fetchers when a request fails at the transport
// level or the server answers with a non-success status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the request cannot help. Client errors
// other than timeouts and throttling are permanent.
func (e *FetchError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// TransientFetchError is logged when a page fetch gave up after bounded
// retries. Pagination for the unit stops there and partial results are kept.
type TransientFetchError struct {
	URL      string
	Page     int
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("page %d (%s) gave up after %d attempts: %v", e.Page, e.URL, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PersistenceError wraps a document or checkpoint write failure. The unit it
// names is left pending.
type PersistenceError struct {
	Unit Unit
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Unit, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
