package crawler

import (
	"net/http"
	"time"
)

// Item is a single cataloged page listed on a hood or burb page.
type Item struct {
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	LastModified *string `json:"last_modified"`
	HasSound     bool    `json:"has_sound"`
}

// SubCollection is a burb nested inside exactly one hood.
type SubCollection struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Items      []Item `json:"cards"`
	TotalItems int    `json:"total_pages"`
}

// Collection is the per-hood document written once a hood has been crawled.
type Collection struct {
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	URL            string             `json:"url"`
	Items          []Item             `json:"cards"`
	TotalItems     int                `json:"total_pages"`
	SubCollections []SubCollection    `json:"burbs"`
	TotalSubs      int                `json:"total_burbs"`
	Metadata       CollectionMetadata `json:"metadata"`
}

// CollectionMetadata records when and from where a document was captured.
type CollectionMetadata struct {
	ScrapedAt string `json:"scraped_at"`
	BaseURL   string `json:"base_url"`
}

// Unit identifies a checkpoint unit. An empty SubCollection addresses the
// collection-level unit.
type Unit struct {
	Collection    string
	SubCollection string
}

// String renders the unit as "hood" or "hood/burb".
func (u Unit) String() string {
	if u.SubCollection == "" {
		return u.Collection
	}
	return u.Collection + "/" + u.SubCollection
}

// IsCollection reports whether u addresses a whole collection.
func (u Unit) IsCollection() bool {
	return u.SubCollection == ""
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ParsedPage is what a PageParser extracts from one listing page.
type ParsedPage struct {
	Items   []Item
	HasNext bool
}

// Stats tracks progress counters for a crawl run. They are informational only.
type Stats struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed"`
	PagesFetched int           `json:"pages_fetched"`
	PagesFailed  int           `json:"pages_failed"`
	Retries      int           `json:"retries"`
	ItemsSeen    int           `json:"items_seen"`
	CurrentUnit  string        `json:"current_unit,omitempty"`
}

// Outcome classifies how a unit ended in a run.
type Outcome string

// Unit outcomes reported in the run summary.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// UnitResult is one line of the end-of-run summary.
type UnitResult struct {
	Unit    Unit
	Outcome Outcome
	Reason  string
}

// Summary reports units completed, skipped and failed in a run.
type Summary struct {
	RunID     string
	Completed []UnitResult
	Skipped   []UnitResult
	Failed    []UnitResult
	Stats     Stats
}

func (s *Summary) record(res UnitResult) {
	switch res.Outcome {
	case OutcomeCompleted:
		s.Completed = append(s.Completed, res)
	case OutcomeSkipped:
		s.Skipped = append(s.Skipped, res)
	default:
		s.Failed = append(s.Failed, res)
	}
}

// ReasonAlreadyComplete is the skip reason for checkpointed units.
const ReasonAlreadyComplete = "already complete"
