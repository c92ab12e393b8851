package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

// ProgressSource reports the counters of the crawl in progress.
type ProgressSource interface {
	Stats() crawler.Stats
}

// ProgressHandler exposes the read-only progress endpoint.
type ProgressHandler struct {
	source ProgressSource
	logger *zap.Logger
}

// NewProgressHandler wires the progress source and logger.
func NewProgressHandler(source ProgressSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{source: source, logger: logger}
}

// Progress handles GET /progress. It returns the current run counters, or
// 503 when no crawl is attached.
func (h *ProgressHandler) Progress(w http.ResponseWriter, _ *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "no crawl in progress")
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(h.source.Stats()))
}

func toProgressDTO(s crawler.Stats) progressDTO {
	dto := progressDTO{
		RunID:          s.RunID,
		ElapsedSeconds: s.Elapsed.Seconds(),
		PagesFetched:   s.PagesFetched,
		PagesFailed:    s.PagesFailed,
		Retries:        s.Retries,
		ItemsSeen:      s.ItemsSeen,
		CurrentUnit:    s.CurrentUnit,
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt.UTC()
		dto.StartedAt = &started
	}
	return dto
}

type progressDTO struct {
	RunID          string     `json:"run_id"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	PagesFetched   int        `json:"pages_fetched"`
	PagesFailed    int        `json:"pages_failed"`
	Retries        int        `json:"retries"`
	ItemsSeen      int        `json:"items_seen"`
	CurrentUnit    string     `json:"current_unit,omitempty"`
}
