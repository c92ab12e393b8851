package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/catalog"
	"github.com/JakeFAU/hood-archiver/internal/metrics"
)

const (
	unitKindCollection    = "collection"
	unitKindSubCollection = "sub_collection"
)

// Engine walks catalog entries sequentially, paginating each hood and burb,
// persisting documents and recording checkpoint progress as units finish.
type Engine struct {
	cfg         Config
	fetcher     Fetcher
	parser      PageParser
	limiter     RateLimiter
	checkpoints CheckpointStore
	docs        DocumentStore
	retry       RetryPolicy
	pauser      retryPauser
	clock       Clock
	ids         IDGenerator
	logger      *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewEngine wires the engine with its collaborators.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	parser PageParser,
	limiter RateLimiter,
	checkpoints CheckpointStore,
	docs DocumentStore,
	retry RetryPolicy,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		fetcher:     fetcher,
		parser:      parser,
		limiter:     limiter,
		checkpoints: checkpoints,
		docs:        docs,
		retry:       retry,
		pauser:      backoffSleeper{},
		clock:       clock,
		ids:         ids,
		logger:      logger,
	}
}

// Stats returns a snapshot of the progress counters for the current run.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.stats
	if !snapshot.StartedAt.IsZero() {
		snapshot.Elapsed = e.clock.Now().Sub(snapshot.StartedAt)
	}
	return snapshot
}

// Run crawls the selected collections of cat. Units already recorded in the
// checkpoint store are skipped when opts.Resume is set. The returned error is
// non-nil only when the run could not start or the context was cancelled;
// per-unit failures are reported in the Summary.
func (e *Engine) Run(ctx context.Context, cat *catalog.Catalog, opts RunOptions) (Summary, error) {
	if cat == nil {
		return Summary{}, catalog.ErrCatalogMissing
	}
	selected, err := selectCollections(cat, opts.Collections)
	if err != nil {
		return Summary{}, err
	}
	runID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	e.resetStats(runID)

	if err := e.checkpoints.Load(ctx); err != nil {
		return Summary{}, fmt.Errorf("load checkpoints: %w", err)
	}

	summary := Summary{RunID: runID}
	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started",
		zap.Int("collections", len(selected)),
		zap.Bool("resume", opts.Resume),
		zap.Strings("sub_collections", opts.SubCollections),
	)

	subFilter := newNameSet(opts.SubCollections)
	for _, entry := range selected {
		if err := ctx.Err(); err != nil {
			summary.Stats = e.Stats()
			return summary, err
		}
		if err := e.processCollection(ctx, cat, entry, subFilter, opts.Resume, &summary); err != nil {
			summary.Stats = e.Stats()
			return summary, err
		}
	}

	e.setCurrentUnit("")
	summary.Stats = e.Stats()
	logger.Info("crawl finished",
		zap.Int("completed", len(summary.Completed)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("pages_fetched", summary.Stats.PagesFetched),
		zap.Int("items_seen", summary.Stats.ItemsSeen),
		zap.Duration("elapsed", summary.Stats.Elapsed),
	)
	return summary, nil
}

// processCollection handles one hood and its burbs. Only context errors are
// returned; everything else lands in the summary.
func (e *Engine) processCollection(
	ctx context.Context,
	cat *catalog.Catalog,
	entry catalog.Collection,
	subFilter nameSet,
	resume bool,
	summary *Summary,
) error {
	unit := Unit{Collection: entry.Name}
	logger := e.logger.With(zap.String("collection", entry.Name))

	collectionURL, err := cat.CollectionURL(entry)
	if err != nil {
		logger.Warn("skipping malformed collection entry", zap.Error(err))
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeSkipped, Reason: err.Error()})
		return nil
	}

	var existing *Collection
	if resume {
		existing = e.loadCompletedCollection(ctx, unit, logger)
	}

	var items []Item
	didWork := false
	if existing != nil {
		items = existing.Items
	} else {
		e.setCurrentUnit(unit.String())
		items, err = e.paginate(ctx, unit, collectionURL)
		if err != nil {
			return err
		}
		didWork = true
	}

	subs := make([]SubCollection, 0, len(entry.SubCollections))
	failed := false
	for _, subEntry := range entry.SubCollections {
		res, err := e.processSubCollection(ctx, cat, entry, subEntry, subFilter, resume, existing, summary)
		if err != nil {
			return err
		}
		if res.failed {
			failed = true
		}
		if res.worked {
			didWork = true
		}
		if res.sub != nil {
			subs = append(subs, *res.sub)
		}
	}

	if failed {
		reason := "one or more sub-collections failed to persist"
		logger.Error("collection left pending", zap.String("reason", reason))
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeFailed, Reason: reason})
		return nil
	}
	if !didWork {
		logger.Info("collection already complete; skipping")
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeSkipped, Reason: ReasonAlreadyComplete})
		return nil
	}

	doc := Collection{
		Name:           entry.Name,
		Description:    entry.Description,
		URL:            collectionURL,
		Items:          nonNilItems(items),
		TotalItems:     len(items),
		SubCollections: subs,
		TotalSubs:      len(subs),
		Metadata: CollectionMetadata{
			ScrapedAt: e.clock.Now().UTC().Format(scrapedAtLayout),
			BaseURL:   cat.BaseURL,
		},
	}
	if err := e.docs.WriteCollection(ctx, doc); err != nil {
		perr := &PersistenceError{Unit: unit, Op: "write document", Err: err}
		logger.Error("failed to persist collection document", zap.Error(perr))
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeFailed, Reason: perr.Error()})
		return nil
	}
	if err := e.checkpoints.MarkComplete(ctx, unit); err != nil {
		perr := &PersistenceError{Unit: unit, Op: "mark complete", Err: err}
		logger.Error("failed to record collection checkpoint", zap.Error(perr))
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeFailed, Reason: perr.Error()})
		return nil
	}
	logger.Info("collection complete",
		zap.Int("items", doc.TotalItems),
		zap.Int("sub_collections", doc.TotalSubs),
	)
	e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeCompleted})
	return nil
}

type subResult struct {
	sub    *SubCollection
	worked bool
	failed bool
}

func (e *Engine) processSubCollection(
	ctx context.Context,
	cat *catalog.Catalog,
	entry catalog.Collection,
	subEntry catalog.SubCollection,
	subFilter nameSet,
	resume bool,
	existing *Collection,
	summary *Summary,
) (subResult, error) {
	unit := Unit{Collection: entry.Name, SubCollection: subEntry.Name}
	logger := e.logger.With(zap.String("collection", entry.Name), zap.String("sub_collection", subEntry.Name))

	if !subFilter.contains(subEntry.Name) {
		// Not selected: carry previously completed data forward so a filtered
		// run never drops burbs from the collection document.
		if sub := e.loadCompletedSubCollection(ctx, unit, existing, logger); sub != nil {
			return subResult{sub: sub}, nil
		}
		return subResult{}, nil
	}

	subURL, err := cat.SubCollectionURL(entry, subEntry)
	if err != nil {
		logger.Warn("skipping malformed sub-collection entry", zap.Error(err))
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeSkipped, Reason: err.Error()})
		return subResult{}, nil
	}

	if resume {
		if sub := e.loadCompletedSubCollection(ctx, unit, existing, logger); sub != nil {
			logger.Debug("sub-collection already complete; skipping")
			e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeSkipped, Reason: ReasonAlreadyComplete})
			return subResult{sub: sub}, nil
		}
	}

	e.setCurrentUnit(unit.String())
	items, err := e.paginate(ctx, unit, subURL)
	if err != nil {
		return subResult{}, err
	}
	sub := SubCollection{
		Name:       subEntry.Name,
		URL:        subURL,
		Items:      nonNilItems(items),
		TotalItems: len(items),
	}

	if err := e.docs.WriteSubCollection(ctx, entry.Name, sub); err != nil {
		perr := &PersistenceError{Unit: unit, Op: "write document", Err: err}
		logger.Error("failed to persist sub-collection", zap.Error(perr))
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeFailed, Reason: perr.Error()})
		return subResult{worked: true, failed: true}, nil
	}
	if err := e.checkpoints.MarkComplete(ctx, unit); err != nil {
		perr := &PersistenceError{Unit: unit, Op: "mark complete", Err: err}
		logger.Error("failed to record sub-collection checkpoint", zap.Error(perr))
		e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeFailed, Reason: perr.Error()})
		return subResult{worked: true, failed: true}, nil
	}
	logger.Info("sub-collection complete", zap.Int("items", sub.TotalItems))
	e.recordResult(summary, UnitResult{Unit: unit, Outcome: OutcomeCompleted})
	return subResult{sub: &sub, worked: true}, nil
}

// loadCompletedCollection returns the stored document for a collection the
// checkpoint store reports complete, or nil when it has to be fetched again.
func (e *Engine) loadCompletedCollection(ctx context.Context, unit Unit, logger *zap.Logger) *Collection {
	done, err := e.checkpoints.IsComplete(ctx, unit)
	if err != nil {
		logger.Warn("checkpoint lookup failed; treating collection as pending", zap.Error(err))
		return nil
	}
	if !done {
		return nil
	}
	doc, err := e.docs.ReadCollection(ctx, unit.Collection)
	if err != nil {
		logger.Warn("checkpointed collection has no readable document; fetching again", zap.Error(err))
		return nil
	}
	return &doc
}

// loadCompletedSubCollection returns previously crawled burb data when the
// unit is checkpointed. The staged document is preferred; the stored
// collection document is the fallback.
func (e *Engine) loadCompletedSubCollection(
	ctx context.Context,
	unit Unit,
	existing *Collection,
	logger *zap.Logger,
) *SubCollection {
	done, err := e.checkpoints.IsComplete(ctx, unit)
	if err != nil {
		logger.Warn("checkpoint lookup failed; treating sub-collection as pending", zap.Error(err))
		return nil
	}
	if !done {
		return nil
	}
	sub, err := e.docs.ReadSubCollection(ctx, unit.Collection, unit.SubCollection)
	if err == nil {
		return &sub
	}
	if existing != nil {
		for i := range existing.SubCollections {
			if existing.SubCollections[i].Name == unit.SubCollection {
				found := existing.SubCollections[i]
				return &found
			}
		}
	}
	logger.Warn("checkpointed sub-collection has no readable document", zap.Error(err))
	return nil
}

func (e *Engine) recordResult(summary *Summary, res UnitResult) {
	summary.record(res)
	kind := unitKindSubCollection
	if res.Unit.IsCollection() {
		kind = unitKindCollection
	}
	metrics.ObserveUnit(kind, string(res.Outcome))
}

func (e *Engine) resetStats(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = Stats{RunID: runID, StartedAt: e.clock.Now()}
}

func (e *Engine) setCurrentUnit(unit string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.CurrentUnit = unit
}

func (e *Engine) updateStats(fn func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.stats)
}

// selectCollections returns the catalog entries to crawl, in catalog order.
func selectCollections(cat *catalog.Catalog, names []string) ([]catalog.Collection, error) {
	if len(names) == 0 {
		return cat.Collections, nil
	}
	wanted := newNameSet(names)
	var unknown []string
	for _, name := range names {
		if _, ok := cat.Lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("collection %q: %w", unknown[0], ErrUnknownCollection)
	}
	selected := make([]catalog.Collection, 0, len(names))
	for _, entry := range cat.Collections {
		if wanted.contains(entry.Name) {
			selected = append(selected, entry)
		}
	}
	return selected, nil
}

// ErrUnknownCollection is returned by Run when a requested collection is not
// in the catalog.
var ErrUnknownCollection = errors.New("collection not found in catalog")

// nameSet is a nil-means-everything filter.
type nameSet map[string]struct{}

func newNameSet(names []string) nameSet {
	if len(names) == 0 {
		return nil
	}
	set := make(nameSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func (s nameSet) contains(name string) bool {
	if s == nil {
		return true
	}
	_, ok := s[name]
	return ok
}

func nonNilItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}

const scrapedAtLayout = "2006-01-02T15:04:05.000000Z07:00"
