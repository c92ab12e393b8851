package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hood-archiver/internal/catalog"
)

const testBase = "https://geo.example"

type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string
	failures map[string][]error
	always   map[string]error
	onFetch  func(url string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{failures: map[string][]error{}, always: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	hook := f.onFetch
	var err error
	if queued := f.failures[req.URL]; len(queued) > 0 {
		err = queued[0]
		f.failures[req.URL] = queued[1:]
	} else if e, ok := f.always[req.URL]; ok {
		err = e
	}
	f.mu.Unlock()

	if hook != nil {
		hook(req.URL)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return FetchResponse{}, ctxErr
	}
	if err != nil {
		return FetchResponse{}, err
	}
	return FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(req.URL)}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) callsWithPrefix(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeParser answers by page URL; unknown pages are empty and final.
type fakeParser struct {
	pages map[string]ParsedPage
}

func (p *fakeParser) Parse(_ []byte, pageURL string) (ParsedPage, error) {
	return p.pages[pageURL], nil
}

// listing registers n pages of two items each under base.
func (p *fakeParser) listing(t *testing.T, base string, n int) {
	t.Helper()
	for page := 1; page <= n; page++ {
		u, err := PageURL(base, "page", page)
		require.NoError(t, err)
		p.pages[u] = ParsedPage{
			Items: []Item{
				{Title: fmt.Sprintf("%s p%d a", base, page), URL: u + "#a"},
				{Title: fmt.Sprintf("%s p%d b", base, page), URL: u + "#b", HasSound: page%2 == 0},
			},
			HasNext: page < n,
		}
	}
}

type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

type recordingPauser struct {
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.delays = append(p.delays, d)
	return ctx.Err()
}

type memCheckpoints struct {
	done     map[Unit]bool
	failMark map[Unit]bool
	loadErr  error
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{done: map[Unit]bool{}, failMark: map[Unit]bool{}}
}

func (m *memCheckpoints) Load(context.Context) error { return m.loadErr }

func (m *memCheckpoints) IsComplete(_ context.Context, u Unit) (bool, error) {
	return m.done[u], nil
}

func (m *memCheckpoints) MarkComplete(_ context.Context, u Unit) error {
	if m.failMark[u] {
		return errors.New("checkpoint write failed")
	}
	m.done[u] = true
	return nil
}

type memDocs struct {
	collections map[string]Collection
	subs        map[string]SubCollection
	failWrite   map[string]bool
	writes      int
}

func newMemDocs() *memDocs {
	return &memDocs{
		collections: map[string]Collection{},
		subs:        map[string]SubCollection{},
		failWrite:   map[string]bool{},
	}
}

func (m *memDocs) WriteCollection(_ context.Context, doc Collection) error {
	if m.failWrite[doc.Name] {
		return errors.New("disk full")
	}
	m.writes++
	m.collections[doc.Name] = doc
	return nil
}

func (m *memDocs) ReadCollection(_ context.Context, name string) (Collection, error) {
	doc, ok := m.collections[name]
	if !ok {
		return Collection{}, errors.New("not found")
	}
	return doc, nil
}

func (m *memDocs) WriteSubCollection(_ context.Context, collection string, sub SubCollection) error {
	key := collection + "/" + sub.Name
	if m.failWrite[key] {
		return errors.New("disk full")
	}
	m.writes++
	m.subs[key] = sub
	return nil
}

func (m *memDocs) ReadSubCollection(_ context.Context, collection, sub string) (SubCollection, error) {
	doc, ok := m.subs[collection+"/"+sub]
	if !ok {
		return SubCollection{}, errors.New("not found")
	}
	return doc, nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC) }

type staticIDs struct{ err error }

func (s staticIDs) NewID() (string, error) { return "run-1", s.err }

type harness struct {
	fetcher *fakeFetcher
	parser  *fakeParser
	cps     *memCheckpoints
	docs    *memDocs
	pauser  *recordingPauser
	cfg     Config
	retry   RetryPolicy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fetcher: newFakeFetcher(),
		parser:  &fakeParser{pages: map[string]ParsedPage{}},
		cps:     newMemCheckpoints(),
		docs:    newMemDocs(),
		pauser:  &recordingPauser{},
		cfg:     Config{MaxPages: 50},
		retry:   NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond),
	}
	h.parser.listing(t, testBase+"/Area51", 3)
	h.parser.listing(t, testBase+"/Area51/Vault", 2)
	h.parser.listing(t, testBase+"/Area51/Dimension", 1)
	h.parser.listing(t, testBase+"/Athens", 2)
	h.parser.listing(t, testBase+"/Athens/Acropolis", 1)
	return h
}

func (h *harness) engine() *Engine {
	e := NewEngine(h.cfg, h.fetcher, h.parser, noopLimiter{}, h.cps, h.docs, h.retry, fixedClock{}, staticIDs{}, nil)
	e.pauser = h.pauser
	return e
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		BaseURL: testBase,
		Collections: []catalog.Collection{
			{
				Name:        "Area51",
				Description: "Science fiction",
				SubCollections: []catalog.SubCollection{
					{Name: "Vault"},
					{Name: "Dimension"},
				},
			},
			{
				Name:           "Athens",
				Description:    "Philosophy",
				SubCollections: []catalog.SubCollection{{Name: "Acropolis"}},
			},
		},
	}
}

func singleCollectionCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		BaseURL:     testBase,
		Collections: []catalog.Collection{{Name: "Area51"}},
	}
}

func units(results []UnitResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Unit.String())
	}
	return out
}

func TestRunCrawlsCatalogInOrder(t *testing.T) {
	h := newHarness(t)

	summary, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, []string{"Area51/Vault", "Area51/Dimension", "Area51", "Athens/Acropolis", "Athens"}, units(summary.Completed))
	assert.Empty(t, summary.Failed)
	assert.Empty(t, summary.Skipped)

	assert.Equal(t, []string{
		testBase + "/Area51",
		testBase + "/Area51?page=2",
		testBase + "/Area51?page=3",
		testBase + "/Area51/Vault",
		testBase + "/Area51/Vault?page=2",
		testBase + "/Area51/Dimension",
		testBase + "/Athens",
		testBase + "/Athens?page=2",
		testBase + "/Athens/Acropolis",
	}, h.fetcher.Calls())

	doc := h.docs.collections["Area51"]
	assert.Equal(t, "Science fiction", doc.Description)
	assert.Equal(t, testBase+"/Area51", doc.URL)
	assert.Len(t, doc.Items, 6)
	assert.Equal(t, 6, doc.TotalItems)
	require.Len(t, doc.SubCollections, 2)
	assert.Equal(t, "Vault", doc.SubCollections[0].Name)
	assert.Equal(t, 4, doc.SubCollections[0].TotalItems)
	assert.Equal(t, "Dimension", doc.SubCollections[1].Name)
	assert.Equal(t, 2, doc.TotalSubs)
	assert.Equal(t, "2024-03-09T08:30:00.000000Z", doc.Metadata.ScrapedAt)
	assert.Equal(t, testBase, doc.Metadata.BaseURL)

	for _, u := range []Unit{
		{Collection: "Area51"},
		{Collection: "Area51", SubCollection: "Vault"},
		{Collection: "Area51", SubCollection: "Dimension"},
		{Collection: "Athens"},
		{Collection: "Athens", SubCollection: "Acropolis"},
	} {
		assert.True(t, h.cps.done[u], "unit %s should be checkpointed", u)
	}

	assert.Equal(t, 9, summary.Stats.PagesFetched)
	assert.Equal(t, 18, summary.Stats.ItemsSeen)
	assert.Zero(t, summary.Stats.PagesFailed)
}

func TestPaginationStopsWhenNoNextPage(t *testing.T) {
	h := newHarness(t)
	h.parser.listing(t, testBase+"/Area51", 5)
	third, err := PageURL(testBase+"/Area51", "page", 3)
	require.NoError(t, err)
	p := h.parser.pages[third]
	p.HasNext = false
	h.parser.pages[third] = p

	_, err = h.engine().Run(context.Background(), singleCollectionCatalog(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		testBase + "/Area51",
		testBase + "/Area51?page=2",
		testBase + "/Area51?page=3",
	}, h.fetcher.Calls())
	assert.Len(t, h.docs.collections["Area51"].Items, 6)
}

func TestPaginationRespectsPageCap(t *testing.T) {
	h := newHarness(t)
	h.parser.listing(t, testBase+"/Area51", 10)
	h.cfg.MaxPages = 4

	_, err := h.engine().Run(context.Background(), singleCollectionCatalog(), RunOptions{})
	require.NoError(t, err)
	assert.Len(t, h.fetcher.Calls(), 4)
	assert.Equal(t, 8, h.docs.collections["Area51"].TotalItems)
}

func TestResumeEquivalence(t *testing.T) {
	reference := newHarness(t)
	_, err := reference.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.onFetch = func(url string) {
		if url == testBase+"/Athens" {
			cancel()
		}
	}

	_, err = h.engine().Run(ctx, testCatalog(), RunOptions{Resume: true})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, h.cps.done[Unit{Collection: "Area51"}])
	assert.False(t, h.cps.done[Unit{Collection: "Athens"}])
	assert.NotContains(t, h.docs.collections, "Athens")

	h.fetcher = newFakeFetcher()
	summary, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{Resume: true})
	require.NoError(t, err)

	assert.Zero(t, h.fetcher.callsWithPrefix(testBase+"/Area51"), "completed units must not be fetched again")
	assert.Equal(t, []string{"Athens/Acropolis", "Athens"}, units(summary.Completed))
	assert.Contains(t, units(summary.Skipped), "Area51")
	assert.Equal(t, reference.docs.collections, h.docs.collections)
}

func TestResumeDoesNoDuplicateWork(t *testing.T) {
	h := newHarness(t)
	e := h.engine()
	_, err := e.Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)
	writes := h.docs.writes
	before := h.docs.collections

	h.fetcher = newFakeFetcher()
	summary, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{Resume: true})
	require.NoError(t, err)

	assert.Empty(t, h.fetcher.Calls())
	assert.Equal(t, writes, h.docs.writes)
	assert.Equal(t, before, h.docs.collections)
	assert.Empty(t, summary.Completed)
	assert.ElementsMatch(t,
		[]string{"Area51/Vault", "Area51/Dimension", "Area51", "Athens/Acropolis", "Athens"},
		units(summary.Skipped))
}

func TestRunWithoutResumeRecrawls(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)

	h.fetcher = newFakeFetcher()
	summary, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)
	assert.Len(t, h.fetcher.Calls(), 9)
	assert.Len(t, summary.Completed, 5)
}

func TestRetryGivesUpAndKeepsPartialResults(t *testing.T) {
	h := newHarness(t)
	h.fetcher.always[testBase+"/Area51?page=2"] = &FetchError{
		URL:        testBase + "/Area51?page=2",
		StatusCode: http.StatusServiceUnavailable,
		Err:        errors.New("unavailable"),
	}

	summary, err := h.engine().Run(context.Background(), singleCollectionCatalog(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, h.fetcher.callsWithPrefix(testBase+"/Area51?page=2"), "one attempt plus two retries")
	assert.Zero(t, h.fetcher.callsWithPrefix(testBase+"/Area51?page=3"))
	assert.Len(t, h.pauser.delays, 2)

	doc := h.docs.collections["Area51"]
	assert.Len(t, doc.Items, 2, "page 1 results are kept")
	assert.Equal(t, []string{"Area51"}, units(summary.Completed))
	assert.Equal(t, 2, summary.Stats.Retries)
	assert.Equal(t, 1, summary.Stats.PagesFailed)
}

func TestTransientErrorRecovers(t *testing.T) {
	h := newHarness(t)
	h.fetcher.failures[testBase+"/Area51?page=2"] = []error{errors.New("connection reset")}

	_, err := h.engine().Run(context.Background(), singleCollectionCatalog(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, h.fetcher.callsWithPrefix(testBase+"/Area51?page=2"))
	assert.Len(t, h.docs.collections["Area51"].Items, 6)
	assert.Len(t, h.pauser.delays, 1)
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", &FetchError{URL: "x", StatusCode: http.StatusNotFound, Err: errors.New("missing")}},
		{"robots", backoff.Permanent(errors.New("disallowed by robots.txt"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fetcher.always[testBase+"/Area51?page=2"] = tt.err

			_, err := h.engine().Run(context.Background(), singleCollectionCatalog(), RunOptions{})
			require.NoError(t, err)
			assert.Equal(t, 1, h.fetcher.callsWithPrefix(testBase+"/Area51?page=2"))
			assert.Empty(t, h.pauser.delays)
			assert.Len(t, h.docs.collections["Area51"].Items, 2)
		})
	}
}

func TestMalformedEntriesAreSkipped(t *testing.T) {
	h := newHarness(t)
	cat := testCatalog()
	cat.Collections = append([]catalog.Collection{{Name: "Broken", URL: "ftp://geo.example/Broken"}}, cat.Collections...)
	cat.Collections[1].SubCollections = append(cat.Collections[1].SubCollections, catalog.SubCollection{Name: "Bad", URL: "not a url"})

	summary, err := h.engine().Run(context.Background(), cat, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Broken", "Area51/Bad"}, units(summary.Skipped))
	assert.Contains(t, units(summary.Completed), "Area51")
	assert.Contains(t, units(summary.Completed), "Athens")
	assert.Len(t, h.docs.collections["Area51"].SubCollections, 2)
	assert.False(t, h.cps.done[Unit{Collection: "Broken"}])
}

func TestDocumentWriteFailureLeavesUnitPending(t *testing.T) {
	h := newHarness(t)
	h.docs.failWrite["Athens"] = true

	summary, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"Athens"}, units(summary.Failed))
	assert.Contains(t, summary.Failed[0].Reason, "write document")
	assert.False(t, h.cps.done[Unit{Collection: "Athens"}])
	assert.True(t, h.cps.done[Unit{Collection: "Athens", SubCollection: "Acropolis"}])

	delete(h.docs.failWrite, "Athens")
	h.fetcher = newFakeFetcher()
	summary, err = h.engine().Run(context.Background(), testCatalog(), RunOptions{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Athens"}, units(summary.Completed))
	assert.Equal(t, 2, h.fetcher.callsWithPrefix(testBase+"/Athens"), "only the hood pages are refetched")
	doc := h.docs.collections["Athens"]
	require.Len(t, doc.SubCollections, 1)
	assert.Equal(t, "Acropolis", doc.SubCollections[0].Name)
}

func TestCheckpointFailureFailsParentCollection(t *testing.T) {
	h := newHarness(t)
	h.cps.failMark[Unit{Collection: "Area51", SubCollection: "Vault"}] = true

	summary, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Area51/Vault", "Area51"}, units(summary.Failed))
	assert.NotContains(t, h.docs.collections, "Area51")
	assert.False(t, h.cps.done[Unit{Collection: "Area51"}])
	assert.True(t, h.cps.done[Unit{Collection: "Athens"}])
}

func TestSubCollectionFilterCarriesCompletedData(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.NoError(t, err)

	h.fetcher = newFakeFetcher()
	_, err = h.engine().Run(context.Background(), testCatalog(), RunOptions{
		Collections:    []string{"Area51"},
		SubCollections: []string{"Vault"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, h.fetcher.callsWithPrefix(testBase+"/Area51/Vault"))
	assert.Zero(t, h.fetcher.callsWithPrefix(testBase+"/Area51/Dimension"))
	assert.Zero(t, h.fetcher.callsWithPrefix(testBase+"/Athens"))

	doc := h.docs.collections["Area51"]
	require.Len(t, doc.SubCollections, 2)
	assert.Equal(t, "Dimension", doc.SubCollections[1].Name)
	assert.Len(t, doc.SubCollections[1].Items, 2)
}

func TestRunRejectsUnknownCollection(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{Collections: []string{"Atlantis"}})
	require.ErrorIs(t, err, ErrUnknownCollection)
	assert.Empty(t, h.fetcher.Calls())
}

func TestRunRequiresCatalog(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine().Run(context.Background(), nil, RunOptions{})
	require.ErrorIs(t, err, catalog.ErrCatalogMissing)
}

func TestRunAbortsWhenCheckpointsCannotLoad(t *testing.T) {
	h := newHarness(t)
	h.cps.loadErr = errors.New("corrupt snapshot")
	_, err := h.engine().Run(context.Background(), testCatalog(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load checkpoints")
	assert.Empty(t, h.fetcher.Calls())
}

func TestRunAbortsWhenIDGenerationFails(t *testing.T) {
	h := newHarness(t)
	e := NewEngine(h.cfg, h.fetcher, h.parser, noopLimiter{}, h.cps, h.docs, h.retry, fixedClock{}, staticIDs{err: errors.New("entropy")}, nil)
	_, err := e.Run(context.Background(), testCatalog(), RunOptions{})
	require.Error(t, err)
	assert.Empty(t, h.fetcher.Calls())
}

func TestEmptyListingWritesEmptyCards(t *testing.T) {
	h := newHarness(t)
	cat := &catalog.Catalog{BaseURL: testBase, Collections: []catalog.Collection{{Name: "Empty"}}}

	_, err := h.engine().Run(context.Background(), cat, RunOptions{})
	require.NoError(t, err)
	doc := h.docs.collections["Empty"]
	assert.NotNil(t, doc.Items)
	assert.Empty(t, doc.Items)
	assert.NotNil(t, doc.SubCollections)
}
