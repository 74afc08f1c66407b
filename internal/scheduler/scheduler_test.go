package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/spindle/internal/dedup"
	"github.com/nao1215/spindle/internal/discover"
	"github.com/nao1215/spindle/internal/fetch"
	"github.com/nao1215/spindle/internal/frontier"
	"github.com/nao1215/spindle/internal/model"
	"github.com/nao1215/spindle/internal/policy"
)

// memStore is an in-memory PageStore and dedup index for tests.
type memStore struct {
	mu    sync.Mutex
	pages map[string]*model.StoredPage
}

func newMemStore() *memStore {
	return &memStore{pages: make(map[string]*model.StoredPage)}
}

func (m *memStore) UpsertPage(_ context.Context, page *model.StoredPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *page
	m.pages[page.URL] = &copied
	return nil
}

func (m *memStore) GetPage(_ context.Context, url string) (*model.StoredPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[url]
	if !ok {
		return nil, nil
	}
	copied := *page
	return &copied, nil
}

func (m *memStore) FindByHash(_ context.Context, normalizedHash string) (*model.StoredPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.StoredPage
	for _, page := range m.pages {
		if page.Status != model.StatusSuccess || page.NormalizedHash != normalizedHash {
			continue
		}
		if best == nil || page.ScrapedAt.Before(best.ScrapedAt) {
			best = page
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (m *memStore) Recent(_ context.Context, limit int) ([]model.StoredPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pages []model.StoredPage
	for _, page := range m.pages {
		if page.Status == model.StatusSuccess {
			pages = append(pages, *page)
		}
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].ScrapedAt.After(pages[j].ScrapedAt)
	})
	if len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

func (m *memStore) statusOf(url string) model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[url]
	if !ok {
		return ""
	}
	return page.Status
}

// newTestScheduler wires a scheduler with fast politeness delays and an
// in-memory store.
func newTestScheduler(t *testing.T, fetcher fetch.Fetcher, opts ...Option) (*Scheduler, *memStore) {
	t.Helper()

	store := newMemStore()
	deps := Deps{
		Frontier:   frontier.New(),
		Tracker:    policy.NewTracker(policy.WithBaseDelay(time.Millisecond)),
		Fetcher:    fetcher,
		Dedup:      dedup.NewEngine(store),
		Store:      store,
		Discoverer: discover.New(discover.WithScope([]string{"example.com"})),
	}
	base := []Option{
		WithRetryBase(time.Millisecond),
		WithJitter(0),
		WithGraceTimeout(time.Second),
	}
	s, err := New(deps, append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	return s, store
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{})
	if err == nil {
		t.Fatal("empty deps should be rejected")
	}
}

func TestRunRequiresSeeds(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t, fetch.NewMockFetcher())
	if _, err := s.Run(context.Background(), []string{"not a url", "ftp://nope"}); err == nil {
		t.Fatal("run without valid seeds should fail")
	}
}

// TestTermination is the drain property: one seed discovering five
// unique same-domain links, all succeeding, terminates with six
// successes and an empty frontier.
func TestTermination(t *testing.T) {
	t.Parallel()

	mock := fetch.NewMockFetcher()
	mock.Script("http://example.com/",
		fetch.SuccessOutcome("seed page with plenty of text",
			"/a", "/b", "/c", "/d", "/e"))
	for _, path := range []string{"/a", "/b", "/c", "/d", "/e"} {
		mock.Script("http://example.com"+path,
			fetch.SuccessOutcome("unique leaf content for "+path))
	}

	s, _ := newTestScheduler(t, mock, WithConcurrency(2))
	summary, err := s.Run(context.Background(), []string{"http://example.com/"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Succeeded != 6 {
		t.Errorf("succeeded = %d, want 6", summary.Succeeded)
	}
	if summary.Failed != 0 || summary.Duplicates != 0 {
		t.Errorf("unexpected failures or duplicates: %+v", summary)
	}
	if summary.Cancelled {
		t.Error("drained run must not be marked cancelled")
	}
	if s.frontier.Size() != 0 || s.frontier.Pending() != 0 {
		t.Errorf("frontier not drained: size=%d pending=%d", s.frontier.Size(), s.frontier.Pending())
	}
}

// TestRetryExhaustion: a URL that always fails retryably is attempted
// exactly MaxRetries+1 times, then marked FAILED.
func TestRetryExhaustion(t *testing.T) {
	t.Parallel()

	const url = "http://example.com/flaky"
	mock := fetch.NewMockFetcher()
	mock.Script(url, fetch.RetryOutcome(model.ErrorKindNetwork))

	s, store := newTestScheduler(t, mock, WithConcurrency(1), WithMaxRetries(2))
	summary, err := s.Run(context.Background(), []string{url})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := mock.Attempts(url); got != 3 {
		t.Errorf("attempts = %d, want MaxRetries+1 = 3", got)
	}
	if summary.Failed != 1 {
		t.Errorf("failed = %d, want 1", summary.Failed)
	}
	if store.statusOf(url) != model.StatusFailed {
		t.Errorf("stored status = %s, want failed", store.statusOf(url))
	}
}

// TestEmptyContentRetriesOnce: empty pages get one retry, not the full
// retry budget.
func TestEmptyContentRetriesOnce(t *testing.T) {
	t.Parallel()

	const url = "http://example.com/blank"
	empty := model.FetchOutcome{
		Status:    model.StatusEmpty,
		ErrorKind: model.ErrorKindEmptyContent,
		Retryable: true,
		FetchedAt: time.Now(),
	}
	mock := fetch.NewMockFetcher()
	mock.Script(url, empty)

	s, _ := newTestScheduler(t, mock, WithConcurrency(1), WithMaxRetries(5))
	if _, err := s.Run(context.Background(), []string{url}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := mock.Attempts(url); got != 2 {
		t.Errorf("attempts = %d, want 2 (one retry)", got)
	}
}

// TestDuplicateLinksNotExpanded: a page classified duplicate does not
// contribute its discovered links.
func TestDuplicateLinksNotExpanded(t *testing.T) {
	t.Parallel()

	sharedText := "identical syndicated article body shared by both URLs"
	mock := fetch.NewMockFetcher()
	mock.Script("http://example.com/",
		fetch.SuccessOutcome("front page linking to two copies", "/copy1", "/copy2"))
	mock.Script("http://example.com/copy1", fetch.SuccessOutcome(sharedText))
	mock.Script("http://example.com/copy2", fetch.SuccessOutcome(sharedText, "/hidden"))

	s, store := newTestScheduler(t, mock, WithConcurrency(1))
	summary, err := s.Run(context.Background(), []string{"http://example.com/"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", summary.Duplicates)
	}
	if mock.Attempts("http://example.com/hidden") != 0 {
		t.Error("links on a duplicate page must not be expanded")
	}
	if store.statusOf("http://example.com/copy2") != model.StatusDuplicate {
		t.Errorf("copy2 stored as %s, want duplicate", store.statusOf("http://example.com/copy2"))
	}
	if store.statusOf("http://example.com/copy1") != model.StatusSuccess {
		t.Errorf("copy1 stored as %s, want success", store.statusOf("http://example.com/copy1"))
	}
}

// TestLoopTrapDiscarded: a repeating path cycle is failed without
// fetching.
func TestLoopTrapDiscarded(t *testing.T) {
	t.Parallel()

	const trap = "http://example.com/a/b/a/b/a/b/a/b"
	mock := fetch.NewMockFetcher()

	s, store := newTestScheduler(t, mock, WithConcurrency(1))
	summary, err := s.Run(context.Background(), []string{trap})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if mock.Attempts(trap) != 0 {
		t.Error("loop trap must be discarded before fetching")
	}
	if summary.Failed != 1 {
		t.Errorf("failed = %d, want 1", summary.Failed)
	}
	if page, _ := store.GetPage(context.Background(), trap); page == nil || page.FailReason != string(model.ErrorKindRedirectLoop) {
		t.Errorf("loop trap should persist a failure row with the loop reason, got %+v", page)
	}
}

// TestRobotsFailureSkipsPathPrefix: a robots-disallowed outcome sets a
// permanent skip covering sibling paths.
func TestRobotsFailureSkipsPathPrefix(t *testing.T) {
	t.Parallel()

	mock := fetch.NewMockFetcher()
	mock.Script("http://example.com/",
		fetch.SuccessOutcome("index page with admin links", "/admin/a", "/admin/b"))
	mock.Script("http://example.com/admin/a",
		fetch.FailedOutcome(model.ErrorKindRobots, 0))

	s, _ := newTestScheduler(t, mock, WithConcurrency(1))
	summary, err := s.Run(context.Background(), []string{"http://example.com/"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if mock.Attempts("http://example.com/admin/b") != 0 {
		t.Error("sibling of robots-disallowed path should be discarded, not fetched")
	}
	if summary.Discarded != 1 {
		t.Errorf("discarded = %d, want 1", summary.Discarded)
	}
}

// TestPanicRecovery: a panicking fetch is converted to FAILED and the
// run still completes.
type panickyFetcher struct {
	inner   *fetch.MockFetcher
	boomURL string
}

func (p *panickyFetcher) Fetch(ctx context.Context, task model.CrawlTask) model.FetchOutcome {
	if task.URL == p.boomURL {
		panic("fetcher exploded")
	}
	return p.inner.Fetch(ctx, task)
}

func TestPanicRecovery(t *testing.T) {
	t.Parallel()

	mock := fetch.NewMockFetcher()
	mock.Script("http://example.com/",
		fetch.SuccessOutcome("index with a dangerous link", "/boom", "/ok"))
	mock.Script("http://example.com/ok", fetch.SuccessOutcome("a perfectly fine page"))

	fetcher := &panickyFetcher{inner: mock, boomURL: "http://example.com/boom"}
	s, _ := newTestScheduler(t, fetcher, WithConcurrency(2))

	summary, err := s.Run(context.Background(), []string{"http://example.com/"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", summary.Succeeded)
	}
	if summary.Failed != 1 {
		t.Errorf("panicking fetch should count as failed, got %d", summary.Failed)
	}
}

// TestMaxPages: the fetched-page budget bounds fetches and the run
// still terminates.
func TestMaxPages(t *testing.T) {
	t.Parallel()

	mock := fetch.NewMockFetcher()
	mock.Fallback = func(task model.CrawlTask) model.FetchOutcome {
		// Infinite tree: every page links to two children.
		return fetch.SuccessOutcome("content of "+task.URL,
			task.URL+"/0", task.URL+"/1")
	}

	s, _ := newTestScheduler(t, mock, WithConcurrency(1), WithMaxPages(5))
	summary, err := s.Run(context.Background(), []string{"http://example.com/root"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := len(mock.Calls()); got != 5 {
		t.Errorf("fetched %d pages, want exactly 5", got)
	}
	if summary.Discarded == 0 {
		t.Error("tasks beyond the page budget should be discarded")
	}
}

// TestCancellation: cancelling the context stops the run promptly and
// marks the summary cancelled.
func TestCancellation(t *testing.T) {
	t.Parallel()

	mock := fetch.NewMockFetcher()
	mock.Delay = 10 * time.Millisecond
	mock.Fallback = func(task model.CrawlTask) model.FetchOutcome {
		return fetch.SuccessOutcome("content of "+task.URL,
			task.URL+"/0", task.URL+"/1")
	}

	s, _ := newTestScheduler(t, mock, WithConcurrency(2))
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	start := time.Now()
	summary, err := s.Run(ctx, []string{"http://example.com/root"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !summary.Cancelled {
		t.Error("interrupted run must be marked cancelled")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancellation took %v, workers may be hung", elapsed)
	}
	if s.frontier.Pending() != 0 {
		t.Errorf("pending = %d after shutdown, want 0", s.frontier.Pending())
	}
}

// TestStatsCallback: the periodic callback fires and carries counts.
func TestStatsCallback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var snapshots []model.Stats

	mock := fetch.NewMockFetcher()
	mock.Script("http://example.com/", fetch.SuccessOutcome("a single page crawl"))

	s, _ := newTestScheduler(t, mock,
		WithConcurrency(1),
		WithStats(time.Millisecond, func(stats model.Stats) {
			mu.Lock()
			snapshots = append(snapshots, stats)
			mu.Unlock()
		}))

	if _, err := s.Run(context.Background(), []string{"http://example.com/"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) == 0 {
		t.Fatal("stats callback never fired")
	}
	final := snapshots[len(snapshots)-1]
	if final.Succeeded != 1 {
		t.Errorf("final stats succeeded = %d, want 1", final.Succeeded)
	}
}

// TestPolitenessSpacing: two same-domain fetches are separated by at
// least the base delay.
func TestPolitenessSpacing(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var fetchTimes []time.Time

	mock := fetch.NewMockFetcher()
	mock.Fallback = func(task model.CrawlTask) model.FetchOutcome {
		mu.Lock()
		fetchTimes = append(fetchTimes, time.Now())
		mu.Unlock()
		return fetch.SuccessOutcome("content of " + task.URL)
	}

	store := newMemStore()
	deps := Deps{
		Frontier:   frontier.New(),
		Tracker:    policy.NewTracker(policy.WithBaseDelay(50 * time.Millisecond)),
		Fetcher:    mock,
		Dedup:      dedup.NewEngine(store),
		Store:      store,
		Discoverer: discover.New(discover.WithScope([]string{"example.com"})),
	}
	s, err := New(deps, WithConcurrency(3), WithJitter(0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = s.Run(context.Background(), []string{
		"http://example.com/one",
		"http://example.com/two",
		"http://example.com/three",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fetchTimes) != 3 {
		t.Fatalf("fetched %d pages, want 3", len(fetchTimes))
	}
	sort.Slice(fetchTimes, func(i, j int) bool { return fetchTimes[i].Before(fetchTimes[j]) })
	for i := 1; i < len(fetchTimes); i++ {
		if gap := fetchTimes[i].Sub(fetchTimes[i-1]); gap < 40*time.Millisecond {
			t.Errorf("fetches %d and %d only %v apart, politeness gate not enforced", i-1, i, gap)
		}
	}
}
