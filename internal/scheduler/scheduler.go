package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/spindle/internal/dedup"
	"github.com/nao1215/spindle/internal/discover"
	"github.com/nao1215/spindle/internal/fetch"
	"github.com/nao1215/spindle/internal/frontier"
	"github.com/nao1215/spindle/internal/model"
	"github.com/nao1215/spindle/internal/policy"
)

const (
	// DefaultConcurrency is the worker pool size.
	DefaultConcurrency = 8

	// DefaultMaxRetries bounds retry attempts per task, so a task is
	// fetched at most DefaultMaxRetries+1 times.
	DefaultMaxRetries = 3

	// DefaultRetryBase is the base term of the exponential retry delay.
	DefaultRetryBase = 500 * time.Millisecond

	// DefaultJitter is the random fraction applied to retry delays so
	// retries for one domain spread out instead of herding.
	DefaultJitter = 0.1

	// DefaultGraceTimeout is how long in-flight fetches may run after a
	// cancellation before they are forcibly cancelled.
	DefaultGraceTimeout = 10 * time.Second

	// DefaultStatsInterval is how often the stats callback fires.
	DefaultStatsInterval = 5 * time.Second
)

// PageStore is the slice of the persistence gateway the scheduler
// writes through. *store.Store satisfies it.
type PageStore interface {
	UpsertPage(ctx context.Context, page *model.StoredPage) error
	GetPage(ctx context.Context, url string) (*model.StoredPage, error)
}

// Deps are the collaborators a Scheduler orchestrates. All fields are
// required.
type Deps struct {
	Frontier   *frontier.Frontier
	Tracker    *policy.Tracker
	Fetcher    fetch.Fetcher
	Dedup      *dedup.Engine
	Store      PageStore
	Discoverer *discover.Discoverer
}

// Scheduler drives a crawl run: worker pool, retries, termination.
type Scheduler struct {
	frontier   *frontier.Frontier
	tracker    *policy.Tracker
	fetcher    fetch.Fetcher
	dedup      *dedup.Engine
	store      PageStore
	discoverer *discover.Discoverer

	logger        *slog.Logger
	limiter       *rate.Limiter
	concurrency   int
	maxRetries    int
	retryBase     time.Duration
	jitter        float64
	grace         time.Duration
	maxPages      int
	statsInterval time.Duration
	statsFn       func(model.Stats)
	runID         string

	mu         sync.Mutex
	succeeded  int
	failed     int
	duplicates int
	lowQuality int
	discarded  int
	fetched    int
	cancelled  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxRetries bounds retries per task. A task is fetched at most
// n+1 times.
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryBase sets the base term of the exponential retry delay.
func WithRetryBase(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryBase = d
		}
	}
}

// WithJitter sets the random retry-delay fraction in [0, 1).
func WithJitter(fraction float64) Option {
	return func(s *Scheduler) {
		if fraction >= 0 && fraction < 1 {
			s.jitter = fraction
		}
	}
}

// WithGraceTimeout sets how long in-flight fetches may finish after
// cancellation.
func WithGraceTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithMaxPages stops the crawl after n fetched pages. Zero means
// unlimited.
func WithMaxPages(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxPages = n
		}
	}
}

// WithGlobalRate caps total requests per second across all domains,
// layered under the per-domain politeness gate. Zero disables the cap.
func WithGlobalRate(rps float64, burst int) Option {
	return func(s *Scheduler) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithStats registers a periodic progress callback.
func WithStats(interval time.Duration, fn func(model.Stats)) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.statsInterval = interval
		}
		s.statsFn = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunID fixes the run identifier. Default is a random UUID.
func WithRunID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.runID = id
		}
	}
}

// New creates a Scheduler. All Deps fields are required.
func New(deps Deps, opts ...Option) (*Scheduler, error) {
	switch {
	case deps.Frontier == nil:
		return nil, fmt.Errorf("%w: frontier", ErrMissingDependency)
	case deps.Tracker == nil:
		return nil, fmt.Errorf("%w: tracker", ErrMissingDependency)
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher", ErrMissingDependency)
	case deps.Dedup == nil:
		return nil, fmt.Errorf("%w: dedup engine", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Discoverer == nil:
		return nil, fmt.Errorf("%w: discoverer", ErrMissingDependency)
	}

	s := &Scheduler{
		frontier:      deps.Frontier,
		tracker:       deps.Tracker,
		fetcher:       deps.Fetcher,
		dedup:         deps.Dedup,
		store:         deps.Store,
		discoverer:    deps.Discoverer,
		logger:        slog.Default(),
		concurrency:   DefaultConcurrency,
		maxRetries:    DefaultMaxRetries,
		retryBase:     DefaultRetryBase,
		jitter:        DefaultJitter,
		grace:         DefaultGraceTimeout,
		statsInterval: DefaultStatsInterval,
		runID:         uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run crawls from the given seeds until the frontier drains or ctx is
// cancelled, then returns the terminal summary. Cancellation closes the
// frontier immediately, gives in-flight fetches the grace period, and
// still returns a consistent summary.
func (s *Scheduler) Run(ctx context.Context, seeds []string) (*model.Summary, error) {
	canonicalSeeds := s.seedTasks(seeds)
	if len(canonicalSeeds) == 0 {
		return nil, ErrNoSeeds
	}

	startedAt := time.Now()
	s.logger.Info("crawl started",
		"run_id", s.runID,
		"seeds", len(canonicalSeeds),
		"concurrency", s.concurrency)

	// Fetches run on a context detached from ctx so cancellation can
	// grant them the grace period before cutting them off.
	fetchCtx, cancelFetch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFetch()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.markCancelled()
			s.frontier.Close()
			timer := time.NewTimer(s.grace)
			defer timer.Stop()
			select {
			case <-timer.C:
				cancelFetch()
			case <-done:
			}
		case <-done:
		}
	}()

	if s.statsFn != nil {
		go s.emitStats(done)
	}

	var group errgroup.Group
	for i := 0; i < s.concurrency; i++ {
		group.Go(func() error {
			s.workerLoop(ctx, fetchCtx)
			return nil
		})
	}
	_ = group.Wait()
	close(done)
	s.frontier.Close()

	summary := s.summary(canonicalSeeds, startedAt, time.Now())
	s.logger.Info("crawl finished",
		"run_id", s.runID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duplicates", summary.Duplicates,
		"cancelled", summary.Cancelled,
		"elapsed", summary.Elapsed())
	return summary, nil
}

// seedTasks canonicalizes seeds, marks them seen, and pushes them at
// top priority. Invalid seeds are logged and skipped.
func (s *Scheduler) seedTasks(seeds []string) []string {
	var canonical []string
	now := time.Now()
	for _, seed := range seeds {
		url, err := discover.Canonicalize(seed)
		if err != nil {
			s.logger.Warn("skipping invalid seed", "seed", seed, "error", err)
			continue
		}
		s.discoverer.MarkSeen(url)
		if s.frontier.Push(model.CrawlTask{URL: url, Priority: 0, DiscoveredAt: now}) {
			canonical = append(canonical, url)
		}
	}
	return canonical
}

// workerLoop pops tasks until the frontier closes and drains. After a
// run cancellation, remaining queued tasks are abandoned instead of
// fetched.
func (s *Scheduler) workerLoop(runCtx, fetchCtx context.Context) {
	for {
		task, ok := s.frontier.Pop()
		if !ok {
			return
		}

		select {
		case <-runCtx.Done():
			// Frontier is closed by now; this unpins the task.
			s.frontier.Release(task, 0)
			continue
		default:
		}

		s.process(fetchCtx, task)
	}
}

// process runs one popped task through gate, fetch, dedup, persist, and
// link expansion. Panics from any collaborator are converted into a
// FAILED outcome at this boundary; one bad page never stops the run.
func (s *Scheduler) process(ctx context.Context, task model.CrawlTask) {
	completed := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker recovered from panic", "url", task.URL, "panic", r)
			if !completed {
				s.finishTask(task, model.StatusFailed)
			}
		}
	}()

	domain, path := task.Domain(), task.Path()

	if s.pageLimitReached() {
		completed = true
		s.finishTask(task, model.StatusDiscarded)
		return
	}

	gate := s.tracker.Gate(domain, path)
	switch {
	case gate.Skip:
		completed = true
		s.finishTask(task, model.StatusDiscarded)
		return
	case !gate.Proceed:
		completed = true
		s.frontier.Release(task, gate.Wait)
		return
	}

	if s.tracker.IsLoopTrap(domain, path) {
		s.logger.Debug("discarding loop trap", "url", task.URL)
		s.persistFailure(ctx, task, model.FetchOutcome{ErrorKind: model.ErrorKindRedirectLoop})
		completed = true
		s.finishTask(task, model.StatusFailed)
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			// Cancelled mid-wait; the frontier is closing, so this
			// abandons the task.
			completed = true
			s.frontier.Release(task, 0)
			return
		}
	}

	s.countFetch()
	outcome := s.fetcher.Fetch(ctx, task)
	s.tracker.RecordPath(domain, path)
	s.tracker.RecordOutcome(domain, outcome.Status)

	if outcome.ErrorKind == model.ErrorKindRobots || outcome.ErrorKind == model.ErrorKindEthics {
		s.tracker.SkipPath(domain, skipPrefix(path))
	}

	switch outcome.Status {
	case model.StatusRetry, model.StatusEmpty:
		if s.shouldRetry(task, outcome) {
			delay := s.retryDelay(task.AttemptCount, domain)
			s.logger.Debug("retrying task",
				"url", task.URL,
				"attempt", task.AttemptCount+1,
				"delay", delay,
				"kind", outcome.ErrorKind)
			task.AttemptCount++
			completed = true
			s.frontier.Release(task, delay)
			return
		}
		s.persistFailure(ctx, task, outcome)
		completed = true
		s.finishTask(task, model.StatusFailed)
		return
	case model.StatusFailed:
		s.persistFailure(ctx, task, outcome)
		completed = true
		s.finishTask(task, model.StatusFailed)
		return
	}

	status := s.routeContent(ctx, task, &outcome)
	completed = true
	s.finishTask(task, status)
}

// routeContent handles successful and low-quality fetches: dedup
// classification, persistence, and link expansion. Returns the terminal
// status for the task.
func (s *Scheduler) routeContent(ctx context.Context, task model.CrawlTask, outcome *model.FetchOutcome) model.Status {
	status := outcome.Status

	classification, err := s.dedup.Classify(ctx, task.URL, outcome)
	if err != nil {
		s.logger.Warn("dedup classification failed, treating as new", "url", task.URL, "error", err)
	}
	if classification.Duplicate {
		status = model.StatusDuplicate
	}

	// Advisory only: a changed visual hash on a re-crawl is worth a log
	// line, never a classification.
	if outcome.VisualHash != 0 {
		if prev, err := s.store.GetPage(ctx, task.URL); err == nil && prev != nil {
			if dedup.VisualChanged(prev.VisualHash, outcome.VisualHash) {
				s.logger.Info("page content changed visually", "url", task.URL)
			}
		}
	}

	page := &model.StoredPage{
		URL:            task.URL,
		RunID:          s.runID,
		Status:         status,
		ContentHash:    outcome.ContentHash,
		NormalizedHash: outcome.NormalizedHash,
		VisualHash:     outcome.VisualHash,
		HTTPStatus:     outcome.HTTPStatus,
		Title:          outcome.Title,
		Snapshot:       outcome.Text,
		Depth:          task.Depth,
		DuplicateOf:    classification.OriginalURL,
		ScrapedAt:      outcome.FetchedAt,
	}
	page.TruncateSnapshot()
	if err := s.store.UpsertPage(ctx, page); err != nil {
		s.logger.Error("failed to persist page", "url", task.URL, "error", err)
		return model.StatusFailed
	}
	// The store may have demoted the row if another worker persisted
	// the same content first.
	status = page.Status

	// Duplicates are excluded from link expansion; their originals
	// already contributed the same links.
	if status != model.StatusDuplicate && !s.pageLimitReached() {
		discovered := s.discoverer.Discover(ctx, task, outcome.ContentType, outcome.DiscoveredLinks)
		for _, next := range discovered {
			s.frontier.Push(next)
		}
	}

	return status
}

// shouldRetry applies the retry budget. Empty content earns exactly one
// retry; other retryable failures get the full budget.
func (s *Scheduler) shouldRetry(task model.CrawlTask, outcome model.FetchOutcome) bool {
	if !outcome.Retryable {
		return false
	}
	if outcome.ErrorKind == model.ErrorKindEmptyContent {
		return task.AttemptCount < 1
	}
	return task.AttemptCount < s.maxRetries
}

// retryDelay computes base * 2^attempt * backoff_factor with jitter.
func (s *Scheduler) retryDelay(attempt int, domain string) time.Duration {
	delay := float64(s.retryBase) * math.Pow(2, float64(attempt)) * s.tracker.BackoffFactor(domain)
	if s.jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*s.jitter
	}
	return time.Duration(delay)
}

// persistFailure records a terminal failure row so the history command
// can explain why a URL is absent.
func (s *Scheduler) persistFailure(ctx context.Context, task model.CrawlTask, outcome model.FetchOutcome) {
	page := &model.StoredPage{
		URL:        task.URL,
		RunID:      s.runID,
		Status:     model.StatusFailed,
		HTTPStatus: outcome.HTTPStatus,
		Depth:      task.Depth,
		FailReason: string(outcome.ErrorKind),
		ScrapedAt:  time.Now(),
	}
	if err := s.store.UpsertPage(ctx, page); err != nil {
		s.logger.Error("failed to persist failure", "url", task.URL, "error", err)
	}
}

// finishTask records the terminal status and closes the frontier when
// no pending work remains. No worker holds a task when Finish returns
// zero, so no push can race the close.
func (s *Scheduler) finishTask(task model.CrawlTask, status model.Status) {
	s.mu.Lock()
	switch status {
	case model.StatusSuccess:
		s.succeeded++
	case model.StatusFailed:
		s.failed++
	case model.StatusDuplicate:
		s.duplicates++
	case model.StatusLowQuality:
		s.lowQuality++
	case model.StatusDiscarded:
		s.discarded++
	}
	s.mu.Unlock()

	if s.frontier.Finish(task.URL) == 0 {
		s.frontier.Close()
	}
}

// pageLimitReached reports whether the fetched-page budget is spent.
func (s *Scheduler) pageLimitReached() bool {
	if s.maxPages <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched >= s.maxPages
}

// countFetch increments the fetched-page counter.
func (s *Scheduler) countFetch() {
	s.mu.Lock()
	s.fetched++
	s.mu.Unlock()
}

// markCancelled flags the run as interrupted.
func (s *Scheduler) markCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Stats returns a point-in-time progress snapshot.
func (s *Scheduler) Stats() model.Stats {
	s.mu.Lock()
	stats := model.Stats{
		Succeeded:  s.succeeded,
		Failed:     s.failed,
		Duplicates: s.duplicates,
		LowQuality: s.lowQuality,
		Discarded:  s.discarded,
	}
	s.mu.Unlock()

	stats.Queued = s.frontier.Size()
	stats.InFlight = s.frontier.InFlight()
	stats.Deferred = s.frontier.Deferred()
	stats.PerDomainBackoff = s.tracker.BackoffFactors()
	return stats
}

// emitStats fires the stats callback until done closes, then once more
// for the final state.
func (s *Scheduler) emitStats(done <-chan struct{}) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.statsFn(s.Stats())
		case <-done:
			s.statsFn(s.Stats())
			return
		}
	}
}

// summary assembles the terminal report.
func (s *Scheduler) summary(seeds []string, startedAt, finishedAt time.Time) *model.Summary {
	s.mu.Lock()
	summary := &model.Summary{
		RunID:      s.runID,
		Seeds:      seeds,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Cancelled:  s.cancelled,
		Succeeded:  s.succeeded,
		Failed:     s.failed,
		Duplicates: s.duplicates,
		LowQuality: s.lowQuality,
		Discarded:  s.discarded,
	}
	s.mu.Unlock()

	for _, snap := range s.tracker.Snapshots() {
		summary.Domains = append(summary.Domains, model.DomainSummary{
			Domain:        snap.Domain,
			Succeeded:     snap.Succeeded,
			Failed:        snap.Failed,
			FailureRatio:  snap.FailureRatio,
			BackoffFactor: snap.BackoffFactor,
			SkippedPaths:  snap.SkippedPrefixes,
		})
	}
	return summary
}

// skipPrefix derives the permanent-skip prefix from a path: its first
// segment, or "/" for root-level paths.
func skipPrefix(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx > 0 {
		return "/" + trimmed[:idx]
	}
	if trimmed == "" {
		return "/"
	}
	return "/" + trimmed
}
