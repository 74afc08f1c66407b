package policy

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/spindle/internal/model"
)

// Default tuning values. These are starting points, not hard limits;
// all of them are adjustable through Options.
const (
	// DefaultBaseDelay is the minimum inter-request interval per domain
	// before the backoff factor is applied.
	DefaultBaseDelay = 1 * time.Second

	// DefaultGrowthRate multiplies the backoff factor on each failure.
	DefaultGrowthRate = 1.6

	// DefaultDecayRate divides the backoff factor on each success.
	DefaultDecayRate = 1.3

	// DefaultBackoffCap bounds the backoff factor from above.
	DefaultBackoffCap = 10.0

	// DefaultWindowSize is the rolling outcome window used for the
	// failure-ratio signal.
	DefaultWindowSize = 50

	// DefaultFailureRatio is the rolling failure ratio above which
	// ShouldBackoff reports true.
	DefaultFailureRatio = 0.4

	// DefaultPathHistorySize bounds the recent-path ring per domain.
	DefaultPathHistorySize = 32

	// DefaultLoopRepeats is the number of cycle repetitions that
	// classifies a path as a crawl trap. With the default of 4, the
	// fourth repetition of a segment cycle is the first one discarded.
	DefaultLoopRepeats = 4
)

// Advisor suggests a multiplicative adjustment to a domain's backoff
// factor based on its observed metrics. Implementations are advisory
// only: the tracker works correctly with no advisor at all, and a
// suggestion of 1.0 is a no-op.
type Advisor interface {
	// Adjust returns a multiplier applied to the backoff factor after
	// each outcome. Values are clamped to the tracker's cap and floor.
	Adjust(snapshot DomainSnapshot) float64
}

// DomainSnapshot is a read-only copy of a domain's state, exposed to
// advisors, the stats callback, and the final report.
type DomainSnapshot struct {
	// Domain is the lowercase host.
	Domain string

	// BackoffFactor is the current delay multiplier, >= 1.0.
	BackoffFactor float64

	// ConsecutiveFailures and ConsecutiveSuccesses are the current streaks.
	ConsecutiveFailures  int
	ConsecutiveSuccesses int

	// Succeeded and Failed are lifetime outcome counts for the run.
	Succeeded int
	Failed    int

	// FailureRatio is the failure share over the rolling window.
	FailureRatio float64

	// LastAccessAt is when the domain was last gated through.
	LastAccessAt time.Time

	// SkippedPrefixes lists permanently skipped path prefixes.
	SkippedPrefixes []string
}

// domainState is the mutable per-domain record. All fields are guarded
// by mu; workers finishing near-simultaneous fetches for the same
// domain serialize here.
type domainState struct {
	mu sync.Mutex

	domain               string
	backoffFactor        float64
	consecutiveFailures  int
	consecutiveSuccesses int
	succeeded            int
	failed               int
	lastAccessAt         time.Time

	// window is a ring of recent outcomes: true means failure.
	window    []bool
	windowAt  int
	windowLen int

	// paths is a ring of recently fetched paths for loop detection.
	paths    []string
	pathsAt  int
	pathsLen int

	// skipPrefixes are path prefixes permanently excluded for this
	// domain. A "/" prefix skips the whole domain.
	skipPrefixes []string
}

// Tracker owns every domain's admission state. States are created
// lazily on first sight and never deleted during a run.
type Tracker struct {
	mu      sync.Mutex
	domains map[string]*domainState

	baseDelay    time.Duration
	extraDelays  map[string]time.Duration
	growthRate   float64
	decayRate    float64
	backoffCap   float64
	windowSize   int
	failureRatio float64
	historySize  int
	loopRepeats  int
	advisor      Advisor

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBaseDelay sets the per-domain minimum inter-request interval.
func WithBaseDelay(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.baseDelay = d
		}
	}
}

// WithBackoffRates sets the multiplicative growth and decay rates and
// the cap. Non-positive values keep the defaults.
func WithBackoffRates(growth, decay, cap float64) Option {
	return func(t *Tracker) {
		if growth > 1 {
			t.growthRate = growth
		}
		if decay > 1 {
			t.decayRate = decay
		}
		if cap >= 1 {
			t.backoffCap = cap
		}
	}
}

// WithFailureWindow sets the rolling window size and the failure ratio
// threshold for ShouldBackoff.
func WithFailureWindow(size int, ratio float64) Option {
	return func(t *Tracker) {
		if size > 0 {
			t.windowSize = size
		}
		if ratio > 0 && ratio <= 1 {
			t.failureRatio = ratio
		}
	}
}

// WithLoopDetection sets the path-history ring size and the repeat
// count that classifies a cycle as a trap.
func WithLoopDetection(historySize, repeats int) Option {
	return func(t *Tracker) {
		if historySize > 0 {
			t.historySize = historySize
		}
		if repeats > 1 {
			t.loopRepeats = repeats
		}
	}
}

// WithAdvisor attaches an external backoff advisor.
func WithAdvisor(a Advisor) Option {
	return func(t *Tracker) {
		t.advisor = a
	}
}

// WithExtraDelays adds a fixed per-domain delay on top of the base
// delay, keyed by lowercase host. Used for site-specific politeness
// overrides from the config file.
func WithExtraDelays(delays map[string]time.Duration) Option {
	return func(t *Tracker) {
		for domain, d := range delays {
			if d > 0 {
				t.extraDelays[domain] = d
			}
		}
	}
}

// withNow overrides the clock. Test hook.
func withNow(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker with the given options.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		domains:      make(map[string]*domainState),
		extraDelays:  make(map[string]time.Duration),
		baseDelay:    DefaultBaseDelay,
		growthRate:   DefaultGrowthRate,
		decayRate:    DefaultDecayRate,
		backoffCap:   DefaultBackoffCap,
		windowSize:   DefaultWindowSize,
		failureRatio: DefaultFailureRatio,
		historySize:  DefaultPathHistorySize,
		loopRepeats:  DefaultLoopRepeats,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// getOrCreate returns the state for a domain, creating it on first sight.
func (t *Tracker) getOrCreate(domain string) *domainState {
	t.mu.Lock()
	defer t.mu.Unlock()

	ds, ok := t.domains[domain]
	if !ok {
		ds = &domainState{
			domain:        domain,
			backoffFactor: 1.0,
			window:        make([]bool, t.windowSize),
			paths:         make([]string, t.historySize),
		}
		t.domains[domain] = ds
	}
	return ds
}

// GateResult is the admission decision for a task.
type GateResult struct {
	// Proceed is true when the worker may fetch now. The domain's
	// request slot has already been reserved in that case.
	Proceed bool

	// Skip is true when the task must be discarded permanently.
	Skip bool

	// Wait is how long the task must be deferred when neither
	// proceeding nor skipped.
	Wait time.Duration
}

// Gate decides whether a fetch for the given domain and path may start
// now. On proceed the domain's last-access time is set inside the gate,
// so concurrent workers cannot both claim the same politeness slot.
func (t *Tracker) Gate(domain, path string) GateResult {
	ds := t.getOrCreate(domain)
	extra := t.extraDelay(domain)
	now := t.now()

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.skippedLocked(path) {
		return GateResult{Skip: true}
	}

	interval := time.Duration(float64(t.baseDelay+extra) * ds.backoffFactor)
	if !ds.lastAccessAt.IsZero() {
		if wait := interval - now.Sub(ds.lastAccessAt); wait > 0 {
			return GateResult{Wait: wait}
		}
	}

	ds.lastAccessAt = now
	return GateResult{Proceed: true}
}

// SetExtraDelay raises a domain's fixed extra delay at runtime, keyed
// by lowercase host. Values at or below the current one are ignored so
// a published Crawl-delay cannot undercut a configured site override.
func (t *Tracker) SetExtraDelay(domain string, d time.Duration) {
	domain = strings.ToLower(domain)

	t.mu.Lock()
	defer t.mu.Unlock()
	if d > t.extraDelays[domain] {
		t.extraDelays[domain] = d
	}
}

// extraDelay returns the current fixed extra delay for a domain.
func (t *Tracker) extraDelay(domain string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.extraDelays[domain]
}

// RecordOutcome updates a domain's adaptive state after a fetch
// attempt. Success decays the backoff factor toward 1.0 and resets the
// failure streak; failure grows it toward the cap and resets the
// success streak. Duplicates and low-quality pages count as successes
// for rate-adaptation purposes: the server answered correctly.
func (t *Tracker) RecordOutcome(domain string, status model.Status) {
	ds := t.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	failure := status == model.StatusFailed || status == model.StatusRetry
	switch {
	case failure:
		ds.failed++
		ds.consecutiveFailures++
		ds.consecutiveSuccesses = 0
		ds.backoffFactor = min(t.backoffCap, ds.backoffFactor*t.growthRate)
	default:
		ds.succeeded++
		ds.consecutiveSuccesses++
		ds.consecutiveFailures = 0
		ds.backoffFactor = max(1.0, ds.backoffFactor/t.decayRate)
	}

	// Rolling window for the failure-ratio signal.
	ds.window[ds.windowAt] = failure
	ds.windowAt = (ds.windowAt + 1) % len(ds.window)
	if ds.windowLen < len(ds.window) {
		ds.windowLen++
	}

	if t.advisor != nil {
		t.applyAdvisorLocked(ds)
	}
}

// applyAdvisorLocked applies the advisor's multiplier under the domain
// lock. Caller must hold ds.mu.
func (t *Tracker) applyAdvisorLocked(ds *domainState) {
	mult := t.advisor.Adjust(ds.snapshotLocked())
	if mult <= 0 || mult == 1.0 {
		return
	}
	ds.backoffFactor = min(t.backoffCap, max(1.0, ds.backoffFactor*mult))
}

// ShouldBackoff reports whether the domain's rolling failure ratio
// exceeds the configured threshold. This is a soft signal used as a
// priority penalty by the discoverer, not a hard block.
func (t *Tracker) ShouldBackoff(domain string) bool {
	ds := t.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.failureRatioLocked() > t.failureRatio
}

// BackoffFactor returns the domain's current delay multiplier.
func (t *Tracker) BackoffFactor(domain string) float64 {
	ds := t.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.backoffFactor
}

// SkipPath permanently excludes a path prefix for the domain. Pass "/"
// to skip the whole domain. Idempotent.
func (t *Tracker) SkipPath(domain, prefix string) {
	if prefix == "" {
		prefix = "/"
	}
	ds := t.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	for _, p := range ds.skipPrefixes {
		if p == prefix {
			return
		}
	}
	ds.skipPrefixes = append(ds.skipPrefixes, prefix)
}

// Skipped reports whether a path is covered by a permanent skip.
func (t *Tracker) Skipped(domain, path string) bool {
	ds := t.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.skippedLocked(path)
}

// skippedLocked checks the skip prefixes. Caller must hold ds.mu.
func (ds *domainState) skippedLocked(path string) bool {
	if path == "" {
		path = "/"
	}
	for _, prefix := range ds.skipPrefixes {
		if prefix == "/" || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// failureRatioLocked computes the rolling failure ratio. Caller must
// hold ds.mu. Returns 0 for an empty window.
func (ds *domainState) failureRatioLocked() float64 {
	if ds.windowLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < ds.windowLen; i++ {
		if ds.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(ds.windowLen)
}

// snapshotLocked copies the state. Caller must hold ds.mu.
func (ds *domainState) snapshotLocked() DomainSnapshot {
	prefixes := make([]string, len(ds.skipPrefixes))
	copy(prefixes, ds.skipPrefixes)
	return DomainSnapshot{
		Domain:               ds.domain,
		BackoffFactor:        ds.backoffFactor,
		ConsecutiveFailures:  ds.consecutiveFailures,
		ConsecutiveSuccesses: ds.consecutiveSuccesses,
		Succeeded:            ds.succeeded,
		Failed:               ds.failed,
		FailureRatio:         ds.failureRatioLocked(),
		LastAccessAt:         ds.lastAccessAt,
		SkippedPrefixes:      prefixes,
	}
}

// Snapshot returns a copy of one domain's state.
func (t *Tracker) Snapshot(domain string) DomainSnapshot {
	ds := t.getOrCreate(domain)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.snapshotLocked()
}

// Snapshots returns a copy of every domain's state, sorted by domain.
func (t *Tracker) Snapshots() []DomainSnapshot {
	t.mu.Lock()
	states := make([]*domainState, 0, len(t.domains))
	for _, ds := range t.domains {
		states = append(states, ds)
	}
	t.mu.Unlock()

	snapshots := make([]DomainSnapshot, 0, len(states))
	for _, ds := range states {
		ds.mu.Lock()
		snapshots = append(snapshots, ds.snapshotLocked())
		ds.mu.Unlock()
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Domain < snapshots[j].Domain
	})
	return snapshots
}

// BackoffFactors returns the current backoff factor per domain, for the
// periodic stats snapshot.
func (t *Tracker) BackoffFactors() map[string]float64 {
	factors := make(map[string]float64)
	for _, snap := range t.Snapshots() {
		factors[snap.Domain] = snap.BackoffFactor
	}
	return factors
}
