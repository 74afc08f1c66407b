package discover

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/nao1215/spindle/internal/model"
)

const (
	// DefaultSeenCapacity is the expected number of distinct URLs the
	// seen-set is sized for.
	DefaultSeenCapacity = 1_000_000

	// DefaultSeenFalsePositiveRate is the bloom filter false positive
	// rate. A false positive drops a never-visited URL, which is an
	// acceptable loss at this rate.
	DefaultSeenFalsePositiveRate = 0.001

	// DefaultBackoffPenalty is added to the priority of links whose
	// domain currently exceeds the failure ratio threshold. It pushes
	// struggling domains toward the back of the frontier without
	// blocking them outright.
	DefaultBackoffPenalty = 2.0
)

// Scorer estimates how promising an undiscovered URL is. Lower scores
// schedule sooner. Implementations run outside this package; a typical
// one is a trained frontier classifier.
type Scorer interface {
	Score(link string, source model.CrawlTask) float64
}

// RobotsPolicy answers whether a URL may be fetched under the target
// site's robots rules. Parsing and caching of robots.txt happen behind
// this interface.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// DomainAdvisor exposes the per-domain backoff state the priority
// computation folds in. *policy.Tracker satisfies it.
type DomainAdvisor interface {
	ShouldBackoff(domain string) bool
	BackoffFactor(domain string) float64
}

// Stats counts what happened to raw links across all Discover calls.
type Stats struct {
	// Accepted is the number of links turned into crawl tasks.
	Accepted int

	// DroppedInvalid counts links that failed to canonicalize.
	DroppedInvalid int

	// DroppedScope counts links outside the allowed domains.
	DroppedScope int

	// DroppedSeen counts links already in the seen-set.
	DroppedSeen int

	// DroppedDenied counts links matching a deny pattern.
	DroppedDenied int

	// DroppedRobots counts links disallowed by robots rules.
	DroppedRobots int

	// DroppedDepth counts links beyond the depth limit.
	DroppedDepth int
}

// Discoverer filters and scores raw links into crawl tasks.
type Discoverer struct {
	mu    sync.Mutex
	seen  *bloom.BloomFilter
	stats Stats

	scope          map[string]struct{}
	denyPatterns   []string
	robots         RobotsPolicy
	advisor        DomainAdvisor
	scorer         Scorer
	maxDepth       int
	depthOverrides map[string]int

	seenCapacity uint
	seenFPRate   float64
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithScope restricts discovery to the given domains. Subdomains of a
// scoped domain are in scope too. Empty scope allows every domain.
func WithScope(domains []string) Option {
	return func(d *Discoverer) {
		for _, domain := range domains {
			domain = strings.ToLower(strings.TrimSpace(domain))
			if domain != "" {
				d.scope[domain] = struct{}{}
			}
		}
	}
}

// WithDenyPatterns sets URL path patterns to exclude from discovery.
// Patterns use glob syntax (e.g., "/admin/*", "*.pdf", "/logout*").
func WithDenyPatterns(patterns []string) Option {
	return func(d *Discoverer) {
		d.denyPatterns = patterns
	}
}

// WithRobots sets the robots rules collaborator. Nil disables robots
// filtering.
func WithRobots(robots RobotsPolicy) Option {
	return func(d *Discoverer) {
		d.robots = robots
	}
}

// WithAdvisor sets the per-domain backoff source used as a priority
// penalty. Nil disables the penalty.
func WithAdvisor(advisor DomainAdvisor) Option {
	return func(d *Discoverer) {
		d.advisor = advisor
	}
}

// WithScorer sets the external promise scorer. Nil means a flat zero
// promise for every link.
func WithScorer(scorer Scorer) Option {
	return func(d *Discoverer) {
		d.scorer = scorer
	}
}

// WithMaxDepth limits how deep discovered links may go. Zero means
// unlimited.
func WithMaxDepth(depth int) Option {
	return func(d *Discoverer) {
		d.maxDepth = depth
	}
}

// WithDepthOverrides sets per-domain depth limits, keyed by lowercase
// host. A matching override replaces the global maximum for that
// domain and its subdomains. Used for site-specific config overrides.
func WithDepthOverrides(overrides map[string]int) Option {
	return func(d *Discoverer) {
		for domain, limit := range overrides {
			domain = strings.ToLower(strings.TrimSpace(domain))
			if domain != "" && limit > 0 {
				d.depthOverrides[domain] = limit
			}
		}
	}
}

// WithSeenCapacity sizes the seen-set bloom filter.
func WithSeenCapacity(capacity uint, falsePositiveRate float64) Option {
	return func(d *Discoverer) {
		d.seenCapacity = capacity
		d.seenFPRate = falsePositiveRate
	}
}

// New creates a Discoverer with the given options.
func New(opts ...Option) *Discoverer {
	d := &Discoverer{
		scope:          make(map[string]struct{}),
		depthOverrides: make(map[string]int),
		seenCapacity:   DefaultSeenCapacity,
		seenFPRate:     DefaultSeenFalsePositiveRate,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = bloom.NewWithEstimates(d.seenCapacity, d.seenFPRate)
	return d
}

// Discover turns raw links found on a fetched page into crawl tasks.
// The source task is the page the links came from; contentType is that
// page's content type, carried onto the new tasks for priority
// weighting. Links that fail canonicalization, leave the domain scope,
// match a deny pattern, violate robots rules, exceed the depth limit,
// or were already seen are dropped.
func (d *Discoverer) Discover(ctx context.Context, source model.CrawlTask, contentType string, rawLinks []string) []model.CrawlTask {
	sourceURL, err := url.Parse(source.URL)
	if err != nil {
		sourceURL = nil
	}

	depth := source.Depth + 1
	now := time.Now()

	var tasks []model.CrawlTask
	for _, raw := range rawLinks {
		canonical, ok := d.admit(ctx, sourceURL, raw, depth)
		if !ok {
			continue
		}

		tasks = append(tasks, model.CrawlTask{
			URL:               canonical,
			Priority:          d.priority(canonical, source, contentType),
			Depth:             depth,
			ParentContentType: contentType,
			DiscoveredAt:      now,
		})
		d.mu.Lock()
		d.stats.Accepted++
		d.mu.Unlock()
	}

	return tasks
}

// admit runs the drop pipeline for a single raw link and returns its
// canonical form when it survives.
func (d *Discoverer) admit(ctx context.Context, sourceURL *url.URL, raw string, depth int) (string, bool) {
	canonical, err := d.resolve(sourceURL, raw)
	if err != nil {
		d.count(func(s *Stats) { s.DroppedInvalid++ })
		return "", false
	}

	u, err := url.Parse(canonical)
	if err != nil {
		d.count(func(s *Stats) { s.DroppedInvalid++ })
		return "", false
	}

	if limit := d.depthLimit(u.Hostname()); limit > 0 && depth > limit {
		d.count(func(s *Stats) { s.DroppedDepth++ })
		return "", false
	}

	if !d.inScope(u.Hostname()) {
		d.count(func(s *Stats) { s.DroppedScope++ })
		return "", false
	}

	if d.denied(u.Path) {
		d.count(func(s *Stats) { s.DroppedDenied++ })
		return "", false
	}

	if d.robots != nil && !d.robots.Allowed(ctx, canonical) {
		d.count(func(s *Stats) { s.DroppedRobots++ })
		return "", false
	}

	// Test-and-add must be atomic so two workers discovering the same
	// link concurrently admit it exactly once.
	d.mu.Lock()
	alreadySeen := d.seen.TestAndAddString(canonical)
	d.mu.Unlock()
	if alreadySeen {
		d.count(func(s *Stats) { s.DroppedSeen++ })
		return "", false
	}

	return canonical, true
}

// resolve canonicalizes a raw link, resolving it against the source
// page URL when relative.
func (d *Discoverer) resolve(sourceURL *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if sourceURL != nil {
		ref = sourceURL.ResolveReference(ref)
	}
	return canonicalizeURL(ref)
}

// depthLimit returns the depth limit for a host: a per-domain override
// when one matches, otherwise the global maximum. Zero means unlimited.
func (d *Discoverer) depthLimit(host string) int {
	host = strings.ToLower(host)
	for domain, limit := range d.depthOverrides {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return limit
		}
	}
	return d.maxDepth
}

// inScope reports whether host falls under the allowed domains.
func (d *Discoverer) inScope(host string) bool {
	if len(d.scope) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for domain := range d.scope {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// denied reports whether the URL path matches any deny pattern.
func (d *Discoverer) denied(urlPath string) bool {
	if urlPath == "" {
		urlPath = "/"
	}
	for _, pattern := range d.denyPatterns {
		if matchPattern(pattern, urlPath) {
			return true
		}
	}
	return false
}

// priority computes the combined scheduling priority for a link.
// Lower values schedule sooner. Depth contributes linearly, the parent
// content type shifts the whole page's links, a backoff penalty pushes
// struggling domains back, and the external promise score adds the
// final term.
func (d *Discoverer) priority(canonical string, source model.CrawlTask, contentType string) float64 {
	priority := float64(source.Depth+1) + parentTypeWeight(contentType)

	if d.advisor != nil {
		if u, err := url.Parse(canonical); err == nil {
			domain := strings.ToLower(u.Hostname())
			if d.advisor.ShouldBackoff(domain) {
				priority += DefaultBackoffPenalty
			}
			// Factor above 1.0 means the domain is already slowed
			// down; scale half a point per unit of backoff.
			priority += (d.advisor.BackoffFactor(domain) - 1.0) * 0.5
		}
	}

	if d.scorer != nil {
		priority += d.scorer.Score(canonical, source)
	}

	return priority
}

// parentTypeWeight maps the source page's content type to a priority
// shift. Sitemaps and feeds tend to link to fresh content, so their
// links schedule slightly earlier; links from non-HTML sources are
// slightly deprioritized.
func parentTypeWeight(contentType string) float64 {
	switch {
	case contentType == "":
		return 0
	case strings.Contains(contentType, "xml"):
		return -0.5
	case strings.Contains(contentType, "html"):
		return 0
	default:
		return 0.5
	}
}

// MarkSeen records a URL in the seen-set without scoring it. Seeds are
// marked before the crawl starts so rediscovering them is a no-op.
func (d *Discoverer) MarkSeen(canonical string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.AddString(canonical)
}

// Stats returns a snapshot of the drop counters.
func (d *Discoverer) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// count applies a mutation to the stats under the lock.
func (d *Discoverer) count(fn func(*Stats)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.stats)
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/logout*" matches "/logout" and "/logout?next=/"
func matchPattern(pattern, urlPath string) bool {
	// "/admin/*" should also match nested paths like
	// "/admin/users/1", which filepath.Match alone does not.
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(urlPath, prefix+"/") || urlPath == prefix {
			return true
		}
	}

	// Extension patterns like "*.pdf" match anywhere in the tree.
	if strings.HasPrefix(pattern, "*.") {
		ext := strings.TrimPrefix(pattern, "*")
		if strings.HasSuffix(urlPath, ext) {
			return true
		}
	}

	matched, err := path.Match(pattern, urlPath)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	// Bare filename patterns match against the last segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := path.Match(pattern, path.Base(urlPath))
		if err == nil && matched {
			return true
		}
	}

	return false
}
