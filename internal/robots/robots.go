package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	// DefaultTTL is how long parsed robots rules are cached per host.
	DefaultTTL = 1 * time.Hour

	// DefaultErrorTTL is the cache lifetime after a failed robots.txt
	// fetch. Shorter than DefaultTTL so a transient failure does not
	// pin a permissive ruleset for a full hour.
	DefaultErrorTTL = 5 * time.Minute

	// DefaultFetchTimeout bounds a single robots.txt request.
	DefaultFetchTimeout = 10 * time.Second

	// maxRobotsSize caps how much of a robots.txt response is read.
	maxRobotsSize = 512 * 1024
)

// entry holds parsed rules for one host.
type entry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
	ttl       time.Duration
}

// Cache resolves robots.txt rules per host with a TTL cache.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	client        *http.Client
	userAgent     string
	ttl           time.Duration
	errorTTL      time.Duration
	skipHosts     map[string]struct{}
	delayObserver func(host string, delay time.Duration)

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the client used to fetch robots.txt files.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithTTL sets the cache lifetime of successfully fetched rules.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithSkipHosts disables robots checking for the given hosts. Used by
// per-site config overrides for sites the operator controls.
func WithSkipHosts(hosts []string) Option {
	return func(c *Cache) {
		for _, host := range hosts {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				c.skipHosts[host] = struct{}{}
			}
		}
	}
}

// WithCrawlDelayObserver registers a callback invoked with the host's
// lowercase name and its published Crawl-delay whenever freshly fetched
// rules carry one. Cache hits do not re-fire the callback.
func WithCrawlDelayObserver(fn func(host string, delay time.Duration)) Option {
	return func(c *Cache) {
		c.delayObserver = fn
	}
}

// withNow replaces the clock. Test hook.
func withNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a robots rules cache for the given user agent.
func NewCache(userAgent string, opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[string]*entry),
		skipHosts: make(map[string]struct{}),
		client:    &http.Client{Timeout: DefaultFetchTimeout},
		userAgent: userAgent,
		ttl:       DefaultTTL,
		errorTTL:  DefaultErrorTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allowed reports whether rawURL may be fetched under the host's
// robots rules. Unparseable URLs are disallowed. A missing robots.txt
// (404) allows everything, which matches the de facto standard; a 5xx
// response disallows everything until the cache entry expires.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	if _, ok := c.skipHosts[strings.ToLower(u.Hostname())]; ok {
		return true
	}

	group, err := c.groupFor(ctx, u)
	if err != nil {
		// Network failure reaching robots.txt: stay permissive, the
		// page fetch itself will fail the same way if the host is down.
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

// CrawlDelay returns the Crawl-delay directive for the URL's host, or
// zero when none is published or the rules are not yet cached.
func (c *Cache) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	group, err := c.groupFor(ctx, u)
	if err != nil {
		return 0
	}
	return group.CrawlDelay
}

// groupFor returns the cached rule group for the URL's host, fetching
// and parsing robots.txt when the cache entry is missing or expired.
func (c *Cache) groupFor(ctx context.Context, u *url.URL) (*robotstxt.Group, error) {
	key := strings.ToLower(u.Scheme + "://" + u.Host)

	c.mu.Lock()
	cached, ok := c.entries[key]
	if ok && c.now().Sub(cached.fetchedAt) < cached.ttl {
		group := cached.group
		c.mu.Unlock()
		return group, nil
	}
	c.mu.Unlock()

	group, ttl, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &entry{group: group, fetchedAt: c.now(), ttl: ttl}
	c.mu.Unlock()

	if c.delayObserver != nil && group.CrawlDelay > 0 {
		c.delayObserver(strings.ToLower(u.Hostname()), group.CrawlDelay)
	}

	return group, nil
}

// fetch downloads and parses robots.txt for one origin.
func (c *Cache) fetch(ctx context.Context, origin string) (*robotstxt.Group, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read robots.txt body: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse robots.txt: %w", err)
	}

	ttl := c.ttl
	if resp.StatusCode >= 500 {
		ttl = c.errorTTL
	}
	return data.FindGroup(c.userAgent), ttl, nil
}
