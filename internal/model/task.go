package model

import (
	"net/url"
	"strings"
	"time"
)

// CrawlTask is a single unit of crawl work. Tasks are owned exclusively
// by the frontier while queued; ownership transfers to a worker when the
// task is popped. A task is never shared between two workers.
type CrawlTask struct {
	// URL is the canonicalized URL to fetch. Canonicalization happens
	// once, in the discover package, before the task enters the frontier.
	URL string `json:"url"`

	// Priority orders tasks in the frontier. Lower values are scheduled
	// sooner. Ties are broken by insertion order (FIFO).
	Priority float64 `json:"priority"`

	// Depth is the link distance from the seed that discovered this URL.
	// Seeds have depth 0.
	Depth int `json:"depth"`

	// ParentContentType is the content type of the page this URL was
	// discovered on. Empty for seeds.
	ParentContentType string `json:"parent_content_type,omitempty"`

	// AttemptCount is the number of fetch attempts already made.
	// Zero for a task that has never been fetched.
	AttemptCount int `json:"attempt_count"`

	// DiscoveredAt is when the URL entered the frontier for the first time.
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Domain returns the lowercase host component of the task URL.
// Returns an empty string if the URL does not parse; callers treat an
// empty domain as unfetchable.
func (t CrawlTask) Domain() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Path returns the path component of the task URL, normalized so the
// empty path and "/" are equivalent. Used by the loop-trap detector.
func (t CrawlTask) Path() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
