package model

import "time"

// Stats is a point-in-time snapshot of crawl progress. The scheduler
// emits one periodically through its stats callback; consumers must not
// mutate the maps.
type Stats struct {
	// Queued is the number of tasks waiting in the frontier.
	Queued int `json:"queued"`

	// InFlight is the number of tasks currently held by workers.
	InFlight int `json:"in_flight"`

	// Deferred is the number of tasks waiting out a politeness delay.
	Deferred int `json:"deferred"`

	// Succeeded counts terminal StatusSuccess outcomes.
	Succeeded int `json:"succeeded"`

	// Failed counts terminal StatusFailed outcomes.
	Failed int `json:"failed"`

	// Duplicates counts StatusDuplicate outcomes.
	Duplicates int `json:"duplicates"`

	// LowQuality counts StatusLowQuality outcomes.
	LowQuality int `json:"low_quality"`

	// Discarded counts tasks dropped before fetching.
	Discarded int `json:"discarded"`

	// PerDomainBackoff maps each seen domain to its current backoff factor.
	PerDomainBackoff map[string]float64 `json:"per_domain_backoff,omitempty"`
}

// Summary is the terminal report of a crawl run.
type Summary struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Seeds are the canonicalized seed URLs the run started from.
	Seeds []string `json:"seeds"`

	// StartedAt and FinishedAt bound the run wall-clock time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Cancelled is true when the run was interrupted rather than
	// draining the frontier.
	Cancelled bool `json:"cancelled"`

	// Succeeded, Failed, Duplicates, LowQuality, and Discarded are the
	// final outcome counts.
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
	LowQuality int `json:"low_quality"`
	Discarded  int `json:"discarded"`

	// Domains summarizes per-domain behavior, sorted by domain name.
	Domains []DomainSummary `json:"domains,omitempty"`
}

// DomainSummary reports per-domain crawl behavior for the final report.
type DomainSummary struct {
	// Domain is the lowercase host.
	Domain string `json:"domain"`

	// Succeeded and Failed count outcomes for this domain.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// FailureRatio is the failure share over the rolling outcome window.
	FailureRatio float64 `json:"failure_ratio"`

	// BackoffFactor is the final adaptive delay multiplier.
	BackoffFactor float64 `json:"backoff_factor"`

	// SkippedPaths lists path prefixes permanently skipped during the
	// run (robots or deny patterns).
	SkippedPaths []string `json:"skipped_paths,omitempty"`
}

// TotalPages returns the total number of terminal outcomes in the summary.
func (s *Summary) TotalPages() int {
	return s.Succeeded + s.Failed + s.Duplicates + s.LowQuality + s.Discarded
}

// Elapsed returns the run duration.
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
