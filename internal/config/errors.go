package config

import "errors"

// Configuration validation errors. Package-level sentinel errors let
// callers use errors.Is for programmatic handling while keeping
// human-readable messages.
var (
	// ErrNoSeeds is returned when no seed URL is given.
	ErrNoSeeds = errors.New("no seed URLs specified: provide at least one URL to crawl")

	// ErrInvalidConcurrency is returned when the worker count is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidBaseDelay is returned when the politeness delay is negative.
	ErrInvalidBaseDelay = errors.New("invalid base delay: must be non-negative")

	// ErrInvalidMaxRetries is returned when the retry budget is negative.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be non-negative")

	// ErrInvalidBackoffRates is returned when growth or decay is not above 1.
	ErrInvalidBackoffRates = errors.New("invalid backoff rates: growth and decay must be greater than 1")

	// ErrInvalidBackoffCap is returned when the cap is below the 1.0 floor.
	ErrInvalidBackoffCap = errors.New("invalid backoff cap: must be at least 1.0")

	// ErrInvalidFuzzyThreshold is returned when the similarity threshold
	// is outside (0, 1].
	ErrInvalidFuzzyThreshold = errors.New("invalid fuzzy threshold: must be in (0, 1]")

	// ErrInvalidMaxBodySize is returned when the body limit is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and
	// --markdown are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
