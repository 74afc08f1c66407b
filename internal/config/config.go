package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values. Tuned for polite crawling of public
// sites; all of them can be overridden from the CLI or config file.
const (
	// DefaultConcurrency is the number of concurrently outstanding
	// fetches. Per-domain politeness keeps any single host far below
	// this, so the pool mostly overlaps distinct domains.
	DefaultConcurrency = 8

	// DefaultCrawlDepth bounds how many link hops from a seed are
	// followed. Depth 0 means unlimited.
	DefaultCrawlDepth = 10

	// DefaultMaxPages caps fetched pages per run. This prevents runaway
	// crawling on large or infinitely-generating sites.
	DefaultMaxPages = 1000

	// DefaultBaseDelay is the per-domain minimum inter-request interval
	// before the adaptive backoff factor is applied. 1 second is
	// conservative and respectful of server resources.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxRetries bounds retries per URL, so a URL is fetched at
	// most DefaultMaxRetries+1 times.
	DefaultMaxRetries = 3

	// DefaultBackoffGrowth multiplies a domain's backoff factor on each
	// failure.
	DefaultBackoffGrowth = 1.6

	// DefaultBackoffDecay divides a domain's backoff factor on each
	// success.
	DefaultBackoffDecay = 1.3

	// DefaultBackoffCap bounds the backoff factor from above.
	DefaultBackoffCap = 10.0

	// DefaultFuzzyWindow is how many recent pages the fuzzy duplicate
	// check scans. Bounded so dedup stays O(window), never O(table).
	DefaultFuzzyWindow = 500

	// DefaultFuzzyThreshold is the Jaccard similarity above which two
	// pages are considered duplicates.
	DefaultFuzzyThreshold = 0.8

	// DefaultLoopRepeats is how many repetitions of a path segment
	// cycle classify a URL as a crawl trap.
	DefaultLoopRepeats = 4

	// DefaultGlobalRate is the total requests-per-second ceiling across
	// all domains. Zero disables the ceiling.
	DefaultGlobalRate = 20.0

	// DefaultUserAgent identifies the crawler in HTTP requests. A
	// descriptive User-Agent lets operators identify crawler traffic.
	DefaultUserAgent = "spindle/1.0 (+https://github.com/nao1215/spindle)"

	// DefaultMaxBodySize limits the response body size read per page.
	// 5MB covers most HTML pages while preventing memory exhaustion.
	DefaultMaxBodySize = 5 * 1024 * 1024

	// DefaultGraceTimeout is how long in-flight fetches may finish
	// after a cancellation signal.
	DefaultGraceTimeout = 10 * time.Second

	// AppName is the application name used for XDG directory paths.
	AppName = "spindle"
)

// Config holds all crawl settings. It is populated from CLI flags and
// the optional config file, then passed through the application by
// value injection rather than global state.
type Config struct {
	// Seeds are the starting URLs. At least one is required.
	Seeds []string

	// ScopeDomains restricts discovery to these domains and their
	// subdomains. Empty means the seed domains are used.
	ScopeDomains []string

	// Concurrency is the worker pool size.
	Concurrency int

	// CrawlDepth bounds link hops from a seed. Zero means unlimited.
	CrawlDepth int

	// MaxPages caps fetched pages per run. Zero means unlimited.
	MaxPages int

	// BaseDelay is the per-domain minimum inter-request interval.
	BaseDelay time.Duration

	// MaxRetries bounds retries per URL.
	MaxRetries int

	// BackoffGrowth, BackoffDecay, and BackoffCap tune the adaptive
	// per-domain rate limit.
	BackoffGrowth float64
	BackoffDecay  float64
	BackoffCap    float64

	// FuzzyWindow and FuzzyThreshold tune near-duplicate detection.
	FuzzyWindow    int
	FuzzyThreshold float64

	// LoopRepeats is the path-cycle repetition count treated as a trap.
	LoopRepeats int

	// GlobalRate caps total requests per second across all domains.
	// Zero disables the cap.
	GlobalRate float64

	// UserAgent is sent with every HTTP request.
	UserAgent string

	// MaxBodySize is the response read limit in bytes.
	MaxBodySize int64

	// GraceTimeout is the in-flight allowance after cancellation.
	GraceTimeout time.Duration

	// IgnoreRobots disables robots.txt checking entirely. Per-site
	// overrides can disable it for individual hosts instead.
	IgnoreRobots bool

	// Verbose enables slog.LevelDebug output.
	Verbose bool

	// ConfigFilePath is the explicit config file location. If empty,
	// .spindle is searched in the current and home directories.
	ConfigFilePath string

	// SiteConfigs holds per-site overrides loaded from the config file.
	SiteConfigs *File

	// JSONReport and MarkdownReport select the summary output format.
	// Mutually exclusive; default is human-readable text.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile writes the summary to a file instead of stdout.
	ReportFile string

	// DBDir is the SQLite database directory. Defaults to the XDG data
	// directory.
	DBDir string
}

// NewConfig creates a Config with default values. Many defaults are
// non-zero, so relying on zero values would be wrong; this constructor
// also documents what the defaults are.
func NewConfig() *Config {
	return &Config{
		Concurrency:    DefaultConcurrency,
		CrawlDepth:     DefaultCrawlDepth,
		MaxPages:       DefaultMaxPages,
		BaseDelay:      DefaultBaseDelay,
		MaxRetries:     DefaultMaxRetries,
		BackoffGrowth:  DefaultBackoffGrowth,
		BackoffDecay:   DefaultBackoffDecay,
		BackoffCap:     DefaultBackoffCap,
		FuzzyWindow:    DefaultFuzzyWindow,
		FuzzyThreshold: DefaultFuzzyThreshold,
		LoopRepeats:    DefaultLoopRepeats,
		GlobalRate:     DefaultGlobalRate,
		UserAgent:      DefaultUserAgent,
		MaxBodySize:    DefaultMaxBodySize,
		GraceTimeout:   DefaultGraceTimeout,
		DBDir:          XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for spindle.
// On Linux: ~/.local/share/spindle
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for spindle.
// On Linux: ~/.config/spindle
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first error found.
// Called once after CLI parsing, before the crawl begins, so invalid
// setups fail fast with a clear message.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return ErrNoSeeds
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.BaseDelay < 0 {
		return ErrInvalidBaseDelay
	}
	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	if c.BackoffGrowth <= 1 || c.BackoffDecay <= 1 {
		return ErrInvalidBackoffRates
	}
	if c.BackoffCap < 1 {
		return ErrInvalidBackoffCap
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return ErrInvalidFuzzyThreshold
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}
