package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nao1215/spindle/internal/config"
	"github.com/nao1215/spindle/internal/dedup"
	"github.com/nao1215/spindle/internal/discover"
	"github.com/nao1215/spindle/internal/fetch"
	"github.com/nao1215/spindle/internal/frontier"
	"github.com/nao1215/spindle/internal/log"
	"github.com/nao1215/spindle/internal/model"
	"github.com/nao1215/spindle/internal/policy"
	"github.com/nao1215/spindle/internal/report"
	"github.com/nao1215/spindle/internal/robots"
	"github.com/nao1215/spindle/internal/scheduler"
	"github.com/nao1215/spindle/internal/store"
	"github.com/spf13/cobra"
)

// maxCrawlDelay bounds the honored robots.txt Crawl-delay so a
// misconfigured directive cannot stall a domain indefinitely.
const maxCrawlDelay = 5 * time.Minute

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url> [url...]",
		Short: "Crawl one or more sites starting from seed URLs",
		Long: `Crawl fetches pages starting from the given seed URLs, following
discovered links within scope. It adapts to each server's behavior:
slow or failing domains are backed off, repetitive URL patterns are cut
off as crawl traps, and near-duplicate pages are detected and skipped.

Results are stored in a local SQLite database and a run summary is
printed when the crawl finishes.

Examples:
  # Crawl a single site
  spindle crawl https://example.com/

  # Crawl with higher concurrency and a page budget
  spindle crawl -n 16 -p 500 https://example.com/

  # Restrict discovery to specific domains
  spindle crawl --scope example.com,docs.example.com https://example.com/

  # Output a JSON report to a file
  spindle crawl --json -o report.json https://example.com/

  # Use a custom configuration file
  spindle crawl -c myconfig.yaml https://example.com/

Configuration file (.spindle) example:
  sites:
    example.com:
      depth: 5
      extraDelayMillis: 500
      denyPatterns:
        - "/admin/*"
      headers:
        Authorization: "Bearer token"`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Crawl behavior flags
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Number of concurrent fetch workers")
	cmd.Flags().IntP("depth", "d", config.DefaultCrawlDepth,
		"Maximum link hops from a seed (0 = unlimited)")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of pages to fetch (0 = unlimited)")
	cmd.Flags().DurationP("delay", "t", config.DefaultBaseDelay,
		"Minimum delay between requests to the same domain")
	cmd.Flags().IntP("retries", "r", config.DefaultMaxRetries,
		"Maximum retries per URL")
	cmd.Flags().Float64("rate", config.DefaultGlobalRate,
		"Global requests-per-second ceiling across all domains (0 = unlimited)")
	cmd.Flags().StringSlice("scope", nil,
		"Domains to stay within (default: the seed domains)")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().Bool("ignore-robots", false,
		"Skip robots.txt checking entirely (use only on sites you operate)")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .spindle in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging with credential sanitization
	logger := log.NewSecureLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	return runCrawl(ctx, cfg, logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error

	cfg.Concurrency, err = cmd.Flags().GetInt("concurrency")
	if err != nil {
		return nil, err
	}

	cfg.CrawlDepth, err = cmd.Flags().GetInt("depth")
	if err != nil {
		return nil, err
	}

	cfg.MaxPages, err = cmd.Flags().GetInt("max-pages")
	if err != nil {
		return nil, err
	}

	cfg.BaseDelay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return nil, err
	}

	cfg.MaxRetries, err = cmd.Flags().GetInt("retries")
	if err != nil {
		return nil, err
	}

	cfg.GlobalRate, err = cmd.Flags().GetFloat64("rate")
	if err != nil {
		return nil, err
	}

	cfg.ScopeDomains, err = cmd.Flags().GetStringSlice("scope")
	if err != nil {
		return nil, err
	}

	cfg.UserAgent, err = cmd.Flags().GetString("user-agent")
	if err != nil {
		return nil, err
	}

	cfg.IgnoreRobots, err = cmd.Flags().GetBool("ignore-robots")
	if err != nil {
		return nil, err
	}

	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// Load site-specific configurations from config file.
	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use empty config if no file found.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)

	if configPath != "" {
		cfg.SiteConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if explicitConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	} else {
		cfg.SiteConfigs = &config.File{
			Sites: make(map[string]config.SiteConfig),
		}
	}

	cfg.JSONReport, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}

	cfg.ReportFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Seeds = args

	return cfg, nil
}

// runCrawl wires the crawl components together and executes the run.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting crawl",
		"seeds", cfg.Seeds,
		"concurrency", cfg.Concurrency,
		"maxPages", cfg.MaxPages,
	)

	db, err := store.Open(cfg.DBDir, store.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "dir", cfg.DBDir)

	scope := cfg.ScopeDomains
	if len(scope) == 0 {
		scope = seedDomains(cfg.Seeds)
	}

	tracker := policy.NewTracker(
		policy.WithBaseDelay(cfg.BaseDelay),
		policy.WithBackoffRates(cfg.BackoffGrowth, cfg.BackoffDecay, cfg.BackoffCap),
		policy.WithLoopDetection(policy.DefaultPathHistorySize, cfg.LoopRepeats),
		policy.WithExtraDelays(siteExtraDelays(cfg, scope)),
	)

	discoverOpts := []discover.Option{
		discover.WithScope(scope),
		discover.WithDenyPatterns(cfg.SiteConfigs.AllDenyPatterns()),
		discover.WithAdvisor(tracker),
		discover.WithMaxDepth(cfg.CrawlDepth),
		discover.WithDepthOverrides(siteDepthOverrides(cfg, scope)),
	}
	if !cfg.IgnoreRobots {
		// A published Crawl-delay raises the domain's politeness
		// interval to at least the directive's value.
		robotsCache := robots.NewCache(cfg.UserAgent,
			robots.WithSkipHosts(cfg.SiteConfigs.SkipRobotsHosts()),
			robots.WithCrawlDelayObserver(func(host string, delay time.Duration) {
				if delay > maxCrawlDelay {
					delay = maxCrawlDelay
				}
				if extra := delay - cfg.BaseDelay; extra > 0 {
					tracker.SetExtraDelay(host, extra)
				}
			}),
		)
		discoverOpts = append(discoverOpts, discover.WithRobots(robotsCache))
	}

	fetchOpts := []fetch.HTTPOption{
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
	}
	if headers := siteHeaders(cfg, scope); len(headers) > 0 {
		fetchOpts = append(fetchOpts, fetch.WithHeaders(headers))
	}

	deps := scheduler.Deps{
		Frontier:   frontier.New(),
		Tracker:    tracker,
		Fetcher:    fetch.NewHTTPFetcher(fetchOpts...),
		Dedup: dedup.NewEngine(db,
			dedup.WithWindowSize(cfg.FuzzyWindow),
			dedup.WithSimilarityThreshold(cfg.FuzzyThreshold),
		),
		Store:      db,
		Discoverer: discover.New(discoverOpts...),
	}

	schedOpts := []scheduler.Option{
		scheduler.WithConcurrency(cfg.Concurrency),
		scheduler.WithMaxRetries(cfg.MaxRetries),
		scheduler.WithGraceTimeout(cfg.GraceTimeout),
		scheduler.WithMaxPages(cfg.MaxPages),
		scheduler.WithLogger(logger),
	}
	if cfg.GlobalRate > 0 {
		burst := max(int(cfg.GlobalRate), 1)
		schedOpts = append(schedOpts, scheduler.WithGlobalRate(cfg.GlobalRate, burst))
	}
	if cfg.Verbose {
		schedOpts = append(schedOpts, scheduler.WithStats(scheduler.DefaultStatsInterval, func(st model.Stats) {
			fmt.Fprintf(os.Stderr, "progress: queued=%d in-flight=%d succeeded=%d failed=%d duplicates=%d\n",
				st.Queued, st.InFlight, st.Succeeded, st.Failed, st.Duplicates)
		}))
	}

	sched, err := scheduler.New(deps, schedOpts...)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	fmt.Printf("Crawling %s...\n", strings.Join(cfg.Seeds, ", "))
	startTime := time.Now()

	summary, err := sched.Run(ctx, cfg.Seeds)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	fmt.Printf("Crawl completed in %s\n", time.Since(startTime).Round(time.Millisecond))

	// Persist the summary with a detached context so a cancelled run
	// still records its partial results.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := db.SaveSummary(saveCtx, summary); err != nil {
		logger.Error("failed to save run summary", "runID", summary.RunID, "error", err)
	}

	return outputSummary(cfg, summary)
}

// seedDomains extracts the unique lowercase hosts from the seed URLs.
// Unparseable seeds are skipped; the scheduler reports them later.
func seedDomains(seeds []string) []string {
	seen := make(map[string]struct{})
	var domains []string
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if _, ok := seen[host]; !ok {
			seen[host] = struct{}{}
			domains = append(domains, host)
		}
	}
	return domains
}

// siteExtraDelays collects configured per-site politeness additions,
// keyed by domain.
func siteExtraDelays(cfg *config.Config, scope []string) map[string]time.Duration {
	delays := make(map[string]time.Duration)
	for _, domain := range scope {
		site := cfg.SiteConfigs.GetSiteConfig(domain)
		if site.ExtraDelayMillis > 0 {
			delays[domain] = time.Duration(site.ExtraDelayMillis) * time.Millisecond
		}
	}
	return delays
}

// siteDepthOverrides collects configured per-site depth limits, keyed
// by domain. Sites without an override fall back to the global depth.
func siteDepthOverrides(cfg *config.Config, scope []string) map[string]int {
	overrides := make(map[string]int)
	for _, domain := range scope {
		site := cfg.SiteConfigs.GetSiteConfig(domain)
		if site.Depth > 0 {
			overrides[domain] = site.Depth
		}
	}
	return overrides
}

// siteHeaders merges the configured headers of every in-scope site.
// Later sites win on key collisions, which in practice never collide
// because headers are keyed per site.
func siteHeaders(cfg *config.Config, scope []string) map[string]string {
	headers := make(map[string]string)
	for k, v := range cfg.SiteConfigs.Defaults.Headers {
		headers[k] = v
	}
	for _, domain := range scope {
		site := cfg.SiteConfigs.GetSiteConfig(domain)
		for k, v := range site.Headers {
			headers[k] = v
		}
	}
	return headers
}

// outputSummary writes the run summary in the requested format.
func outputSummary(cfg *config.Config, summary *model.Summary) error {
	var output *os.File
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// 0600: reports can contain URLs with query strings that the
		// operator may not want world-readable.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	} else {
		output = os.Stdout
	}

	var writer report.Writer
	switch {
	case cfg.JSONReport:
		writer = report.NewVersionedJSONWriter(output, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		writer = report.NewMarkdownWriter(output)
	default:
		writer = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}

	_, err := writer.Write(summary)
	return err
}
