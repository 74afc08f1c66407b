package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/spindle/internal/model"
)

// Store provides SQLite-based storage for crawl data.
// It manages connection pooling and enforces the page uniqueness
// invariant described in the package documentation.
type Store struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent
	// performance. Recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Store at the specified directory.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, "spindle.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating
	// new files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports only one writer; multiple connections just queue
	// behind the write lock and risk SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	-- Pages store one row per canonical URL
	CREATE TABLE IF NOT EXISTS pages (
		url TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		content_hash TEXT,
		normalized_hash TEXT,
		visual_hash INTEGER DEFAULT 0,
		http_status INTEGER,
		title TEXT,
		snapshot TEXT,
		depth INTEGER DEFAULT 0,
		duplicate_of TEXT,
		fail_reason TEXT,
		scraped_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pages_normalized_hash ON pages(normalized_hash);
	CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status);
	CREATE INDEX IF NOT EXISTS idx_pages_scraped_at ON pages(scraped_at);
	CREATE INDEX IF NOT EXISTS idx_pages_run ON pages(run_id);

	-- Run summaries store complete terminal reports as JSON
	CREATE TABLE IF NOT EXISTS run_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		summary_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_summaries_run ON run_summaries(run_id);
	CREATE INDEX IF NOT EXISTS idx_summaries_finished ON run_summaries(finished_at);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// UpsertPage inserts or updates a page row.
//
// The page uniqueness invariant is enforced here as the last line of
// defense: if the incoming page claims success but another URL already
// holds a success row with the same normalized hash, the incoming page
// is demoted to a duplicate referencing that row. The dedup engine
// normally classifies this before persisting. The hash lookup and the
// upsert run in a single transaction so two workers persisting
// identical content concurrently cannot both pass the check.
func (s *Store) UpsertPage(ctx context.Context, page *model.StoredPage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin page transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if page.Status == model.StatusSuccess && page.NormalizedHash != "" {
		lookup := `SELECT url FROM pages
		WHERE normalized_hash = ? AND status = ?
		ORDER BY scraped_at ASC
		LIMIT 1`

		var originalURL string
		err := tx.QueryRowContext(ctx, lookup, page.NormalizedHash, string(model.StatusSuccess)).Scan(&originalURL)
		switch {
		case err == sql.ErrNoRows:
			// First success with this hash.
		case err != nil:
			return fmt.Errorf("failed to look up normalized hash: %w", err)
		case originalURL != page.URL:
			page.Status = model.StatusDuplicate
			page.DuplicateOf = originalURL
		}
	}

	query := `
	INSERT INTO pages (url, run_id, status, content_hash, normalized_hash, visual_hash,
	                   http_status, title, snapshot, depth, duplicate_of, fail_reason, scraped_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		run_id = excluded.run_id,
		status = excluded.status,
		content_hash = excluded.content_hash,
		normalized_hash = excluded.normalized_hash,
		visual_hash = excluded.visual_hash,
		http_status = excluded.http_status,
		title = excluded.title,
		snapshot = excluded.snapshot,
		depth = excluded.depth,
		duplicate_of = excluded.duplicate_of,
		fail_reason = excluded.fail_reason,
		scraped_at = excluded.scraped_at
	`

	_, err = tx.ExecContext(ctx, query,
		page.URL,
		page.RunID,
		string(page.Status),
		page.ContentHash,
		page.NormalizedHash,
		int64(page.VisualHash),
		page.HTTPStatus,
		page.Title,
		page.Snapshot,
		page.Depth,
		page.DuplicateOf,
		page.FailReason,
		formatTimestamp(page.ScrapedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit page: %w", err)
	}
	return nil
}

// pageColumns is the SELECT column list matching scanPage.
const pageColumns = `url, run_id, status, content_hash, normalized_hash, visual_hash,
	http_status, title, snapshot, depth, duplicate_of, fail_reason, scraped_at`

// scanPage scans one pages row.
func scanPage(row interface{ Scan(...any) error }) (*model.StoredPage, error) {
	var page model.StoredPage
	var status string
	var visualHash int64
	var scrapedAt string

	err := row.Scan(
		&page.URL,
		&page.RunID,
		&status,
		&page.ContentHash,
		&page.NormalizedHash,
		&visualHash,
		&page.HTTPStatus,
		&page.Title,
		&page.Snapshot,
		&page.Depth,
		&page.DuplicateOf,
		&page.FailReason,
		&scrapedAt,
	)
	if err != nil {
		return nil, err
	}

	page.Status = model.Status(status)
	page.VisualHash = uint64(visualHash)
	page.ScrapedAt = parseTimestamp(scrapedAt)
	return &page, nil
}

// GetPage retrieves a page by its canonical URL.
// Returns nil when no row exists.
func (s *Store) GetPage(ctx context.Context, url string) (*model.StoredPage, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE url = ?`

	page, err := scanPage(s.db.QueryRowContext(ctx, query, url))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return page, nil
}

// FindByHash returns the success row with the given normalized hash, or
// nil when none exists. This is the exact-dedup index lookup.
func (s *Store) FindByHash(ctx context.Context, normalizedHash string) (*model.StoredPage, error) {
	query := `SELECT ` + pageColumns + ` FROM pages
	WHERE normalized_hash = ? AND status = ?
	ORDER BY scraped_at ASC
	LIMIT 1`

	page, err := scanPage(s.db.QueryRowContext(ctx, query, normalizedHash, string(model.StatusSuccess)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find page by hash: %w", err)
	}
	return page, nil
}

// Recent returns up to limit success pages ordered newest first.
// This is the bounded window the fuzzy dedup stage scans.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.StoredPage, error) {
	query := `SELECT ` + pageColumns + ` FROM pages
	WHERE status = ?
	ORDER BY scraped_at DESC
	LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, string(model.StatusSuccess), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent pages: %w", err)
	}
	defer rows.Close()

	var pages []model.StoredPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, *page)
	}

	return pages, rows.Err()
}

// CountByStatus returns the number of pages per status for a run.
// Pass an empty runID to count across all runs.
func (s *Store) CountByStatus(ctx context.Context, runID string) (map[model.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM pages`
	args := make([]any, 0, 1)
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[model.Status(status)] = count
	}

	return counts, rows.Err()
}

// SaveSummary persists a terminal run summary as JSON.
func (s *Store) SaveSummary(ctx context.Context, summary *model.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}

	query := `
	INSERT INTO run_summaries (run_id, started_at, finished_at, summary_json)
	VALUES (?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		summary.RunID,
		formatTimestamp(summary.StartedAt),
		formatTimestamp(summary.FinishedAt),
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}

	return nil
}

// ListSummaries returns stored run summaries, newest first.
func (s *Store) ListSummaries(ctx context.Context, limit int) ([]*model.Summary, error) {
	query := `
	SELECT summary_json FROM run_summaries
	ORDER BY finished_at DESC
	LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*model.Summary
	for rows.Next() {
		var summaryJSON string
		if err := rows.Scan(&summaryJSON); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}

		var summary model.Summary
		if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
			continue // Skip malformed summaries
		}
		summaries = append(summaries, &summary)
	}

	return summaries, rows.Err()
}

// timestampFormats contains the timestamp formats SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// formatTimestamp renders a time for storage. Zero times become the
// current time so ordering stays meaningful.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp attempts to parse a timestamp string using multiple
// formats. SQLite may return timestamps in different formats depending
// on configuration. If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
