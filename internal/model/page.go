package model

import "time"

// MaxSnapshotSize is the maximum size of the persisted text snapshot.
// Larger snapshots are truncated to keep the database bounded.
const MaxSnapshotSize = 512 * 1024 // 512 KB

// StoredPage is the persisted record of a crawled URL. Rows are keyed by
// URL; the store enforces that at most one row per content hash carries
// StatusSuccess. Later arrivals with the same hash are stored as
// StatusDuplicate referencing the original URL.
type StoredPage struct {
	// URL is the canonical URL, unique per row.
	URL string `json:"url"`

	// RunID identifies the crawl run that produced this row.
	RunID string `json:"run_id"`

	// Status is the terminal classification for this URL.
	Status Status `json:"status"`

	// ContentHash is the SHA-256 of the raw extracted text.
	ContentHash string `json:"content_hash,omitempty"`

	// NormalizedHash is the SHA-256 of the whitespace-collapsed text.
	NormalizedHash string `json:"normalized_hash,omitempty"`

	// VisualHash is the optional perceptual hash. Zero means absent.
	VisualHash uint64 `json:"visual_hash,omitempty"`

	// HTTPStatus is the final HTTP response status code.
	HTTPStatus int `json:"http_status,omitempty"`

	// Title is the extracted page title, if any.
	Title string `json:"title,omitempty"`

	// Snapshot is the normalized extracted text, truncated to
	// MaxSnapshotSize. Fuzzy deduplication shingles this field.
	Snapshot string `json:"snapshot,omitempty"`

	// Depth is the link distance from the seed.
	Depth int `json:"depth"`

	// DuplicateOf is the URL of the original page when Status is
	// StatusDuplicate. Empty otherwise.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// FailReason records the classified error for failed rows.
	FailReason string `json:"fail_reason,omitempty"`

	// ScrapedAt is when the page was fetched. Earliest ScrapedAt wins
	// the fuzzy-dedup tie-break for "which page is the original".
	ScrapedAt time.Time `json:"scraped_at"`
}

// TruncateSnapshot enforces MaxSnapshotSize on the snapshot.
// Call after setting Snapshot.
func (p *StoredPage) TruncateSnapshot() {
	if len(p.Snapshot) > MaxSnapshotSize {
		p.Snapshot = p.Snapshot[:MaxSnapshotSize]
	}
}
