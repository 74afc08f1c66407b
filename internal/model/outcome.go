package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Status classifies the result of a single fetch attempt or routing
// decision. The scheduler records exactly one terminal status per task.
type Status string

// Fetch outcome statuses.
const (
	// StatusSuccess means the page was fetched and its content accepted.
	StatusSuccess Status = "success"

	// StatusRetry means the attempt failed with a retryable error and the
	// task will be re-queued unless retries are exhausted.
	StatusRetry Status = "retry"

	// StatusFailed means the attempt failed permanently.
	StatusFailed Status = "failed"

	// StatusDuplicate means the content matched an already-stored page,
	// either exactly (hash) or approximately (similarity).
	StatusDuplicate Status = "duplicate"

	// StatusLowQuality means the page was fetched but its content fell
	// below the quality floor. Links are still expanded.
	StatusLowQuality Status = "low_quality"

	// StatusEmpty means the response carried no usable content.
	StatusEmpty Status = "empty"

	// StatusDiscarded means the task was dropped before fetching,
	// e.g. by a permanent domain skip or the loop-trap detector.
	StatusDiscarded Status = "discarded"
)

// FetchOutcome is the classified result of one fetch attempt. The fetch
// boundary produces exactly one outcome per attempt; the scheduler
// consumes it, routes it, and discards it.
type FetchOutcome struct {
	// Status is the fetch-level classification. The dedup engine may
	// later reclassify a success as a duplicate.
	Status Status `json:"status"`

	// ContentHash is the SHA-256 of the raw extracted text.
	ContentHash string `json:"content_hash,omitempty"`

	// NormalizedHash is the SHA-256 of the whitespace-collapsed text.
	// Exact deduplication compares this hash.
	NormalizedHash string `json:"normalized_hash,omitempty"`

	// VisualHash is an optional perceptual hash of a page screenshot,
	// provided by fetchers that render pages. Zero means absent.
	// It is advisory only and never causes deduplication by itself.
	VisualHash uint64 `json:"visual_hash,omitempty"`

	// HTTPStatus is the HTTP response status code, or 0 if the request
	// never produced a response.
	HTTPStatus int `json:"http_status,omitempty"`

	// ErrorKind classifies the failure when Status is not a success.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Title is the page title, when one could be extracted.
	Title string `json:"title,omitempty"`

	// Text is the normalized extracted text. Used for fuzzy
	// deduplication and persisted (truncated) as the page snapshot.
	Text string `json:"-"`

	// ContentType is the response MIME type without parameters.
	ContentType string `json:"content_type,omitempty"`

	// DiscoveredLinks lists raw URLs found on the page, in document
	// order. They are not canonicalized; that is the discoverer's job.
	DiscoveredLinks []string `json:"discovered_links,omitempty"`

	// Retryable reports whether the failure is worth another attempt.
	Retryable bool `json:"retryable"`

	// FetchedAt is when the fetch attempt completed.
	FetchedAt time.Time `json:"fetched_at"`
}

// ComputeHashes sets ContentHash and NormalizedHash from Text.
// Call after setting Text. Empty text leaves both hashes empty.
func (o *FetchOutcome) ComputeHashes() {
	if o.Text == "" {
		o.ContentHash = ""
		o.NormalizedHash = ""
		return
	}
	o.ContentHash = HashText(o.Text)
	o.NormalizedHash = HashText(NormalizeText(o.Text))
}

// HashText returns the hex-encoded SHA-256 of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeText collapses all runs of whitespace to single spaces,
// trims the result, and applies Unicode NFC so canonically equivalent
// text hashes identically. Two pages that differ only in whitespace or
// composition form produce the same normalized hash.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
