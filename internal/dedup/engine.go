package dedup

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/nao1215/spindle/internal/model"
)

// Default tuning values.
const (
	// DefaultWindowSize is how many recent success rows the fuzzy stage
	// compares against.
	DefaultWindowSize = 500

	// DefaultSimilarityThreshold is the Jaccard similarity above which
	// two pages are considered duplicates.
	DefaultSimilarityThreshold = 0.8

	// DefaultShingleSize is the token count per shingle.
	DefaultShingleSize = 4

	// DefaultVisualDistance is the Hamming distance between perceptual
	// hashes above which a content change is flagged.
	DefaultVisualDistance = 10
)

// PageIndex is the slice of the persistence gateway the engine needs:
// a hash lookup and a bounded recency window.
type PageIndex interface {
	// FindByHash returns the stored success page with the given
	// normalized hash, or nil when none exists.
	FindByHash(ctx context.Context, normalizedHash string) (*model.StoredPage, error)

	// Recent returns up to limit success pages ordered by recency,
	// newest first.
	Recent(ctx context.Context, limit int) ([]model.StoredPage, error)
}

// Classification is the engine's verdict on one fetch outcome.
type Classification struct {
	// Duplicate is true when the content matches a stored page.
	Duplicate bool

	// OriginalURL is the stored page the content duplicates. Empty when
	// Duplicate is false.
	OriginalURL string

	// Method records which stage decided: "exact" or "fuzzy". Empty
	// when Duplicate is false.
	Method string

	// Similarity is the Jaccard similarity for fuzzy matches, 1.0 for
	// exact matches.
	Similarity float64
}

// Engine performs exact and fuzzy duplicate classification.
type Engine struct {
	index      PageIndex
	windowSize int
	threshold  float64
	shingleLen int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWindowSize bounds the fuzzy comparison window.
func WithWindowSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.windowSize = n
		}
	}
}

// WithSimilarityThreshold sets the Jaccard duplicate threshold.
func WithSimilarityThreshold(th float64) EngineOption {
	return func(e *Engine) {
		if th > 0 && th <= 1 {
			e.threshold = th
		}
	}
}

// WithShingleSize sets the token count per shingle.
func WithShingleSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.shingleLen = n
		}
	}
}

// NewEngine creates an Engine backed by the given page index.
func NewEngine(index PageIndex, opts ...EngineOption) *Engine {
	e := &Engine{
		index:      index,
		windowSize: DefaultWindowSize,
		threshold:  DefaultSimilarityThreshold,
		shingleLen: DefaultShingleSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify decides whether the outcome's content duplicates a stored
// page. url is the canonical URL being classified; a stored row for the
// same URL never counts as a duplicate of itself (re-crawls update in
// place).
func (e *Engine) Classify(ctx context.Context, url string, outcome *model.FetchOutcome) (Classification, error) {
	// Exact stage: normalized hash index lookup.
	if outcome.NormalizedHash != "" {
		stored, err := e.index.FindByHash(ctx, outcome.NormalizedHash)
		if err != nil {
			return Classification{}, fmt.Errorf("exact dedup lookup: %w", err)
		}
		if stored != nil && stored.URL != url {
			return Classification{
				Duplicate:   true,
				OriginalURL: stored.URL,
				Method:      "exact",
				Similarity:  1.0,
			}, nil
		}
	}

	// Fuzzy stage: bounded recent-window Jaccard comparison.
	text := model.NormalizeText(outcome.Text)
	if text == "" {
		return Classification{}, nil
	}
	candidate := shingle(text, e.shingleLen)
	if len(candidate) == 0 {
		return Classification{}, nil
	}

	recent, err := e.index.Recent(ctx, e.windowSize)
	if err != nil {
		return Classification{}, fmt.Errorf("fuzzy dedup window: %w", err)
	}

	var (
		bestURL string
		bestAt  time.Time
		bestSim float64
		found   bool
	)
	for _, page := range recent {
		if page.URL == url || page.Snapshot == "" {
			continue
		}
		sim := jaccard(candidate, shingle(page.Snapshot, e.shingleLen))
		if sim <= e.threshold {
			continue
		}
		// Earliest scraped-at wins the original slot when several
		// stored pages clear the threshold.
		if !found || page.ScrapedAt.Before(bestAt) {
			found = true
			bestURL = page.URL
			bestAt = page.ScrapedAt
			bestSim = sim
		}
	}

	if !found {
		return Classification{}, nil
	}
	return Classification{
		Duplicate:   true,
		OriginalURL: bestURL,
		Method:      "fuzzy",
		Similarity:  bestSim,
	}, nil
}

// VisualChanged reports whether two perceptual hashes differ enough to
// flag a content-change event. Zero hashes mean "no screenshot" and
// never flag. Advisory only.
func VisualChanged(previous, current uint64) bool {
	if previous == 0 || current == 0 {
		return false
	}
	return bits.OnesCount64(previous^current) > DefaultVisualDistance
}
