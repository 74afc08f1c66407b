package dedup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/spindle/internal/model"
)

// fakeIndex is an in-memory PageIndex for engine tests.
type fakeIndex struct {
	byHash map[string]*model.StoredPage
	recent []model.StoredPage
}

func (f *fakeIndex) FindByHash(_ context.Context, hash string) (*model.StoredPage, error) {
	return f.byHash[hash], nil
}

func (f *fakeIndex) Recent(_ context.Context, limit int) ([]model.StoredPage, error) {
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

// TestExactDedup tests hash-index classification.
func TestExactDedup(t *testing.T) {
	t.Parallel()

	outcome := &model.FetchOutcome{Text: "identical page body text"}
	outcome.ComputeHashes()

	index := &fakeIndex{
		byHash: map[string]*model.StoredPage{
			outcome.NormalizedHash: {
				URL:    "http://example.com/original",
				Status: model.StatusSuccess,
			},
		},
	}
	engine := NewEngine(index)

	t.Run("different URL classifies duplicate", func(t *testing.T) {
		t.Parallel()

		got, err := engine.Classify(context.Background(), "http://example.com/copy", outcome)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if !got.Duplicate {
			t.Fatal("identical hash with different URL should be duplicate")
		}
		if got.Method != "exact" {
			t.Errorf("method = %q, want exact", got.Method)
		}
		if got.OriginalURL != "http://example.com/original" {
			t.Errorf("original = %q", got.OriginalURL)
		}
	})

	t.Run("same URL is not its own duplicate", func(t *testing.T) {
		t.Parallel()

		got, err := engine.Classify(context.Background(), "http://example.com/original", outcome)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if got.Duplicate {
			t.Error("re-crawl of the same URL should not classify duplicate")
		}
	})
}

// TestFuzzyDedup tests bounded-window similarity classification.
func TestFuzzyDedup(t *testing.T) {
	t.Parallel()

	base := "the quick brown fox jumps over the lazy dog again and again every single day"
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	index := &fakeIndex{
		byHash: map[string]*model.StoredPage{},
		recent: []model.StoredPage{
			{URL: "http://example.com/newer", Snapshot: base, ScrapedAt: newer},
			{URL: "http://example.com/older", Snapshot: base, ScrapedAt: older},
		},
	}
	engine := NewEngine(index, WithSimilarityThreshold(0.8))

	t.Run("near-identical text is duplicate of earliest", func(t *testing.T) {
		t.Parallel()

		outcome := &model.FetchOutcome{Text: base + " extra"}
		outcome.ComputeHashes()

		got, err := engine.Classify(context.Background(), "http://example.com/new", outcome)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if !got.Duplicate {
			t.Fatal("near-identical text should be duplicate")
		}
		if got.Method != "fuzzy" {
			t.Errorf("method = %q, want fuzzy", got.Method)
		}
		if got.OriginalURL != "http://example.com/older" {
			t.Errorf("earliest scraped_at should win, got %q", got.OriginalURL)
		}
		if got.Similarity <= 0.8 {
			t.Errorf("similarity = %v, want > 0.8", got.Similarity)
		}
	})

	t.Run("unrelated text is new", func(t *testing.T) {
		t.Parallel()

		outcome := &model.FetchOutcome{
			Text: "completely different content about database internals and storage engines",
		}
		outcome.ComputeHashes()

		got, err := engine.Classify(context.Background(), "http://example.com/other", outcome)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if got.Duplicate {
			t.Error("unrelated text should not be duplicate")
		}
	})

	t.Run("window bound is respected", func(t *testing.T) {
		t.Parallel()

		bounded := NewEngine(index, WithWindowSize(1), WithSimilarityThreshold(0.8))
		outcome := &model.FetchOutcome{Text: base}
		outcome.ComputeHashes()
		// Hash differs from stored rows (no hashes stored), so only the
		// fuzzy stage runs and it may only see the newest row.
		got, err := bounded.Classify(context.Background(), "http://example.com/new", outcome)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if !got.Duplicate || got.OriginalURL != "http://example.com/newer" {
			t.Errorf("window of 1 should only compare the newest row, got %+v", got)
		}
	})
}

// TestClassifyEmptyText tests that empty content never matches.
func TestClassifyEmptyText(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeIndex{byHash: map[string]*model.StoredPage{}})
	outcome := &model.FetchOutcome{}
	outcome.ComputeHashes()

	got, err := engine.Classify(context.Background(), "http://example.com/empty", outcome)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Duplicate {
		t.Error("empty text should never classify duplicate")
	}
}

// TestJaccard tests the similarity measure directly.
func TestJaccard(t *testing.T) {
	t.Parallel()

	a := shingle("one two three four five six", 4)
	if got := jaccard(a, a); got != 1.0 {
		t.Errorf("self similarity = %v, want 1.0", got)
	}

	b := shingle("seven eight nine ten eleven twelve", 4)
	if got := jaccard(a, b); got != 0 {
		t.Errorf("disjoint similarity = %v, want 0", got)
	}

	if got := jaccard(a, nil); got != 0 {
		t.Errorf("empty set similarity = %v, want 0", got)
	}
}

// TestShingleShortText tests that texts shorter than the shingle size
// still produce one shingle.
func TestShingleShortText(t *testing.T) {
	t.Parallel()

	set := shingle("just two", 4)
	if len(set) != 1 {
		t.Errorf("short text should yield one shingle, got %d", len(set))
	}
}

// TestVisualChanged tests the advisory perceptual-hash comparison.
func TestVisualChanged(t *testing.T) {
	t.Parallel()

	const base = uint64(0xDEADBEEFCAFEF00D)

	if VisualChanged(base, base) {
		t.Error("identical hashes should not flag a change")
	}
	if VisualChanged(0, base) || VisualChanged(base, 0) {
		t.Error("absent hashes should never flag a change")
	}
	if !VisualChanged(base, ^base) {
		t.Error("inverted hash should flag a change")
	}
	// Flip a single bit: well under the distance threshold.
	if VisualChanged(base, base^1) {
		t.Error("one-bit difference should not flag a change")
	}
}

// TestFuzzySkipsSnapshotlessRows tests that rows without snapshots are ignored.
func TestFuzzySkipsSnapshotlessRows(t *testing.T) {
	t.Parallel()

	index := &fakeIndex{
		byHash: map[string]*model.StoredPage{},
		recent: []model.StoredPage{{URL: "http://example.com/bare"}},
	}
	engine := NewEngine(index)

	outcome := &model.FetchOutcome{Text: strings.Repeat("word ", 20)}
	outcome.ComputeHashes()

	got, err := engine.Classify(context.Background(), "http://example.com/x", outcome)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Duplicate {
		t.Error("rows without snapshots must not match")
	}
}
