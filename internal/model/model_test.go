package model

import (
	"strings"
	"testing"
)

// TestCrawlTaskDomain tests host extraction from task URLs.
func TestCrawlTaskDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "simple host", url: "http://example.com/page", want: "example.com"},
		{name: "uppercase host lowered", url: "http://EXAMPLE.COM/page", want: "example.com"},
		{name: "host with port", url: "http://example.com:8080/page", want: "example.com"},
		{name: "unparseable", url: "http://exa mple.com/", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			task := CrawlTask{URL: tt.url}
			if got := task.Domain(); got != tt.want {
				t.Errorf("Domain() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestCrawlTaskPath tests path normalization for loop detection.
func TestCrawlTaskPath(t *testing.T) {
	t.Parallel()

	task := CrawlTask{URL: "http://example.com"}
	if got := task.Path(); got != "/" {
		t.Errorf("empty path should normalize to /, got %q", got)
	}

	task = CrawlTask{URL: "http://example.com/a/b"}
	if got := task.Path(); got != "/a/b" {
		t.Errorf("Path() = %q, want /a/b", got)
	}
}

// TestComputeHashes tests content and normalized hash computation.
func TestComputeHashes(t *testing.T) {
	t.Parallel()

	t.Run("whitespace variants share normalized hash", func(t *testing.T) {
		t.Parallel()

		a := FetchOutcome{Text: "hello   world"}
		b := FetchOutcome{Text: "hello\nworld"}
		a.ComputeHashes()
		b.ComputeHashes()

		if a.ContentHash == b.ContentHash {
			t.Error("raw hashes should differ for different raw text")
		}
		if a.NormalizedHash != b.NormalizedHash {
			t.Errorf("normalized hashes should match: %q vs %q", a.NormalizedHash, b.NormalizedHash)
		}
	})

	t.Run("empty text leaves hashes empty", func(t *testing.T) {
		t.Parallel()

		o := FetchOutcome{}
		o.ComputeHashes()
		if o.ContentHash != "" || o.NormalizedHash != "" {
			t.Error("empty text should not produce hashes")
		}
	})
}

// TestNormalizeText tests whitespace collapsing and Unicode folding.
func TestNormalizeText(t *testing.T) {
	t.Parallel()

	got := NormalizeText("  a\t\tb\n\nc  ")
	if got != "a b c" {
		t.Errorf("NormalizeText = %q, want %q", got, "a b c")
	}

	// Decomposed and composed accents must normalize identically.
	composed := NormalizeText("café")
	decomposed := NormalizeText("café")
	if composed != decomposed {
		t.Errorf("NFC forms differ: %q vs %q", composed, decomposed)
	}
}

// TestFetchErrorRetryable tests the retry taxonomy.
func TestFetchErrorRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    FetchError
		want   bool
	}{
		{name: "network", err: FetchError{Kind: ErrorKindNetwork}, want: true},
		{name: "empty content", err: FetchError{Kind: ErrorKindEmptyContent}, want: true},
		{name: "429", err: FetchError{Kind: ErrorKindHTTPStatus, HTTPStatus: 429}, want: true},
		{name: "503", err: FetchError{Kind: ErrorKindHTTPStatus, HTTPStatus: 503}, want: true},
		{name: "404", err: FetchError{Kind: ErrorKindHTTPStatus, HTTPStatus: 404}, want: false},
		{name: "501 is permanent", err: FetchError{Kind: ErrorKindHTTPStatus, HTTPStatus: 501}, want: false},
		{name: "parsing", err: FetchError{Kind: ErrorKindParsing}, want: false},
		{name: "quality", err: FetchError{Kind: ErrorKindContentQuality}, want: false},
		{name: "redirect loop", err: FetchError{Kind: ErrorKindRedirectLoop}, want: false},
		{name: "robots", err: FetchError{Kind: ErrorKindRobots}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestFetchErrorError tests error message formatting.
func TestFetchErrorError(t *testing.T) {
	t.Parallel()

	err := NewFetchError(ErrorKindNetwork, "connection refused", nil)
	if !strings.Contains(err.Error(), "network") {
		t.Errorf("error message should contain kind: %q", err.Error())
	}
}

// TestTruncateSnapshot tests the snapshot size limit.
func TestTruncateSnapshot(t *testing.T) {
	t.Parallel()

	p := StoredPage{Snapshot: strings.Repeat("x", MaxSnapshotSize+100)}
	p.TruncateSnapshot()
	if len(p.Snapshot) != MaxSnapshotSize {
		t.Errorf("snapshot length = %d, want %d", len(p.Snapshot), MaxSnapshotSize)
	}
}
