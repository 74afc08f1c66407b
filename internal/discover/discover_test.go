package discover

import (
	"context"
	"strings"
	"testing"

	"github.com/nao1215/spindle/internal/model"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "lowercases scheme and host",
			input: "HTTP://Example.COM/Path",
			want:  "http://example.com/Path",
		},
		{
			name:  "strips fragment",
			input: "http://example.com/page#section-2",
			want:  "http://example.com/page",
		},
		{
			name:  "strips default http port",
			input: "http://example.com:80/page",
			want:  "http://example.com/page",
		},
		{
			name:  "strips default https port",
			input: "https://example.com:443/page",
			want:  "https://example.com/page",
		},
		{
			name:  "keeps non-default port",
			input: "http://example.com:8080/page",
			want:  "http://example.com:8080/page",
		},
		{
			name:  "empty path becomes root",
			input: "http://example.com",
			want:  "http://example.com/",
		},
		{
			name:  "removes trailing slash from non-root path",
			input: "http://example.com/docs/",
			want:  "http://example.com/docs",
		},
		{
			name:  "root trailing slash is preserved",
			input: "http://example.com/",
			want:  "http://example.com/",
		},
		{
			name:  "sorts query keys",
			input: "http://example.com/search?z=1&a=2&m=3",
			want:  "http://example.com/search?a=2&m=3&z=1",
		},
		{
			name:    "rejects non-http scheme",
			input:   "ftp://example.com/file",
			wantErr: true,
		},
		{
			name:    "rejects missing host",
			input:   "http:///path-only",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Canonicalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Canonicalize(%q) should fail, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Canonicalize(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"HTTP://Example.COM:80/Docs/?b=2&a=1#frag",
		"https://example.com/a/b/",
		"http://example.com",
	}
	for _, input := range inputs {
		once, err := Canonicalize(input)
		if err != nil {
			t.Fatalf("first pass %q: %v", input, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("second pass %q: %v", once, err)
		}
		if once != twice {
			t.Errorf("canonicalization not idempotent: %q -> %q -> %q", input, once, twice)
		}
	}
}

func TestMatchPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/admin/*", "/admin/dashboard", true},
		{"/admin/*", "/admin/users/1", true},
		{"/admin/*", "/admin", true},
		{"/admin/*", "/public", false},
		{"*.pdf", "/docs/report.pdf", true},
		{"*.pdf", "/docs/report.html", false},
		{"/logout*", "/logout", true},
		{"/api/v?", "/api/v1", true},
		{"/api/v?", "/api/v10", false},
	}

	for _, tt := range tests {
		got := matchPattern(tt.pattern, tt.path)
		if got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

// allowAllRobots permits everything; denySlashPrivate blocks /private.
type allowAllRobots struct{}

func (allowAllRobots) Allowed(context.Context, string) bool { return true }

type denyPrivateRobots struct{}

func (denyPrivateRobots) Allowed(_ context.Context, rawURL string) bool {
	return !strings.Contains(rawURL, "/private")
}

type fixedAdvisor struct {
	backoff bool
	factor  float64
}

func (a fixedAdvisor) ShouldBackoff(string) bool    { return a.backoff }
func (a fixedAdvisor) BackoffFactor(string) float64 { return a.factor }

type depthScorer struct{ score float64 }

func (s depthScorer) Score(string, model.CrawlTask) float64 { return s.score }

func TestDiscover(t *testing.T) {
	t.Parallel()

	source := model.CrawlTask{
		URL:   "http://example.com/start",
		Depth: 1,
	}

	t.Run("resolves relative links against the source page", func(t *testing.T) {
		t.Parallel()

		d := New(WithScope([]string{"example.com"}))
		tasks := d.Discover(context.Background(), source, "text/html", []string{
			"/about",
			"next",
			"http://example.com/absolute",
		})
		if len(tasks) != 3 {
			t.Fatalf("got %d tasks, want 3", len(tasks))
		}
		want := []string{
			"http://example.com/about",
			"http://example.com/next",
			"http://example.com/absolute",
		}
		for i, task := range tasks {
			if task.URL != want[i] {
				t.Errorf("task[%d].URL = %q, want %q", i, task.URL, want[i])
			}
			if task.Depth != 2 {
				t.Errorf("task[%d].Depth = %d, want 2", i, task.Depth)
			}
			if task.ParentContentType != "text/html" {
				t.Errorf("task[%d].ParentContentType = %q", i, task.ParentContentType)
			}
		}
	})

	t.Run("drops out-of-scope domains but keeps subdomains", func(t *testing.T) {
		t.Parallel()

		d := New(WithScope([]string{"example.com"}))
		tasks := d.Discover(context.Background(), source, "text/html", []string{
			"http://example.com/in",
			"http://blog.example.com/in",
			"http://evil.com/out",
			"http://notexample.com/out",
		})
		if len(tasks) != 2 {
			t.Fatalf("got %d tasks, want 2: %+v", len(tasks), tasks)
		}
		if d.Stats().DroppedScope != 2 {
			t.Errorf("DroppedScope = %d, want 2", d.Stats().DroppedScope)
		}
	})

	t.Run("drops deny patterns", func(t *testing.T) {
		t.Parallel()

		d := New(WithDenyPatterns([]string{"/admin/*", "*.pdf"}))
		tasks := d.Discover(context.Background(), source, "text/html", []string{
			"http://example.com/admin/settings",
			"http://example.com/docs/manual.pdf",
			"http://example.com/public",
		})
		if len(tasks) != 1 || tasks[0].URL != "http://example.com/public" {
			t.Fatalf("deny patterns not applied: %+v", tasks)
		}
		if d.Stats().DroppedDenied != 2 {
			t.Errorf("DroppedDenied = %d, want 2", d.Stats().DroppedDenied)
		}
	})

	t.Run("delegates robots decisions", func(t *testing.T) {
		t.Parallel()

		d := New(WithRobots(denyPrivateRobots{}))
		tasks := d.Discover(context.Background(), source, "text/html", []string{
			"http://example.com/private/data",
			"http://example.com/open",
		})
		if len(tasks) != 1 || tasks[0].URL != "http://example.com/open" {
			t.Fatalf("robots filtering not applied: %+v", tasks)
		}
	})

	t.Run("drops already seen links", func(t *testing.T) {
		t.Parallel()

		d := New(WithRobots(allowAllRobots{}))
		first := d.Discover(context.Background(), source, "text/html", []string{
			"http://example.com/page",
		})
		second := d.Discover(context.Background(), source, "text/html", []string{
			"http://example.com/page",
			"http://example.com/page#other-fragment",
		})
		if len(first) != 1 {
			t.Fatalf("first discovery got %d tasks", len(first))
		}
		if len(second) != 0 {
			t.Fatalf("rediscovered link should be dropped: %+v", second)
		}
	})

	t.Run("marked seeds are never rediscovered", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.MarkSeen("http://example.com/seed")
		tasks := d.Discover(context.Background(), source, "text/html", []string{
			"http://example.com/seed",
		})
		if len(tasks) != 0 {
			t.Errorf("seed should already be seen: %+v", tasks)
		}
	})

	t.Run("enforces depth limit", func(t *testing.T) {
		t.Parallel()

		d := New(WithMaxDepth(2))
		deep := model.CrawlTask{URL: "http://example.com/deep", Depth: 2}
		tasks := d.Discover(context.Background(), deep, "text/html", []string{
			"http://example.com/too-deep",
		})
		if len(tasks) != 0 {
			t.Errorf("links beyond max depth should be dropped: %+v", tasks)
		}
		if d.Stats().DroppedDepth != 1 {
			t.Errorf("DroppedDepth = %d, want 1", d.Stats().DroppedDepth)
		}
	})

	t.Run("per-domain depth override replaces the global limit", func(t *testing.T) {
		t.Parallel()

		d := New(
			WithMaxDepth(5),
			WithDepthOverrides(map[string]int{"shallow.org": 2}),
		)
		deep := model.CrawlTask{URL: "http://example.com/deep", Depth: 2}
		tasks := d.Discover(context.Background(), deep, "text/html", []string{
			"http://shallow.org/too-deep",
			"http://sub.shallow.org/too-deep",
			"http://example.com/fine",
		})
		if len(tasks) != 1 || tasks[0].URL != "http://example.com/fine" {
			t.Fatalf("override domains should stop at their own depth: %+v", tasks)
		}
		if d.Stats().DroppedDepth != 2 {
			t.Errorf("DroppedDepth = %d, want 2", d.Stats().DroppedDepth)
		}
	})

	t.Run("drops unparseable links without failing the batch", func(t *testing.T) {
		t.Parallel()

		d := New()
		tasks := d.Discover(context.Background(), source, "text/html", []string{
			"http://exa mple.com/broken",
			"mailto:user@example.com",
			"http://example.com/fine",
		})
		if len(tasks) != 1 || tasks[0].URL != "http://example.com/fine" {
			t.Fatalf("invalid links should be skipped: %+v", tasks)
		}
		if d.Stats().DroppedInvalid != 2 {
			t.Errorf("DroppedInvalid = %d, want 2", d.Stats().DroppedInvalid)
		}
	})
}

func TestDiscoverPriority(t *testing.T) {
	t.Parallel()

	t.Run("deeper links get higher priority values", func(t *testing.T) {
		t.Parallel()

		d := New()
		shallow := d.Discover(context.Background(), model.CrawlTask{URL: "http://example.com/", Depth: 0}, "text/html", []string{"http://example.com/a"})
		deep := d.Discover(context.Background(), model.CrawlTask{URL: "http://example.com/", Depth: 5}, "text/html", []string{"http://example.com/b"})
		if len(shallow) != 1 || len(deep) != 1 {
			t.Fatal("discovery failed")
		}
		if shallow[0].Priority >= deep[0].Priority {
			t.Errorf("shallow priority %f should be lower than deep %f", shallow[0].Priority, deep[0].Priority)
		}
	})

	t.Run("backoff pressure penalizes the domain", func(t *testing.T) {
		t.Parallel()

		calm := New(WithAdvisor(fixedAdvisor{backoff: false, factor: 1.0}))
		stressed := New(WithAdvisor(fixedAdvisor{backoff: true, factor: 4.0}))
		src := model.CrawlTask{URL: "http://example.com/", Depth: 0}

		a := calm.Discover(context.Background(), src, "text/html", []string{"http://example.com/page"})
		b := stressed.Discover(context.Background(), src, "text/html", []string{"http://example.com/page"})
		if len(a) != 1 || len(b) != 1 {
			t.Fatal("discovery failed")
		}
		if b[0].Priority <= a[0].Priority {
			t.Errorf("backoff penalty missing: calm %f, stressed %f", a[0].Priority, b[0].Priority)
		}
	})

	t.Run("promise score shifts priority", func(t *testing.T) {
		t.Parallel()

		neutral := New()
		promising := New(WithScorer(depthScorer{score: -0.9}))
		src := model.CrawlTask{URL: "http://example.com/", Depth: 0}

		a := neutral.Discover(context.Background(), src, "text/html", []string{"http://example.com/page"})
		b := promising.Discover(context.Background(), src, "text/html", []string{"http://example.com/page"})
		if len(a) != 1 || len(b) != 1 {
			t.Fatal("discovery failed")
		}
		if b[0].Priority >= a[0].Priority {
			t.Errorf("promise score should lower priority: %f vs %f", b[0].Priority, a[0].Priority)
		}
	})

	t.Run("xml parents schedule slightly earlier than binary parents", func(t *testing.T) {
		t.Parallel()

		d := New()
		src := model.CrawlTask{URL: "http://example.com/", Depth: 0}
		fromSitemap := d.Discover(context.Background(), src, "application/xml", []string{"http://example.com/from-sitemap"})
		fromBinary := d.Discover(context.Background(), src, "application/octet-stream", []string{"http://example.com/from-binary"})
		if len(fromSitemap) != 1 || len(fromBinary) != 1 {
			t.Fatal("discovery failed")
		}
		if fromSitemap[0].Priority >= fromBinary[0].Priority {
			t.Errorf("sitemap links should schedule earlier: %f vs %f", fromSitemap[0].Priority, fromBinary[0].Priority)
		}
	})
}
