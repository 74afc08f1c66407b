package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/spindle/internal/model"
)

// testSummary builds a representative summary for writer tests.
func testSummary() *model.Summary {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.Summary{
		RunID:      "run-0001",
		Seeds:      []string{"http://example.com/"},
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Succeeded:  42,
		Failed:     3,
		Duplicates: 5,
		LowQuality: 2,
		Discarded:  1,
		Domains: []model.DomainSummary{
			{
				Domain:        "example.com",
				Succeeded:     40,
				Failed:        1,
				FailureRatio:  0.02,
				BackoffFactor: 1.0,
			},
			{
				Domain:        "slow.example.org",
				Succeeded:     2,
				Failed:        2,
				FailureRatio:  0.5,
				BackoffFactor: 4.1,
				SkippedPaths:  []string{"/admin"},
			},
		},
	}
}

func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("contains counts and domains", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewSimpleWriter(&buf)
		n, err := w.Write(testSummary())
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("reported %d bytes, wrote %d", n, buf.Len())
		}

		out := buf.String()
		for _, want := range []string{
			"run-0001",
			"Succeeded:   42",
			"Failed:      3",
			"TOTAL:       53 pages",
			"example.com",
			"slow.example.org",
			"backoff: 4.10x",
			"Status:    Complete",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("cancelled run flagged", func(t *testing.T) {
		t.Parallel()

		s := testSummary()
		s.Cancelled = true

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(s); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !strings.Contains(buf.String(), "CANCELLED") {
			t.Errorf("cancelled run not flagged:\n%s", buf.String())
		}
	})

	t.Run("verbose shows skipped paths", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).Write(testSummary()); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !strings.Contains(buf.String(), "/admin") {
			t.Errorf("skipped paths missing in verbose output:\n%s", buf.String())
		}
	})

	t.Run("quiet domains hidden unless showEmpty", func(t *testing.T) {
		t.Parallel()

		s := testSummary()
		s.Domains = append(s.Domains, model.DomainSummary{Domain: "idle.example.net", BackoffFactor: 1.0})

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(s); err != nil {
			t.Fatalf("write: %v", err)
		}
		if strings.Contains(buf.String(), "idle.example.net") {
			t.Errorf("inactive domain should be hidden by default:\n%s", buf.String())
		}

		buf.Reset()
		if _, err := NewSimpleWriter(&buf, WithShowEmpty(true)).Write(s); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !strings.Contains(buf.String(), "idle.example.net") {
			t.Errorf("showEmpty should surface inactive domains:\n%s", buf.String())
		}
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(testSummary()); err != nil {
			t.Fatalf("write: %v", err)
		}

		var got model.Summary
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.RunID != "run-0001" || got.Succeeded != 42 {
			t.Errorf("round trip mismatch: %+v", got)
		}
		if len(got.Domains) != 2 {
			t.Errorf("domains = %d, want 2", len(got.Domains))
		}
	})

	t.Run("pretty print indents", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(testSummary()); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"run_id\"") {
			t.Errorf("output not indented:\n%s", buf.String())
		}
	})

	t.Run("versioned wrapper", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewVersionedJSONWriter(&buf, "1.2.3").Write(testSummary()); err != nil {
			t.Fatalf("write: %v", err)
		}

		var got VersionedSummary
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Version != "1.2.3" {
			t.Errorf("version = %q", got.Version)
		}
		if got.Summary == nil || got.Summary.RunID != "run-0001" {
			t.Errorf("summary missing: %+v", got.Summary)
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("sections present", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(testSummary()); err != nil {
			t.Fatalf("write: %v", err)
		}

		out := buf.String()
		for _, want := range []string{
			"# Spindle Crawl Report",
			"## Outcomes",
			"## Domains",
			"`run-0001`",
			"slow.example.org",
			"4.10x",
			"mermaid",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("markdown missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("empty run notes no pages", func(t *testing.T) {
		t.Parallel()

		s := &model.Summary{RunID: "empty", StartedAt: time.Now(), FinishedAt: time.Now()}

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(s); err != nil {
			t.Fatalf("write: %v", err)
		}

		out := buf.String()
		if !strings.Contains(out, "No pages were processed") {
			t.Errorf("empty run alert missing:\n%s", out)
		}
		if strings.Contains(out, "mermaid") {
			t.Errorf("empty run should not emit a pie chart:\n%s", out)
		}
	})
}

// failingWriter always errors, for MultiWriter short-circuit tests.
type failingWriter struct{}

func (failingWriter) Write(*model.Summary) (int, error) {
	return 0, errors.New("sink unavailable")
}

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all", func(t *testing.T) {
		t.Parallel()

		var a, b bytes.Buffer
		mw := NewMultiWriter(NewSimpleWriter(&a), NewJSONWriter(&b))
		if _, err := mw.Write(testSummary()); err != nil {
			t.Fatalf("write: %v", err)
		}
		if a.Len() == 0 || b.Len() == 0 {
			t.Errorf("both outputs should receive data: %d, %d", a.Len(), b.Len())
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		var after bytes.Buffer
		mw := NewMultiWriter(failingWriter{}, NewSimpleWriter(&after))
		if _, err := mw.Write(testSummary()); err == nil {
			t.Fatal("expected error from failing writer")
		}
		if after.Len() != 0 {
			t.Errorf("writers after the failure should not run")
		}
	})
}
