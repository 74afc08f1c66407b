package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/spindle/internal/model"
)

// SimpleWriter outputs human-readable text summaries.
// This format is designed for terminal display with clear section
// formatting.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
// 3. Color can be added as an option later if needed
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether domains with no activity are shown.
	showEmpty bool

	// verbose enables per-domain skipped path listings.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show domains without outcomes.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *model.Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeCounts(&sb, summary)
	w.writeDomains(&sb, summary)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the run identification block.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *model.Summary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         SPINDLE CRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Run ID:    %s\n", summary.RunID))
	sb.WriteString(fmt.Sprintf("Started:   %s\n", summary.StartedAt.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString(fmt.Sprintf("Elapsed:   %s\n", summary.Elapsed().Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Seeds:     %s\n", strings.Join(summary.Seeds, ", ")))

	if summary.Cancelled {
		sb.WriteString("Status:    CANCELLED (partial results)\n")
	} else {
		sb.WriteString("Status:    Complete\n")
	}

	sb.WriteString("\n")
}

// writeCounts writes the outcome count section.
func (w *SimpleWriter) writeCounts(sb *strings.Builder, summary *model.Summary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("OUTCOMES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  Succeeded:   %d\n", summary.Succeeded))
	sb.WriteString(fmt.Sprintf("  Failed:      %d\n", summary.Failed))
	sb.WriteString(fmt.Sprintf("  Duplicates:  %d\n", summary.Duplicates))
	sb.WriteString(fmt.Sprintf("  Low quality: %d\n", summary.LowQuality))
	sb.WriteString(fmt.Sprintf("  Discarded:   %d\n", summary.Discarded))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  TOTAL:       %d pages\n", summary.TotalPages()))
	sb.WriteString("\n")
}

// writeDomains writes the per-domain behavior section.
func (w *SimpleWriter) writeDomains(sb *strings.Builder, summary *model.Summary) {
	if len(summary.Domains) == 0 && !w.showEmpty {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("DOMAINS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(summary.Domains) == 0 {
		sb.WriteString("  No domains crawled\n\n")
		return
	}

	for _, d := range summary.Domains {
		if d.Succeeded == 0 && d.Failed == 0 && !w.showEmpty {
			continue
		}

		indicator := w.healthIndicator(d)
		sb.WriteString(fmt.Sprintf("  [%s] %s\n", indicator, d.Domain))
		sb.WriteString(fmt.Sprintf("      succeeded: %d  failed: %d  backoff: %.2fx\n",
			d.Succeeded, d.Failed, d.BackoffFactor))
		if w.verbose && len(d.SkippedPaths) > 0 {
			sb.WriteString(fmt.Sprintf("      skipped: %s\n", strings.Join(d.SkippedPaths, ", ")))
		}
	}
	sb.WriteString("\n")
}

// healthIndicator returns a visual indicator for the domain state.
func (w *SimpleWriter) healthIndicator(d model.DomainSummary) string {
	switch {
	case d.FailureRatio > 0.4:
		return "!!"
	case d.BackoffFactor > 1.0:
		return "!"
	default:
		return "+"
	}
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by spindle\n")
	sb.WriteString("https://github.com/nao1215/spindle\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
