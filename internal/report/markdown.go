package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/spindle/internal/model"
)

// MarkdownWriter outputs summaries in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *model.Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeOutcomes(md, summary)
	w.writeDomains(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the run identification block.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *model.Summary) {
	md.H1("Spindle Crawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + summary.RunID + "`"},
			{"Started", summary.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Elapsed", summary.Elapsed().Round(time.Millisecond).String()},
			{"Seeds", strings.Join(summary.Seeds, ", ")},
			{"Status", w.statusText(summary)},
		},
	})
	md.PlainText("")
}

// statusText returns the status text based on run state.
func (w *MarkdownWriter) statusText(summary *model.Summary) string {
	if summary.Cancelled {
		return "⚠️ Cancelled (partial results)"
	}
	return "✅ Complete"
}

// writeOutcomes writes the outcome count section.
func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, summary *model.Summary) {
	md.H2("Outcomes")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"✅ Succeeded", strconv.Itoa(summary.Succeeded)},
			{"❌ Failed", strconv.Itoa(summary.Failed)},
			{"♻️ Duplicates", strconv.Itoa(summary.Duplicates)},
			{"🪶 Low quality", strconv.Itoa(summary.LowQuality)},
			{"🗑️ Discarded", strconv.Itoa(summary.Discarded)},
			{"**Total**", "**" + strconv.Itoa(summary.TotalPages()) + "**"},
		},
	})
	md.PlainText("")

	if summary.TotalPages() > 0 {
		w.writePieChart(md, summary)
	}

	w.writeAlert(md, summary)
}

// writePieChart writes a mermaid pie chart for outcome distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary *model.Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Crawl Outcome Distribution"),
		piechart.WithShowData(true),
	)

	if summary.Succeeded > 0 {
		chart.LabelAndIntValue("Succeeded", uint64(summary.Succeeded))
	}
	if summary.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(summary.Failed))
	}
	if summary.Duplicates > 0 {
		chart.LabelAndIntValue("Duplicates", uint64(summary.Duplicates))
	}
	if summary.LowQuality > 0 {
		chart.LabelAndIntValue("Low quality", uint64(summary.LowQuality))
	}
	if summary.Discarded > 0 {
		chart.LabelAndIntValue("Discarded", uint64(summary.Discarded))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an appropriate alert based on outcome counts.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary *model.Summary) {
	total := summary.TotalPages()
	switch {
	case summary.Cancelled:
		md.Warningf(
			"The run was cancelled before the frontier drained; %d page(s) were processed.",
			total,
		)
	case total > 0 && summary.Failed > summary.Succeeded:
		md.Cautionf(
			"More pages failed (%d) than succeeded (%d). Check the per-domain table for struggling hosts.",
			summary.Failed, summary.Succeeded,
		)
	case summary.Duplicates > summary.Succeeded && summary.Duplicates > 0:
		md.Importantf(
			"Duplicates (%d) outnumber unique pages (%d). The site may mirror content across URLs.",
			summary.Duplicates, summary.Succeeded,
		)
	case total == 0:
		md.Note("No pages were processed.")
	default:
		md.Tip(fmt.Sprintf("Crawl completed cleanly with %d unique page(s).", summary.Succeeded))
	}
	md.PlainText("")
}

// writeDomains writes the per-domain behavior section.
func (w *MarkdownWriter) writeDomains(md *markdown.Markdown, summary *model.Summary) {
	md.H2("Domains")
	md.PlainText("")

	if len(summary.Domains) == 0 {
		md.PlainText("No domains crawled.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(summary.Domains))
	for i, d := range summary.Domains {
		skipped := "-"
		if len(d.SkippedPaths) > 0 {
			skipped = truncateString(strings.Join(d.SkippedPaths, ", "), 60)
		}
		rows[i] = []string{
			d.Domain,
			strconv.Itoa(d.Succeeded),
			strconv.Itoa(d.Failed),
			fmt.Sprintf("%.0f%%", d.FailureRatio*100),
			fmt.Sprintf("%.2fx", d.BackoffFactor),
			skipped,
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Domain", "Succeeded", "Failed", "Failure Ratio", "Backoff", "Skipped Paths"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [spindle](https://github.com/nao1215/spindle)*")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
