// Package report renders crawl run summaries in multiple output
// formats.
//
// Three writers share the Writer interface:
//   - SimpleWriter: human-readable text for terminal display
//   - JSONWriter: machine-readable output for tool integration
//   - MarkdownWriter: documentation-friendly output with tables
//
// MultiWriter combines writers so a summary can go to both the
// terminal and a file in one call.
package report
