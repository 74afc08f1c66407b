package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/spindle/internal/model"
)

// JSONWriter outputs summaries in JSON format.
// This format is designed for tool integration and programmatic processing.
//
// Design decision: We use standard encoding/json rather than a third-party
// JSON library because:
// 1. It's part of the standard library (no extra dependencies)
// 2. It's sufficient for our needs
// 3. It provides consistent behavior across Go versions
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
// This is a convenience wrapper for WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = ""
		w.indentString = "  "
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the summary in JSON format.
func (w *JSONWriter) Write(summary *model.Summary) (int, error) {
	return w.writeJSON(summary)
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}

// VersionedSummary wraps a summary with version metadata for consumers
// that archive report files across spindle releases.
//
// Design decision: We wrap the summary rather than adding a version
// field to model.Summary because this keeps output-specific fields out
// of the core data structure.
type VersionedSummary struct {
	// Version is the spindle version that generated this summary.
	Version string `json:"version"`

	// Summary is the crawl run summary.
	Summary *model.Summary `json:"summary"`
}

// VersionedJSONWriter outputs summaries wrapped with version metadata.
type VersionedJSONWriter struct {
	*JSONWriter

	// version is the spindle version string.
	version string
}

// NewVersionedJSONWriter creates a writer for summaries with metadata.
func NewVersionedJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *VersionedJSONWriter {
	return &VersionedJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs the summary wrapped with version metadata.
func (w *VersionedJSONWriter) Write(summary *model.Summary) (int, error) {
	return w.writeJSON(&VersionedSummary{Version: w.version, Summary: summary})
}
