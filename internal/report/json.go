package report

import (
	"encoding/json"
	"io"

	"github.com/windrose-ai/genbench/internal/aggregate"
)

// JSONWriter marshals summaries straight through encoding/json for
// machine consumption (spec section S5). No third-party codec earns its
// keep here: the output is a slice of plain structs, written from a single
// call site, and the corpus's JSON libraries (sjson/gjson) are for patching
// pre-existing documents, not producing one from scratch.
type JSONWriter struct {
	out    io.Writer
	indent bool
}

// NewJSONWriter builds a JSONWriter over out. indent pretty-prints with
// two-space indentation.
func NewJSONWriter(out io.Writer, indent bool) *JSONWriter {
	return &JSONWriter{out: out, indent: indent}
}

// Write marshals summaries as a single JSON array.
func (w *JSONWriter) Write(summaries []aggregate.BenchmarkSummary) error {
	enc := json.NewEncoder(w.out)
	if w.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(summaries)
}
