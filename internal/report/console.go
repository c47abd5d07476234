// Package report renders a BenchmarkSummary for a human (console table)
// or a machine (JSON) consumer (spec section S5). Non-goal per spec.md
// section 1: no YAML renderer, no persistent storage of reports.
package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/windrose-ai/genbench/internal/aggregate"
)

// ConsoleWriter renders one aligned text table per strategy summary,
// grounded on the benchmark-harness convention of a go-pretty table (the
// teacher repo has no report-table analog of its own).
type ConsoleWriter struct {
	out io.Writer
}

// NewConsoleWriter builds a ConsoleWriter over out.
func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

// Write renders summaries as one table per strategy, in order.
func (w *ConsoleWriter) Write(summaries []aggregate.BenchmarkSummary) error {
	for _, s := range summaries {
		t := table.NewWriter()
		t.SetOutputMirror(w.out)
		t.SetTitle(s.StrategyLabel)
		t.AppendHeader(table.Row{"metric", "mean", "p50", "p90", "p99", "min", "max", "count"})

		rows := []struct {
			name string
			d    aggregate.DistributionStats
		}{
			{"requests/sec", s.RequestsPerSecond},
			{"concurrency", s.RequestConcurrency},
			{"request latency (s)", s.RequestLatency},
			{"time to first token (s)", s.TimeToFirstToken},
			{"inter-token latency (s)", s.InterTokenLatency},
			{"time per output token (s)", s.TimePerOutputToken},
			{"prompt tokens", s.PromptTokens},
			{"output tokens", s.OutputTokens},
		}
		for _, r := range rows {
			t.AppendRow(table.Row{r.name, r.d.Mean, r.d.P50, r.d.P90, r.d.P99, r.d.Min, r.d.Max, r.d.Count})
		}
		t.Style().Format.Footer = text.FormatDefault
		t.AppendFooter(table.Row{"errors", s.Errors.Count})
		t.Render()

		if _, err := fmt.Fprintln(w.out); err != nil {
			return err
		}
	}
	return nil
}
