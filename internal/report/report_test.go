package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-ai/genbench/internal/aggregate"
)

func sampleSummaries() []aggregate.BenchmarkSummary {
	return []aggregate.BenchmarkSummary{
		{
			StrategyLabel:     "synchronous",
			RequestsPerSecond: aggregate.DistributionStats{Mean: 1.5, Count: 10},
			RequestLatency:    aggregate.DistributionStats{Mean: 0.5, P50: 0.45, P90: 0.8, P99: 0.95, Min: 0.2, Max: 1.0, Count: 10},
			Errors:            aggregate.ErrorSummary{Count: 1, ByKind: map[string]int{"HTTP_STATUS": 1}},
		},
	}
}

func TestConsoleWriter_RendersOneTablePerStrategy(t *testing.T) {
	var buf bytes.Buffer
	w := NewConsoleWriter(&buf)

	err := w.Write(sampleSummaries())

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "synchronous")
	assert.Contains(t, out, "requests/sec")
	assert.Contains(t, out, "errors")
}

func TestConsoleWriter_EmptySummariesProducesNoOutput(t *testing.T) {
	var buf bytes.Buffer
	w := NewConsoleWriter(&buf)

	err := w.Write(nil)

	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestJSONWriter_RoundTripsSummaries(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, true)

	require.NoError(t, w.Write(sampleSummaries()))

	var decoded []aggregate.BenchmarkSummary
	require.NoError(t, json.NewDecoder(&buf).Decode(&decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "synchronous", decoded[0].StrategyLabel)
	assert.Equal(t, 1, decoded[0].Errors.Count)
}

func TestJSONWriter_IndentsWhenRequested(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, true)

	require.NoError(t, w.Write(sampleSummaries()))
	assert.True(t, strings.Contains(buf.String(), "\n  "))
}
