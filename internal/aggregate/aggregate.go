// Package aggregate implements the Aggregator (S4): it folds the
// SchedulerEvent stream of one strategy run into a BenchmarkSummary,
// exposing the requests-per-second and concurrency means the Benchmarker
// feeds back into an adaptive Profile (spec section 4.6).
package aggregate

import (
	"sort"
	"time"

	"github.com/windrose-ai/genbench/internal/schedtypes"
)

// DistributionStats summarizes a sample set the way every rate/latency
// metric in a BenchmarkSummary is reported (spec section 3 additions).
type DistributionStats struct {
	Mean  float64
	P50   float64
	P90   float64
	P99   float64
	Min   float64
	Max   float64
	Count int
}

func compileStats(samples []float64) DistributionStats {
	if len(samples) == 0 {
		return DistributionStats{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return DistributionStats{
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P90:   percentile(sorted, 0.90),
		P99:   percentile(sorted, 0.99),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// ErrorSummary tallies request-scoped failures by BackendError kind.
type ErrorSummary struct {
	Count  int
	ByKind map[string]int
}

// BenchmarkSummary is one strategy run's compiled result (spec section 3
// additions).
type BenchmarkSummary struct {
	StrategyLabel string
	RunInfo       schedtypes.RunInfo

	RequestsPerSecond  DistributionStats
	RequestConcurrency DistributionStats
	RequestLatency     DistributionStats
	TimeToFirstToken   DistributionStats
	InterTokenLatency  DistributionStats
	TimePerOutputToken DistributionStats
	PromptTokens       DistributionStats
	OutputTokens       DistributionStats
	Errors             ErrorSummary
}

// Aggregator implements the Aggregator collaborator from spec section 6:
// AddResult folds one SchedulerEvent at a time; Compile finalizes the
// running accumulators into a BenchmarkSummary. It is driven by a single
// consumer (the Benchmarker's per-strategy loop) and keeps no locks.
type Aggregator struct {
	strategyLabel string

	runStart time.Time
	runEnd   time.Time
	runInfo  schedtypes.RunInfo

	successCount int
	errorCount   int
	errorByKind  map[string]int

	latencies    []float64
	ttfts        []float64
	interTokens  []float64
	perTokens    []float64
	promptTokens []float64
	outputToks   []float64
}

// NewAggregator builds an Aggregator for one strategy run.
func NewAggregator(strategyLabel string) *Aggregator {
	return &Aggregator{
		strategyLabel: strategyLabel,
		errorByKind:   make(map[string]int),
	}
}

// AddResult implements the Aggregator interface (spec section 6).
func (a *Aggregator) AddResult(ev schedtypes.SchedulerEvent) {
	switch ev.Kind {
	case schedtypes.RunStart:
		a.runStart = ev.RunInfo.StartTime
	case schedtypes.RequestComplete:
		a.addComplete(ev)
	case schedtypes.RunComplete:
		a.runEnd = time.Now()
		a.runInfo = ev.RunInfo
	}
}

func (a *Aggregator) addComplete(ev schedtypes.SchedulerEvent) {
	resp := ev.Response
	if resp == nil {
		return
	}

	if resp.Error != nil {
		a.errorCount++
		a.errorByKind[string(resp.Error.Kind)]++
		return
	}

	a.successCount++

	latency := resp.EndTime.Sub(resp.StartTime).Seconds()
	if latency >= 0 {
		a.latencies = append(a.latencies, latency)
	}

	if !resp.FirstIterTime.IsZero() {
		if ttft := resp.FirstIterTime.Sub(resp.StartTime).Seconds(); ttft >= 0 {
			a.ttfts = append(a.ttfts, ttft)
		}
	}

	if resp.IterCount > 1 && !resp.FirstIterTime.IsZero() && !resp.LastIterTime.IsZero() {
		span := resp.LastIterTime.Sub(resp.FirstIterTime).Seconds()
		if span >= 0 {
			a.interTokens = append(a.interTokens, span/float64(resp.IterCount-1))
		}
	}

	if resp.ResponseOutputTokens > 0 {
		a.outputToks = append(a.outputToks, float64(resp.ResponseOutputTokens))
		if latency >= 0 {
			a.perTokens = append(a.perTokens, latency/float64(resp.ResponseOutputTokens))
		}
	}

	switch {
	case resp.ResponsePromptTokens > 0:
		a.promptTokens = append(a.promptTokens, float64(resp.ResponsePromptTokens))
	case resp.RequestPromptTokens > 0:
		a.promptTokens = append(a.promptTokens, float64(resp.RequestPromptTokens))
	}
}

// Compile finalizes the accumulators. It may be called more than once (the
// Benchmarker calls it once per strategy on run_complete); it is read-only.
func (a *Aggregator) Compile() BenchmarkSummary {
	wall := a.runEnd.Sub(a.runStart).Seconds()
	if wall <= 0 {
		wall = 1
	}

	latencyStats := compileStats(a.latencies)
	rps := float64(a.successCount) / wall
	// Little's law: mean concurrency = arrival rate * mean time in system.
	concurrency := rps * latencyStats.Mean

	return BenchmarkSummary{
		StrategyLabel:      a.strategyLabel,
		RunInfo:            a.runInfo,
		RequestsPerSecond:  DistributionStats{Mean: rps, Count: a.successCount},
		RequestConcurrency: DistributionStats{Mean: concurrency, Count: a.successCount},
		RequestLatency:     latencyStats,
		TimeToFirstToken:   compileStats(a.ttfts),
		InterTokenLatency:  compileStats(a.interTokens),
		TimePerOutputToken: compileStats(a.perTokens),
		PromptTokens:       compileStats(a.promptTokens),
		OutputTokens:       compileStats(a.outputToks),
		Errors:             ErrorSummary{Count: a.errorCount, ByKind: a.errorByKind},
	}
}
