// Package benchmark implements the Benchmarker (C6): it iterates a
// Profile's strategies, running each through the Scheduler and folding its
// event stream into an Aggregator, then feeds the compiled rate back to
// the Profile so adaptive profiles (Sweep) can choose their next strategy
// (spec section 4.6).
package benchmark

import (
	"context"

	"go.uber.org/zap"

	"github.com/windrose-ai/genbench/internal/aggregate"
	"github.com/windrose-ai/genbench/internal/request"
	"github.com/windrose-ai/genbench/internal/schedtypes"
	"github.com/windrose-ai/genbench/internal/scheduler"
	"github.com/windrose-ai/genbench/internal/strategy"
)

// EventKind tags the outer BenchmarkEvent stream (spec section 3
// additions), mirroring the Scheduler's events one layer up.
type EventKind int

const (
	RunStart EventKind = iota
	SchedulerStart
	SchedulerUpdate
	SchedulerComplete
	BenchmarkCompiled
	RunComplete
)

// BenchmarkEvent wraps one SchedulerEvent (SchedulerUpdate) or marks a
// strategy boundary, carrying the compiled BenchmarkSummary once one is
// available.
type BenchmarkEvent struct {
	Kind          EventKind
	StrategyLabel string
	SchedulerEvt  *schedtypes.SchedulerEvent
	Summary       *aggregate.BenchmarkSummary
}

// Benchmarker drives a Profile end to end.
type Benchmarker struct {
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger

	// RunOptionsFor builds the per-strategy RunOptions (max_number,
	// max_duration, request_timeout, loop_sleep) from the strategy about
	// to run; most callers return the same options for every strategy.
	RunOptionsFor func(strategy.Strategy) scheduler.RunOptions
}

// New builds a Benchmarker around sched.
func New(sched *scheduler.Scheduler, logger *zap.Logger, runOptionsFor func(strategy.Strategy) scheduler.RunOptions) *Benchmarker {
	return &Benchmarker{Scheduler: sched, Logger: logger, RunOptionsFor: runOptionsFor}
}

// Run drives profile to completion against source, emitting a
// BenchmarkEvent stream. The returned channel closes once the profile is
// exhausted.
func (b *Benchmarker) Run(ctx context.Context, profile strategy.Profile, source reqsource.Source) <-chan BenchmarkEvent {
	out := make(chan BenchmarkEvent)
	go b.run(ctx, profile, source, out)
	return out
}

func (b *Benchmarker) run(ctx context.Context, profile strategy.Profile, source reqsource.Source, out chan<- BenchmarkEvent) {
	defer close(out)

	if !emit(ctx, out, BenchmarkEvent{Kind: RunStart}) {
		return
	}

	for {
		strat, ok := profile.Next()
		if !ok {
			break
		}

		label := strat.Label()
		b.Logger.Info("starting strategy", zap.String("strategy", label))

		if !emit(ctx, out, BenchmarkEvent{Kind: SchedulerStart, StrategyLabel: label}) {
			return
		}

		agg := aggregate.NewAggregator(label)
		opts := scheduler.RunOptions{}
		if b.RunOptionsFor != nil {
			opts = b.RunOptionsFor(strat)
		}

		events := b.Scheduler.Run(ctx, strat, source, opts)
		var observedRate, observedConcurrency float64

		for ev := range events {
			agg.AddResult(ev)
			evCopy := ev
			if !emit(ctx, out, BenchmarkEvent{Kind: SchedulerUpdate, StrategyLabel: label, SchedulerEvt: &evCopy}) {
				return
			}
			if ev.Kind == schedtypes.RunComplete {
				if ev.Err != nil {
					b.Logger.Error("strategy run ended with an error", zap.String("strategy", label), zap.Error(ev.Err))
				}
			}
		}

		if !emit(ctx, out, BenchmarkEvent{Kind: SchedulerComplete, StrategyLabel: label}) {
			return
		}

		summary := agg.Compile()
		observedRate = summary.RequestsPerSecond.Mean
		observedConcurrency = summary.RequestConcurrency.Mean

		if !emit(ctx, out, BenchmarkEvent{Kind: BenchmarkCompiled, StrategyLabel: label, Summary: &summary}) {
			return
		}

		profile.CompletedStrategy(observedRate, observedConcurrency)

		if ctx.Err() != nil {
			break
		}
	}

	emit(context.Background(), out, BenchmarkEvent{Kind: RunComplete})
}

func emit(ctx context.Context, out chan<- BenchmarkEvent, ev BenchmarkEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
