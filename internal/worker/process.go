package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/windrose-ai/genbench/internal/schedtypes"
	"github.com/windrose-ai/genbench/internal/strategy"
	"github.com/windrose-ai/genbench/internal/telemetry"
)

// Process is a long-lived Worker Process (C4): it consumes the shared
// requests queue, either one at a time (sync mode) or up to PerProcessCap
// concurrently (async mode), and posts timing/response messages to the
// shared responses queue (spec section 4.4).
type Process struct {
	ID            int
	Worker        *Worker
	Mode          strategy.Mode
	PerProcessCap int // 0 means unbounded concurrency within this process

	// StrategyLabel tags every metric and span this process emits, so a
	// Sweep's per-strategy runs stay distinguishable in Prometheus/traces.
	StrategyLabel string

	Requests  <-chan *schedtypes.RequestEnvelope
	Responses chan<- schedtypes.WorkerResponse

	// Crashed receives one error if Run's goroutine (or one of its async
	// children) panics. It is supplied by the Scheduler, shared across all
	// processes in the pool, and sized so a send never blocks.
	Crashed chan<- error

	Logger *zap.Logger
}

// NewProcess builds a Process. perProcessCap <= 0 means unbounded.
func NewProcess(id int, w *Worker, mode strategy.Mode, perProcessCap int, strategyLabel string,
	requests <-chan *schedtypes.RequestEnvelope, responses chan<- schedtypes.WorkerResponse,
	crashed chan<- error, logger *zap.Logger) *Process {
	if perProcessCap < 0 {
		perProcessCap = 0
	}
	return &Process{
		ID:            id,
		Worker:        w,
		Mode:          mode,
		PerProcessCap: perProcessCap,
		StrategyLabel: strategyLabel,
		Requests:      requests,
		Responses:     responses,
		Crashed:       crashed,
		Logger:        logger,
	}
}

// Run drains the requests queue until it receives the nil terminate
// sentinel, then returns once all outstanding work (async mode) has
// drained (spec section 4.4).
func (p *Process) Run(ctx context.Context) {
	switch p.Mode {
	case strategy.Async:
		p.runAsync(ctx)
	default:
		p.runSync(ctx)
	}
}

func (p *Process) runSync(ctx context.Context) {
	for {
		env, ok := <-p.Requests
		if !ok || env == nil {
			return
		}
		p.handle(ctx, env)
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Process) runAsync(ctx context.Context) {
	var sem chan struct{}
	if p.PerProcessCap > 0 {
		sem = make(chan struct{}, p.PerProcessCap)
	}

	var wg sync.WaitGroup
	for {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return
			}
		}

		env, ok := <-p.Requests
		if !ok || env == nil {
			if sem != nil {
				<-sem
			}
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(e *schedtypes.RequestEnvelope) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			p.handle(ctx, e)
		}(env)
	}
}

// handle runs the five-step dispatch sequence from spec section 4.4 for one
// envelope: write scheduled_time and emit request_scheduled, sleep until
// target_start_time, write worker_start and emit request_start, resolve,
// write worker_end and emit request_complete.
func (p *Process) handle(ctx context.Context, env *schedtypes.RequestEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker process %d crashed: %v", p.ID, r)
			p.Logger.Error("worker process panic recovered", zap.Int("worker_id", p.ID), zap.Any("panic", r))
			select {
			case p.Crashed <- err:
			default:
			}
		}
	}()

	info := schedtypes.NewRequestInfo()
	info.WorkerID = p.ID
	info.SetQueuedTime(env.QueuedTime)
	info.SetTargetedStartTime(env.TargetStartTime)
	info.SetScheduledTime(time.Now())

	req := env.Request
	p.Responses <- schedtypes.WorkerResponse{Kind: schedtypes.RespScheduled, Request: req, Info: info}

	if !schedtypes.IsASAP(env.TargetStartTime) {
		if d := time.Until(env.TargetStartTime); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}

	workerStart := time.Now()
	info.SetWorkerStart(workerStart)
	p.Responses <- schedtypes.WorkerResponse{Kind: schedtypes.RespStart, Request: req, Info: info}

	if !schedtypes.IsASAP(env.TargetStartTime) {
		telemetry.DispatchJitter.Observe(max(0, workerStart.Sub(env.TargetStartTime)).Seconds())
	}

	telemetry.RequestsStarted.WithLabelValues(p.StrategyLabel).Inc()
	spanCtx, span := telemetry.StartRequestSpan(ctx, req.ID, p.StrategyLabel, p.ID)
	summary := p.Worker.Resolve(spanCtx, req, env.Deadline)
	span.End()

	status := "success"
	if summary.Error != nil {
		status = "error"
	}
	telemetry.RequestsCompleted.WithLabelValues(p.StrategyLabel, status).Inc()
	telemetry.RequestLatency.WithLabelValues(p.StrategyLabel).Observe(summary.EndTime.Sub(summary.StartTime).Seconds())
	if !summary.FirstIterTime.IsZero() {
		telemetry.TimeToFirstToken.WithLabelValues(p.StrategyLabel).Observe(summary.FirstIterTime.Sub(summary.StartTime).Seconds())
	}

	info.SetWorkerEnd(time.Now())
	p.Responses <- schedtypes.WorkerResponse{Kind: schedtypes.RespComplete, Request: req, Response: &summary, Info: info}
}
