// Package scheduler implements the Scheduler (C5): the single
// producer/consumer loop that paces request dispatch against a Strategy,
// owns the worker process pool, and emits the SchedulerEvent stream a
// Benchmarker consumes (spec section 4.5).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windrose-ai/genbench/internal/request"
	"github.com/windrose-ai/genbench/internal/schedtypes"
	"github.com/windrose-ai/genbench/internal/strategy"
	"github.com/windrose-ai/genbench/internal/telemetry"
	"github.com/windrose-ai/genbench/internal/worker"
)

// startupSettle is how long Run waits after spawning worker processes
// before emitting run_start, giving them time to begin polling.
const startupSettle = 100 * time.Millisecond

// RunOptions carries the per-run caps and tunables from the configuration
// surface (spec section 6).
type RunOptions struct {
	// MaxNumber caps the number of requests created this run. <= 0 means
	// unbounded (subject to the request source's own length, if finite).
	MaxNumber int
	// MaxDuration is the run's wall-clock cutoff. <= 0 means unbounded.
	MaxDuration time.Duration
	// RequestTimeout is the default per-request deadline measured from
	// target_start_time. <= 0 means no per-request cap beyond MaxDuration.
	RequestTimeout time.Duration
	// LoopSleep is the producer/consumer loop's cooperative yield
	// granularity. <= 0 defaults to 1ms.
	LoopSleep time.Duration
}

// Scheduler drives one Strategy's worker pool to completion.
type Scheduler struct {
	Worker *worker.Worker
	Logger *zap.Logger
}

// New builds a Scheduler around w, logging through logger.
func New(w *worker.Worker, logger *zap.Logger) *Scheduler {
	return &Scheduler{Worker: w, Logger: logger}
}

// Run starts one scheduling run and returns the event stream. The returned
// channel is closed once run_complete has been emitted and every worker
// process has returned.
func (s *Scheduler) Run(ctx context.Context, strat strategy.Strategy, source reqsource.Source, opts RunOptions) <-chan schedtypes.SchedulerEvent {
	events := make(chan schedtypes.SchedulerEvent)
	go s.run(ctx, strat, source, opts, events)
	return events
}

func (s *Scheduler) run(ctx context.Context, strat strategy.Strategy, source reqsource.Source, opts RunOptions, events chan<- schedtypes.SchedulerEvent) {
	defer close(events)

	loopSleep := opts.LoopSleep
	if loopSleep <= 0 {
		loopSleep = time.Millisecond
	}

	processes := strat.ProcessesLimit()
	if processes < 1 {
		processes = 1
	}

	processingLimit, unboundedProcessing := strat.ProcessingRequestsLimit()
	perProcessCap := 0
	if !unboundedProcessing && processingLimit > 0 {
		perProcessCap = (processingLimit + processes - 1) / processes
		if perProcessCap < 1 {
			perProcessCap = 1
		}
	}

	queueCap := strat.QueuedRequestsLimit()
	if queueCap < 1 {
		queueCap = 1
	}

	requestsCh := make(chan *schedtypes.RequestEnvelope, queueCap)
	responses := NewUnbounded[schedtypes.WorkerResponse]()
	crashed := make(chan error, processes)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < processes; i++ {
		proc := worker.NewProcess(i, s.Worker, strat.Mode(), perProcessCap, strat.Label(), requestsCh, responses.In(), crashed, s.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			proc.Run(runCtx)
		}()
	}
	time.Sleep(startupSettle)

	run := schedtypes.RunInfo{
		RunID:         uuid.New().String(),
		StartTime:     time.Now(),
		Processes:     processes,
		StrategyLabel: strat.Label(),
		EndNumber:     -1,
	}

	hasEndTime := opts.MaxDuration > 0
	var endTime time.Time
	if hasEndTime {
		endTime = run.StartTime.Add(opts.MaxDuration)
		run.EndTime = endTime
	}

	endNumber := -1
	if opts.MaxNumber > 0 {
		endNumber = opts.MaxNumber
	}
	if n, finite := source.Len(); finite {
		if endNumber < 0 || n < endNumber {
			endNumber = n
		}
	}
	run.EndNumber = endNumber

	if endNumber < 0 && !hasEndTime {
		s.Logger.Warn("run has neither max_number, max_duration, nor a finite request source; it will run until cancelled")
	}

	if !sendEvent(ctx, events, schedtypes.SchedulerEvent{Kind: schedtypes.RunStart, RunInfo: run.Clone()}) {
		s.drainShutdown(requestsCh, responses, &wg, processes)
		return
	}

	exhausted := false
	var runErr error
	partial := false

loop:
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break loop
		}

		select {
		case err := <-crashed:
			s.Logger.Error("worker process crashed, aborting run", zap.Error(err))
			runErr = err
			partial = true
			break loop
		default:
		}

		telemetry.QueueDepth.Set(float64(len(requestsCh)))
		telemetry.InFlight.Set(float64(run.Processing))

		if !exhausted && len(requestsCh) < cap(requestsCh) {
			targetTime, stratOK := strat.Next()
			req, reqOK := source.Next()
			switch {
			case !stratOK || !reqOK:
				exhausted = true
			case endNumber >= 0 && run.Created >= endNumber:
				exhausted = true
			case hasEndTime && !targetTime.Before(endTime):
				exhausted = true
			default:
				env := &schedtypes.RequestEnvelope{
					Request:         req,
					TargetStartTime: targetTime,
					Deadline:        computeDeadline(targetTime, endTime, hasEndTime, opts.RequestTimeout),
					QueuedTime:      time.Now(),
				}
				requestsCh <- env
				run.Created++
				run.Queued++
			}
		}

	drain:
		for {
			select {
			case resp, ok := <-responses.Out():
				if !ok {
					break drain
				}
				ev := applyResponse(&run, resp)
				if !sendEvent(ctx, events, ev) {
					break loop
				}
			default:
				break drain
			}
		}

		if exhausted && run.Completed >= run.Created {
			break loop
		}

		select {
		case <-time.After(loopSleep):
		case <-ctx.Done():
		}
	}

	sendEvent(context.Background(), events, schedtypes.SchedulerEvent{
		Kind:          schedtypes.RunComplete,
		RunInfo:       run.Clone(),
		PartialResult: partial,
		Err:           runErr,
	})

	cancel()
	s.drainShutdown(requestsCh, responses, &wg, processes)
}

// drainShutdown enqueues one nil terminate sentinel per worker process,
// waits for all of them to return, then closes the responses queue (spec
// section 4.5 shutdown steps 2-3).
func (s *Scheduler) drainShutdown(requestsCh chan *schedtypes.RequestEnvelope, responses *Unbounded[schedtypes.WorkerResponse], wg *sync.WaitGroup, processes int) {
	for i := 0; i < processes; i++ {
		requestsCh <- nil
	}
	wg.Wait()
	responses.Close()
}

// sendEvent delivers ev unless ctx is done first; it reports whether the
// send succeeded so the caller can unwind on cancellation.
func sendEvent(ctx context.Context, events chan<- schedtypes.SchedulerEvent, ev schedtypes.SchedulerEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func applyResponse(run *schedtypes.RunInfo, resp schedtypes.WorkerResponse) schedtypes.SchedulerEvent {
	var kind schedtypes.EventKind
	switch resp.Kind {
	case schedtypes.RespScheduled:
		run.Queued--
		run.Scheduled++
		kind = schedtypes.RequestScheduled
	case schedtypes.RespStart:
		run.Scheduled--
		run.Processing++
		kind = schedtypes.RequestStart
	case schedtypes.RespComplete:
		run.Processing--
		run.Completed++
		kind = schedtypes.RequestComplete
	}
	req := resp.Request
	return schedtypes.SchedulerEvent{
		Kind:     kind,
		RunInfo:  run.Clone(),
		Request:  &req,
		Response: resp.Response,
		Info:     resp.Info,
	}
}

// computeDeadline folds the run's max_duration cutoff and the per-request
// timeout knob into the single hard deadline every envelope carries (spec
// section 5, Cancellation and deadlines).
func computeDeadline(targetStart, endTime time.Time, hasEndTime bool, requestTimeout time.Duration) time.Time {
	var deadline time.Time
	if hasEndTime {
		deadline = endTime
	}
	if requestTimeout > 0 {
		base := targetStart
		if schedtypes.IsASAP(base) {
			base = time.Now()
		}
		rt := base.Add(requestTimeout)
		if deadline.IsZero() || rt.Before(deadline) {
			deadline = rt
		}
	}
	return deadline
}
