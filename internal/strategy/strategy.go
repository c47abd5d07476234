// Package strategy implements the Scheduling Strategy component (C1): the
// five temporal patterns the Scheduler can drive a run under, plus the
// Sweep/Profile composition that chains several of them together.
package strategy

import (
	"runtime"
	"time"
)

// Mode is the Worker Process execution shape a Strategy declares.
type Mode int

const (
	Sync Mode = iota
	Async
)

// Strategy produces the lazy, monotonically non-decreasing sequence of
// absolute dispatch timestamps consumed by the Scheduler's producer loop,
// and declares the execution shape of the worker pool (spec section 4.1).
type Strategy interface {
	// Label identifies the strategy for reporting (e.g. "synchronous",
	// "async_constant@10.00").
	Label() string

	// Next returns the next absolute target_start_time. A zero time.Time
	// with ok==false means the sequence is exhausted (no strategy in this
	// spec actually exhausts, but the interface allows it for composition).
	Next() (t time.Time, ok bool)

	Mode() Mode
	ProcessesLimit() int
	ProcessingRequestsLimit() (limit int, unbounded bool)
	QueuedRequestsLimit() int
}

// negInfinity is the sentinel "dispatch ASAP" timestamp for sync strategies
// (spec section 4.1 table: "constant stream of -inf").
var negInfinity = time.Time{}

// IsASAP reports whether t is the -infinity dispatch-immediately sentinel.
func IsASAP(t time.Time) bool { return t.IsZero() }

func defaultQueuedLimit(inFlight, processes int) int {
	return inFlight + processes
}

// availableCPUs clamps GOMAXPROCS-derived parallelism the way the source's
// throughput strategy clamps to CPU count minus one, floor 1.
func availableCPUs(maxWorkerProcesses int) int {
	n := runtime.GOMAXPROCS(0) - 1
	if n < 1 {
		n = 1
	}
	if maxWorkerProcesses > 0 && n > maxWorkerProcesses {
		n = maxWorkerProcesses
	}
	return n
}

// Synchronous dispatches one request at a time through a single worker
// process, ASAP.
type Synchronous struct{}

func (Synchronous) Label() string                 { return "synchronous" }
func (Synchronous) Next() (time.Time, bool)        { return negInfinity, true }
func (Synchronous) Mode() Mode                     { return Sync }
func (Synchronous) ProcessesLimit() int            { return 1 }
func (Synchronous) ProcessingRequestsLimit() (int, bool) { return 1, false }
func (Synchronous) QueuedRequestsLimit() int       { return defaultQueuedLimit(1, 1) }

// Concurrent dispatches ASAP across a fixed number of sync worker streams.
type Concurrent struct {
	Streams int
}

func (c Concurrent) Label() string          { return "concurrent" }
func (c Concurrent) Next() (time.Time, bool) { return negInfinity, true }
func (c Concurrent) Mode() Mode              { return Sync }
func (c Concurrent) ProcessesLimit() int     { return c.Streams }
func (c Concurrent) ProcessingRequestsLimit() (int, bool) { return c.Streams, false }
func (c Concurrent) QueuedRequestsLimit() int { return defaultQueuedLimit(c.Streams, c.Streams) }

// Throughput dispatches ASAP across as many async worker processes as the
// machine (or config) allows, each holding as many requests in flight as it
// can.
type Throughput struct {
	MaxWorkerProcesses int
	MaxConcurrency     int
}

func (t Throughput) Label() string          { return "throughput" }
func (t Throughput) Next() (time.Time, bool) { return negInfinity, true }
func (t Throughput) Mode() Mode              { return Async }
func (t Throughput) ProcessesLimit() int     { return availableCPUs(t.MaxWorkerProcesses) }
func (t Throughput) ProcessingRequestsLimit() (int, bool) {
	if t.MaxConcurrency > 0 {
		return t.MaxConcurrency, false
	}
	return 0, true
}
func (t Throughput) QueuedRequestsLimit() int {
	limit, unbounded := t.ProcessingRequestsLimit()
	if unbounded {
		limit = t.ProcessesLimit() * 8
	}
	return defaultQueuedLimit(limit, t.ProcessesLimit())
}
