// Package schedtypes holds the data model shared between the scheduler and
// worker packages (spec section 3): RequestEnvelope, RequestInfo, RunInfo,
// and SchedulerEvent. It exists as its own package, rather than living in
// either scheduler or worker, so that worker processes can be constructed
// without the worker package importing the scheduler that owns them.
package schedtypes

import (
	"time"

	"github.com/windrose-ai/genbench/internal/backend"
)

// RequestEnvelope is the unit placed on the requests queue (spec section 3).
// A zero TargetStartTime means "dispatch ASAP" (the source's -infinity
// sentinel); a zero Deadline means "no duration cap" (+infinity).
type RequestEnvelope struct {
	Request         backend.Request
	TargetStartTime time.Time
	Deadline        time.Time
	QueuedTime      time.Time
}

// IsASAP reports whether t is the "dispatch immediately" sentinel.
func IsASAP(t time.Time) bool { return t.IsZero() }

// HasDeadline reports whether d is a real cutoff rather than "+infinity".
func HasDeadline(d time.Time) bool { return !d.IsZero() }

// RequestInfo is the per-request timing ledger (spec section 3). Every
// field starts nil ("not yet set" — the source's -1 sentinel) and is
// written at most once; for a completed request, QueuedTime <=
// ScheduledTime <= WorkerStart <= WorkerEnd.
type RequestInfo struct {
	TargetedStartTime *time.Time
	QueuedTime        *time.Time
	ScheduledTime     *time.Time
	WorkerStart       *time.Time
	WorkerEnd         *time.Time
	WorkerID          int // -1 means unset
}

// NewRequestInfo returns a RequestInfo with every field unset.
func NewRequestInfo() *RequestInfo {
	return &RequestInfo{WorkerID: -1}
}

func stamp(t time.Time) *time.Time {
	tc := t
	return &tc
}

// SetTargetedStartTime records targeted_start_time exactly once.
func (i *RequestInfo) SetTargetedStartTime(t time.Time) {
	if i.TargetedStartTime == nil {
		i.TargetedStartTime = stamp(t)
	}
}

// SetQueuedTime records queued_time exactly once.
func (i *RequestInfo) SetQueuedTime(t time.Time) {
	if i.QueuedTime == nil {
		i.QueuedTime = stamp(t)
	}
}

// SetScheduledTime records scheduled_time exactly once.
func (i *RequestInfo) SetScheduledTime(t time.Time) {
	if i.ScheduledTime == nil {
		i.ScheduledTime = stamp(t)
	}
}

// SetWorkerStart records worker_start exactly once.
func (i *RequestInfo) SetWorkerStart(t time.Time) {
	if i.WorkerStart == nil {
		i.WorkerStart = stamp(t)
	}
}

// SetWorkerEnd records worker_end exactly once.
func (i *RequestInfo) SetWorkerEnd(t time.Time) {
	if i.WorkerEnd == nil {
		i.WorkerEnd = stamp(t)
	}
}

// RunInfo is the per-run counter and bound snapshot (spec section 3). The
// counter invariant created == queued+scheduled+processing+completed holds
// at all times; EndNumber == -1 means unbounded, zero EndTime means
// unbounded duration.
type RunInfo struct {
	// RunID identifies one strategy run for correlating logs, traces, and
	// report rows; assigned once by the Scheduler at run_start.
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	EndNumber     int
	Processes     int
	StrategyLabel string

	Created    int
	Queued     int
	Scheduled  int
	Processing int
	Completed  int
}

// Clone returns a value copy safe to attach to an emitted event, so later
// mutation by the scheduler loop cannot race with a consumer reading it.
func (r RunInfo) Clone() RunInfo { return r }

// EventKind tags the SchedulerEvent sum type (spec section 3).
type EventKind int

const (
	RunStart EventKind = iota
	RequestScheduled
	RequestStart
	RequestComplete
	RunComplete
)

func (k EventKind) String() string {
	switch k {
	case RunStart:
		return "run_start"
	case RequestScheduled:
		return "request_scheduled"
	case RequestStart:
		return "request_start"
	case RequestComplete:
		return "request_complete"
	case RunComplete:
		return "run_complete"
	default:
		return "unknown"
	}
}

// SchedulerEvent is the tagged event emitted by the Scheduler (spec
// section 3). Request-scoped events additionally carry Request, Response,
// and Info.
type SchedulerEvent struct {
	Kind    EventKind
	RunInfo RunInfo

	Request  *backend.Request
	Response *backend.ResponseSummary
	Info     *RequestInfo

	// PartialResult is set on a RunComplete event emitted after a
	// WorkerCrash cut the run short (spec section 7).
	PartialResult bool
	// Err carries the run-scoped error, if any, that caused early
	// termination (spec section 7 propagation policy).
	Err error
}

// ResponseKind tags the internal worker -> scheduler response message.
type ResponseKind int

const (
	RespScheduled ResponseKind = iota
	RespStart
	RespComplete
)

// WorkerResponse is what a Worker Process posts to the responses queue for
// the Scheduler's consumer half to translate into counter updates and a
// SchedulerEvent (spec section 4.5 state machine table).
type WorkerResponse struct {
	Kind     ResponseKind
	Request  backend.Request
	Response *backend.ResponseSummary
	Info     *RequestInfo
}
