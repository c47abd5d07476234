// Package worker implements the Worker (C3) and Worker Process (C4)
// components: resolving one request against the Backend Client and running
// the long-lived pull loop that drains the shared requests queue.
package worker

import (
	"context"
	"time"

	"github.com/windrose-ai/genbench/internal/backend"
	"github.com/windrose-ai/genbench/internal/schedtypes"
)

// Worker wraps a Backend Client and collapses its streamed events into a
// single ResponseSummary (spec section 4.3). The worker never raises out of
// Resolve; all failures are encoded in the returned summary.
type Worker struct {
	client *backend.Client
}

// New builds a Worker around client.
func New(client *backend.Client) *Worker {
	return &Worker{client: client}
}

// Resolve drives one streaming completion and returns its collapsed
// summary. deadline is the hard wall-clock cutoff the scheduler derives from
// the run's max_duration and the per-request timeout; a zero deadline means
// no cap.
func (w *Worker) Resolve(ctx context.Context, req backend.Request, deadline time.Time) backend.ResponseSummary {
	summary := backend.ResponseSummary{RequestID: req.ID}

	if schedtypes.HasDeadline(deadline) && !time.Now().Before(deadline) {
		now := time.Now()
		summary.StartTime = now
		summary.EndTime = now
		e := &backend.Error{Kind: backend.KindDeadline, Message: "deadline already elapsed at dispatch"}
		summary.Error = e
		return summary
	}

	var content string
	for ev := range w.client.Stream(ctx, req, deadline) {
		switch ev.Type {
		case backend.EventStart:
			summary.StartTime = ev.Time
		case backend.EventIter:
			if summary.IterCount == 0 {
				summary.FirstIterTime = ev.Time
			}
			summary.LastIterTime = ev.Time
			summary.IterCount++
			content += ev.Delta
		case backend.EventFinal:
			summary.EndTime = ev.Time
			summary.ResponseOutputTokens = ev.Usage.CompletionTokens
			summary.ResponsePromptTokens = ev.Usage.PromptTokens
		case backend.EventError:
			summary.EndTime = ev.Time
			summary.Error = ev.Err
		}
	}

	summary.Value = content
	if req.PromptTokenCount != nil {
		summary.RequestPromptTokens = *req.PromptTokenCount
	}
	if req.OutputTokenCount != nil {
		summary.RequestOutputTokens = *req.OutputTokenCount
	}
	if summary.ResponseOutputTokens == 0 {
		summary.ResponseOutputTokens = summary.IterCount
	}
	return summary
}
