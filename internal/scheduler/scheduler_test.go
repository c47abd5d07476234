package scheduler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/windrose-ai/genbench/internal/backend"
	reqsource "github.com/windrose-ai/genbench/internal/request"
	"github.com/windrose-ai/genbench/internal/schedtypes"
	"github.com/windrose-ai/genbench/internal/strategy"
	"github.com/windrose-ai/genbench/internal/worker"
)

func happyPathServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, backend.EncodeChatChunk("hi", &backend.Usage{PromptTokens: 1, CompletionTokens: 1}))
		fmt.Fprint(w, backend.EncodeDone())
	}))
}

func newTestScheduler(t *testing.T, target string) *Scheduler {
	t.Helper()
	client := backend.New(backend.Config{Target: target, Model: "test-model", UseChatEndpoint: true}, zap.NewNop())
	return New(worker.New(client), zap.NewNop())
}

func collectEvents(ch <-chan schedtypes.SchedulerEvent) []schedtypes.SchedulerEvent {
	var out []schedtypes.SchedulerEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestScheduler_SynchronousRunCompletesAllRequests(t *testing.T) {
	srv := happyPathServer(t)
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL)
	source := reqsource.NewSyntheticSource(reqsource.SyntheticConfig{Count: 5, PromptTokens: 4, OutputTokens: 4, Chat: true})

	events := collectEvents(sched.Run(t.Context(), strategy.Synchronous{}, source, RunOptions{}))

	require.NotEmpty(t, events)
	assert.Equal(t, schedtypes.RunStart, events[0].Kind)
	last := events[len(events)-1]
	assert.Equal(t, schedtypes.RunComplete, last.Kind)
	assert.False(t, last.PartialResult)
	assert.Nil(t, last.Err)
	assert.Equal(t, 5, last.RunInfo.Created)
	assert.Equal(t, 5, last.RunInfo.Completed)
	assert.Equal(t, 0, last.RunInfo.Queued)
	assert.Equal(t, 0, last.RunInfo.Scheduled)
	assert.Equal(t, 0, last.RunInfo.Processing)

	completes := 0
	for _, ev := range events {
		if ev.Kind == schedtypes.RequestComplete {
			completes++
		}
	}
	assert.Equal(t, 5, completes)
}

func TestScheduler_SynchronousDoesNotOverlapRequests(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, backend.EncodeChatChunk("x", &backend.Usage{CompletionTokens: 1}))
		fmt.Fprint(w, backend.EncodeDone())
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL)
	source := reqsource.NewSyntheticSource(reqsource.SyntheticConfig{Count: 4, Chat: true})

	collectEvents(sched.Run(t.Context(), strategy.Synchronous{}, source, RunOptions{}))

	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(1))
}

func TestScheduler_HTTPStatusErrorsAreCountedAsCompletions(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, backend.EncodeChatChunk("ok", &backend.Usage{CompletionTokens: 1}))
		fmt.Fprint(w, backend.EncodeDone())
	}))
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL)
	source := reqsource.NewSyntheticSource(reqsource.SyntheticConfig{Count: 5, Chat: true})

	events := collectEvents(sched.Run(t.Context(), strategy.Concurrent{Streams: 2}, source, RunOptions{}))

	last := events[len(events)-1]
	assert.Equal(t, schedtypes.RunComplete, last.Kind)
	assert.Equal(t, 5, last.RunInfo.Completed)

	var errorCount int
	for _, ev := range events {
		if ev.Kind == schedtypes.RequestComplete && ev.Response != nil && ev.Response.Error != nil {
			errorCount++
			assert.Equal(t, backend.KindHTTPStatus, ev.Response.Error.Kind)
			assert.Equal(t, http.StatusServiceUnavailable, ev.Response.Error.StatusCode)
		}
	}
	assert.Equal(t, 1, errorCount)
}

func TestScheduler_MaxNumberCapsCreatedRequests(t *testing.T) {
	srv := happyPathServer(t)
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL)
	// An effectively unbounded source; max_number must be what stops the run.
	source := reqsource.NewSyntheticSource(reqsource.SyntheticConfig{Count: 0, Chat: true})

	events := collectEvents(sched.Run(t.Context(), strategy.Synchronous{}, source, RunOptions{MaxNumber: 3}))

	last := events[len(events)-1]
	assert.Equal(t, 3, last.RunInfo.Created)
	assert.Equal(t, 3, last.RunInfo.Completed)
}

func TestScheduler_RunInfoCounterInvariantHolds(t *testing.T) {
	srv := happyPathServer(t)
	defer srv.Close()

	sched := newTestScheduler(t, srv.URL)
	source := reqsource.NewSyntheticSource(reqsource.SyntheticConfig{Count: 6, Chat: true})

	for _, ev := range collectEvents(sched.Run(t.Context(), strategy.Concurrent{Streams: 3}, source, RunOptions{})) {
		ri := ev.RunInfo
		sum := ri.Queued + ri.Scheduled + ri.Processing + ri.Completed
		assert.Equal(t, ri.Created, sum, "counter invariant violated at event kind %v", ev.Kind)
	}
}

func TestUnbounded_PreservesFIFOOrderUnderBursts(t *testing.T) {
	u := NewUnbounded[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			u.Send(i)
		}
		u.Close()
	}()

	var got []int
	for v := range u.Out() {
		got = append(got, v)
	}
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
