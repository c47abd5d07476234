package backend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, target string, chat bool) *Client {
	t.Helper()
	return New(Config{Target: target, Model: "test-model", UseChatEndpoint: chat}, zap.NewNop())
}

func TestStream_ChatHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, EncodeChatChunk("hel", nil))
		fmt.Fprint(w, EncodeChatChunk("lo", &Usage{PromptTokens: 3, CompletionTokens: 2}))
		fmt.Fprint(w, EncodeDone())
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, true)
	req := Request{ID: "r1", Messages: []ChatMessage{{Role: "user", Content: "hi"}}}

	var iterCount int
	var sawStart, sawFinal bool
	for ev := range client.Stream(t.Context(), req, time.Time{}) {
		switch ev.Type {
		case EventStart:
			sawStart = true
		case EventIter:
			iterCount++
		case EventFinal:
			sawFinal = true
			assert.Equal(t, 2, ev.Usage.CompletionTokens)
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	assert.True(t, sawStart)
	assert.True(t, sawFinal)
	assert.Equal(t, 2, iterCount)
}

func TestStream_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "backend overloaded")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, true)
	req := Request{ID: "r1", Messages: []ChatMessage{{Role: "user", Content: "hi"}}}

	var gotErr *Error
	for ev := range client.Stream(t.Context(), req, time.Time{}) {
		if ev.Type == EventError {
			gotErr = ev.Err
		}
	}

	require.NotNil(t, gotErr)
	assert.Equal(t, KindHTTPStatus, gotErr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, gotErr.StatusCode)
}

func TestStream_DeadlineExceededMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, EncodeChatChunk("partial", nil))
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, EncodeDone())
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, true)
	req := Request{ID: "r1", Messages: []ChatMessage{{Role: "user", Content: "hi"}}}
	deadline := time.Now().Add(30 * time.Millisecond)

	var gotErr *Error
	for ev := range client.Stream(t.Context(), req, deadline) {
		if ev.Type == EventError {
			gotErr = ev.Err
		}
	}

	require.NotNil(t, gotErr)
	assert.Equal(t, KindDeadline, gotErr.Kind)
}

func TestBuildQuery_URLEncodesValues(t *testing.T) {
	client := newTestClient(t, "http://example.test", true)
	q := client.buildQuery(EndpointChatCompletions, map[string]any{"seed": "a b"})
	assert.Contains(t, q, "seed=a+b")
}
