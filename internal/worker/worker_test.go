package worker

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/windrose-ai/genbench/internal/backend"
)

func TestResolve_DeadlineAlreadyElapsedShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, backend.EncodeChatChunk("too late", nil))
		fmt.Fprint(w, backend.EncodeDone())
	}))
	defer srv.Close()

	client := backend.New(backend.Config{Target: srv.URL, Model: "test-model", UseChatEndpoint: true}, zap.NewNop())
	w := New(client)

	req := backend.Request{ID: "r1", Messages: []backend.ChatMessage{{Role: "user", Content: "hi"}}}
	pastDeadline := time.Now().Add(-time.Second)

	summary := w.Resolve(t.Context(), req, pastDeadline)

	require.NotNil(t, summary.Error)
	assert.Equal(t, backend.KindDeadline, summary.Error.Kind)
	assert.False(t, called, "backend must not be called once the deadline has already elapsed")
}

func TestResolve_SuccessfulStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, backend.EncodeChatChunk("foo", nil))
		fmt.Fprint(w, backend.EncodeChatChunk("bar", &backend.Usage{PromptTokens: 5, CompletionTokens: 2}))
		fmt.Fprint(w, backend.EncodeDone())
	}))
	defer srv.Close()

	client := backend.New(backend.Config{Target: srv.URL, Model: "test-model", UseChatEndpoint: true}, zap.NewNop())
	w := New(client)

	req := backend.Request{ID: "r1", Messages: []backend.ChatMessage{{Role: "user", Content: "hi"}}}

	summary := w.Resolve(t.Context(), req, time.Time{})

	require.Nil(t, summary.Error)
	assert.Equal(t, "foobar", summary.Value)
	assert.Equal(t, 2, summary.IterCount)
	assert.Equal(t, 5, summary.ResponsePromptTokens)
	assert.Equal(t, 2, summary.ResponseOutputTokens)
	assert.False(t, summary.StartTime.IsZero())
	assert.False(t, summary.FirstIterTime.After(summary.LastIterTime))
}

func TestResolve_OutputTokensDefaultToIterCountWithoutUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, backend.EncodeTextChunk("a", nil))
		fmt.Fprint(w, backend.EncodeTextChunk("b", nil))
		fmt.Fprint(w, backend.EncodeTextChunk("c", nil))
		fmt.Fprint(w, backend.EncodeDone())
	}))
	defer srv.Close()

	client := backend.New(backend.Config{Target: srv.URL, Model: "test-model", UseChatEndpoint: false}, zap.NewNop())
	w := New(client)

	req := backend.Request{ID: "r1", Prompt: "hi"}

	summary := w.Resolve(t.Context(), req, time.Time{})

	require.Nil(t, summary.Error)
	assert.Equal(t, 3, summary.IterCount)
	assert.Equal(t, 3, summary.ResponseOutputTokens)
}
