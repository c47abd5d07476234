package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Endpoint names the per-endpoint extra_query/extra_body override keys from
// spec section 9 (Open Question 3).
type Endpoint string

const (
	EndpointChatCompletions Endpoint = "chat_completions"
	EndpointTextCompletions Endpoint = "text_completions"
	EndpointModels          Endpoint = "models"
)

// Config is the instance-level Backend Client configuration (spec section 6).
type Config struct {
	Target          string
	Model           string
	APIKey          string
	Organization    string
	Project         string
	HTTP2           bool
	FollowRedirects bool

	// MaxOutputTokens is an instance-level cap on max_tokens/
	// max_completion_tokens. Unlike Request.MaxOutputTokens it does not set
	// stop:null/ignore_eos:true.
	MaxOutputTokens *int

	// ExtraQuery/ExtraBody are merged into the request for every call,
	// keyed by the endpoint they apply to.
	ExtraQuery map[Endpoint]map[string]any
	ExtraBody  map[Endpoint]map[string]any

	// UseChatEndpoint selects /v1/chat/completions when true (messages) or
	// /v1/completions when false (prompt).
	UseChatEndpoint bool
}

// Client issues streaming completions requests against an OpenAI-compatible
// endpoint (C2 in the design).
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Backend Client. The caller owns the logger's lifecycle.
func New(cfg Config, logger *zap.Logger) *Client {
	transport := &http.Transport{}
	if cfg.HTTP2 {
		transport.TLSClientConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	}

	httpClient := &http.Client{Transport: transport}
	if !cfg.FollowRedirects {
		httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// endpointPath returns the URL path and override key for this client's
// configured completion mode.
func (c *Client) endpointPath() (string, Endpoint) {
	if c.cfg.UseChatEndpoint {
		return "/v1/chat/completions", EndpointChatCompletions
	}
	return "/v1/completions", EndpointTextCompletions
}

// buildBody constructs the JSON request body per spec section 4.2 step 2,
// merging instance-level and request-level extra_body last so per-request
// overrides win.
func (c *Client) buildBody(req Request, endpoint Endpoint) ([]byte, error) {
	body := map[string]any{
		"model":  c.cfg.Model,
		"stream": true,
		"stream_options": map[string]any{
			"include_usage":          true,
			"continuous_usage_stats": true,
		},
	}
	if c.cfg.UseChatEndpoint {
		msgs := make([]map[string]string, 0, len(req.Messages))
		for _, m := range req.Messages {
			msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
		}
		body["messages"] = msgs
	} else {
		body["prompt"] = req.Prompt
	}

	maxTokens := c.cfg.MaxOutputTokens
	if req.MaxOutputTokens != nil {
		maxTokens = req.MaxOutputTokens
		body["stop"] = nil
		body["ignore_eos"] = true
	}
	if maxTokens != nil {
		if c.cfg.UseChatEndpoint {
			body["max_completion_tokens"] = *maxTokens
		} else {
			body["max_tokens"] = *maxTokens
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	raw, err = mergeExtra(raw, c.cfg.ExtraBody[endpoint])
	if err != nil {
		return nil, err
	}
	raw, err = mergeExtra(raw, req.ExtraBody)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeExtra patches extra key/value pairs into a JSON document in place
// using sjson, avoiding a full unmarshal/remarshal round trip for the common
// case of a handful of passthrough overrides (spec section 6).
func mergeExtra(raw []byte, extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return raw, nil
	}
	doc := string(raw)
	var err error
	for k, v := range extra {
		doc, err = sjson.Set(doc, k, v)
		if err != nil {
			return nil, fmt.Errorf("merge extra_body key %q: %w", k, err)
		}
	}
	return []byte(doc), nil
}

func (c *Client) buildQuery(endpoint Endpoint, reqExtra map[string]any) string {
	values := url.Values{}
	for k, v := range c.cfg.ExtraQuery[endpoint] {
		values.Set(k, fmt.Sprintf("%v", v))
	}
	for k, v := range reqExtra {
		values.Set(k, fmt.Sprintf("%v", v))
	}
	return values.Encode()
}

// Stream issues one streaming completion request and returns a channel of
// StreamingEvent, honoring deadline as a hard wall-clock cutoff (spec
// section 4.2). The channel is always closed by Stream's goroutine, whose
// last event is either EventFinal or EventError.
func (c *Client) Stream(ctx context.Context, req Request, deadline time.Time) <-chan StreamingEvent {
	out := make(chan StreamingEvent, 8)

	go func() {
		defer close(out)

		start := time.Now()
		out <- StreamingEvent{Type: EventStart, Time: start}

		if !deadline.IsZero() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}

		path, endpoint := c.endpointPath()
		body, err := c.buildBody(req, endpoint)
		if err != nil {
			out <- errorEvent(newError(KindMalformed, "failed to build request body", err))
			return
		}

		url := c.cfg.Target + path
		if q := c.buildQuery(endpoint, req.ExtraQuery); q != "" {
			url += "?" + q
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			out <- errorEvent(newError(KindTransport, "failed to build HTTP request", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		if c.cfg.Organization != "" {
			httpReq.Header.Set("OpenAI-Organization", c.cfg.Organization)
		}
		if c.cfg.Project != "" {
			httpReq.Header.Set("OpenAI-Project", c.cfg.Project)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				out <- errorEvent(newError(KindDeadline, "deadline exceeded before response", err))
				return
			}
			out <- errorEvent(newError(KindTransport, "request failed", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
			e := newError(KindHTTPStatus, string(msg), nil)
			e.StatusCode = resp.StatusCode
			out <- errorEvent(e)
			return
		}

		runningTotal := 0
		promptTokens := 0
		scanErr := scanSSE(resp.Body, func(line sseLine) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if line.done {
				out <- StreamingEvent{
					Type: EventFinal,
					Time: time.Now(),
					Usage: Usage{PromptTokens: promptTokens, CompletionTokens: runningTotal},
				}
				return errStreamDone
			}

			chunk, err := decodeChunk(line.raw)
			if err != nil {
				c.logger.Debug("dropping malformed SSE chunk", zap.Error(err))
				return nil
			}

			content := chunk.Choices[0:min(1, len(chunk.Choices))]
			delta := ""
			if len(content) == 1 {
				if c.cfg.UseChatEndpoint {
					delta = content[0].Delta.Content
				} else {
					delta = content[0].Text
				}
			}

			tokenDelta := 1
			if chunk.Usage != nil {
				promptTokens = chunk.Usage.PromptTokens
				tokenDelta = chunk.Usage.CompletionTokens - runningTotal
				if tokenDelta < runningTotal && chunk.Usage.CompletionTokens < runningTotal {
					// Non-monotonic usage.completion_tokens (spec section 9,
					// Open Question 2): emit nothing for this chunk and log.
					c.logger.Warn("non-monotonic completion_tokens from backend",
						zap.Int("running_total", runningTotal),
						zap.Int("reported", chunk.Usage.CompletionTokens))
					return nil
				}
				runningTotal = chunk.Usage.CompletionTokens
			} else {
				runningTotal += tokenDelta
			}

			if tokenDelta < 1 {
				c.logger.Debug("dropping non-positive token delta chunk", zap.Int("delta", tokenDelta))
				return nil
			}

			now := time.Now()
			for i := 0; i < tokenDelta; i++ {
				out <- StreamingEvent{Type: EventIter, Time: now, Delta: delta}
			}
			return nil
		})

		if scanErr != nil && scanErr != errStreamDone {
			if ctx.Err() != nil {
				out <- errorEvent(newError(KindDeadline, "deadline exceeded mid-stream", scanErr))
				return
			}
			out <- errorEvent(newError(KindMalformed, "SSE stream read failed", scanErr))
			return
		}
		if scanErr == nil {
			out <- errorEvent(newError(KindMalformed, "stream ended without [DONE]", nil))
		}
	}()

	return out
}

var errStreamDone = fmt.Errorf("stream done")

func errorEvent(e *Error) StreamingEvent {
	return StreamingEvent{Type: EventError, Time: time.Now(), Err: e}
}
