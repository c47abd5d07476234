package backend

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// wireChunk is the JSON shape of one SSE data line from an OpenAI-compatible
// streaming completions endpoint (spec section 6).
type wireChunk struct {
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage"`
}

type wireChoice struct {
	Delta wireDelta `json:"delta"`
	Text  string    `json:"text"`
}

type wireDelta struct {
	Content string `json:"content"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// doneLiteral is the SSE terminator emitted after the final usage chunk.
const doneLiteral = "[DONE]"

// sseLine is one decoded `data: ...` payload, or the done sentinel.
type sseLine struct {
	done bool
	raw  string
}

// scanSSE reads Server-Sent-Events lines from r and invokes fn for every
// non-empty `data: ` line after stripping the prefix, matching the parsing
// rules in spec section 4.2 step 3. It stops at EOF, at the first error
// returned by fn, or at the [DONE] terminator, returning fn's result for it.
func scanSSE(r io.Reader, fn func(sseLine) error) error {
	scanner := bufio.NewScanner(r)
	// Chat/text completions can legitimately emit large single-line chunks;
	// give the scanner headroom beyond its 64KB default.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			// SSE comments (":ping") and "event:" lines are not part of
			// this wire contract; ignore them.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == doneLiteral {
			return fn(sseLine{done: true})
		}
		if err := fn(sseLine{raw: data}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func decodeChunk(raw string) (wireChunk, error) {
	var c wireChunk
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return wireChunk{}, fmt.Errorf("malformed SSE chunk: %w", err)
	}
	return c, nil
}

// EncodeChatChunk renders one chat-completions SSE data line carrying a
// content delta. It is the left-inverse counterpart scanSSE/decodeChunk is
// tested against (invariant 9) and is also used by test fakes.
func EncodeChatChunk(content string, usage *Usage) string {
	c := wireChunk{Choices: []wireChoice{{Delta: wireDelta{Content: content}}}}
	if usage != nil {
		c.Usage = &wireUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens}
	}
	b, _ := json.Marshal(c)
	return "data: " + string(b) + "\n\n"
}

// EncodeTextChunk renders one text-completions SSE data line.
func EncodeTextChunk(text string, usage *Usage) string {
	c := wireChunk{Choices: []wireChoice{{Text: text}}}
	if usage != nil {
		c.Usage = &wireUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens}
	}
	b, _ := json.Marshal(c)
	return "data: " + string(b) + "\n\n"
}

// EncodeDone renders the SSE terminator line.
func EncodeDone() string {
	return "data: " + doneLiteral + "\n\n"
}
