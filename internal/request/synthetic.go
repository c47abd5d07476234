package reqsource

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/windrose-ai/genbench/internal/backend"
)

// SyntheticConfig controls the prompt shape produced by SyntheticSource.
type SyntheticConfig struct {
	// Count is the number of requests to generate; zero means infinite.
	Count int
	// PromptTokens/OutputTokens are the declared hints attached to every
	// generated request (spec section 3, Request).
	PromptTokens int
	OutputTokens int
	// Chat selects whether generated requests carry Messages (true) or a
	// bare Prompt (false).
	Chat  bool
	Model string
	Seed  int64
}

// SyntheticSource generates synthetic prompts of a fixed declared token
// count, standing in for guidellm's HuggingFace dataset loader (out of
// scope per spec section 1) with a zero-dependency in-memory generator.
type SyntheticSource struct {
	cfg   SyntheticConfig
	rng   *rand.Rand
	index int
}

// NewSyntheticSource builds a synthetic request source. cfg.Count == 0
// produces an unbounded source, matching strategies like AsyncPoisson that
// run until max_number/max_duration cuts them off.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &SyntheticSource{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

var syntheticVocab = strings.Fields(
	"the quick brown fox jumps over lazy dog while a curious cat watches " +
		"from the windowsill and wonders about the nature of distributed " +
		"systems latency tail percentiles throughput concurrency scheduling",
)

func (s *SyntheticSource) promptText() string {
	n := s.cfg.PromptTokens
	if n <= 0 {
		n = 32
	}
	words := make([]string, n)
	for i := range words {
		words[i] = syntheticVocab[s.rng.Intn(len(syntheticVocab))]
	}
	return strings.Join(words, " ")
}

// Next implements Source.
func (s *SyntheticSource) Next() (backend.Request, bool) {
	if s.cfg.Count > 0 && s.index >= s.cfg.Count {
		return backend.Request{}, false
	}
	id := fmt.Sprintf("synthetic-%d", s.index)
	s.index++

	promptTokens := s.cfg.PromptTokens
	outputTokens := s.cfg.OutputTokens
	req := backend.Request{
		ID:               id,
		PromptTokenCount: &promptTokens,
		OutputTokenCount: &outputTokens,
	}
	if s.cfg.Chat {
		req.Messages = []backend.ChatMessage{{Role: "user", Content: s.promptText()}}
	} else {
		req.Prompt = s.promptText()
	}
	if outputTokens > 0 {
		req.MaxOutputTokens = &outputTokens
	}
	return req, true
}

// Len implements Source.
func (s *SyntheticSource) Len() (int, bool) {
	if s.cfg.Count <= 0 {
		return 0, false
	}
	return s.cfg.Count, true
}
