package reqsource

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/windrose-ai/genbench/internal/backend"
)

// fileRecord is one line of a newline-delimited JSON prompt file, modeled
// on guidellm's request/file.py loader.
type fileRecord struct {
	ID               string `json:"id"`
	Prompt           string `json:"prompt"`
	PromptTokens     *int   `json:"prompt_tokens,omitempty"`
	OutputTokens     *int   `json:"output_tokens,omitempty"`
}

// FileSource loads requests from a newline-delimited JSON file, eagerly
// into memory: each record supplies prompt, optional declared prompt/output
// token counts, and an identifier (spec section 6, Request Source).
type FileSource struct {
	records []fileRecord
	index   int
}

// LoadFileSource reads every line of path as one JSON object.
func LoadFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open request file %q: %w", path, err)
	}
	defer f.Close()

	var records []fileRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid JSON record: %w", path, line, err)
		}
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("%s:%d", path, line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read request file %q: %w", path, err)
	}
	return &FileSource{records: records}, nil
}

// Next implements Source.
func (s *FileSource) Next() (backend.Request, bool) {
	if s.index >= len(s.records) {
		return backend.Request{}, false
	}
	rec := s.records[s.index]
	s.index++

	req := backend.Request{
		ID:               rec.ID,
		Prompt:           rec.Prompt,
		PromptTokenCount: rec.PromptTokens,
		OutputTokenCount: rec.OutputTokens,
	}
	if rec.OutputTokens != nil {
		req.MaxOutputTokens = rec.OutputTokens
	}
	return req, true
}

// Len implements Source.
func (s *FileSource) Len() (int, bool) {
	return len(s.records), true
}
