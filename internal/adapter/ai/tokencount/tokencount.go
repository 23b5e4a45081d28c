// Package tokencount estimates token usage for provider responses.
//
// It uses tiktoken-go so that results cached or reported for providers that
// omit usage data still carry a sensible token count.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides thread-safe token counting with a per-model encoding cache.
type Counter struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	normalized := normalizeModelName(model)

	c.mu.RLock()
	enc, ok := c.encodings[normalized]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[normalized]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(normalized)
	if err != nil {
		// cl100k_base covers GPT-4 era models and is a fair approximation
		// for everything else we route to.
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodings[normalized] = enc
	return enc, nil
}

// normalizeModelName maps vendor model IDs onto tiktoken model names.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// Solar and other non-OpenAI models tokenize similarly enough for
		// an estimate.
		return "gpt-4"
	}
}

// CountTokens returns the token count of text for the given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Estimate is a best-effort count that falls back to a words*1.3 heuristic
// when no encoding can be loaded. It never fails.
func (c *Counter) Estimate(text, model string) int {
	if n, err := c.CountTokens(text, model); err == nil {
		return n
	}
	return int(float64(len(strings.Fields(text))) * 1.3)
}
