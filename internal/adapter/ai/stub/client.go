// Package stub provides a fast, deterministic provider for local runs and
// tests when no vendor API keys are configured.
package stub

import (
	"encoding/json"
	"time"

	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

// Client is an in-process provider adapter.
type Client struct{}

// New constructs a stub provider.
func New() *Client { return &Client{} }

// Name implements domain.Provider.
func (c *Client) Name() string { return domain.ProviderStub }

// Generate returns a fixed two-person conversation shaped like real provider
// output. A tiny sleep keeps batch concurrency behavior observable.
func (c *Client) Generate(_ domain.Context, _ string, params domain.GenerationParams) (string, int, error) {
	time.Sleep(10 * time.Millisecond)
	count := 4
	if params.MaxTokens > 0 && params.MaxTokens < 200 {
		count = 2
	}
	msgs := make([]map[string]string, 0, count)
	lines := []string{"안녕! 뭐해?", "그냥 쉬는 중 ㅋㅋ", "저녁 먹을래?", "좋아, 7시에 보자"}
	for i := 0; i < count; i++ {
		speaker := "me"
		if i%2 == 1 {
			speaker = "other"
		}
		msgs = append(msgs, map[string]string{
			"speaker": speaker,
			"text":    lines[i%len(lines)],
			"type":    "text",
		})
	}
	b, _ := json.Marshal(msgs)
	return string(b), len(b) / 4, nil
}
