// Package upstage implements the provider adapter for the Upstage Solar API.
// Solar exposes an OpenAI-compatible chat completions endpoint.
package upstage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-chat-generator/internal/config"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

const defaultModel = "solar-pro"

// Client calls the Upstage Solar chat completions endpoint.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs an Upstage adapter.
func New(cfg config.Config) *Client {
	timeout := cfg.GenerateTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, hc: &http.Client{Timeout: timeout}}
}

// Name implements domain.Provider.
func (c *Client) Name() string { return domain.ProviderUpstage }

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// Generate implements domain.Provider.
func (c *Client) Generate(ctx domain.Context, prompt string, params domain.GenerationParams) (string, int, error) {
	if c.cfg.UpstageAPIKey == "" {
		return "", 0, fmt.Errorf("%w: UPSTAGE_API_KEY missing", domain.ErrInvalidArgument)
	}
	model := params.Model
	if model == "" {
		model = c.cfg.UpstageModel
	}
	if model == "" {
		model = defaultModel
	}

	body := map[string]any{
		"model":       model,
		"temperature": params.Temperature,
		"max_tokens":  params.MaxTokens,
		"top_p":       params.TopP,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if len(params.StopSequences) > 0 {
		body["stop"] = params.StopSequences
	}
	b, _ := json.Marshal(body)

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	endpoint := c.cfg.UpstageBaseURL + "/chat/completions"
	op := func() error {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.cfg.UpstageAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("ai provider rate limited", slog.String("provider", "upstage"), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			slog.Warn("ai provider 4xx",
				slog.String("provider", "upstage"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", model),
				slog.String("body", snippet(bodyBytes)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Error("ai provider non-2xx",
				slog.String("provider", "upstage"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", model),
				slog.String("body", snippet(bodyBytes)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("ai provider decode error", slog.String("provider", "upstage"), slog.Any("error", err))
			return err
		}
		return nil
	}

	bo := backoff.WithContext(c.backoffConfig(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", 0, fmt.Errorf("upstage api failed: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, errors.New("empty choices from Upstage API")
	}
	return out.Choices[0].Message.Content, out.Usage.TotalTokens, nil
}

func snippet(b []byte) string {
	if len(b) > 512 {
		b = b[:512]
	}
	return string(b)
}
