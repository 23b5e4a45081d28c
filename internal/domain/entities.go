package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrQuotaExhausted     = errors.New("daily quota exhausted")
	ErrRateLimited        = errors.New("rate limited")
	ErrProvidersExhausted = errors.New("all providers failed")
	ErrInternal           = errors.New("internal error")
)

// Provider identifiers
const (
	ProviderOpenAI  = "openai"
	ProviderUpstage = "upstage"
	ProviderStub    = "stub"
)

// SpeakerType enumerates who sent a chat message.
type SpeakerType string

const (
	SpeakerMe    SpeakerType = "me"
	SpeakerOther SpeakerType = "other"
)

// MessageType enumerates the kind of chat message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageEmoji MessageType = "emoji"
)

// ChatMessage is a single message of a generated conversation.
type ChatMessage struct {
	ID          string      `json:"id"`
	Speaker     SpeakerType `json:"speaker"`
	SpeakerName string      `json:"speaker_name,omitempty"`
	Text        string      `json:"text"`
	Type        MessageType `json:"type"`
	Timestamp   time.Time   `json:"timestamp"`
}

// GenerateRequest is the semantically relevant part of a generation call.
// It is the unit the cache fingerprint is derived from.
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	MessageCount int    `json:"message_count"`
	Style        string `json:"style"`
	Language     string `json:"language"`
	Provider     string `json:"provider"`
}

// Normalize fills documented defaults and lowercases enum-like fields.
func (r GenerateRequest) Normalize() GenerateRequest {
	if r.MessageCount <= 0 {
		r.MessageCount = 10
	}
	if r.Style == "" {
		r.Style = "casual"
	}
	if r.Language == "" {
		r.Language = "ko"
	}
	r.Style = strings.ToLower(strings.TrimSpace(r.Style))
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	return r
}

// GenerationParams are provider sampling parameters with documented defaults.
type GenerationParams struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	TopP          float64
	StopSequences []string
}

// DefaultGenerationParams returns the parameter set used for conversation
// generation when the caller does not override anything. Model is left empty
// so each adapter applies its own default.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{Temperature: 0.8, MaxTokens: 2000, TopP: 1.0}
}

// GenerationResult is the outcome of one logical generate call.
// Immutable once produced.
type GenerationResult struct {
	Messages     []ChatMessage `json:"messages"`
	TokensUsed   int           `json:"tokens_used"`
	Provider     string        `json:"provider"`
	UsedFallback bool          `json:"used_fallback"`
	Cached       bool          `json:"cached"`
}

// ProviderResponse is the per-adapter outcome recorded by the router.
type ProviderResponse struct {
	Provider  string  `json:"provider"`
	Text      string  `json:"text,omitempty"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// BatchJobStatus is the terminal state of a batch job.
type BatchJobStatus string

const (
	BatchPending BatchJobStatus = "pending"
	BatchSuccess BatchJobStatus = "success"
	BatchFailed  BatchJobStatus = "failed"
	BatchSkipped BatchJobStatus = "skipped"
)

// BatchJob is one row of a batch request. RowNumber is 1-indexed and always
// reflects the job's position in the original input, including skipped rows.
type BatchJob struct {
	RowNumber int               `json:"row_number"`
	Request   GenerateRequest   `json:"request"`
	Status    BatchJobStatus    `json:"status"`
	Result    *GenerationResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// BatchReport aggregates per-row outcomes of a batch run.
type BatchReport struct {
	Success        bool       `json:"success"`
	Total          int        `json:"total"`
	Processed      int        `json:"processed"`
	Failed         int        `json:"failed"`
	Results        []BatchJob `json:"results"`
	RemainingQuota int        `json:"remaining_quota"`
}

// Provider (port) is a single AI vendor adapter. Implementations own the
// vendor's wire format and report token usage when the vendor returns it
// (zero means unknown).
type Provider interface {
	Name() string
	Generate(ctx Context, prompt string, params GenerationParams) (text string, tokensUsed int, err error)
}

// Context aliases context.Context so entity signatures stay compact.
type Context = context.Context
