// Package usecase contains application business logic services.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
	"github.com/fairyhunter13/ai-chat-generator/internal/service/cache"
)

// QuotaGate admits or denies one unit of daily work per caller identity.
type QuotaGate interface {
	CheckAndReserve(ctx domain.Context, identity string) (admitted bool, remaining int)
	Release(ctx domain.Context, identity string)
	Remaining(ctx domain.Context, identity string) int
	Limit() int
	ResetAt() time.Time
}

// ResponseStore is the cache surface the generate pipeline needs.
type ResponseStore interface {
	Get(ctx domain.Context, fingerprint string) ([]byte, bool)
	Set(ctx domain.Context, fingerprint string, payload []byte, ttl time.Duration)
	TTL() time.Duration
}

// Generator routes one prompt to the provider fleet.
type Generator interface {
	Generate(ctx domain.Context, prompt string, params domain.GenerationParams, forceProvider string) (ai.Result, error)
	GenerateWithAll(ctx domain.Context, prompt string, params domain.GenerationParams) map[string]domain.ProviderResponse
}

// TokenEstimator reports a token count for text under a given model,
// falling back to a heuristic when exact encoding is unavailable.
type TokenEstimator interface {
	Estimate(text, model string) int
}

// GenerateService runs the quota, cache, and routing pipeline for a single
// conversation generation.
type GenerateService struct {
	Quota  QuotaGate
	Cache  ResponseStore
	Router Generator
	Tokens TokenEstimator
}

// NewGenerateService constructs a GenerateService with its dependencies.
func NewGenerateService(q QuotaGate, c ResponseStore, r Generator, t TokenEstimator) GenerateService {
	return GenerateService{Quota: q, Cache: c, Router: r, Tokens: t}
}

// Generate admits one unit of quota for identity, serves from cache when an
// identical request was answered before (returning the reserved unit), and
// otherwise routes the prompt to a provider and caches the parsed outcome.
func (s GenerateService) Generate(ctx domain.Context, identity string, req domain.GenerateRequest) (domain.GenerationResult, error) {
	req = req.Normalize()
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.GenerationResult{}, fmt.Errorf("%w: prompt required", domain.ErrInvalidArgument)
	}

	admitted, remaining := s.Quota.CheckAndReserve(ctx, identity)
	if !admitted {
		return domain.GenerationResult{}, fmt.Errorf("%w: limit %d per day", domain.ErrQuotaExhausted, s.Quota.Limit())
	}

	fp := cache.Fingerprint(req)
	if payload, ok := s.Cache.Get(ctx, fp); ok {
		var res domain.GenerationResult
		if err := json.Unmarshal(payload, &res); err == nil {
			res.Cached = true
			s.Quota.Release(ctx, identity)
			slog.Debug("generation served from cache",
				slog.String("fingerprint", fp), slog.String("identity", identity))
			return res, nil
		}
		slog.Warn("cached payload undecodable, regenerating", slog.String("fingerprint", fp))
	}

	prompt := buildPrompt(req.Prompt, req.MessageCount, req.Style, req.Language)
	params := domain.DefaultGenerationParams()
	out, err := s.Router.Generate(ctx, prompt, params, req.Provider)
	if err != nil {
		return domain.GenerationResult{}, err
	}

	messages, err := ai.ParseMessages(out.Text)
	if err != nil {
		return domain.GenerationResult{}, err
	}
	tokens := out.TokensUsed
	if tokens == 0 && s.Tokens != nil {
		tokens = s.Tokens.Estimate(out.Text, params.Model)
	}
	res := domain.GenerationResult{
		Messages:     messages,
		TokensUsed:   tokens,
		Provider:     out.Provider,
		UsedFallback: out.UsedFallback,
	}

	if payload, merr := json.Marshal(res); merr == nil {
		s.Cache.Set(ctx, fp, payload, s.Cache.TTL())
	}
	slog.Info("generation complete",
		slog.String("provider", out.Provider),
		slog.Bool("used_fallback", out.UsedFallback),
		slog.Int("tokens_used", tokens),
		slog.Int("quota_remaining", remaining))
	return res, nil
}

// Compare calls every configured provider with the same prompt and returns
// each outcome. It consumes one quota unit regardless of how many providers
// are registered.
func (s GenerateService) Compare(ctx domain.Context, identity string, req domain.GenerateRequest) (map[string]domain.ProviderResponse, error) {
	req = req.Normalize()
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt required", domain.ErrInvalidArgument)
	}
	admitted, _ := s.Quota.CheckAndReserve(ctx, identity)
	if !admitted {
		return nil, fmt.Errorf("%w: limit %d per day", domain.ErrQuotaExhausted, s.Quota.Limit())
	}
	prompt := buildPrompt(req.Prompt, req.MessageCount, req.Style, req.Language)
	return s.Router.GenerateWithAll(ctx, prompt, domain.DefaultGenerationParams()), nil
}
