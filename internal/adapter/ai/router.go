// Package ai routes generation calls across provider adapters with failover.
package ai

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

// Result is a successful routing outcome.
type Result struct {
	Text         string
	TokensUsed   int
	Provider     string
	UsedFallback bool
	LatencyMs    float64
}

// Router holds the registered provider adapters and the failover policy.
// The primary adapter is tried exactly once per call; the secondary is
// retried up to MaxRetries times with a fixed delay between attempts.
type Router struct {
	providers       map[string]domain.Provider
	order           []string
	primary         string
	fallbackEnabled bool
	maxRetries      int
	retryDelay      time.Duration
	sleep           func(time.Duration)
	validate        func(text string) error
}

// Option customizes a Router.
type Option func(*Router)

// WithSleep overrides the inter-attempt delay function; used in tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(r *Router) { r.sleep = sleep }
}

// WithValidator installs a payload check run on every successful adapter
// call. A validation error counts as a provider failure, so a malformed
// payload triggers the same fallback path as an HTTP failure.
func WithValidator(validate func(text string) error) Option {
	return func(r *Router) { r.validate = validate }
}

// NewRouter constructs a Router. providers are registered in the given order;
// primary must be one of them. maxRetries <= 0 disables secondary retries
// beyond the first attempt.
func NewRouter(primary string, fallbackEnabled bool, maxRetries int, retryDelay time.Duration, providers []domain.Provider, opts ...Option) *Router {
	r := &Router{
		providers:       make(map[string]domain.Provider, len(providers)),
		primary:         primary,
		fallbackEnabled: fallbackEnabled,
		maxRetries:      maxRetries,
		retryDelay:      retryDelay,
		sleep:           time.Sleep,
	}
	if r.maxRetries < 1 {
		r.maxRetries = 1
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r.providers[p.Name()]; dup {
			continue
		}
		r.providers[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	for _, o := range opts {
		o(r)
	}
	slog.Info("ai router initialized",
		slog.String("primary", primary),
		slog.Bool("fallback_enabled", fallbackEnabled),
		slog.Int("providers", len(r.order)))
	return r
}

// Providers returns the registered provider names in registration order.
func (r *Router) Providers() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// secondary returns the first registered provider that is not the primary.
func (r *Router) secondary() (domain.Provider, bool) {
	for _, name := range r.order {
		if name != r.primary {
			return r.providers[name], true
		}
	}
	return nil, false
}

// call invokes one adapter and converts its outcome (including panics held
// back as errors by the adapter contract) into a ProviderResponse. Latency
// is recorded regardless of outcome.
func (r *Router) call(ctx domain.Context, p domain.Provider, prompt string, params domain.GenerationParams) (domain.ProviderResponse, int) {
	start := time.Now()
	text, tokens, err := p.Generate(ctx, prompt, params)
	latency := time.Since(start)

	resp := domain.ProviderResponse{
		Provider:  p.Name(),
		LatencyMs: float64(latency) / float64(time.Millisecond),
	}
	observability.AIRequestDuration.WithLabelValues(p.Name()).Observe(latency.Seconds())
	switch {
	case err != nil:
		resp.Error = err.Error()
		observability.AIRequestsTotal.WithLabelValues(p.Name(), "error").Inc()
	case text == "":
		resp.Error = "empty response from provider"
		observability.AIRequestsTotal.WithLabelValues(p.Name(), "empty").Inc()
	default:
		if r.validate != nil {
			if verr := r.validate(text); verr != nil {
				resp.Error = "malformed response: " + verr.Error()
				observability.AIRequestsTotal.WithLabelValues(p.Name(), "malformed").Inc()
				break
			}
		}
		resp.Text = text
		resp.Success = true
		observability.AIRequestsTotal.WithLabelValues(p.Name(), "ok").Inc()
	}
	return resp, tokens
}

// Generate routes one generation call. forceProvider, when non-empty, calls
// only that adapter and returns its outcome verbatim. Otherwise the primary
// is tried once and the secondary up to MaxRetries times. All expected
// failure modes come back as a domain.ErrProvidersExhausted-wrapped error.
func (r *Router) Generate(ctx domain.Context, prompt string, params domain.GenerationParams, forceProvider string) (Result, error) {
	if forceProvider != "" {
		p, ok := r.providers[forceProvider]
		if !ok {
			return Result{}, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidArgument, forceProvider)
		}
		resp, tokens := r.call(ctx, p, prompt, params)
		if !resp.Success {
			return Result{}, fmt.Errorf("%w: %s: %s", domain.ErrProvidersExhausted, forceProvider, resp.Error)
		}
		return Result{Text: resp.Text, TokensUsed: tokens, Provider: resp.Provider, LatencyMs: resp.LatencyMs}, nil
	}

	var lastErr string
	if p, ok := r.providers[r.primary]; ok {
		resp, tokens := r.call(ctx, p, prompt, params)
		if resp.Success {
			return Result{Text: resp.Text, TokensUsed: tokens, Provider: resp.Provider, LatencyMs: resp.LatencyMs}, nil
		}
		lastErr = resp.Error
		slog.Warn("primary provider failed",
			slog.String("provider", r.primary), slog.String("error", resp.Error))
	} else {
		lastErr = fmt.Sprintf("primary provider %q not configured", r.primary)
		slog.Warn("primary provider not configured", slog.String("provider", r.primary))
	}

	if r.fallbackEnabled {
		if sec, ok := r.secondary(); ok {
			for attempt := 1; attempt <= r.maxRetries; attempt++ {
				if err := ctx.Err(); err != nil {
					return Result{}, fmt.Errorf("%w: %v", domain.ErrProvidersExhausted, err)
				}
				resp, tokens := r.call(ctx, sec, prompt, params)
				if resp.Success {
					observability.AIFallbacksTotal.Inc()
					slog.Info("fallback provider succeeded",
						slog.String("provider", sec.Name()), slog.Int("attempt", attempt))
					return Result{Text: resp.Text, TokensUsed: tokens, Provider: resp.Provider, UsedFallback: true, LatencyMs: resp.LatencyMs}, nil
				}
				lastErr = resp.Error
				slog.Warn("fallback attempt failed",
					slog.String("provider", sec.Name()),
					slog.Int("attempt", attempt),
					slog.Int("max_retries", r.maxRetries),
					slog.String("error", resp.Error))
				if attempt < r.maxRetries {
					r.sleep(r.retryDelay)
				}
			}
		}
	}

	return Result{}, fmt.Errorf("%w: %s", domain.ErrProvidersExhausted, lastErr)
}

// GenerateWithAll calls every registered adapter concurrently and collects
// all outcomes keyed by provider name. Used for A/B comparison; per-adapter
// failures become failed responses, never abort the gather.
func (r *Router) GenerateWithAll(ctx domain.Context, prompt string, params domain.GenerationParams) map[string]domain.ProviderResponse {
	out := make(map[string]domain.ProviderResponse, len(r.order))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range r.order {
		p := r.providers[name]
		wg.Add(1)
		go func(name string, p domain.Provider) {
			defer wg.Done()
			resp, _ := r.call(ctx, p, prompt, params)
			mu.Lock()
			out[name] = resp
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()
	return out
}
