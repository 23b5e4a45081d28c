// Command server starts the AI chat generator HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai/openai"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai/upstage"
	httpserver "github.com/fairyhunter13/ai-chat-generator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/store"
	"github.com/fairyhunter13/ai-chat-generator/internal/app"
	"github.com/fairyhunter13/ai-chat-generator/internal/config"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
	"github.com/fairyhunter13/ai-chat-generator/internal/service/cache"
	"github.com/fairyhunter13/ai-chat-generator/internal/service/quota"
	"github.com/fairyhunter13/ai-chat-generator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, AI, quota, and batch instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Shared store: optional. Quota and cache degrade to in-process
	// backends when Redis is absent or unreachable.
	var (
		kv         store.KeyValue
		redisCheck func(context.Context) error
	)
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			slog.Error("invalid redis url", slog.Any("error", perr))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		rs := store.NewRedis(rdb, cfg.StoreTimeout)
		kv = rs
		redisCheck = rs.Ping
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.StoreConnectTimeout)
		if perr := rs.Ping(pingCtx); perr != nil {
			slog.Warn("redis unreachable at startup, in-process fallback active", slog.Any("error", perr))
		}
		cancel()
	} else {
		slog.Info("no redis configured, quota and cache run in-process")
	}

	quotaMgr := quota.New(kv, cfg.RateLimitPerDay,
		quota.WithLocalBounds(cfg.QuotaLocalHighWater, cfg.QuotaLocalMaxEntries))
	respCache := cache.New(kv, cfg.CacheLocalCapacity, cfg.CacheTTL)

	// Provider fleet. Vendors without keys are left unregistered; the stub
	// keeps dev environments usable without any key at all.
	var providers []domain.Provider
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, openai.New(cfg))
	}
	if cfg.UpstageAPIKey != "" {
		providers = append(providers, upstage.New(cfg))
	}
	if len(providers) == 0 {
		if cfg.IsProd() {
			slog.Error("no provider API keys configured")
			os.Exit(1)
		}
		slog.Warn("no provider API keys configured, using stub provider")
		providers = append(providers, stub.New())
	}
	primary := cfg.PrimaryProvider
	if !hasProvider(providers, primary) {
		primary = providers[0].Name()
		slog.Warn("configured primary provider unavailable",
			slog.String("configured", cfg.PrimaryProvider), slog.String("using", primary))
	}
	router := ai.NewRouter(primary, cfg.FallbackEnabled, cfg.FallbackMaxRetries, cfg.FallbackRetryDelay, providers,
		ai.WithValidator(func(text string) error {
			_, perr := ai.ParseMessages(text)
			return perr
		}))

	genSvc := usecase.NewGenerateService(quotaMgr, respCache, router, tokencount.NewCounter())
	batchSvc := usecase.NewBatchService(genSvc, quotaMgr, cfg.BatchMaxConcurrent)

	srv := httpserver.NewServer(cfg, genSvc, batchSvc, quotaMgr, respCache, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

func hasProvider(providers []domain.Provider, name string) bool {
	for _, p := range providers {
		if p.Name() == name {
			return true
		}
	}
	return false
}
