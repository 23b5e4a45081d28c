// Package app assembles the HTTP surface from configuration and handlers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-chat-generator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-chat-generator/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.GenerateTimeout + 30*time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Daily-Quota-Limit", "X-Daily-Quota-Remaining", "X-Daily-Quota-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Per-minute limit on generation endpoints, keyed by the same identity
	// the daily quota uses.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.Limit(cfg.RateLimitPerMin, 1*time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return httpserver.CallerIdentity(r), nil
			})))
		wr.Post("/v1/generate", srv.GenerateHandler())
		wr.Post("/v1/generate/compare", srv.CompareHandler())
		wr.Post("/v1/generate/batch", srv.BatchHandler())
	})

	// Read-only endpoints
	r.Get("/v1/quota", srv.QuotaHandler())
	r.Get("/v1/cache/stats", srv.CacheStatsHandler())
	r.Delete("/v1/cache", srv.CacheClearHandler())

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
