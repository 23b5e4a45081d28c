package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-chat-generator/internal/config"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
	"github.com/fairyhunter13/ai-chat-generator/internal/service/cache"
	"github.com/fairyhunter13/ai-chat-generator/internal/usecase"
)

// CacheAdmin is the administrative cache surface exposed over HTTP.
type CacheAdmin interface {
	Stats(ctx context.Context) cache.Stats
	Clear(ctx context.Context) int
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Gen        usecase.GenerateService
	Batch      usecase.BatchService
	Quota      usecase.QuotaGate
	Cache      CacheAdmin
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, gen usecase.GenerateService, batch usecase.BatchService, quota usecase.QuotaGate, cacheAdmin CacheAdmin, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Gen: gen, Batch: batch, Quota: quota, Cache: cacheAdmin, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type generatePayload struct {
	Prompt       string `json:"prompt" validate:"required,min=10,max=2000"`
	MessageCount int    `json:"message_count" validate:"omitempty,gte=2,lte=50"`
	Style        string `json:"style" validate:"omitempty,oneof=casual formal romantic funny dramatic"`
	Language     string `json:"language" validate:"omitempty,oneof=ko en ja"`
	Provider     string `json:"provider" validate:"omitempty,oneof=openai upstage stub"`
}

func (p generatePayload) toDomain() domain.GenerateRequest {
	return domain.GenerateRequest{
		Prompt:       p.Prompt,
		MessageCount: p.MessageCount,
		Style:        p.Style,
		Language:     p.Language,
		Provider:     p.Provider,
	}
}

func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}

// acceptsJSON rejects requests whose Accept header excludes JSON; only JSON
// responses are supported.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
		writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]string{"accept": a}}})
		return false
	}
	return true
}

func (s *Server) setQuotaHeaders(w http.ResponseWriter, r *http.Request, identity string) {
	w.Header().Set("X-Daily-Quota-Limit", strconv.Itoa(s.Quota.Limit()))
	w.Header().Set("X-Daily-Quota-Remaining", strconv.Itoa(s.Quota.Remaining(r.Context(), identity)))
	w.Header().Set("X-Daily-Quota-Reset", s.Quota.ResetAt().UTC().Format(time.RFC3339))
}

// GenerateHandler runs a single conversation generation.
func (s *Server) GenerateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req generatePayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		identity := CallerIdentity(r)
		res, err := s.Gen.Generate(r.Context(), identity, req.toDomain())
		s.setQuotaHeaders(w, r, identity)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// CompareHandler runs the same prompt against every configured provider.
func (s *Server) CompareHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req generatePayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		identity := CallerIdentity(r)
		out, err := s.Gen.Compare(r.Context(), identity, req.toDomain())
		s.setQuotaHeaders(w, r, identity)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

// BatchHandler runs a list of generation requests through the batch
// orchestrator and reports per-row outcomes.
func (s *Server) BatchHandler() http.HandlerFunc {
	type batchPayload struct {
		Requests []generatePayload `json:"requests" validate:"required,min=1,dive"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 4<<20) // 4MB
		var req batchPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		if len(req.Requests) > s.Cfg.BatchMaxSize {
			writeError(w, r, fmt.Errorf("%w: batch size %d exceeds limit %d", domain.ErrInvalidArgument, len(req.Requests), s.Cfg.BatchMaxSize), nil)
			return
		}
		rows := make([]domain.GenerateRequest, len(req.Requests))
		for i, p := range req.Requests {
			rows[i] = p.toDomain()
		}
		identity := CallerIdentity(r)
		report := s.Batch.Process(r.Context(), identity, rows)
		s.setQuotaHeaders(w, r, identity)
		writeJSON(w, http.StatusOK, report)
	}
}

// QuotaHandler reports the caller's daily quota state.
func (s *Server) QuotaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CallerIdentity(r)
		s.setQuotaHeaders(w, r, identity)
		writeJSON(w, http.StatusOK, map[string]any{
			"limit":     s.Quota.Limit(),
			"remaining": s.Quota.Remaining(r.Context(), identity),
			"reset_at":  s.Quota.ResetAt().UTC().Format(time.RFC3339),
		})
	}
}

// CacheStatsHandler reports cache backend and occupancy.
func (s *Server) CacheStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Cache.Stats(r.Context()))
	}
}

// CacheClearHandler drops every cached response and reports how many were removed.
func (s *Server) CacheClearHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared := s.Cache.Clear(r.Context())
		writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
	}
}

// ReadyzHandler probes the shared store. The service stays ready without
// Redis because every component degrades to its in-process backend.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 1)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
