package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ai "github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-chat-generator/internal/config"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
	"github.com/fairyhunter13/ai-chat-generator/internal/service/cache"
	"github.com/fairyhunter13/ai-chat-generator/internal/service/quota"
	"github.com/fairyhunter13/ai-chat-generator/internal/usecase"
)

// newTestServer wires the full pipeline on in-process backends with the
// deterministic stub provider.
func newTestServer(dailyLimit int) *Server {
	cfg := config.Config{AppEnv: "test", BatchMaxSize: 10, BatchMaxConcurrent: 3}
	quotaMgr := quota.New(nil, dailyLimit)
	respCache := cache.New(nil, 100, time.Hour)
	router := ai.NewRouter(domain.ProviderStub, false, 1, time.Millisecond, []domain.Provider{stub.New()})
	gen := usecase.NewGenerateService(quotaMgr, respCache, router, tokencount.NewCounter())
	batch := usecase.NewBatchService(gen, quotaMgr, cfg.BatchMaxConcurrent)
	return NewServer(cfg, gen, batch, quotaMgr, respCache, nil)
}

func postJSON(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:1234"
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return env.Error.Code
}

func TestGenerateHandler_Success(t *testing.T) {
	srv := newTestServer(5)
	rec := postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":"a rainy first date in seoul"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res domain.GenerationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Messages) == 0 || res.Provider != domain.ProviderStub || res.Cached {
		t.Fatalf("res = %+v", res)
	}
	if got := rec.Header().Get("X-Daily-Quota-Remaining"); got != "4" {
		t.Fatalf("X-Daily-Quota-Remaining = %q, want 4", got)
	}
	if got := rec.Header().Get("X-Daily-Quota-Limit"); got != "5" {
		t.Fatalf("X-Daily-Quota-Limit = %q, want 5", got)
	}
}

func TestGenerateHandler_CachedRepeatKeepsQuota(t *testing.T) {
	srv := newTestServer(5)
	body := `{"prompt":"a rainy first date in seoul"}`
	postJSON(t, srv.GenerateHandler(), "/v1/generate", body)
	rec := postJSON(t, srv.GenerateHandler(), "/v1/generate", body)

	var res domain.GenerationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Cached {
		t.Fatalf("repeat request must be served from cache")
	}
	if got := rec.Header().Get("X-Daily-Quota-Remaining"); got != "4" {
		t.Fatalf("X-Daily-Quota-Remaining = %q, want 4 (cache hit releases its unit)", got)
	}
}

func TestGenerateHandler_ShortPromptRejected(t *testing.T) {
	srv := newTestServer(5)
	rec := postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":"short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "INVALID_ARGUMENT" {
		t.Fatalf("code = %q", code)
	}
}

func TestGenerateHandler_InvalidEnumRejected(t *testing.T) {
	srv := newTestServer(5)
	rec := postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":"a rainy first date","style":"sarcastic"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateHandler_InvalidJSON(t *testing.T) {
	srv := newTestServer(5)
	rec := postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateHandler_QuotaExhausted(t *testing.T) {
	srv := newTestServer(1)
	postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":"first distinct topic here"}`)
	rec := postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":"second distinct topic here"}`)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "QUOTA_EXHAUSTED" {
		t.Fatalf("code = %q", code)
	}
	if got := rec.Header().Get("X-Daily-Quota-Remaining"); got != "0" {
		t.Fatalf("X-Daily-Quota-Remaining = %q, want 0", got)
	}
}

func TestGenerateHandler_NotAcceptable(t *testing.T) {
	srv := newTestServer(5)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"prompt":"a rainy first date"}`))
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	srv.GenerateHandler()(rec, req)
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", rec.Code)
	}
}

func TestBatchHandler_ReportsPerRowOutcomes(t *testing.T) {
	srv := newTestServer(10)
	body := `{"requests":[
		{"prompt":"first conversation topic"},
		{"prompt":"second conversation topic"},
		{"prompt":"third conversation topic"}
	]}`
	rec := postJSON(t, srv.BatchHandler(), "/v1/generate/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var report domain.BatchReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Success || report.Total != 3 || report.Processed != 3 {
		t.Fatalf("report = %+v", report)
	}
	if report.Results[2].RowNumber != 3 {
		t.Fatalf("row numbers must be preserved, got %+v", report.Results[2])
	}
}

func TestBatchHandler_SizeLimit(t *testing.T) {
	srv := newTestServer(10)
	srv.Cfg.BatchMaxSize = 2
	body := `{"requests":[
		{"prompt":"first conversation topic"},
		{"prompt":"second conversation topic"},
		{"prompt":"third conversation topic"}
	]}`
	rec := postJSON(t, srv.BatchHandler(), "/v1/generate/batch", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBatchHandler_EmptyListRejected(t *testing.T) {
	srv := newTestServer(10)
	rec := postJSON(t, srv.BatchHandler(), "/v1/generate/batch", `{"requests":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBatchHandler_InvalidRowRejected(t *testing.T) {
	srv := newTestServer(10)
	rec := postJSON(t, srv.BatchHandler(), "/v1/generate/batch", `{"requests":[{"prompt":"ok topic for a chat","message_count":999}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQuotaHandler(t *testing.T) {
	srv := newTestServer(5)
	postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":"a rainy first date in seoul"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/quota", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	rec := httptest.NewRecorder()
	srv.QuotaHandler()(rec, req)

	var out struct {
		Limit     int    `json:"limit"`
		Remaining int    `json:"remaining"`
		ResetAt   string `json:"reset_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Limit != 5 || out.Remaining != 4 {
		t.Fatalf("out = %+v", out)
	}
	if _, err := time.Parse(time.RFC3339, out.ResetAt); err != nil {
		t.Fatalf("reset_at = %q: %v", out.ResetAt, err)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	srv := newTestServer(5)
	postJSON(t, srv.GenerateHandler(), "/v1/generate", `{"prompt":"a rainy first date in seoul"}`)

	rec := httptest.NewRecorder()
	srv.CacheStatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))
	var stats cache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.LocalEntries != 1 || stats.Backend != "local" {
		t.Fatalf("stats = %+v", stats)
	}

	rec = httptest.NewRecorder()
	srv.CacheClearHandler()(rec, httptest.NewRequest(http.MethodDelete, "/v1/cache", nil))
	var cleared map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &cleared); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cleared["cleared"] != 1 {
		t.Fatalf("cleared = %d, want 1", cleared["cleared"])
	}
}

func TestReadyz_NoSharedStoreIsReady(t *testing.T) {
	srv := newTestServer(5)
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz_FailingStoreCheck(t *testing.T) {
	srv := newTestServer(5)
	srv.RedisCheck = func(context.Context) error { return context.DeadlineExceeded }
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
