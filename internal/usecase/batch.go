package usecase

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

// DefaultBatchConcurrency bounds in-flight provider calls per batch.
const DefaultBatchConcurrency = 3

// maxErrorLen caps the per-row error string carried back to the caller.
const maxErrorLen = 200

// BatchService fans a list of generation requests out over the single-row
// pipeline under a fixed concurrency bound.
type BatchService struct {
	Gen         GenerateService
	Quota       QuotaGate
	Concurrency int
}

// NewBatchService constructs a BatchService. concurrency <= 0 selects the
// default bound.
func NewBatchService(gen GenerateService, q QuotaGate, concurrency int) BatchService {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return BatchService{Gen: gen, Quota: q, Concurrency: concurrency}
}

// Process runs every request through the generation pipeline. Rows beyond
// the caller's remaining daily quota are skipped without touching any
// provider; admitted rows run concurrently and settle independently, so one
// failure never cancels its siblings. Row numbers are 1-indexed positions in
// the input and are preserved in the report for skipped rows too.
func (s BatchService) Process(ctx domain.Context, identity string, requests []domain.GenerateRequest) domain.BatchReport {
	total := len(requests)
	report := domain.BatchReport{Total: total, Results: make([]domain.BatchJob, total)}
	for i, req := range requests {
		report.Results[i] = domain.BatchJob{RowNumber: i + 1, Request: req, Status: domain.BatchPending}
	}
	if total == 0 {
		report.RemainingQuota = s.Quota.Remaining(ctx, identity)
		return report
	}

	remaining := s.Quota.Remaining(ctx, identity)
	admitted := total
	if remaining <= 0 {
		admitted = 0
	} else if remaining < total {
		admitted = remaining
	}
	for i := admitted; i < total; i++ {
		reason := "quota truncated: daily limit reached mid-batch"
		if admitted == 0 {
			reason = "daily quota exhausted"
		}
		report.Results[i].Status = domain.BatchSkipped
		report.Results[i].Error = reason
		observability.BatchJobsTotal.WithLabelValues(string(domain.BatchSkipped)).Inc()
	}
	if admitted < total {
		slog.Info("batch truncated to remaining quota",
			slog.String("identity", identity),
			slog.Int("total", total),
			slog.Int("admitted", admitted))
	}

	sem := make(chan struct{}, s.Concurrency)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := 0; i < admitted; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			observability.BatchJobsInFlight.Inc()
			defer observability.BatchJobsInFlight.Dec()

			res, err := s.Gen.Generate(ctx, identity, report.Results[i].Request)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Results[i].Status = domain.BatchSuccess
				report.Results[i].Result = &res
				report.Processed++
			case errors.Is(err, domain.ErrQuotaExhausted):
				report.Results[i].Status = domain.BatchSkipped
				report.Results[i].Error = "daily quota exhausted"
			default:
				report.Results[i].Status = domain.BatchFailed
				report.Results[i].Error = truncateError(err)
				report.Failed++
			}
			observability.BatchJobsTotal.WithLabelValues(string(report.Results[i].Status)).Inc()
		}(i)
	}
	wg.Wait()

	report.Success = report.Processed > 0
	report.RemainingQuota = s.Quota.Remaining(ctx, identity)
	slog.Info("batch complete",
		slog.String("identity", identity),
		slog.Int("total", report.Total),
		slog.Int("processed", report.Processed),
		slog.Int("failed", report.Failed),
		slog.Int("remaining_quota", report.RemainingQuota))
	return report
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
