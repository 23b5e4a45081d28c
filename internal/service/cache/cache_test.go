package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/store"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

func TestFingerprint_Deterministic(t *testing.T) {
	req := domain.GenerateRequest{Prompt: "a rainy first date", Style: "casual", Language: "ko"}
	if Fingerprint(req) != Fingerprint(req) {
		t.Fatalf("same request must produce the same fingerprint")
	}
	if !strings.HasPrefix(Fingerprint(req), keyPrefix) {
		t.Fatalf("fingerprint must carry the key prefix")
	}
	if got := len(strings.TrimPrefix(Fingerprint(req), keyPrefix)); got != 32 {
		t.Fatalf("fingerprint hash length = %d, want 32", got)
	}
}

func TestFingerprint_NormalizesPrompt(t *testing.T) {
	a := Fingerprint(domain.GenerateRequest{Prompt: "A Rainy First Date"})
	b := Fingerprint(domain.GenerateRequest{Prompt: "  a rainy first date  "})
	if a != b {
		t.Fatalf("case and surrounding whitespace must not fragment the cache")
	}
}

func TestFingerprint_DistinguishesSemanticFields(t *testing.T) {
	base := domain.GenerateRequest{Prompt: "a rainy first date"}
	variants := []domain.GenerateRequest{
		{Prompt: "a rainy first date", Style: "formal"},
		{Prompt: "a rainy first date", Language: "en"},
		{Prompt: "a rainy first date", MessageCount: 20},
		{Prompt: "a rainy first date", Provider: "upstage"},
	}
	for i, v := range variants {
		if Fingerprint(base) == Fingerprint(v) {
			t.Fatalf("variant %d must produce a distinct fingerprint", i)
		}
	}
}

func TestLocal_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(nil, 10, time.Hour)
	fp := Fingerprint(domain.GenerateRequest{Prompt: "breakup over text"})

	if _, ok := c.Get(ctx, fp); ok {
		t.Fatalf("expected miss before set")
	}
	c.Set(ctx, fp, []byte(`{"provider":"openai"}`), 0)
	got, ok := c.Get(ctx, fp)
	if !ok {
		t.Fatalf("expected hit after set")
	}
	if string(got) != `{"provider":"openai"}` {
		t.Fatalf("payload = %q", got)
	}
}

func TestLocal_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(nil, 10, time.Hour, WithClock(func() time.Time { return current }))

	c.Set(ctx, "chatgen:ai:response:abc", []byte("x"), time.Minute)
	if _, ok := c.Get(ctx, "chatgen:ai:response:abc"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	current = current.Add(time.Minute)
	if _, ok := c.Get(ctx, "chatgen:ai:response:abc"); ok {
		t.Fatalf("expected miss at expiry")
	}
	// Expired entry is removed, not merely hidden.
	if got := c.Stats(ctx).LocalEntries; got != 0 {
		t.Fatalf("LocalEntries = %d, want 0", got)
	}
}

func TestLocal_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := New(nil, 2, time.Hour)

	c.Set(ctx, "k1", []byte("1"), 0)
	c.Set(ctx, "k2", []byte("2"), 0)
	// Touch k1 so k2 becomes the eviction candidate.
	if _, ok := c.Get(ctx, "k1"); !ok {
		t.Fatalf("expected hit for k1")
	}
	c.Set(ctx, "k3", []byte("3"), 0)

	if _, ok := c.Get(ctx, "k2"); ok {
		t.Fatalf("least recently used entry must be evicted")
	}
	if _, ok := c.Get(ctx, "k1"); !ok {
		t.Fatalf("recently used entry must survive")
	}
	if _, ok := c.Get(ctx, "k3"); !ok {
		t.Fatalf("new entry must be present")
	}
}

func TestLocal_SetUpdatesExistingEntry(t *testing.T) {
	ctx := context.Background()
	c := New(nil, 2, time.Hour)
	c.Set(ctx, "k1", []byte("old"), 0)
	c.Set(ctx, "k1", []byte("new"), 0)
	got, ok := c.Get(ctx, "k1")
	if !ok || string(got) != "new" {
		t.Fatalf("got %q ok=%v, want new true", got, ok)
	}
	if got := c.Stats(ctx).LocalEntries; got != 1 {
		t.Fatalf("LocalEntries = %d, want 1", got)
	}
}

func newSharedCache(t *testing.T) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(store.NewRedis(rdb, 2*time.Second), 10, time.Hour), mr
}

func TestShared_SetGetAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newSharedCache(t)
	fp := Fingerprint(domain.GenerateRequest{Prompt: "awkward reunion chat"})

	c.Set(ctx, fp, []byte("payload"), time.Minute)
	got, ok := c.Get(ctx, fp)
	if !ok || string(got) != "payload" {
		t.Fatalf("got %q ok=%v", got, ok)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, fp); ok {
		t.Fatalf("expected miss after shared TTL elapsed")
	}
}

func TestShared_InvalidateRemovesFromBothBackends(t *testing.T) {
	ctx := context.Background()
	c, mr := newSharedCache(t)
	fp := Fingerprint(domain.GenerateRequest{Prompt: "confession at the bus stop"})
	other := Fingerprint(domain.GenerateRequest{Prompt: "confession at the cafe"})

	c.Set(ctx, fp, []byte("stale"), 0)
	c.Set(ctx, other, []byte("keep"), 0)
	c.Invalidate(ctx, fp)

	if _, ok := c.Get(ctx, fp); ok {
		t.Fatalf("expected miss after invalidation")
	}
	if mr.Exists(fp) {
		t.Fatalf("shared entry must be gone after invalidation")
	}
	if got, ok := c.Get(ctx, other); !ok || string(got) != "keep" {
		t.Fatalf("unrelated entry affected: %q ok=%v", got, ok)
	}
}

func TestShared_ClearCountsBothBackends(t *testing.T) {
	ctx := context.Background()
	c, _ := newSharedCache(t)
	c.Set(ctx, Fingerprint(domain.GenerateRequest{Prompt: "prompt one here"}), []byte("1"), 0)
	c.Set(ctx, Fingerprint(domain.GenerateRequest{Prompt: "prompt two here"}), []byte("2"), 0)

	if got := c.Clear(ctx); got != 2 {
		t.Fatalf("Clear = %d, want 2", got)
	}
	if got := c.Stats(ctx).SharedEntries; got != 0 {
		t.Fatalf("SharedEntries after clear = %d, want 0", got)
	}
}

func TestShared_OutageDegradesToLocal(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	c := New(store.NewRedis(rdb, 100*time.Millisecond), 10, time.Hour)

	mr.Close() // backend goes away before any operation
	c.Set(ctx, "k1", []byte("v"), 0)
	got, ok := c.Get(ctx, "k1")
	if !ok || string(got) != "v" {
		t.Fatalf("local fallback must serve the entry, got %q ok=%v", got, ok)
	}
	if got := c.Stats(ctx).Backend; got != "shared" {
		t.Fatalf("Backend = %q, want shared", got)
	}
}

func TestStats_LocalOnly(t *testing.T) {
	ctx := context.Background()
	c := New(nil, 5, 30*time.Minute)
	c.Set(ctx, "k1", []byte("v"), 0)

	s := c.Stats(ctx)
	if s.Backend != "local" {
		t.Fatalf("Backend = %q, want local", s.Backend)
	}
	if s.LocalEntries != 1 || s.LocalCapacity != 5 {
		t.Fatalf("entries=%d capacity=%d, want 1 and 5", s.LocalEntries, s.LocalCapacity)
	}
	if s.TTLSeconds != 1800 {
		t.Fatalf("TTLSeconds = %d, want 1800", s.TTLSeconds)
	}
}
