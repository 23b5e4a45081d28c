// Package cache implements content-addressed caching of generation results.
//
// The cache is a best-effort optimization layer: the shared backend (Redis)
// is preferred, an in-process LRU is the safety net, and no failure mode ever
// surfaces as an error, only as a miss.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/store"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

const keyPrefix = "chatgen:ai:response:"

// DefaultTTL is how long entries live unless the caller overrides it.
const DefaultTTL = time.Hour

// Fingerprint derives the deterministic cache key for a request. The prompt
// is trimmed and lowercased first so case and surrounding whitespace never
// fragment the cache.
func Fingerprint(req domain.GenerateRequest) string {
	req = req.Normalize()
	canonical := struct {
		Prompt       string `json:"prompt"`
		MessageCount int    `json:"message_count"`
		Style        string `json:"style"`
		Language     string `json:"language"`
		Provider     string `json:"provider"`
	}{
		Prompt:       strings.ToLower(strings.TrimSpace(req.Prompt)),
		MessageCount: req.MessageCount,
		Style:        req.Style,
		Language:     req.Language,
		Provider:     req.Provider,
	}
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return keyPrefix + hex.EncodeToString(sum[:])[:32]
}

type localEntry struct {
	key       string
	payload   []byte
	expiresAt time.Time
}

// Stats describes the cache state for the admin endpoint.
type Stats struct {
	Backend       string `json:"backend"`
	LocalEntries  int    `json:"local_entries"`
	LocalCapacity int    `json:"local_capacity"`
	SharedEntries int    `json:"shared_entries,omitempty"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	shared   store.KeyValue // nil means local-only
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu  sync.Mutex
	ll  *list.List // front = most recently used
	idx map[string]*list.Element
}

// Option customizes a ResponseCache.
type Option func(*ResponseCache)

// WithClock overrides the time source; used by expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// New constructs a ResponseCache. shared may be nil; capacity bounds the
// local LRU and defaults to 1000; ttl <= 0 means DefaultTTL.
func New(shared store.KeyValue, capacity int, ttl time.Duration, opts ...Option) *ResponseCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &ResponseCache{
		shared:   shared,
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		ll:       list.New(),
		idx:      make(map[string]*list.Element),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the default entry lifetime.
func (c *ResponseCache) TTL() time.Duration { return c.ttl }

// Get returns the payload for a fingerprint, or false on a miss. Shared
// failures are retried against the local backend and never surface.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	if c.shared != nil {
		b, err := c.shared.Get(ctx, fingerprint)
		switch {
		case err == nil:
			observability.CacheOpsTotal.WithLabelValues("shared", "hit").Inc()
			return b, true
		case errors.Is(err, domain.ErrNotFound):
			observability.CacheOpsTotal.WithLabelValues("shared", "miss").Inc()
			return nil, false
		default:
			slog.Warn("cache shared get failed; trying local", slog.Any("error", err))
		}
	}
	return c.localGet(fingerprint)
}

func (c *ResponseCache) localGet(fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.idx[fingerprint]
	if !ok {
		observability.CacheOpsTotal.WithLabelValues("local", "miss").Inc()
		return nil, false
	}
	ent := el.Value.(*localEntry)
	if !c.now().Before(ent.expiresAt) {
		c.ll.Remove(el)
		delete(c.idx, fingerprint)
		observability.CacheOpsTotal.WithLabelValues("local", "expired").Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	observability.CacheOpsTotal.WithLabelValues("local", "hit").Inc()
	return ent.payload, true
}

// Set stores a payload under the fingerprint. ttl <= 0 uses the default.
// A shared-backend failure falls back to local storage.
func (c *ResponseCache) Set(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if c.shared != nil {
		err := c.shared.Set(ctx, fingerprint, payload, ttl)
		if err == nil {
			observability.CacheOpsTotal.WithLabelValues("shared", "set").Inc()
			return
		}
		slog.Warn("cache shared set failed; storing locally", slog.Any("error", err))
	}
	c.localSet(fingerprint, payload, ttl)
}

func (c *ResponseCache) localSet(fingerprint string, payload []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.idx[fingerprint]; ok {
		ent := el.Value.(*localEntry)
		ent.payload = payload
		ent.expiresAt = c.now().Add(ttl)
		c.ll.MoveToFront(el)
		return
	}
	for c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.idx, oldest.Value.(*localEntry).key)
	}
	ent := &localEntry{key: fingerprint, payload: payload, expiresAt: c.now().Add(ttl)}
	c.idx[fingerprint] = c.ll.PushFront(ent)
	observability.CacheOpsTotal.WithLabelValues("local", "set").Inc()
}

// Invalidate removes a single entry from both backends.
func (c *ResponseCache) Invalidate(ctx context.Context, fingerprint string) {
	if c.shared != nil {
		if _, err := c.shared.Delete(ctx, fingerprint); err != nil {
			slog.Warn("cache shared invalidate failed", slog.Any("error", err))
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.idx[fingerprint]; ok {
		c.ll.Remove(el)
		delete(c.idx, fingerprint)
	}
}

// Clear drops every cached entry and returns how many were removed.
func (c *ResponseCache) Clear(ctx context.Context) int {
	count := 0
	if c.shared != nil {
		keys, err := c.shared.Keys(ctx, keyPrefix)
		if err != nil {
			slog.Warn("cache shared clear failed", slog.Any("error", err))
		} else if len(keys) > 0 {
			n, err := c.shared.Delete(ctx, keys...)
			if err != nil {
				slog.Warn("cache shared clear delete failed", slog.Any("error", err))
			} else {
				count += int(n)
			}
		}
	}
	c.mu.Lock()
	count += c.ll.Len()
	c.ll.Init()
	c.idx = make(map[string]*list.Element)
	c.mu.Unlock()
	slog.Info("response cache cleared", slog.Int("entries", count))
	return count
}

// Stats reports the backend in use and entry counts.
func (c *ResponseCache) Stats(ctx context.Context) Stats {
	s := Stats{
		Backend:       "local",
		LocalCapacity: c.capacity,
		TTLSeconds:    int(c.ttl.Seconds()),
	}
	c.mu.Lock()
	s.LocalEntries = c.ll.Len()
	c.mu.Unlock()
	if c.shared != nil {
		s.Backend = "shared"
		if keys, err := c.shared.Keys(ctx, keyPrefix); err == nil {
			s.SharedEntries = len(keys)
		}
	}
	return s
}
