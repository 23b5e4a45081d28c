// Package quota implements per-identity daily admission control.
//
// Counters are kept in the shared backend (Redis) keyed by UTC day index so
// they survive restarts and are visible across replicas. Any shared-backend
// error degrades that single operation to an in-process counter table; quota
// accounting never blocks or fails the request path.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-chat-generator/internal/adapter/store"
	"github.com/fairyhunter13/ai-chat-generator/internal/domain"
)

const (
	keyPrefix = "chatgen:quota"
	// Counter keys carry the day index, so a TTL of two days is enough to
	// let stale windows expire on their own.
	counterTTL = 48 * time.Hour
)

type localCounter struct {
	count int64
	day   int64
}

// Manager tracks one counter per (identity, UTC day). The zero value is not
// usable; construct with New.
type Manager struct {
	limit     int
	shared    store.KeyValue // nil means local-only
	highWater int
	hardCap   int
	now       func() time.Time

	mu             sync.Mutex
	local          map[string]*localCounter
	lastCleanupDay int64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source; used by day-rollover tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLocalBounds overrides the local-table high-water mark and hard cap.
func WithLocalBounds(highWater, hardCap int) Option {
	return func(m *Manager) {
		if highWater > 0 {
			m.highWater = highWater
		}
		if hardCap > highWater {
			m.hardCap = hardCap
		}
	}
}

// New constructs a Manager with the given daily limit. shared may be nil, in
// which case all accounting is in-process and volatile.
func New(shared store.KeyValue, dailyLimit int, opts ...Option) *Manager {
	m := &Manager{
		limit:     dailyLimit,
		shared:    shared,
		highWater: 8000,
		hardCap:   10000,
		now:       time.Now,
		local:     make(map[string]*localCounter),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Limit returns the configured daily limit.
func (m *Manager) Limit() int { return m.limit }

// ResetAt returns the next UTC day boundary, i.e. when counters roll over.
func (m *Manager) ResetAt() time.Time {
	day := m.dayIndex() + 1
	return time.Unix(day*86400, 0).UTC()
}

func (m *Manager) dayIndex() int64 { return m.now().Unix() / 86400 }

func (m *Manager) sharedKey(identity string) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, m.dayIndex(), identity)
}

// CheckAndReserve admits the identity if it has remaining quota and consumes
// one unit. It returns the remaining quota after the reservation. Backend
// errors degrade to the local table and never deny on their own.
func (m *Manager) CheckAndReserve(ctx context.Context, identity string) (admitted bool, remaining int) {
	if m.shared != nil {
		admitted, remaining, err := m.sharedCheckAndReserve(ctx, identity)
		if err == nil {
			m.recordDecision(admitted)
			return admitted, remaining
		}
		slog.Warn("quota shared backend unavailable; using local counters",
			slog.String("identity", identity), slog.Any("error", err))
	}
	admitted, remaining = m.localCheckAndReserve(identity)
	m.recordDecision(admitted)
	return admitted, remaining
}

func (m *Manager) recordDecision(admitted bool) {
	decision := "admit"
	if !admitted {
		decision = "deny"
	}
	observability.QuotaDecisionsTotal.WithLabelValues(decision).Inc()
}

func (m *Manager) sharedCheckAndReserve(ctx context.Context, identity string) (bool, int, error) {
	key := m.sharedKey(identity)
	count, err := m.sharedCount(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if m.limit-count <= 0 {
		return false, 0, nil
	}
	newCount, err := m.shared.IncrBy(ctx, key, 1, counterTTL)
	if err != nil {
		return false, 0, err
	}
	return true, clampRemaining(m.limit, newCount), nil
}

func (m *Manager) sharedCount(ctx context.Context, key string) (int, error) {
	b, err := m.shared.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(string(b), "%d", &n); err != nil {
		return 0, nil
	}
	return n, nil
}

func (m *Manager) localCheckAndReserve(identity string) (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeCleanupLocked()
	c := m.localCounterLocked(identity)
	if m.limit-int(c.count) <= 0 {
		return false, 0
	}
	c.count++
	return true, clampRemaining(m.limit, c.count)
}

// Release returns a reserved unit, used when a reservation turned out not to
// consume provider resources (e.g. the result came from cache).
func (m *Manager) Release(ctx context.Context, identity string) {
	if m.shared != nil {
		key := m.sharedKey(identity)
		v, err := m.shared.IncrBy(ctx, key, -1, counterTTL)
		if err == nil {
			if v < 0 {
				// A decrement raced a day rollover; drop the stray counter.
				_, _ = m.shared.Delete(ctx, key)
			}
			return
		}
		slog.Warn("quota shared release failed; adjusting local counter",
			slog.String("identity", identity), slog.Any("error", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.localCounterLocked(identity)
	if c.count > 0 {
		c.count--
	}
}

// Remaining reports the identity's remaining quota without consuming any.
func (m *Manager) Remaining(ctx context.Context, identity string) int {
	if m.shared != nil {
		count, err := m.sharedCount(ctx, m.sharedKey(identity))
		if err == nil {
			return clampRemaining(m.limit, int64(count))
		}
		slog.Warn("quota shared read failed; using local counters",
			slog.String("identity", identity), slog.Any("error", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.localCounterLocked(identity)
	return clampRemaining(m.limit, c.count)
}

// localCounterLocked returns the identity's counter for the current day,
// lazily resetting a counter left over from a previous day.
func (m *Manager) localCounterLocked(identity string) *localCounter {
	day := m.dayIndex()
	c, ok := m.local[identity]
	if !ok {
		c = &localCounter{day: day}
		m.local[identity] = c
	}
	if c.day != day {
		c.count = 0
		c.day = day
	}
	return c
}

// maybeCleanupLocked bounds the local table. Crossing the high-water mark
// sweeps stale-day entries (at most once per day); if the table still exceeds
// the hard cap, the lowest counters go first so heavy users keep theirs.
func (m *Manager) maybeCleanupLocked() {
	if len(m.local) < m.highWater {
		return
	}
	day := m.dayIndex()
	if m.lastCleanupDay != day {
		removed := 0
		for id, c := range m.local {
			if c.day != day {
				delete(m.local, id)
				removed++
			}
		}
		m.lastCleanupDay = day
		if removed > 0 {
			slog.Info("quota local cleanup removed stale entries", slog.Int("removed", removed))
		}
	}
	if len(m.local) < m.hardCap {
		return
	}
	type entry struct {
		id    string
		count int64
	}
	entries := make([]entry, 0, len(m.local))
	for id, c := range m.local {
		entries = append(entries, entry{id: id, count: c.count})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count < entries[j].count })
	toRemove := len(m.local) - m.highWater
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.local, entries[i].id)
	}
	slog.Warn("quota local table over hard cap; evicted lowest counters",
		slog.Int("evicted", toRemove))
}

func clampRemaining(limit int, count int64) int {
	r := limit - int(count)
	if r < 0 {
		return 0
	}
	return r
}
