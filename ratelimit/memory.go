package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

/* Memory is a process-local fixed-window limiter
 * Expired windows are evicted at most once per rule window, on the calling goroutine
 */
type Memory struct {
	mu        sync.Mutex
	windows   map[string]*window
	now       func() time.Time
	lastSweep time.Time
}

// NewMemory creates an empty in-memory limiter.
func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock replaces the limiter clock.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Allow(_ context.Context, key string, rule Rule) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now, rule.Window)

	id := rule.Name + ":" + key
	w, ok := m.windows[id]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(rule.Window)}
		m.windows[id] = w
		return Decision{Allowed: true, Count: 1, Limit: rule.Max, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Decision{
		Allowed: w.count <= rule.Max,
		Count:   w.count,
		Limit:   rule.Max,
		ResetAt: w.resetAt,
	}, nil
}

func (m *Memory) sweep(now time.Time, every time.Duration) {
	if now.Sub(m.lastSweep) < every {
		return
	}
	m.lastSweep = now
	for id, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, id)
		}
	}
}

// Len reports how many windows are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
