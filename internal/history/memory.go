package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps events in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event // oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, _ := slices.BinarySearchFunc(m.events, e.Timestamp, func(ev Event, t time.Time) int {
		if ev.Timestamp.After(t) {
			return 1
		}
		return -1
	})
	m.events = slices.Insert(m.events, i, e)
	return nil
}

func (m *MemoryStore) Since(_ context.Context, from time.Time) ([]Event, error) {
	return m.filter(func(e Event) bool { return !e.Timestamp.Before(from) }, 0), nil
}

func (m *MemoryStore) InRange(_ context.Context, from, to time.Time) ([]Event, error) {
	return m.filter(func(e Event) bool {
		return !e.Timestamp.Before(from) && !e.Timestamp.After(to)
	}, 0), nil
}

func (m *MemoryStore) Recent(_ context.Context, n int) ([]Event, error) {
	return m.filter(func(Event) bool { return true }, recentLimit(n)), nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.events)
	m.events = slices.DeleteFunc(m.events, func(e Event) bool { return e.Timestamp.Before(t) })
	return int64(before - len(m.events)), nil
}

func (m *MemoryStore) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// filter walks newest first and stops after limit matches (0 = no limit).
func (m *MemoryStore) filter(keep func(Event) bool, limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0)
	for i := len(m.events) - 1; i >= 0; i-- {
		if !keep(m.events[i]) {
			continue
		}
		out = append(out, m.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
