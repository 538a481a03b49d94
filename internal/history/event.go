// Package history persists posture events and derives daily statistics.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRecentLimit is the number of events Recent returns when n <= 0.
const DefaultRecentLimit = 100

// EventType is the kind of posture event
type EventType string

const (
	BadPosture  EventType = "BAD_POSTURE"
	GoodPosture EventType = "GOOD_POSTURE"
)

// ParseEventType accepts the stored spelling, case-insensitively.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(strings.ToUpper(strings.TrimSpace(s))); t {
	case BadPosture, GoodPosture:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is one posture observation reported by the wearable
type Event struct {
	ID        uuid.UUID     `json:"id" msgpack:"id"`
	Timestamp time.Time     `json:"timestamp" msgpack:"timestamp"`
	Type      EventType     `json:"type" msgpack:"type"`
	Duration  time.Duration `json:"duration" msgpack:"duration"`
}

// NewEvent creates an event with a fresh ID. Timestamps are kept at
// millisecond precision, which is what the stores persist.
func NewEvent(t EventType, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: at.Truncate(time.Millisecond),
		Type:      t,
	}
}

// Store is the posture event repository. Query results are newest first.
type Store interface {
	Insert(ctx context.Context, e Event) error
	// Since returns events at or after from.
	Since(ctx context.Context, from time.Time) ([]Event, error)
	// InRange returns events between from and to, both inclusive.
	InRange(ctx context.Context, from, to time.Time) ([]Event, error)
	// Recent returns at most n events; n <= 0 means DefaultRecentLimit.
	Recent(ctx context.Context, n int) ([]Event, error)
	// DeleteOlderThan removes events strictly before t and reports how many.
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
	DeleteAll(ctx context.Context) error
	Close() error
}

func recentLimit(n int) int {
	if n <= 0 {
		return DefaultRecentLimit
	}
	return n
}
