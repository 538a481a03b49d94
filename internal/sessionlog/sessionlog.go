// Package sessionlog keeps the short diagnostic trail shown in debug views.
package sessionlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/ringchan"
)

// DefaultCapacity is the number of entries kept.
const DefaultCapacity = 20

const subscriberBuffer = 64

// Entry is one diagnostic line
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s", e.Timestamp.Format("15:04:05.000"), e.Message)
}

// Log is a bounded, newest-first list of entries. It is safe for concurrent
// use. Entries are also mirrored to the logger at debug level and fanned out
// to live subscribers.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry // newest first
	capacity int
	logger   *logrus.Logger
	now      func() time.Time
	hub      *ringchan.Hub[Entry]
}

// Option configures a Log
type Option func(*Log)

// WithCapacity lowers DefaultCapacity. Values outside 1..DefaultCapacity are ignored.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 && n <= DefaultCapacity {
			l.capacity = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates an empty Log. logger may be nil.
func New(logger *logrus.Logger, opts ...Option) *Log {
	l := &Log{
		capacity: DefaultCapacity,
		logger:   logger,
		now:      time.Now,
		hub:      ringchan.NewHub[Entry](subscriberBuffer),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.entries = make([]Entry, 0, l.capacity+1)
	return l
}

// Append prepends a timestamped entry and drops the oldest beyond capacity.
func (l *Log) Append(message string) Entry {
	e := Entry{Timestamp: l.now(), Message: message}

	l.mu.Lock()
	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.WithField("component", "session").Debug(message)
	}
	l.hub.Publish(e)
	return e
}

// Appendf is Append with fmt formatting.
func (l *Log) Appendf(format string, args ...any) Entry {
	return l.Append(fmt.Sprintf(format, args...))
}

// Snapshot returns a newest-first copy of the entries.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the maximum number of entries held.
func (l *Log) Capacity() int {
	return l.capacity
}

// Subscribe returns a channel receiving every future entry, and a cancel func.
func (l *Log) Subscribe() (<-chan Entry, func()) {
	rc, cancel := l.hub.Subscribe()
	return rc.C(), cancel
}

// Close closes all subscriber channels.
func (l *Log) Close() {
	l.hub.Close()
}
