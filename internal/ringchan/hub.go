package ringchan

import "sync"

// Hub fans values out to any number of subscribers. Each subscriber owns a
// RingChannel, so a slow reader only loses its own oldest values.
type Hub[T any] struct {
	mu       sync.Mutex
	capacity int
	subs     map[*RingChannel[T]]struct{}
	closed   bool
}

// NewHub creates a Hub whose subscriber channels hold capacity values.
func NewHub[T any](capacity int) *Hub[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Hub[T]{capacity: capacity, subs: make(map[*RingChannel[T]]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel func unsubscribes
// and closes the channel.
func (h *Hub[T]) Subscribe() (*RingChannel[T], func()) {
	rc := New[T](h.capacity)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		rc.Close()
		return rc, func() {}
	}
	h.subs[rc] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return rc, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, rc)
			h.mu.Unlock()
			rc.Close()
		})
	}
}

// Publish delivers v to every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for rc := range h.subs {
		rc.Send(v)
	}
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes all subscriber channels. Later subscribers get a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for rc := range h.subs {
		rc.Close()
	}
	h.subs = nil
}
