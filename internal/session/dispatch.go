package session

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/protocol"
)

// dispatcher runs alert/ok handlers off the event loop, in arrival order.
// The queue is unbounded so a slow handler never loses a posture event.
type dispatcher struct {
	logger *logrus.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []Payload
	closed        bool
	alertHandlers []func(Payload)
	okHandlers    []func(Payload)
}

func newDispatcher(logger *logrus.Logger) *dispatcher {
	d := &dispatcher{logger: logger}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) onAlert(fn func(Payload)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alertHandlers = append(d.alertHandlers, fn)
}

func (d *dispatcher) onOk(fn func(Payload)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.okHandlers = append(d.okHandlers, fn)
}

// push queues p if it carries a callback-worthy category.
func (d *dispatcher) push(p Payload) {
	if p.Category != protocol.Alert && p.Category != protocol.Ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, p)
	d.cond.Signal()
}

// run delivers queued payloads until close; anything queued before close is still delivered.
func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		p := d.queue[0]
		d.queue = d.queue[1:]
		var handlers []func(Payload)
		if p.Category == protocol.Alert {
			handlers = append(handlers, d.alertHandlers...)
		} else {
			handlers = append(handlers, d.okHandlers...)
		}
		d.mu.Unlock()

		for _, fn := range handlers {
			d.call(fn, p)
		}
	}
}

func (d *dispatcher) call(fn func(Payload), p Payload) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"category": p.Category,
				"panic":    r,
			}).Error("Payload handler panicked")
		}
	}()
	fn(p)
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
}
