// Package session drives the connection to the posture wearable: scan, connect,
// discover, subscribe, exchange text frames and tear down.
//
// Commands and radio callbacks are funnelled into one event queue consumed by a
// single goroutine, so every state transition sees a consistent phase. Radio
// callbacks are tagged with the scan or connection generation that produced
// them and are dropped once that generation is over.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/groutine"
	"github.com/srg/straightup/internal/ringchan"
	"github.com/srg/straightup/internal/sessionlog"
)

const (
	// DefaultUnsubscribeSettle is the pause after disabling notifications.
	DefaultUnsubscribeSettle = 200 * time.Millisecond
	// DefaultDisconnectSettle is the pause after the hardware disconnect.
	DefaultDisconnectSettle = 300 * time.Millisecond

	eventQueueSize   = 256
	subscriberBuffer = 32
)

// Session owns the single wearable connection.
type Session struct {
	radio    device.Radio
	identity device.DeviceIdentity
	logger   *logrus.Logger
	log      *sessionlog.Log

	unsubscribeSettle time.Duration
	disconnectSettle  time.Duration
	sleep             func(time.Duration)
	now               func() time.Time

	events    chan event
	done      chan struct{} // closed when the loop exits
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	group     groutine.Group

	// loop-owned
	state      State
	link       device.Link
	notifyChar *device.Characteristic
	scanGen    uint64
	connGen    uint64

	sightings atomic.Pointer[hashmap.Map[string, device.ScanObservation]]

	snapshotMu sync.RWMutex
	snapshot   State

	stateHub   *ringchan.Hub[State]
	payloadHub *ringchan.Hub[Payload]
	dispatch   *dispatcher
}

// Option configures a Session
type Option func(*Session)

// WithIdentity overrides the stock firmware identity.
func WithIdentity(id device.DeviceIdentity) Option {
	return func(s *Session) { s.identity = id }
}

// WithLogger sets the structured logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithSessionLog shares an existing diagnostic log.
func WithSessionLog(l *sessionlog.Log) Option {
	return func(s *Session) { s.log = l }
}

// WithSettleDelays overrides the two teardown pauses.
func WithSettleDelays(unsubscribe, disconnect time.Duration) Option {
	return func(s *Session) {
		s.unsubscribeSettle = unsubscribe
		s.disconnectSettle = disconnect
	}
}

// WithSleeper replaces time.Sleep for the teardown pauses.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(s *Session) { s.sleep = sleep }
}

// WithClock replaces time.Now for payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates an idle session on radio. Start must be called before issuing commands.
func New(radio device.Radio, opts ...Option) *Session {
	s := &Session{
		radio:             radio,
		identity:          device.DefaultIdentity(),
		unsubscribeSettle: DefaultUnsubscribeSettle,
		disconnectSettle:  DefaultDisconnectSettle,
		sleep:             time.Sleep,
		now:               time.Now,
		events:            make(chan event, eventQueueSize),
		done:              make(chan struct{}),
		stateHub:          ringchan.NewHub[State](subscriberBuffer),
		payloadHub:        ringchan.NewHub[Payload](subscriberBuffer),
	}
	s.sightings.Store(hashmap.New[string, device.ScanObservation]())
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.SetLevel(logrus.PanicLevel)
	}
	if s.log == nil {
		s.log = sessionlog.New(s.logger)
	}
	s.dispatch = newDispatcher(s.logger)
	return s
}

// Start launches the event loop and the callback dispatcher. The loop tears the
// session down and exits when ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.group.Go(ctx, "session-loop", s.run)
		s.group.Go(ctx, "session-dispatch", func(context.Context) { s.dispatch.run() })
	})
}

// Close tears the session down, stops the loop and closes all subscriber channels.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.startOnce.Do(func() { close(s.done) }) // never started
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
		s.dispatch.close()
		s.group.Wait()
		s.stateHub.Close()
		s.payloadHub.Close()
	})
}

// Log returns the diagnostic log.
func (s *Session) Log() *sessionlog.Log {
	return s.log
}

// Identity returns the device identity the session looks for.
func (s *Session) Identity() device.DeviceIdentity {
	return s.identity
}

// EnsureRadioAvailable reports whether an adapter exists and is powered on.
func (s *Session) EnsureRadioAvailable() bool {
	return s.radio.State() == device.RadioPoweredOn
}

// StartScan begins a filtered scan for the wearable.
func (s *Session) StartScan() ScanStatus {
	reply := make(chan ScanStatus, 1)
	if !s.post(startScanCmd{reply: reply}) {
		return ScanFailed
	}
	select {
	case status := <-reply:
		return status
	case <-s.done:
		return ScanFailed
	}
}

// StopScan stops an active scan and returns once the session has handled it.
// No-op otherwise.
func (s *Session) StopScan() {
	done := make(chan struct{})
	if !s.post(stopScanCmd{done: done}) {
		return
	}
	select {
	case <-done:
	case <-s.done:
	}
}

// WriteCommand queues a UTF-8 text frame for the wearable. The outcome is
// reported through the session log only.
func (s *Session) WriteCommand(text string) {
	s.post(writeCmd{text: text})
}

// Disconnect tears the connection down and blocks until the session is idle.
func (s *Session) Disconnect() {
	done := make(chan struct{})
	if !s.post(disconnectCmd{done: done}) {
		return
	}
	select {
	case <-done:
	case <-s.done:
	}
}

// State returns a snapshot reflecting every command and callback queued before the call.
func (s *Session) State() State {
	reply := make(chan State, 1)
	if s.post(queryCmd{reply: reply}) {
		select {
		case st := <-reply:
			return st
		case <-s.done:
		}
	}
	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	return s.snapshot
}

// Sightings returns the devices seen during the current or last scan.
func (s *Session) Sightings() []device.ScanObservation {
	sightings := s.sightings.Load()
	out := make([]device.ScanObservation, 0, sightings.Len())
	sightings.Range(func(_ string, obs device.ScanObservation) bool {
		out = append(out, obs)
		return true
	})
	return out
}

// SubscribeState returns a channel of state snapshots, one per change.
func (s *Session) SubscribeState() (<-chan State, func()) {
	rc, cancel := s.stateHub.Subscribe()
	return rc.C(), cancel
}

// SubscribePayloads returns a channel of received payloads.
func (s *Session) SubscribePayloads() (<-chan Payload, func()) {
	rc, cancel := s.payloadHub.Subscribe()
	return rc.C(), cancel
}

// OnAlert registers fn to run once per payload classified as an alert.
// Handlers run on a dispatcher goroutine and may call back into the session.
func (s *Session) OnAlert(fn func(Payload)) {
	s.dispatch.onAlert(fn)
}

// OnOk registers fn to run once per payload classified as ok.
func (s *Session) OnOk(fn func(Payload)) {
	s.dispatch.onOk(fn)
}

// post queues ev for the loop. Returns false once the loop has exited.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) tryPost(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.logger.Debug("Session event queue full, dropping scan result")
	}
}
