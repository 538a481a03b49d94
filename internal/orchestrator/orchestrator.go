// Package orchestrator turns wearable signals into posture feedback: it
// records events, triggers vibration and notifications according to the user
// settings, and keeps the daily statistics current.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/actuator"
	"github.com/srg/straightup/internal/groutine"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/internal/protocol"
	"github.com/srg/straightup/internal/publish"
	"github.com/srg/straightup/internal/ringchan"
	"github.com/srg/straightup/internal/session"
	"github.com/srg/straightup/internal/settings"
)

const (
	minVibration = 100 * time.Millisecond
	maxVibration = 500 * time.Millisecond
	perIntensity = 5 * time.Millisecond

	defaultIOTimeout = 5 * time.Second
	statusBuffer     = 16
)

// ErrNotConnected is returned by StartMonitoring without a connected wearable.
var ErrNotConnected = errors.New("wearable is not connected")

// VibrationDuration maps an intensity (0..100) to a host vibration pulse.
func VibrationDuration(intensity int) time.Duration {
	d := time.Duration(intensity) * perIntensity
	return max(minVibration, min(maxVibration, d))
}

// Device is the part of session.Session the orchestrator drives.
type Device interface {
	State() session.State
	SubscribeState() (<-chan session.State, func())
	OnAlert(fn func(session.Payload))
	OnOk(fn func(session.Payload))
	WriteCommand(text string)
	Disconnect()
	StopScan()
}

// Status is the orchestrator's observable state
type Status struct {
	Posture    PostureState       `json:"posture"`
	Monitoring bool               `json:"monitoring"`
	Connected  bool               `json:"connected"`
	Today      history.DailyStats `json:"today"`
	Score      int                `json:"score"`
}

// Orchestrator reacts to alert/ok signals from a Device.
type Orchestrator struct {
	device    Device
	store     history.Store
	settings  settings.Store
	actuator  actuator.Actuator
	publisher publish.Publisher
	logger    *logrus.Logger
	now       func() time.Time
	retention time.Duration
	timeout   time.Duration

	mu         sync.Mutex
	posture    PostureState
	monitoring bool
	connected  bool
	address    string
	today      history.DailyStats
	week       []history.DailyStats

	hub       *ringchan.Hub[Status]
	group     groutine.Group
	startOnce sync.Once
	closeOnce sync.Once
	unwatch   func()
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPublisher forwards every recorded event to p.
func WithPublisher(p publish.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRetention prunes events older than d on Start. Zero keeps everything.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// WithIOTimeout bounds each store and publish call.
func WithIOTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func New(device Device, store history.Store, st settings.Store, act actuator.Actuator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		device:    device,
		store:     store,
		settings:  st,
		actuator:  act,
		publisher: publish.Nop{},
		now:       time.Now,
		timeout:   defaultIOTimeout,
		posture:   Waiting,
		hub:       ringchan.NewHub[Status](statusBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
		o.logger.SetLevel(logrus.PanicLevel)
	}
	return o
}

// Start prunes old history, loads the statistics and begins following the
// device. The connectivity watcher stops when ctx is cancelled or on Close.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		if o.retention > 0 {
			o.prune()
		}
		o.refreshStats()

		o.device.OnAlert(o.handleAlert)
		o.device.OnOk(o.handleOk)

		states, cancel := o.device.SubscribeState()
		o.unwatch = cancel
		o.onStateChange(o.device.State())
		o.group.Go(ctx, "orchestrator-state", func(ctx context.Context) {
			for {
				select {
				case st, ok := <-states:
					if !ok {
						return
					}
					o.onStateChange(st)
				case <-ctx.Done():
					return
				}
			}
		})
	})
}

// Close disconnects the wearable, stops any scan and closes status subscribers.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.device.Disconnect()
		o.device.StopScan()
		if o.unwatch != nil {
			o.unwatch()
		}
		o.group.Wait()
		o.hub.Close()
	})
}

// Status returns a snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() Status {
	return Status{
		Posture:    o.posture,
		Monitoring: o.monitoring,
		Connected:  o.connected,
		Today:      o.today,
		Score:      o.today.Score(),
	}
}

// Subscribe returns a channel receiving every status change, and a cancel func.
func (o *Orchestrator) Subscribe() (<-chan Status, func()) {
	rc, cancel := o.hub.Subscribe()
	return rc.C(), cancel
}

// TodayStats returns today's counters.
func (o *Orchestrator) TodayStats() history.DailyStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.today
}

// WeeklyStats returns the last seven days, oldest first.
func (o *Orchestrator) WeeklyStats() []history.DailyStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]history.DailyStats(nil), o.week...)
}

// StartMonitoring asks the wearable to start sampling posture.
func (o *Orchestrator) StartMonitoring() error {
	if !o.device.State().Phase.Connected() {
		return ErrNotConnected
	}
	o.mu.Lock()
	o.monitoring = true
	o.mu.Unlock()

	o.device.WriteCommand(string(protocol.StartMonitoring))
	o.actuate("show monitoring notification", o.actuator.ShowMonitoringNotification)
	o.logger.Info("Monitoring started")
	o.notify()
	return nil
}

// StopMonitoring asks the wearable to stop sampling posture.
func (o *Orchestrator) StopMonitoring() {
	o.mu.Lock()
	o.monitoring = false
	o.mu.Unlock()

	o.device.WriteCommand(string(protocol.StopMonitoring))
	o.actuate("cancel monitoring notification", o.actuator.CancelMonitoringNotification)
	o.logger.Info("Monitoring stopped")
	o.notify()
}

// Shutdown powers the wearable off.
func (o *Orchestrator) Shutdown() {
	o.device.WriteCommand(string(protocol.Shutdown))
}

// Restart reboots the wearable.
func (o *Orchestrator) Restart() {
	o.device.WriteCommand(string(protocol.Restart))
}

// SendCommand validates free text and writes it to the wearable. Monitoring
// commands go through StartMonitoring/StopMonitoring so the state stays in sync.
func (o *Orchestrator) SendCommand(text string) (protocol.Command, error) {
	cmd, err := protocol.ParseCommand(text)
	if err != nil {
		return "", err
	}
	switch cmd {
	case protocol.StartMonitoring:
		return cmd, o.StartMonitoring()
	case protocol.StopMonitoring:
		o.StopMonitoring()
	default:
		o.device.WriteCommand(string(cmd))
	}
	return cmd, nil
}

// SetVibrationIntensity stores a new intensity (clamped to 0..100).
func (o *Orchestrator) SetVibrationIntensity(n int) error {
	if err := o.settings.SetVibrationIntensity(n); err != nil {
		return fmt.Errorf("update vibration intensity: %w", err)
	}
	return nil
}

// Refresh reloads the statistics from the store.
func (o *Orchestrator) Refresh() {
	o.refreshStats()
	o.notify()
}
