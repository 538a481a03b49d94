package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/internal/protocol"
	"github.com/srg/straightup/internal/publish"
	"github.com/srg/straightup/internal/session"
)

// PostureState is what the user is shown
type PostureState int

const (
	Waiting PostureState = iota
	Good
	Bad
)

func (p PostureState) String() string {
	switch p {
	case Good:
		return "good"
	case Bad:
		return "bad"
	default:
		return "waiting"
	}
}

func (p PostureState) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (o *Orchestrator) onStateChange(st session.State) {
	connected := st.Phase.Connected()

	o.mu.Lock()
	changed := connected != o.connected
	o.connected = connected
	o.address = st.DeviceAddress
	switch {
	case !connected:
		changed = changed || o.posture != Waiting
		o.posture = Waiting
		o.monitoring = false
	case o.posture == Waiting:
		o.posture = Good
		changed = true
	}
	o.mu.Unlock()

	if changed {
		o.notify()
	}
}

func (o *Orchestrator) handleAlert(p session.Payload) {
	o.record(history.BadPosture, Bad, p)

	st := o.settings.Current()
	if st.VibrateOnDevice {
		o.device.WriteCommand(string(protocol.Vibrate(st.VibrationIntensity)))
	} else {
		d := VibrationDuration(st.VibrationIntensity)
		o.actuate("vibrate", func() error { return o.actuator.Vibrate(d) })
	}
	if st.NotificationsEnabled {
		o.actuate("show alert notification", o.actuator.ShowAlertNotification)
	}

	o.refreshStats()
	o.notify()
}

func (o *Orchestrator) handleOk(p session.Payload) {
	o.record(history.GoodPosture, Good, p)
	o.refreshStats()
	o.notify()
}

// record updates the posture and counters, stores the event and forwards it.
func (o *Orchestrator) record(t history.EventType, posture PostureState, p session.Payload) {
	at := p.ReceivedAt
	if at.IsZero() {
		at = o.now()
	}
	e := history.NewEvent(t, at)

	o.mu.Lock()
	o.posture = posture
	if t == history.BadPosture {
		o.today.Bad++
	} else {
		o.today.Good++
	}
	address := o.address
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"type":    t,
		"payload": p.Text,
	}).Info("Posture event")

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.store.Insert(ctx, e); err != nil {
		o.logger.WithError(err).Warn("Failed to store posture event")
	}
	if err := o.publisher.Publish(ctx, publish.EventMessage(address, e)); err != nil {
		o.logger.WithError(err).Warn("Failed to publish posture event")
	}
}

func (o *Orchestrator) actuate(what string, fn func() error) {
	if err := fn(); err != nil {
		o.logger.WithError(err).WithField("action", what).Warn("Actuation failed")
	}
}

// refreshStats replaces the counters with what the store holds. On a store
// error the in-memory counters are kept.
func (o *Orchestrator) refreshStats() {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	now := o.now()

	today, err := history.Today(ctx, o.store, now)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to load today's statistics")
		return
	}
	week, err := history.Week(ctx, o.store, now)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to load weekly statistics")
	}

	o.mu.Lock()
	o.today = today
	if err == nil {
		o.week = week
	}
	o.mu.Unlock()
}

func (o *Orchestrator) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	cutoff := history.StartOfDay(o.now()).Add(-o.retention)
	n, err := o.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to prune posture history")
		return
	}
	if n > 0 {
		o.logger.WithFields(logrus.Fields{
			"deleted": n,
			"before":  cutoff.Format("2006-01-02"),
		}).Info("Pruned posture history")
	}
}

func (o *Orchestrator) notify() {
	o.hub.Publish(o.Status())
}
