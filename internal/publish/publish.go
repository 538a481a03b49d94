// Package publish forwards posture events and actuation notices to a message
// broker so other devices (a phone, a dashboard) can react to them.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/history"
)

// Message kinds
const (
	KindPostureEvent = "posture_event"
	KindActuation    = "actuation"
)

// Actuation actions carried by KindActuation messages
const (
	ActionVibrate       = "vibrate"
	ActionAlert         = "alert_notification"
	ActionMonitoringOn  = "monitoring_on"
	ActionMonitoringOff = "monitoring_off"
)

// Message is the broker payload. NATS carries it as msgpack, MQTT as JSON.
type Message struct {
	Kind       string         `json:"kind" msgpack:"kind"`
	Timestamp  int64          `json:"timestamp" msgpack:"timestamp"` // unix ms
	Device     string         `json:"device,omitempty" msgpack:"device,omitempty"`
	Event      *history.Event `json:"event,omitempty" msgpack:"event,omitempty"`
	Action     string         `json:"action,omitempty" msgpack:"action,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty" msgpack:"duration_ms,omitempty"`
}

// EventMessage wraps a stored posture event.
func EventMessage(device string, e history.Event) Message {
	return Message{
		Kind:      KindPostureEvent,
		Timestamp: e.Timestamp.UnixMilli(),
		Device:    device,
		Event:     &e,
	}
}

// ActuationMessage describes a feedback action taken on the host.
func ActuationMessage(action string, d time.Duration, at time.Time) Message {
	return Message{
		Kind:       KindActuation,
		Timestamp:  at.UnixMilli(),
		Action:     action,
		DurationMs: d.Milliseconds(),
	}
}

// Publisher delivers messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Drivers accepted by New
const (
	DriverNone = "none"
	DriverNATS = "nats"
	DriverMQTT = "mqtt"
)

// Config selects and configures a publisher.
type Config struct {
	Driver   string
	URL      string
	Prefix   string // NATS subject prefix or MQTT topic prefix
	ClientID string
	Username string
	Password string
	QoS      byte
}

// New connects the publisher named by cfg.Driver.
func New(cfg Config, logger *logrus.Logger) (Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	switch cfg.Driver {
	case DriverNone, "":
		return Nop{}, nil
	case DriverNATS:
		p, err := NewNATSPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverMQTT:
		p, err := NewMQTTPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publish driver %q (expected %s, %s or %s)", cfg.Driver, DriverNone, DriverNATS, DriverMQTT)
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
func (Nop) Close() error                           { return nil }
