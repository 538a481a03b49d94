// Package actuator renders posture feedback on the host: vibration pulses and
// user notifications.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/srg/straightup/internal/publish"
)

// Actuator performs local feedback actions.
type Actuator interface {
	Vibrate(d time.Duration) error
	ShowAlertNotification() error
	ShowMonitoringNotification() error
	CancelMonitoringNotification() error
}

const (
	alertTitle      = "Bad posture detected"
	alertText       = "Please straighten your back"
	monitoringTitle = "Monitoring posture"
	monitoringText  = "StraightUp is active"
)

// Console prints feedback to a terminal. With the bell enabled, alerts and
// vibration pulses also ring the terminal bell.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	bell func() bool

	monitoring bool

	alert *color.Color
	info  *color.Color
	pulse *color.Color
}

// ConsoleOption configures a Console
type ConsoleOption func(*Console)

// WithBell rings the terminal bell whenever enabled returns true.
func WithBell(enabled func() bool) ConsoleOption {
	return func(c *Console) { c.bell = enabled }
}

// WithoutColor disables ANSI colors regardless of the terminal.
func WithoutColor() ConsoleOption {
	return func(c *Console) {
		for _, col := range []*color.Color{c.alert, c.info, c.pulse} {
			col.DisableColor()
		}
	}
}

func NewConsole(out io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		out:   out,
		bell:  func() bool { return false },
		alert: color.New(color.FgRed, color.Bold),
		info:  color.New(color.FgCyan),
		pulse: color.New(color.FgYellow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) Vibrate(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.pulse.Fprintf(c.out, "~ vibrate %s%s\n", d, c.ring())
	return err
}

func (c *Console) ShowAlertNotification() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.alert.Fprintf(c.out, "! %s: %s%s\n", alertTitle, alertText, c.ring())
	return err
}

// ShowMonitoringNotification prints the ongoing notice once per monitoring run.
func (c *Console) ShowMonitoringNotification() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitoring {
		return nil
	}
	c.monitoring = true
	_, err := c.info.Fprintf(c.out, "* %s: %s\n", monitoringTitle, monitoringText)
	return err
}

func (c *Console) CancelMonitoringNotification() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.monitoring {
		return nil
	}
	c.monitoring = false
	_, err := c.info.Fprintf(c.out, "* %s stopped\n", monitoringTitle)
	return err
}

func (c *Console) ring() string {
	if c.bell() {
		return "\a"
	}
	return ""
}

// Broker forwards every action as a publish.KindActuation message so a
// subscribed phone or dashboard can render it.
type Broker struct {
	publisher publish.Publisher
	timeout   time.Duration
	now       func() time.Time
}

func NewBroker(p publish.Publisher, timeout time.Duration) *Broker {
	return &Broker{publisher: p, timeout: timeout, now: time.Now}
}

func (b *Broker) Vibrate(d time.Duration) error {
	return b.send(publish.ActionVibrate, d)
}

func (b *Broker) ShowAlertNotification() error {
	return b.send(publish.ActionAlert, 0)
}

func (b *Broker) ShowMonitoringNotification() error {
	return b.send(publish.ActionMonitoringOn, 0)
}

func (b *Broker) CancelMonitoringNotification() error {
	return b.send(publish.ActionMonitoringOff, 0)
}

func (b *Broker) send(action string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.publisher.Publish(ctx, publish.ActuationMessage(action, d, b.now())); err != nil {
		return fmt.Errorf("forward %s: %w", action, err)
	}
	return nil
}

// Multi runs every action on all actuators, joining their errors.
type Multi []Actuator

func (m Multi) Vibrate(d time.Duration) error {
	return m.each(func(a Actuator) error { return a.Vibrate(d) })
}

func (m Multi) ShowAlertNotification() error {
	return m.each(Actuator.ShowAlertNotification)
}

func (m Multi) ShowMonitoringNotification() error {
	return m.each(Actuator.ShowMonitoringNotification)
}

func (m Multi) CancelMonitoringNotification() error {
	return m.each(Actuator.CancelMonitoringNotification)
}

func (m Multi) each(fn func(Actuator) error) error {
	var errs []error
	for _, a := range m {
		if err := fn(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
