// Package goble implements device.Radio on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 10 * time.Second

	// scanStopTimeout bounds how long StopScan waits for the scan goroutine.
	scanStopTimeout = 2 * time.Second
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Radio adapts a go-ble HCI/CoreBluetooth device to device.Radio.
type Radio struct {
	logger         *logrus.Logger
	connectTimeout time.Duration

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

// Option configures a Radio
type Option func(*Radio)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Radio) { r.connectTimeout = d }
}

// NewRadio creates a Radio. The platform device is opened lazily on first use.
func NewRadio(logger *logrus.Logger, opts ...Option) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Radio{logger: logger, connectTimeout: DefaultConnectTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// deviceLocked opens the platform device. Failures are not cached so a radio
// switched on later is picked up. Caller must hold r.mu.
func (r *Radio) deviceLocked() (ble.Device, error) {
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	r.dev = dev
	return dev, nil
}

func (r *Radio) State() device.RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.deviceLocked()
	switch {
	case err == nil:
		return device.RadioPoweredOn
	case errors.Is(err, device.ErrBluetoothOff):
		return device.RadioPoweredOff
	default:
		r.logger.WithError(err).Debug("BLE device unavailable")
		return device.RadioAbsent
	}
}

func (r *Radio) StartScan(h device.ScanHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scanCancel != nil {
		return &device.ScanFailure{Reason: device.ScanAlreadyStarted}
	}
	dev, err := r.deviceLocked()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.scanCancel, r.scanDone = cancel, done

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		defer func() {
			r.mu.Lock()
			if r.scanDone == done {
				r.scanCancel, r.scanDone = nil, nil
			}
			r.mu.Unlock()
			cancel()
			close(done)
		}()
		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			h.OnScanResult(Observation(adv))
		})
		if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		r.logger.WithError(err).Warn("BLE scan aborted")
		h.OnScanFailed(device.ClassifyScanError(device.NormalizeError(err)))
	})

	r.logger.Debug("BLE scan started")
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	cancel, done := r.scanCancel, r.scanDone
	r.scanCancel, r.scanDone = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-time.After(scanStopTimeout):
		r.logger.Warn("BLE scan did not stop in time")
	}
	r.logger.Debug("BLE scan stopped")
	return nil
}

func (r *Radio) Connect(address string, h device.LinkHandler) (device.Link, error) {
	r.mu.Lock()
	dev, err := r.deviceLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l := newLink(address, h, r.logger)
	groutine.Go(l.ctx, "goble-dial", func(ctx context.Context) {
		l.dial(ctx, dev, r.connectTimeout)
	})
	return l, nil
}

// Observation converts a go-ble advertisement.
func Observation(adv ble.Advertisement) device.ScanObservation {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, device.NormalizeUUID(u.String()))
	}
	return device.ScanObservation{
		Address:  adv.Addr().String(),
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		Services: services,
	}
}
