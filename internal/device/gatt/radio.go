//go:build linux

// Package gattradio implements device.Radio on top of github.com/fako1024/gatt,
// talking to a raw HCI socket. It is the alternative Linux backend for hosts
// where BlueZ is not running.
package gattradio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/fako1024/gatt"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
)

// initTimeout bounds the wait for the first adapter state report.
const initTimeout = 2 * time.Second

var defaultClientOptions = []gatt.Option{
	gatt.LnxMaxConnections(1),
	gatt.LnxDeviceID(-1, true),
}

// DeviceFactory creates gatt.Device instances (can be overridden in tests)
var DeviceFactory = func(opts ...gatt.Option) (gatt.Device, error) {
	return gatt.NewDevice(opts...)
}

// Radio adapts a gatt.Device to device.Radio.
type Radio struct {
	logger *logrus.Logger
	dev    gatt.Device

	mu          sync.Mutex
	state       gatt.State
	ready       chan struct{}
	readyOnce   sync.Once
	scanHandler device.ScanHandler
	seen        *hashmap.Map[string, gatt.Peripheral]
	links       map[string]*link
}

// NewRadio opens the HCI device and waits briefly for its first state report.
func NewRadio(logger *logrus.Logger) (*Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory(defaultClientOptions...)
	if err != nil {
		return nil, device.NormalizeError(err)
	}

	r := &Radio{
		logger: logger,
		dev:    dev,
		state:  gatt.StateUnknown,
		ready:  make(chan struct{}),
		seen:   hashmap.New[string, gatt.Peripheral](),
		links:  make(map[string]*link),
	}

	dev.Handle(
		gatt.AddPeripheralDiscovered(r.onPeriphDiscovered),
		gatt.AddPeripheralConnected(r.onPeriphConnected),
		gatt.AddPeripheralDisconnected(r.onPeriphDisconnected),
	)
	if err := dev.Init(r.onStateChanged); err != nil {
		return nil, device.NormalizeError(err)
	}

	select {
	case <-r.ready:
	case <-time.After(initTimeout):
		logger.Warn("HCI device did not report its state in time")
	}
	return r, nil
}

func (r *Radio) State() device.RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return radioState(r.state)
}

func radioState(s gatt.State) device.RadioState {
	switch s {
	case gatt.StatePoweredOn:
		return device.RadioPoweredOn
	case gatt.StatePoweredOff, gatt.StateResetting:
		return device.RadioPoweredOff
	default:
		return device.RadioAbsent
	}
}

func (r *Radio) StartScan(h device.ScanHandler) error {
	r.mu.Lock()
	if r.scanHandler != nil {
		r.mu.Unlock()
		return &device.ScanFailure{Reason: device.ScanAlreadyStarted}
	}
	if r.state != gatt.StatePoweredOn {
		r.mu.Unlock()
		return device.ErrBluetoothOff
	}
	r.scanHandler = h
	r.seen = hashmap.New[string, gatt.Peripheral]()
	r.mu.Unlock()

	if err := r.dev.Scan([]gatt.UUID{}, true); err != nil {
		r.mu.Lock()
		r.scanHandler = nil
		r.mu.Unlock()
		return device.NormalizeError(err)
	}
	r.logger.Debug("HCI scan started")
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	wasScanning := r.scanHandler != nil
	r.scanHandler = nil
	r.mu.Unlock()

	if !wasScanning {
		return nil
	}
	return device.NormalizeError(r.dev.StopScanning())
}

// Connect requires the peripheral to have been seen by the current or last scan.
func (r *Radio) Connect(address string, h device.LinkHandler) (device.Link, error) {
	r.mu.Lock()
	p, ok := r.seen.Get(address)
	if !ok {
		r.mu.Unlock()
		return nil, &device.NotFoundError{Resource: "peripheral", UUIDs: []string{address}}
	}
	l := &link{radio: r, address: address, handler: h, peripheral: p}
	r.links[address] = l
	r.mu.Unlock()

	if err := r.dev.Connect(p); err != nil {
		r.forget(address, l)
		return nil, device.NormalizeError(err)
	}
	return l, nil
}

// Close stops scanning and releases the HCI device.
func (r *Radio) Close() error {
	_ = r.StopScan()
	return r.dev.RemoveAllServices()
}

func (r *Radio) forget(address string, l *link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.links[address] == l {
		delete(r.links, address)
	}
}

func (r *Radio) linkFor(p gatt.Peripheral) *link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[p.ID()]
}

// ----------------------------
// gatt callbacks
// ----------------------------

func (r *Radio) onStateChanged(_ gatt.Device, s gatt.State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.WithField("state", s.String()).Info("HCI adapter state changed")
}

func (r *Radio) onPeriphDiscovered(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
	r.mu.Lock()
	h := r.scanHandler
	if h != nil {
		r.seen.Set(p.ID(), p)
	}
	r.mu.Unlock()
	if h == nil {
		return
	}
	h.OnScanResult(observation(p, a, rssi))
}

func (r *Radio) onPeriphConnected(p gatt.Peripheral, err error) {
	l := r.linkFor(p)
	if l == nil {
		r.logger.WithField("address", p.ID()).Debug("Connected peripheral has no link, cancelling")
		if err := r.dev.CancelConnection(p); err != nil {
			r.logger.WithError(err).WithField("address", p.ID()).Warn("Failed to cancel stray connection")
		}
		return
	}
	if err != nil {
		r.forget(p.ID(), l)
		l.handler.OnConnectionStateChange(false, device.NormalizeError(err))
		return
	}
	l.attach(p)
	l.handler.OnConnectionStateChange(true, nil)
}

func (r *Radio) onPeriphDisconnected(p gatt.Peripheral, err error) {
	l := r.linkFor(p)
	if l == nil {
		return
	}
	r.forget(p.ID(), l)
	if l.closing.Load() {
		return
	}
	if err == nil {
		err = device.ErrNotConnected
	}
	l.handler.OnConnectionStateChange(false, err)
}

func observation(p gatt.Peripheral, a *gatt.Advertisement, rssi int) device.ScanObservation {
	obs := device.ScanObservation{Address: p.ID(), Name: p.Name(), RSSI: rssi}
	if a != nil {
		if a.LocalName != "" {
			obs.Name = a.LocalName
		}
		for _, u := range a.Services {
			obs.Services = append(obs.Services, device.NormalizeUUID(u.String()))
		}
	}
	return obs
}

func convertProperties(p gatt.Property) device.Properties {
	var props device.Properties
	if p&gatt.CharRead != 0 {
		props |= device.PropRead
	}
	if p&gatt.CharWrite != 0 {
		props |= device.PropWrite
	}
	if p&gatt.CharWriteNR != 0 {
		props |= device.PropWriteNoResponse
	}
	if p&gatt.CharNotify != 0 {
		props |= device.PropNotify
	}
	if p&gatt.CharIndicate != 0 {
		props |= device.PropIndicate
	}
	return props
}

func gattCharacteristic(char *device.Characteristic) (*gatt.Characteristic, error) {
	if char == nil {
		return nil, device.ErrNoHandle
	}
	c, ok := char.Handle.(*gatt.Characteristic)
	if !ok || c == nil {
		return nil, fmt.Errorf("characteristic %s has no gatt handle: %w", char.UUID, device.ErrNoHandle)
	}
	return c, nil
}
