//go:build linux

package gattradio

import (
	"sync"
	"sync/atomic"

	"github.com/fako1024/gatt"
	"github.com/srg/straightup/internal/device"
)

// link wraps a connected gatt.Peripheral. gatt calls block, so every request
// runs on its own goroutine and completes through the handler.
type link struct {
	radio   *Radio
	address string
	handler device.LinkHandler

	mu         sync.RWMutex
	peripheral gatt.Peripheral
	attached   bool
	writeMutex sync.Mutex
	closing    atomic.Bool
}

func (l *link) attach(p gatt.Peripheral) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peripheral = p
	l.attached = true
}

func (l *link) connected() (gatt.Peripheral, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.attached || l.closing.Load() {
		return nil, device.ErrNotConnected
	}
	return l.peripheral, nil
}

func (l *link) Address() string {
	return l.address
}

func (l *link) DiscoverServices() error {
	p, err := l.connected()
	if err != nil {
		return err
	}
	go func() {
		services, err := discoverProfile(p)
		if l.closing.Load() {
			return
		}
		l.handler.OnServicesDiscovered(services, device.NormalizeError(err))
	}()
	return nil
}

// discoverProfile walks services, characteristics and descriptors.
func discoverProfile(p gatt.Peripheral) ([]*device.Service, error) {
	ss, err := p.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	services := make([]*device.Service, 0, len(ss))
	for _, s := range ss {
		svc := &device.Service{UUID: device.NormalizeUUID(s.UUID().String())}
		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return nil, err
		}
		for _, c := range cs {
			ds, err := p.DiscoverDescriptors(nil, c)
			if err != nil {
				return nil, err
			}
			descriptors := make([]string, 0, len(ds))
			for _, d := range ds {
				descriptors = append(descriptors, device.NormalizeUUID(d.UUID().String()))
			}
			svc.Characteristics = append(svc.Characteristics, &device.Characteristic{
				UUID:        device.NormalizeUUID(c.UUID().String()),
				Properties:  convertProperties(c.Properties()),
				Descriptors: descriptors,
				Handle:      c,
			})
		}
		services = append(services, svc)
	}
	return services, nil
}

func (l *link) SetNotify(char *device.Characteristic, enable bool) error {
	p, err := l.connected()
	if err != nil {
		return err
	}
	c, err := gattCharacteristic(char)
	if err != nil {
		return err
	}
	if !enable {
		return device.NormalizeError(p.SetNotifyValue(c, nil))
	}
	uuid := char.UUID
	// gatt writes the CCCD itself as part of SetNotifyValue
	return device.NormalizeError(p.SetNotifyValue(c, func(_ *gatt.Characteristic, b []byte, err error) {
		if err != nil {
			return
		}
		l.handler.OnCharacteristicChanged(uuid, b)
	}))
}

func (l *link) WriteDescriptor(char *device.Characteristic, descUUID string, value []byte) error {
	p, err := l.connected()
	if err != nil {
		return err
	}
	c, err := gattCharacteristic(char)
	if err != nil {
		return err
	}

	if device.NormalizeUUID(descUUID) == device.NormalizeUUID(device.DefaultConfigDescriptorUUID) {
		go l.handler.OnDescriptorWrite(char.UUID, descUUID, nil)
		return nil
	}

	var desc *gatt.Descriptor
	for _, d := range c.Descriptors() {
		if device.NormalizeUUID(d.UUID().String()) == device.NormalizeUUID(descUUID) {
			desc = d
			break
		}
	}
	if desc == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{char.UUID, descUUID}}
	}

	payload := append([]byte(nil), value...)
	go func() {
		l.writeMutex.Lock()
		err := p.WriteDescriptor(desc, payload)
		l.writeMutex.Unlock()
		l.handler.OnDescriptorWrite(char.UUID, descUUID, device.NormalizeError(err))
	}()
	return nil
}

func (l *link) WriteCharacteristic(char *device.Characteristic, value []byte) error {
	p, err := l.connected()
	if err != nil {
		return err
	}
	c, err := gattCharacteristic(char)
	if err != nil {
		return err
	}
	if !char.CanWrite() {
		return device.ErrUnsupportedWrite
	}
	noRsp := !char.Properties.Has(device.PropWrite)

	payload := append([]byte(nil), value...)
	go func() {
		l.writeMutex.Lock()
		err := p.WriteCharacteristic(c, payload, noRsp)
		l.writeMutex.Unlock()
		l.handler.OnCharacteristicWrite(char.UUID, payload, device.NormalizeError(err))
	}()
	return nil
}

func (l *link) Disconnect() error {
	p, err := l.connected()
	if err != nil {
		return err
	}
	l.closing.Store(true)
	return device.NormalizeError(l.radio.dev.CancelConnection(p))
}

func (l *link) Close() error {
	l.closing.Store(true)
	l.radio.forget(l.address, l)
	return nil
}
