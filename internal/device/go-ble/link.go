package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/device"
	"github.com/srg/straightup/internal/groutine"
)

// link is one go-ble client connection. Requests run on their own goroutines
// and complete through the LinkHandler, mirroring an asynchronous GATT stack.
type link struct {
	address string
	handler device.LinkHandler
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	client     ble.Client
	writeMutex sync.Mutex
	closing    atomic.Bool
	closeOnce  sync.Once
}

func newLink(address string, h device.LinkHandler, logger *logrus.Logger) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		address: address,
		handler: h,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (l *link) dial(ctx context.Context, dev ble.Device, timeout time.Duration) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l.logger.WithField("address", l.address).Debug("Dialing BLE device...")
	client, err := dev.Dial(dialCtx, ble.NewAddr(l.address))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		l.handler.OnConnectionStateChange(false, device.NormalizeError(err))
		return
	}

	l.mu.Lock()
	if ctx.Err() != nil {
		l.mu.Unlock()
		// closed while dialing
		_ = client.CancelConnection()
		return
	}
	l.client = client
	l.mu.Unlock()

	l.handler.OnConnectionStateChange(true, nil)

	select {
	case <-client.Disconnected():
		if l.closing.Load() {
			return
		}
		l.logger.WithField("address", l.address).Warn("BLE stack reported disconnection")
		l.handler.OnConnectionStateChange(false, device.ErrNotConnected)
	case <-ctx.Done():
	}
}

func (l *link) connected() (ble.Client, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.client == nil {
		return nil, device.ErrNotConnected
	}
	return l.client, nil
}

func (l *link) Address() string {
	return l.address
}

func (l *link) DiscoverServices() error {
	client, err := l.connected()
	if err != nil {
		return err
	}
	groutine.Go(l.ctx, "goble-discover", func(ctx context.Context) {
		profile, err := client.DiscoverProfile(true)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.handler.OnServicesDiscovered(nil, device.NormalizeError(err))
			return
		}
		l.handler.OnServicesDiscovered(ConvertProfile(profile), nil)
	})
	return nil
}

func (l *link) SetNotify(char *device.Characteristic, enable bool) error {
	client, err := l.connected()
	if err != nil {
		return err
	}
	bc, err := bleCharacteristic(char)
	if err != nil {
		return err
	}
	indicate := !char.Properties.Has(device.PropNotify) && char.Properties.Has(device.PropIndicate)

	if !enable {
		return device.NormalizeError(client.Unsubscribe(bc, indicate))
	}
	uuid := char.UUID
	// go-ble writes the CCCD itself as part of Subscribe
	return device.NormalizeError(client.Subscribe(bc, indicate, func(data []byte) {
		l.handler.OnCharacteristicChanged(uuid, data)
	}))
}

func (l *link) WriteDescriptor(char *device.Characteristic, descUUID string, value []byte) error {
	client, err := l.connected()
	if err != nil {
		return err
	}
	bc, err := bleCharacteristic(char)
	if err != nil {
		return err
	}

	if device.NormalizeUUID(descUUID) == device.NormalizeUUID(device.DefaultConfigDescriptorUUID) {
		// already written by Subscribe/Unsubscribe, acknowledge
		groutine.Go(l.ctx, "goble-cccd-ack", func(context.Context) {
			l.handler.OnDescriptorWrite(char.UUID, descUUID, nil)
		})
		return nil
	}

	var desc *ble.Descriptor
	for _, d := range bc.Descriptors {
		if device.NormalizeUUID(d.UUID.String()) == device.NormalizeUUID(descUUID) {
			desc = d
			break
		}
	}
	if desc == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{char.UUID, descUUID}}
	}

	payload := append([]byte(nil), value...)
	groutine.Go(l.ctx, "goble-write-descriptor", func(context.Context) {
		l.writeMutex.Lock()
		err := client.WriteDescriptor(desc, payload)
		l.writeMutex.Unlock()
		l.handler.OnDescriptorWrite(char.UUID, descUUID, device.NormalizeError(err))
	})
	return nil
}

func (l *link) WriteCharacteristic(char *device.Characteristic, value []byte) error {
	client, err := l.connected()
	if err != nil {
		return err
	}
	bc, err := bleCharacteristic(char)
	if err != nil {
		return err
	}
	if !char.CanWrite() {
		return device.ErrUnsupportedWrite
	}
	noRsp := !char.Properties.Has(device.PropWrite)

	payload := append([]byte(nil), value...)
	groutine.Go(l.ctx, "goble-write", func(context.Context) {
		l.writeMutex.Lock()
		err := client.WriteCharacteristic(bc, payload, noRsp)
		l.writeMutex.Unlock()
		l.handler.OnCharacteristicWrite(char.UUID, payload, device.NormalizeError(err))
	})
	return nil
}

func (l *link) Disconnect() error {
	client, err := l.connected()
	if err != nil {
		return err
	}
	l.closing.Store(true)
	return device.NormalizeError(client.CancelConnection())
}

// RefreshCache drops the subscriptions go-ble keeps for the peripheral.
func (l *link) RefreshCache() error {
	client, err := l.connected()
	if err != nil {
		return err
	}
	return device.NormalizeError(client.ClearSubscriptions())
}

func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		l.cancel()
		l.mu.Lock()
		l.client = nil
		l.mu.Unlock()
	})
	return nil
}

func bleCharacteristic(char *device.Characteristic) (*ble.Characteristic, error) {
	if char == nil {
		return nil, device.ErrNoHandle
	}
	bc, ok := char.Handle.(*ble.Characteristic)
	if !ok || bc == nil {
		return nil, fmt.Errorf("characteristic %s has no go-ble handle: %w", char.UUID, device.ErrNoHandle)
	}
	return bc, nil
}
