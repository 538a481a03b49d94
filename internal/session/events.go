package session

import (
	"github.com/srg/straightup/internal/device"
)

// Everything the loop reacts to, commands and radio callbacks alike.
type event interface{}

type startScanCmd struct{ reply chan ScanStatus }

type stopScanCmd struct{ done chan struct{} }

type writeCmd struct{ text string }

type disconnectCmd struct{ done chan struct{} }

type queryCmd struct{ reply chan State }

type scanResultEvent struct {
	gen uint64
	obs device.ScanObservation
}

type scanFailedEvent struct {
	gen     uint64
	failure *device.ScanFailure
}

type connStateEvent struct {
	gen       uint64
	connected bool
	err       error
}

type servicesEvent struct {
	gen      uint64
	services []*device.Service
	err      error
}

type descriptorWriteEvent struct {
	gen      uint64
	charUUID string
	descUUID string
	err      error
}

type characteristicWriteEvent struct {
	gen      uint64
	charUUID string
	value    []byte
	err      error
}

type notificationEvent struct {
	gen      uint64
	charUUID string
	value    []byte
}

// scanHandler tags scan callbacks with the scan generation they belong to.
type scanHandler struct {
	s   *Session
	gen uint64
}

func (h *scanHandler) OnScanResult(obs device.ScanObservation) {
	// sightings are lossy by nature; never stall the radio on a full queue
	h.s.tryPost(scanResultEvent{gen: h.gen, obs: obs})
}

func (h *scanHandler) OnScanFailed(failure *device.ScanFailure) {
	h.s.post(scanFailedEvent{gen: h.gen, failure: failure})
}

// linkHandler tags link callbacks with the connection generation they belong to.
type linkHandler struct {
	s   *Session
	gen uint64
}

func (h *linkHandler) OnConnectionStateChange(connected bool, err error) {
	h.s.post(connStateEvent{gen: h.gen, connected: connected, err: err})
}

func (h *linkHandler) OnServicesDiscovered(services []*device.Service, err error) {
	h.s.post(servicesEvent{gen: h.gen, services: services, err: err})
}

func (h *linkHandler) OnDescriptorWrite(charUUID, descUUID string, err error) {
	h.s.post(descriptorWriteEvent{gen: h.gen, charUUID: charUUID, descUUID: descUUID, err: err})
}

func (h *linkHandler) OnCharacteristicWrite(charUUID string, value []byte, err error) {
	h.s.post(characteristicWriteEvent{gen: h.gen, charUUID: charUUID, value: cloneBytes(value), err: err})
}

func (h *linkHandler) OnCharacteristicChanged(charUUID string, value []byte) {
	h.s.post(notificationEvent{gen: h.gen, charUUID: charUUID, value: cloneBytes(value)})
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
