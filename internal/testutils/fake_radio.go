package testutils

import (
	"fmt"
	"sync"
	"time"

	"github.com/srg/straightup/internal/device"
	"github.com/stretchr/testify/mock"
)

// Recorder is a thread-safe journal of operations, shared between fakes and
// test doubles (sleepers, actuators) so tests can assert global ordering.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

// Record appends a formatted entry.
func (r *Recorder) Record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the journal.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

// Reset clears the journal.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// FakeRadio is a testify mock of device.Radio. Expectations registered before
// ExpectDefaults take precedence over the defaults.
type FakeRadio struct {
	mock.Mock

	mu           sync.Mutex
	scanHandlers []device.ScanHandler
}

// NewFakeRadio creates a FakeRadio with no expectations.
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{}
}

// ExpectDefaults makes the radio powered, scannable and connectable to link.
func (r *FakeRadio) ExpectDefaults(link *FakeLink) *FakeRadio {
	r.On("State").Return(device.RadioPoweredOn).Maybe()
	r.On("StartScan", mock.Anything).Return(nil).Maybe()
	r.On("StopScan").Return(nil).Maybe()
	if link != nil {
		r.On("Connect", mock.Anything).Return(link, nil).Maybe()
	}
	return r
}

func (r *FakeRadio) State() device.RadioState {
	return r.Called().Get(0).(device.RadioState)
}

func (r *FakeRadio) StartScan(h device.ScanHandler) error {
	err := r.Called(h).Error(0)
	if err == nil {
		r.mu.Lock()
		r.scanHandlers = append(r.scanHandlers, h)
		r.mu.Unlock()
	}
	return err
}

func (r *FakeRadio) StopScan() error {
	return r.Called().Error(0)
}

func (r *FakeRadio) Connect(address string, h device.LinkHandler) (device.Link, error) {
	args := r.Called(address)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	link := args.Get(0).(*FakeLink)
	link.bind(address, h)
	return link, nil
}

// ScanHandler returns the handler of the n-th successful StartScan (0-based),
// or the latest one when n < 0. It waits briefly for a scan started on
// another goroutine.
func (r *FakeRadio) ScanHandler(n int) device.ScanHandler {
	var h device.ScanHandler
	waitFor("scan started", func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		h = pick(r.scanHandlers, n)
		return h != nil
	})
	return h
}

// Scans returns the number of successful StartScan calls.
func (r *FakeRadio) Scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scanHandlers)
}

// EmitScanResult delivers a sighting to the latest scan.
func (r *FakeRadio) EmitScanResult(obs device.ScanObservation) {
	r.ScanHandler(-1).OnScanResult(obs)
}

// EmitScanFailure delivers an asynchronous scan failure to the latest scan.
func (r *FakeRadio) EmitScanFailure(reason device.ScanFailureReason) {
	r.ScanHandler(-1).OnScanFailed(&device.ScanFailure{Reason: reason})
}

// FakeLink is a testify mock of device.Link that also implements
// device.CacheRefresher. Every call is journaled to Recorder when set.
type FakeLink struct {
	mock.Mock
	Recorder *Recorder

	mu       sync.Mutex
	address  string
	handlers []device.LinkHandler
}

// NewFakeLink creates a FakeLink with no expectations.
func NewFakeLink(rec *Recorder) *FakeLink {
	return &FakeLink{Recorder: rec}
}

// ExpectDefaults makes every link operation succeed.
func (l *FakeLink) ExpectDefaults() *FakeLink {
	l.On("DiscoverServices").Return(nil).Maybe()
	l.On("SetNotify", mock.Anything, mock.Anything).Return(nil).Maybe()
	l.On("WriteDescriptor", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	l.On("WriteCharacteristic", mock.Anything, mock.Anything).Return(nil).Maybe()
	l.On("Disconnect").Return(nil).Maybe()
	l.On("RefreshCache").Return(nil).Maybe()
	l.On("Close").Return(nil).Maybe()
	return l
}

func (l *FakeLink) bind(address string, h device.LinkHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.address = address
	l.handlers = append(l.handlers, h)
}

func (l *FakeLink) record(format string, args ...any) {
	if l.Recorder != nil {
		l.Recorder.Record(format, args...)
	}
}

func (l *FakeLink) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

func (l *FakeLink) DiscoverServices() error {
	l.record("DiscoverServices")
	return l.Called().Error(0)
}

func (l *FakeLink) SetNotify(char *device.Characteristic, enable bool) error {
	l.record("SetNotify %t", enable)
	return l.Called(char.UUID, enable).Error(0)
}

func (l *FakeLink) WriteDescriptor(char *device.Characteristic, descUUID string, value []byte) error {
	l.record("WriteDescriptor %s %x", descUUID, value)
	return l.Called(char.UUID, descUUID, value).Error(0)
}

func (l *FakeLink) WriteCharacteristic(char *device.Characteristic, value []byte) error {
	l.record("WriteCharacteristic %s", value)
	return l.Called(char.UUID, value).Error(0)
}

func (l *FakeLink) Disconnect() error {
	l.record("Disconnect")
	return l.Called().Error(0)
}

func (l *FakeLink) RefreshCache() error {
	l.record("RefreshCache")
	return l.Called().Error(0)
}

func (l *FakeLink) Close() error {
	l.record("Close")
	return l.Called().Error(0)
}

// Handler returns the link handler bound by the n-th Connect (0-based), or the
// latest one when n < 0. The session connects on its own goroutine, so it
// waits briefly for the binding.
func (l *FakeLink) Handler(n int) device.LinkHandler {
	var h device.LinkHandler
	waitFor("link connected", func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		h = pick(l.handlers, n)
		return h != nil
	})
	return h
}

const bindTimeout = 2 * time.Second

func pick[T any](items []T, n int) T {
	var zero T
	switch {
	case len(items) == 0, n >= len(items):
		return zero
	case n < 0:
		return items[len(items)-1]
	}
	return items[n]
}

func waitFor(what string, ready func() bool) {
	deadline := time.Now().Add(bindTimeout)
	for !ready() {
		if time.Now().After(deadline) {
			panic("testutils: timed out waiting for " + what)
		}
		time.Sleep(time.Millisecond)
	}
}

// EmitConnected reports the link as connected.
func (l *FakeLink) EmitConnected() {
	l.Handler(-1).OnConnectionStateChange(true, nil)
}

// EmitDisconnected reports the link as dropped.
func (l *FakeLink) EmitDisconnected(err error) {
	l.Handler(-1).OnConnectionStateChange(false, err)
}

// EmitServices completes service discovery.
func (l *FakeLink) EmitServices(services []*device.Service, err error) {
	l.Handler(-1).OnServicesDiscovered(services, err)
}

// EmitDescriptorWrite acknowledges a descriptor write.
func (l *FakeLink) EmitDescriptorWrite(charUUID, descUUID string, err error) {
	l.Handler(-1).OnDescriptorWrite(charUUID, descUUID, err)
}

// EmitWriteAck acknowledges a characteristic write.
func (l *FakeLink) EmitWriteAck(charUUID string, value []byte, err error) {
	l.Handler(-1).OnCharacteristicWrite(charUUID, value, err)
}

// EmitNotification delivers a notification.
func (l *FakeLink) EmitNotification(charUUID string, value []byte) {
	l.Handler(-1).OnCharacteristicChanged(charUUID, value)
}
