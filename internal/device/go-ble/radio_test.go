package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/straightup/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAdvertisement implements the parts of ble.Advertisement the radio reads
type mockAdvertisement struct {
	ble.Advertisement
	name     string
	addr     string
	rssi     int
	services []ble.UUID
}

func (a *mockAdvertisement) LocalName() string    { return a.name }
func (a *mockAdvertisement) RSSI() int            { return a.rssi }
func (a *mockAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.addr) }
func (a *mockAdvertisement) Services() []ble.UUID { return a.services }

// MockBLEDevice implements ble.Device for Scan and Dial
type MockBLEDevice struct {
	ble.Device
	adverts []ble.Advertisement
	scanErr error
	client  *mockClient
	dialErr error
}

func (m *MockBLEDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	if m.scanErr != nil {
		return m.scanErr
	}
	for _, adv := range m.adverts {
		h(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockBLEDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	return m.client, nil
}

// mockClient implements the parts of ble.Client the link uses
type mockClient struct {
	ble.Client

	mu           sync.Mutex
	profile      *ble.Profile
	calls        []string
	notify       ble.NotificationHandler
	written      []byte
	writeNoRsp   bool
	disconnected chan struct{}
}

func newMockClient(profile *ble.Profile) *mockClient {
	return &mockClient{profile: profile, disconnected: make(chan struct{})}
}

func (c *mockClient) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *mockClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	c.record("DiscoverProfile")
	return c.profile, nil
}

func (c *mockClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.record("Subscribe")
	c.mu.Lock()
	c.notify = h
	c.mu.Unlock()
	return nil
}

func (c *mockClient) Unsubscribe(char *ble.Characteristic, ind bool) error {
	c.record("Unsubscribe")
	return nil
}

func (c *mockClient) WriteCharacteristic(char *ble.Characteristic, value []byte, noRsp bool) error {
	c.record("WriteCharacteristic")
	c.mu.Lock()
	c.written, c.writeNoRsp = value, noRsp
	c.mu.Unlock()
	return nil
}

func (c *mockClient) ClearSubscriptions() error {
	c.record("ClearSubscriptions")
	return nil
}

func (c *mockClient) CancelConnection() error {
	c.record("CancelConnection")
	close(c.disconnected)
	return nil
}

func (c *mockClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

// recordingHandler collects scan and link callbacks on a channel
type recordingHandler struct {
	events chan string
	obs    chan device.ScanObservation
	svcs   chan []*device.Service
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		events: make(chan string, 16),
		obs:    make(chan device.ScanObservation, 16),
		svcs:   make(chan []*device.Service, 1),
	}
}

func (h *recordingHandler) OnScanResult(obs device.ScanObservation) { h.obs <- obs }
func (h *recordingHandler) OnScanFailed(f *device.ScanFailure)      { h.events <- "scan failed " + string(f.Reason) }
func (h *recordingHandler) OnConnectionStateChange(connected bool, err error) {
	if connected {
		h.events <- "connected"
	} else {
		h.events <- "disconnected"
	}
}
func (h *recordingHandler) OnServicesDiscovered(services []*device.Service, err error) {
	h.svcs <- services
}
func (h *recordingHandler) OnDescriptorWrite(charUUID, descUUID string, err error) {
	h.events <- "descriptor " + descUUID
}
func (h *recordingHandler) OnCharacteristicWrite(charUUID string, value []byte, err error) {
	h.events <- "write " + string(value)
}
func (h *recordingHandler) OnCharacteristicChanged(charUUID string, value []byte) {
	h.events <- "notify " + string(value)
}

func (h *recordingHandler) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a radio callback")
		return ""
	}
}

func withDevice(t *testing.T, dev ble.Device, err error) {
	t.Helper()
	original := DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return dev, err }
	t.Cleanup(func() { DeviceFactory = original })
}

func wearableProfile() *ble.Profile {
	char := &ble.Characteristic{
		UUID:     ble.MustParse(device.DefaultNotifyCharUUID),
		Property: ble.CharRead | ble.CharWrite | ble.CharNotify,
		CCCD:     &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID},
	}
	return &ble.Profile{Services: []*ble.Service{
		{UUID: ble.BatteryUUID},
		{UUID: ble.MustParse(device.DefaultServiceUUID), Characteristics: []*ble.Characteristic{char}},
	}}
}

func TestRadio_State(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want device.RadioState
	}{
		{"powered on", nil, device.RadioPoweredOn},
		{"powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.RadioPoweredOff},
		{"no adapter", errors.New("can't init hci: no such device"), device.RadioAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dev ble.Device
			if tt.err == nil {
				dev = &MockBLEDevice{}
			}
			withDevice(t, dev, tt.err)
			assert.Equal(t, tt.want, NewRadio(nil).State())
		})
	}
}

func TestRadio_Scan(t *testing.T) {
	withDevice(t, &MockBLEDevice{adverts: []ble.Advertisement{
		&mockAdvertisement{
			name:     "POSTURA-ESP32",
			addr:     "24:0a:c4:00:00:07",
			rssi:     -51,
			services: []ble.UUID{ble.MustParse(device.DefaultServiceUUID)},
		},
	}}, nil)

	r := NewRadio(nil)
	h := newRecordingHandler()
	require.NoError(t, r.StartScan(h))

	err := r.StartScan(h)
	var sf *device.ScanFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, device.ScanAlreadyStarted, sf.Reason)

	select {
	case obs := <-h.obs:
		assert.Equal(t, "POSTURA-ESP32", obs.Name)
		assert.Equal(t, -51, obs.RSSI)
		assert.Equal(t, []string{device.NormalizeUUID(device.DefaultServiceUUID)}, obs.Services)
		assert.True(t, device.DefaultIdentity().Matches(obs))
	case <-time.After(2 * time.Second):
		t.Fatal("no sighting delivered")
	}

	require.NoError(t, r.StopScan())
	require.NoError(t, r.StopScan(), "stopping twice MUST be harmless")
	require.NoError(t, r.StartScan(h), "MUST be able to scan again")
	require.NoError(t, r.StopScan())
}

func TestRadio_ScanFailure(t *testing.T) {
	withDevice(t, &MockBLEDevice{scanErr: errors.New("hci: internal error")}, nil)

	r := NewRadio(nil)
	h := newRecordingHandler()
	require.NoError(t, r.StartScan(h))
	assert.Equal(t, "scan failed internal_error", h.next(t))
	require.NoError(t, r.StopScan())
}

func TestRadio_ConnectFailure(t *testing.T) {
	withDevice(t, &MockBLEDevice{dialErr: errors.New("connection timed out")}, nil)

	h := newRecordingHandler()
	l, err := NewRadio(nil).Connect("24:0a:c4:00:00:07", h)
	require.NoError(t, err)
	assert.Equal(t, "disconnected", h.next(t))
	assert.ErrorIs(t, l.DiscoverServices(), device.ErrNotConnected)
	require.NoError(t, l.Close())
}

func TestLink_Lifecycle(t *testing.T) {
	// GOAL: Verify the link drives go-ble and reports every completion through the handler
	//
	// TEST SCENARIO: connect → discover → subscribe → write → disconnect → no spurious disconnect callback
	client := newMockClient(wearableProfile())
	withDevice(t, &MockBLEDevice{client: client}, nil)

	h := newRecordingHandler()
	l, err := NewRadio(nil).Connect("24:0a:c4:00:00:07", h)
	require.NoError(t, err)
	assert.Equal(t, "24:0a:c4:00:00:07", l.Address())
	require.Equal(t, "connected", h.next(t))

	require.NoError(t, l.DiscoverServices())
	var services []*device.Service
	select {
	case services = <-h.svcs:
	case <-time.After(2 * time.Second):
		t.Fatal("discovery did not complete")
	}
	char, err := device.ResolveNotifyCharacteristic(services, device.DefaultIdentity())
	require.NoError(t, err)
	assert.True(t, char.HasDescriptor("2902"), "CCCD MUST be listed")

	require.NoError(t, l.SetNotify(char, true))
	require.NoError(t, l.WriteDescriptor(char, "2902", device.EnableNotificationValue))
	assert.Equal(t, "descriptor 2902", h.next(t))

	client.mu.Lock()
	notify := client.notify
	client.mu.Unlock()
	require.NotNil(t, notify)
	notify([]byte("ALERTA"))
	assert.Equal(t, "notify ALERTA", h.next(t))

	require.NoError(t, l.WriteCharacteristic(char, []byte("START_MONITORING")))
	assert.Equal(t, "write START_MONITORING", h.next(t))
	client.mu.Lock()
	assert.False(t, client.writeNoRsp, "characteristics with write MUST use acknowledged writes")
	client.mu.Unlock()

	require.NoError(t, l.SetNotify(char, false))
	require.NoError(t, l.Disconnect())
	refresher, ok := l.(device.CacheRefresher)
	require.True(t, ok)
	require.NoError(t, refresher.RefreshCache())
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Equal(t, []string{
		"DiscoverProfile",
		"Subscribe",
		"WriteCharacteristic",
		"Unsubscribe",
		"CancelConnection",
		"ClearSubscriptions",
	}, client.Calls())

	select {
	case ev := <-h.events:
		t.Fatalf("unexpected callback after requested disconnect: %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConvertProperties(t *testing.T) {
	props := ConvertProperties(ble.CharWriteNR | ble.CharIndicate)
	assert.True(t, props.Has(device.PropWriteNoResponse))
	assert.True(t, props.Has(device.PropIndicate))
	assert.False(t, props.Has(device.PropWrite))
	assert.Nil(t, ConvertProfile(nil))
}
