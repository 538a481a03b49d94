package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIdentity_Matches(t *testing.T) {
	id := DefaultIdentity()

	tests := []struct {
		name string
		obs  ScanObservation
		want bool
	}{
		{"name only", ScanObservation{Address: "AA:01", Name: "POSTURA-ESP32-7"}, true},
		{"name is case-insensitive", ScanObservation{Address: "AA:02", Name: "my postura-esp32"}, true},
		{"service only", ScanObservation{Address: "AA:03", Services: []string{DefaultServiceUUID}}, true},
		{"service in compact form", ScanObservation{Address: "AA:04", Services: []string{"123456781234123412341234567890AB"}}, true},
		{"unrelated", ScanObservation{Address: "AA:05", Name: "Headphones", Services: []string{"180d"}}, false},
		{"anonymous", ScanObservation{Address: "AA:06"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, id.Matches(tt.obs))
		})
	}
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultIdentity(), id, "MUST fall back to firmware defaults")

	id, err = ParseIdentity("BACK-SENSOR", "0000180d-0000-1000-8000-00805f9b34fb", "", "")
	require.NoError(t, err)
	assert.Equal(t, "BACK-SENSOR", id.NamePattern)
	assert.Equal(t, "180d", id.Service())
	assert.Equal(t, "abcd1234567890abcdef1234567890ab", id.NotifyChar())
	assert.Equal(t, "2902", id.ConfigDescriptor())

	_, err = ParseIdentity("", "", "not-a-uuid", "")
	assert.ErrorContains(t, err, "notify characteristic")
}

func TestResolveNotifyCharacteristic(t *testing.T) {
	id := DefaultIdentity()
	char := &Characteristic{UUID: DefaultNotifyCharUUID, Properties: PropWrite | PropNotify}
	profile := []*Service{
		{UUID: "180f"},
		{UUID: DefaultServiceUUID, Characteristics: []*Characteristic{char}},
	}

	got, err := ResolveNotifyCharacteristic(profile, id)
	require.NoError(t, err)
	assert.Same(t, char, got)

	_, err = ResolveNotifyCharacteristic(profile[:1], id)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "service", nf.Resource)

	_, err = ResolveNotifyCharacteristic([]*Service{{UUID: DefaultServiceUUID}}, id)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "characteristic", nf.Resource)
	assert.Contains(t, err.Error(), "not found in service")
}

func TestParseProperties(t *testing.T) {
	p, err := ParseProperties("read, write-without-response,notify")
	require.NoError(t, err)
	assert.True(t, p.Has(PropRead))
	assert.True(t, p.Has(PropWriteNoResponse))
	assert.False(t, p.Has(PropWrite))
	assert.Equal(t, "read,write-without-response,notify", p.String())

	c := &Characteristic{Properties: p}
	assert.True(t, c.CanWrite(), "write-without-response MUST count as writable")

	_, err = ParseProperties("read,teleport")
	assert.Error(t, err)
}

func TestClassifyScanError(t *testing.T) {
	tests := []struct {
		err  error
		want ScanFailureReason
	}{
		{errors.New("scan already in progress"), ScanAlreadyStarted},
		{errors.New("failed to register scanner"), ScanRegistrationFailed},
		{errors.New("LE scan not supported"), ScanUnsupported},
		{fmt.Errorf("%w: hci reset", ErrBluetoothOff), ScanInternalError},
		{errors.New("weird"), ScanUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			sf := ClassifyScanError(tt.err)
			require.NotNil(t, sf)
			assert.Equal(t, tt.want, sf.Reason)
			assert.ErrorIs(t, sf, &ScanFailure{Reason: tt.want})
		})
	}
	assert.Nil(t, ClassifyScanError(nil))
}

func TestNormalizeError(t *testing.T) {
	assert.ErrorIs(t, NormalizeError(errors.New("Bluetooth is turned off")), ErrBluetoothOff)
	assert.ErrorIs(t, NormalizeError(errors.New("device not connected")), ErrNotConnected)
	assert.ErrorIs(t, NormalizeError(errors.New("can't init hci: no such device")), ErrRadioUnavailable)
	assert.ErrorIs(t, NormalizeError(errors.New("operation not supported")), ErrUnsupported)
	assert.ErrorIs(t, ErrNoHandle, &WriteRejected{}, "WriteRejected MUST match by type")
	assert.Nil(t, NormalizeError(nil))
}
