package device

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Identifiers agreed with the wearable firmware.
const (
	DefaultNamePattern          = "POSTURA-ESP32"
	DefaultServiceUUID          = "12345678-1234-1234-1234-1234567890ab"
	DefaultNotifyCharUUID       = "abcd1234-5678-90ab-cdef-1234567890ab"
	DefaultConfigDescriptorUUID = "00002902-0000-1000-8000-00805f9b34fb"
)

// Client characteristic configuration values.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// DeviceIdentity names the wearable: how it advertises and which GATT
// attributes carry its text protocol.
type DeviceIdentity struct {
	NamePattern          string
	ServiceUUID          uuid.UUID
	NotifyCharUUID       uuid.UUID
	ConfigDescriptorUUID uuid.UUID
}

// DefaultIdentity returns the identity of the stock firmware.
func DefaultIdentity() DeviceIdentity {
	return DeviceIdentity{
		NamePattern:          DefaultNamePattern,
		ServiceUUID:          uuid.MustParse(DefaultServiceUUID),
		NotifyCharUUID:       uuid.MustParse(DefaultNotifyCharUUID),
		ConfigDescriptorUUID: uuid.MustParse(DefaultConfigDescriptorUUID),
	}
}

// ParseIdentity builds an identity from configuration strings.
// Empty fields fall back to the stock firmware values.
func ParseIdentity(namePattern, service, notifyChar, descriptor string) (DeviceIdentity, error) {
	id := DefaultIdentity()
	if namePattern != "" {
		id.NamePattern = namePattern
	}

	fields := []struct {
		name  string
		value string
		dst   *uuid.UUID
	}{
		{"service", service, &id.ServiceUUID},
		{"notify characteristic", notifyChar, &id.NotifyCharUUID},
		{"config descriptor", descriptor, &id.ConfigDescriptorUUID},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		parsed, err := uuid.Parse(f.value)
		if err != nil {
			return DeviceIdentity{}, fmt.Errorf("invalid %s UUID %q: %w", f.name, f.value, err)
		}
		*f.dst = parsed
	}
	return id, nil
}

// Service returns the normalized primary service UUID.
func (id DeviceIdentity) Service() string {
	return NormalizeUUID(id.ServiceUUID.String())
}

// NotifyChar returns the normalized notify/write characteristic UUID.
func (id DeviceIdentity) NotifyChar() string {
	return NormalizeUUID(id.NotifyCharUUID.String())
}

// ConfigDescriptor returns the normalized client configuration descriptor UUID.
func (id DeviceIdentity) ConfigDescriptor() string {
	return NormalizeUUID(id.ConfigDescriptorUUID.String())
}

// Matches reports whether a sighting is the wearable: the advertised name
// contains the pattern (case-insensitive) or the advertised services include
// the primary service. Either signal alone is enough.
func (id DeviceIdentity) Matches(obs ScanObservation) bool {
	if obs.Name != "" && id.NamePattern != "" &&
		strings.Contains(strings.ToLower(obs.Name), strings.ToLower(id.NamePattern)) {
		return true
	}
	return slices.Contains(NormalizeUUIDs(obs.Services), id.Service())
}

// ScanObservation is one advertisement sighting.
type ScanObservation struct {
	Address  string   `json:"address"`
	Name     string   `json:"name,omitempty"`
	RSSI     int      `json:"rssi"`
	Services []string `json:"services,omitempty"`
}

func (o ScanObservation) String() string {
	name := o.Name
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s | %s | %d dBm", name, o.Address, o.RSSI)
}
