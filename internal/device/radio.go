package device

import (
	"fmt"
	"strings"
)

// RadioState is the adapter availability as reported by a backend
type RadioState int

const (
	RadioAbsent RadioState = iota
	RadioPoweredOff
	RadioPoweredOn
)

func (s RadioState) String() string {
	switch s {
	case RadioPoweredOn:
		return "powered_on"
	case RadioPoweredOff:
		return "powered_off"
	default:
		return "absent"
	}
}

// Radio is a BLE central adapter. Scan results and link events are delivered
// through handler callbacks on backend goroutines, in no guaranteed order.
type Radio interface {
	State() RadioState
	// StartScan starts an unfiltered scan. A returned error means the scan never
	// started; failures after start are delivered through OnScanFailed.
	StartScan(h ScanHandler) error
	StopScan() error
	// Connect opens a link to address. The link is usable only after
	// OnConnectionStateChange(true, nil).
	Connect(address string, h LinkHandler) (Link, error)
}

// ScanHandler receives scan callbacks
type ScanHandler interface {
	OnScanResult(obs ScanObservation)
	OnScanFailed(failure *ScanFailure)
}

// LinkHandler receives link callbacks
type LinkHandler interface {
	OnConnectionStateChange(connected bool, err error)
	OnServicesDiscovered(services []*Service, err error)
	OnDescriptorWrite(charUUID, descUUID string, err error)
	OnCharacteristicWrite(charUUID string, value []byte, err error)
	OnCharacteristicChanged(charUUID string, value []byte)
}

// Link is an open connection to one peripheral. Operations only initiate the
// request; completion arrives through the LinkHandler.
type Link interface {
	Address() string
	DiscoverServices() error
	// SetNotify toggles local delivery of notifications for char.
	SetNotify(char *Characteristic, enable bool) error
	WriteDescriptor(char *Characteristic, descUUID string, value []byte) error
	// WriteCharacteristic writes with response.
	WriteCharacteristic(char *Characteristic, value []byte) error
	Disconnect() error
	Close() error
}

// CacheRefresher is implemented by links whose platform keeps a GATT or
// address cache that can be dropped after disconnect. Best effort: a backend
// may return ErrUnsupported.
type CacheRefresher interface {
	RefreshCache() error
}

// Properties is the characteristic property bitmask
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

var propertyNames = []struct {
	prop Properties
	name string
}{
	{PropRead, "read"},
	{PropWrite, "write"},
	{PropWriteNoResponse, "write-without-response"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
}

func (p Properties) Has(flag Properties) bool {
	return p&flag != 0
}

func (p Properties) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.prop) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma separated list such as "read,write,notify".
func ParseProperties(s string) (Properties, error) {
	var p Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == part || (pn.prop == PropWriteNoResponse && part == "write-no-response") {
				p |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property: %q", part)
		}
	}
	return p, nil
}

// Service is a discovered GATT service
type Service struct {
	UUID            string
	Characteristics []*Characteristic
}

// Characteristic is a discovered GATT characteristic. Handle carries the
// backend's native object and is opaque to everything above the backend.
type Characteristic struct {
	UUID        string
	Properties  Properties
	Descriptors []string
	Handle      any
}

// CanWrite reports whether the characteristic accepts writes of either kind.
func (c *Characteristic) CanWrite() bool {
	return c != nil && (c.Properties.Has(PropWrite) || c.Properties.Has(PropWriteNoResponse))
}

// HasDescriptor reports whether the descriptor was discovered.
func (c *Characteristic) HasDescriptor(uuid string) bool {
	n := NormalizeUUID(uuid)
	for _, d := range c.Descriptors {
		if NormalizeUUID(d) == n {
			return true
		}
	}
	return false
}

// Characteristic looks up a characteristic by UUID.
func (s *Service) Characteristic(uuid string) *Characteristic {
	n := NormalizeUUID(uuid)
	for _, c := range s.Characteristics {
		if NormalizeUUID(c.UUID) == n {
			return c
		}
	}
	return nil
}

// FindService looks up a service by UUID.
func FindService(services []*Service, uuid string) *Service {
	n := NormalizeUUID(uuid)
	for _, s := range services {
		if NormalizeUUID(s.UUID) == n {
			return s
		}
	}
	return nil
}

// ResolveNotifyCharacteristic locates the identity's characteristic in a discovered profile.
func ResolveNotifyCharacteristic(services []*Service, id DeviceIdentity) (*Characteristic, error) {
	svc := FindService(services, id.Service())
	if svc == nil {
		return nil, ServiceNotFound(id.Service())
	}
	char := svc.Characteristic(id.NotifyChar())
	if char == nil {
		return nil, CharacteristicNotFound(id.Service(), id.NotifyChar())
	}
	return char, nil
}
