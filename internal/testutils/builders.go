package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/straightup/internal/device"
)

// ObservationBuilder builds scan sightings
type ObservationBuilder struct {
	obs device.ScanObservation
}

// NewObservationBuilder starts from an anonymous sighting at -60 dBm.
func NewObservationBuilder() *ObservationBuilder {
	return &ObservationBuilder{obs: device.ScanObservation{Address: "00:00:00:00:00:01", RSSI: -60}}
}

func (b *ObservationBuilder) WithAddress(addr string) *ObservationBuilder {
	b.obs.Address = addr
	return b
}

func (b *ObservationBuilder) WithName(name string) *ObservationBuilder {
	b.obs.Name = name
	return b
}

func (b *ObservationBuilder) WithRSSI(rssi int) *ObservationBuilder {
	b.obs.RSSI = rssi
	return b
}

func (b *ObservationBuilder) WithServices(uuids ...string) *ObservationBuilder {
	b.obs.Services = append(b.obs.Services, uuids...)
	return b
}

func (b *ObservationBuilder) Build() device.ScanObservation {
	return b.obs
}

// ProfileBuilder builds a discovered GATT profile
type ProfileBuilder struct {
	services []*device.Service
	current  *device.Service
}

// NewProfileBuilder creates an empty profile.
func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// WithService opens a new service; following characteristics belong to it.
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.current = &device.Service{UUID: uuid}
	b.services = append(b.services, b.current)
	return b
}

// WithCharacteristic adds a characteristic, properties as in "write,notify".
func (b *ProfileBuilder) WithCharacteristic(uuid, properties string, descriptors ...string) *ProfileBuilder {
	if b.current == nil {
		panic("testutils: WithCharacteristic called before WithService")
	}
	props, err := device.ParseProperties(properties)
	if err != nil {
		panic(err)
	}
	b.current.Characteristics = append(b.current.Characteristics, &device.Characteristic{
		UUID:        uuid,
		Properties:  props,
		Descriptors: descriptors,
	})
	return b
}

// FromJSON appends services described as
//
//	{"services":[{"uuid":"...","characteristics":[{"uuid":"...","properties":"write,notify","descriptors":["2902"]}]}]}
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...any) *ProfileBuilder {
	var doc struct {
		Services []struct {
			UUID            string `json:"uuid"`
			Characteristics []struct {
				UUID        string   `json:"uuid"`
				Properties  string   `json:"properties"`
				Descriptors []string `json:"descriptors"`
			} `json:"characteristics"`
		} `json:"services"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &doc); err != nil {
		panic(fmt.Sprintf("testutils: invalid profile JSON: %v", err))
	}
	for _, svc := range doc.Services {
		b.WithService(svc.UUID)
		for _, c := range svc.Characteristics {
			b.WithCharacteristic(c.UUID, c.Properties, c.Descriptors...)
		}
	}
	return b
}

func (b *ProfileBuilder) Build() []*device.Service {
	return b.services
}

// WearableProfile is the profile exposed by the stock firmware, next to a
// battery service.
func WearableProfile() []*device.Service {
	return NewProfileBuilder().
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", "2902").
		WithService(device.DefaultServiceUUID).
		WithCharacteristic(device.DefaultNotifyCharUUID, "read,write,notify", device.DefaultConfigDescriptorUUID).
		Build()
}
