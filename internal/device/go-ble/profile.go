package goble

import (
	"slices"

	"github.com/go-ble/ble"
	"github.com/srg/straightup/internal/device"
)

// ConvertProfile maps a discovered go-ble profile to device services. Every
// characteristic keeps its *ble.Characteristic as Handle.
func ConvertProfile(p *ble.Profile) []*device.Service {
	if p == nil {
		return nil
	}
	services := make([]*device.Service, 0, len(p.Services))
	for _, s := range p.Services {
		svc := &device.Service{UUID: device.NormalizeUUID(s.UUID.String())}
		for _, c := range s.Characteristics {
			descriptors := make([]string, 0, len(c.Descriptors))
			for _, d := range c.Descriptors {
				descriptors = append(descriptors, device.NormalizeUUID(d.UUID.String()))
			}
			// CoreBluetooth hides the CCCD from descriptor discovery
			if c.CCCD != nil && !slices.Contains(descriptors, "2902") {
				descriptors = append(descriptors, "2902")
			}
			svc.Characteristics = append(svc.Characteristics, &device.Characteristic{
				UUID:        device.NormalizeUUID(c.UUID.String()),
				Properties:  ConvertProperties(c.Property),
				Descriptors: descriptors,
				Handle:      c,
			})
		}
		services = append(services, svc)
	}
	return services
}

// ConvertProperties maps go-ble property bits to device.Properties.
func ConvertProperties(p ble.Property) device.Properties {
	var props device.Properties
	if p&ble.CharRead != 0 {
		props |= device.PropRead
	}
	if p&ble.CharWrite != 0 {
		props |= device.PropWrite
	}
	if p&ble.CharWriteNR != 0 {
		props |= device.PropWriteNoResponse
	}
	if p&ble.CharNotify != 0 {
		props |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		props |= device.PropIndicate
	}
	return props
}

