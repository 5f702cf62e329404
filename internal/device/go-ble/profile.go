package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blelink/internal/device"
)

// servicesFromProfile converts a discovered go-ble profile into service refs,
// keeping discovery order
func servicesFromProfile(profile *ble.Profile) []device.ServiceRef {
	if profile == nil {
		return nil
	}
	result := make([]device.ServiceRef, 0, len(profile.Services))
	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		ref := device.ServiceRef{
			UUID:            svcUUID,
			Characteristics: make([]device.CharacteristicRef, 0, len(svc.Characteristics)),
		}
		for _, c := range svc.Characteristics {
			ref.Characteristics = append(ref.Characteristics, device.CharacteristicRef{
				Service: svcUUID,
				UUID:    device.NormalizeUUID(c.UUID.String()),
			})
		}
		result = append(result, ref)
	}
	return result
}

// findCharacteristic resolves a ref against a discovered profile.
// Returns a NotFoundError if the service or characteristic is missing.
func findCharacteristic(profile *ble.Profile, ref device.CharacteristicRef) (*ble.Characteristic, error) {
	var svc *ble.Service
	if profile != nil {
		for _, s := range profile.Services {
			if device.NormalizeUUID(s.UUID.String()) == ref.Service {
				svc = s
				break
			}
		}
	}
	if svc == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{ref.Service}}
	}

	for _, c := range svc.Characteristics {
		if device.NormalizeUUID(c.UUID.String()) == ref.UUID {
			return c, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ref.Service, ref.UUID}}
}

// findDescriptor resolves a descriptor ref against a discovered profile
func findDescriptor(profile *ble.Profile, ref device.DescriptorRef) (*ble.Descriptor, error) {
	c, err := findCharacteristic(profile, ref.CharacteristicRef())
	if err != nil {
		return nil, err
	}
	for _, d := range c.Descriptors {
		if device.NormalizeUUID(d.UUID.String()) == ref.UUID {
			return d, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{ref.Service, ref.Characteristic, ref.UUID}}
}

// prefersIndication reports whether subscribing must use indications
func prefersIndication(c *ble.Characteristic) bool {
	return c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
}
