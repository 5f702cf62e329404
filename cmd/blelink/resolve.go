package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/srg/blelink/internal/device"
)

// writeSpec is a parsed --write value
type writeSpec struct {
	target string
	data   []byte
}

// parseWriteSpec splits "target=hex" into its target and payload.
// Spaces and colons inside the hex payload are ignored.
func parseWriteSpec(value string) (writeSpec, error) {
	target, payload, ok := strings.Cut(value, "=")
	if !ok || target == "" {
		return writeSpec{}, fmt.Errorf("invalid write %q: expected <characteristic>=<hex>", value)
	}
	payload = strings.NewReplacer(" ", "", ":", "").Replace(payload)
	payload = strings.TrimPrefix(strings.ToLower(payload), "0x")
	data, err := hex.DecodeString(payload)
	if err != nil {
		return writeSpec{}, fmt.Errorf("invalid write %q: payload must be hex: %w", value, err)
	}
	return writeSpec{target: target, data: data}, nil
}

// resolveCharacteristic turns "service/char" or a bare "char" into a
// characteristic from discovered services. A bare UUID must be unique across services.
func resolveCharacteristic(services *device.Services, target string) (device.CharacteristicRef, error) {
	parts := strings.Split(target, "/")
	if _, err := device.ValidateUUID(parts...); err != nil {
		return device.CharacteristicRef{}, fmt.Errorf("invalid characteristic %q: %w", target, err)
	}

	switch len(parts) {
	case 2:
		return services.Characteristic(parts[0], parts[1])
	case 1:
		want := device.NormalizeUUID(parts[0])
		var found []device.CharacteristicRef
		for _, svc := range services.List() {
			for _, c := range svc.Characteristics {
				if c.UUID == want {
					found = append(found, c)
				}
			}
		}
		switch len(found) {
		case 0:
			return device.CharacteristicRef{}, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{want}}
		case 1:
			return found[0], nil
		default:
			in := make([]string, len(found))
			for i, c := range found {
				in[i] = c.Service
			}
			return device.CharacteristicRef{}, fmt.Errorf("characteristic %s is ambiguous, found in services %s: use <service>/<char>",
				want, strings.Join(in, ", "))
		}
	default:
		return device.CharacteristicRef{}, fmt.Errorf("invalid characteristic %q: expected [<service>/]<char>", target)
	}
}

// resolveDescriptor accepts "[service/]char/desc"
func resolveDescriptor(services *device.Services, target string) (device.DescriptorRef, error) {
	idx := strings.LastIndex(target, "/")
	if idx <= 0 || idx == len(target)-1 {
		return device.DescriptorRef{}, fmt.Errorf("invalid descriptor %q: expected [<service>/]<char>/<desc>", target)
	}
	if _, err := device.ValidateUUID(target[idx+1:]); err != nil {
		return device.DescriptorRef{}, fmt.Errorf("invalid descriptor %q: %w", target, err)
	}
	char, err := resolveCharacteristic(services, target[:idx])
	if err != nil {
		return device.DescriptorRef{}, err
	}
	return device.NewDescriptorRef(char.Service, char.UUID, target[idx+1:]), nil
}
