package device

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Well-known GATT descriptor UUIDs, normalized
const (
	DescriptorExtendedProperties = "2900"
	DescriptorUserDescription    = "2901"
	DescriptorClientConfig       = "2902"
	DescriptorServerConfig       = "2903"
	DescriptorPresentationFormat = "2904"
	DescriptorValidRange         = "2906"
)

// ExtendedProperties is the Characteristic Extended Properties descriptor (0x2900)
type ExtendedProperties struct {
	ReliableWrite       bool
	WritableAuxiliaries bool
}

func (p ExtendedProperties) String() string {
	return fmt.Sprintf("reliable_write=%s writable_auxiliaries=%s", onOff(p.ReliableWrite), onOff(p.WritableAuxiliaries))
}

// ClientConfig is the Client Characteristic Configuration descriptor (0x2902).
// SetNotification actions write it on the device.
type ClientConfig struct {
	Notifications bool
	Indications   bool
}

func (c ClientConfig) String() string {
	return fmt.Sprintf("notifications=%s indications=%s", onOff(c.Notifications), onOff(c.Indications))
}

// ServerConfig is the Server Characteristic Configuration descriptor (0x2903)
type ServerConfig struct {
	Broadcasts bool
}

func (c ServerConfig) String() string {
	return "broadcasts=" + onOff(c.Broadcasts)
}

// UserDescription is the Characteristic User Description descriptor (0x2901)
type UserDescription string

func (d UserDescription) String() string {
	return fmt.Sprintf("%q", string(d))
}

// PresentationFormat is the Characteristic Presentation Format descriptor (0x2904)
type PresentationFormat struct {
	Format      uint8
	Exponent    int8
	Unit        uint16
	Namespace   uint8
	Description uint16
}

func (f PresentationFormat) String() string {
	return fmt.Sprintf("format=0x%02x exponent=%d unit=0x%04x namespace=0x%02x description=0x%04x",
		f.Format, f.Exponent, f.Unit, f.Namespace, f.Description)
}

// ValidRange is the Valid Range descriptor (0x2906). The value layout depends on the
// characteristic format, so the payload is split evenly with any odd byte going to Max.
type ValidRange struct {
	Min []byte
	Max []byte
}

func (r ValidRange) String() string {
	return fmt.Sprintf("min=%x max=%x", r.Min, r.Max)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func flags16(data []byte, what string) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("invalid %s length: expected 2, got %d", what, len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

// DecodeDescriptor decodes the value of a well-known descriptor.
// ok is false for descriptors without a known layout.
func DecodeDescriptor(uuid string, data []byte) (value fmt.Stringer, ok bool, err error) {
	switch NormalizeUUID(uuid) {
	case DescriptorExtendedProperties:
		v, err := flags16(data, "extended properties")
		if err != nil {
			return nil, true, err
		}
		return ExtendedProperties{ReliableWrite: v&0x0001 != 0, WritableAuxiliaries: v&0x0002 != 0}, true, nil

	case DescriptorUserDescription:
		s := strings.TrimRight(string(data), "\x00")
		if !utf8.ValidString(s) {
			return nil, true, fmt.Errorf("invalid UTF-8 in user description")
		}
		return UserDescription(s), true, nil

	case DescriptorClientConfig:
		v, err := flags16(data, "client config")
		if err != nil {
			return nil, true, err
		}
		return ClientConfig{Notifications: v&0x0001 != 0, Indications: v&0x0002 != 0}, true, nil

	case DescriptorServerConfig:
		v, err := flags16(data, "server config")
		if err != nil {
			return nil, true, err
		}
		return ServerConfig{Broadcasts: v&0x0001 != 0}, true, nil

	case DescriptorPresentationFormat:
		if len(data) != 7 {
			return nil, true, fmt.Errorf("invalid presentation format length: expected 7, got %d", len(data))
		}
		return PresentationFormat{
			Format:      data[0],
			Exponent:    int8(data[1]),
			Unit:        binary.LittleEndian.Uint16(data[2:4]),
			Namespace:   data[4],
			Description: binary.LittleEndian.Uint16(data[5:7]),
		}, true, nil

	case DescriptorValidRange:
		if len(data) < 2 {
			return nil, true, fmt.Errorf("invalid valid range length: expected at least 2, got %d", len(data))
		}
		mid := len(data) / 2
		return ValidRange{
			Min: append([]byte(nil), data[:mid]...),
			Max: append([]byte(nil), data[mid:]...),
		}, true, nil

	default:
		return nil, false, nil
	}
}
