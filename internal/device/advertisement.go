package device

import (
	"bytes"
	"time"
)

// AdvertisementSnapshot is the latest advertising data observed for a device.
// It is replaced wholesale on every advertisement and never mutated.
type AdvertisementSnapshot struct {
	Connectable bool
	RSSI        int
	LocalName   string
	TxPower     int

	// Services are the advertised service UUIDs, normalized.
	Services         []string
	ManufacturerData []byte
	ServiceData      map[string][]byte
	Timestamp        time.Time
}

// NewAdvertisementSnapshot captures adv at ts. Service data keys are normalized UUIDs.
func NewAdvertisementSnapshot(adv Advertisement, ts time.Time) AdvertisementSnapshot {
	snap := AdvertisementSnapshot{
		Connectable: adv.Connectable(),
		RSSI:        adv.RSSI(),
		LocalName:   adv.LocalName(),
		TxPower:     adv.TxPowerLevel(),
		Timestamp:   ts,
	}
	if uuids := NormalizeUUIDs(adv.Services()); len(uuids) > 0 {
		snap.Services = uuids
	}
	if md := adv.ManufacturerData(); len(md) > 0 {
		snap.ManufacturerData = bytes.Clone(md)
	}

	if sd := adv.ServiceData(); len(sd) > 0 {
		snap.ServiceData = make(map[string][]byte, len(sd))
		for _, entry := range sd {
			key := NormalizeUUID(entry.UUID)
			if key == "" {
				key = entry.UUID
			}
			snap.ServiceData[key] = append([]byte(nil), entry.Data...)
		}
	}

	return snap
}

// clone returns a copy sharing no slices or maps with s
func (s AdvertisementSnapshot) clone() AdvertisementSnapshot {
	out := s
	out.Services = append([]string(nil), s.Services...)
	out.ManufacturerData = bytes.Clone(s.ManufacturerData)
	out.ServiceData = s.serviceData()
	return out
}

// serviceData returns a deep copy of the service data map
func (s AdvertisementSnapshot) serviceData() map[string][]byte {
	if s.ServiceData == nil {
		return nil
	}
	out := make(map[string][]byte, len(s.ServiceData))
	for k, v := range s.ServiceData {
		out[k] = bytes.Clone(v)
	}
	return out
}
