package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blelink/internal/device"
)

// BLEAdvertisement adapts ble.Advertisement to device.Advertisement
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement wraps adv
func NewBLEAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *BLEAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *BLEAdvertisement) TxPowerLevel() int        { return a.adv.TxPowerLevel() }
func (a *BLEAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a *BLEAdvertisement) Addr() string             { return a.adv.Addr().String() }

func (a *BLEAdvertisement) ServiceData() []struct {
	UUID string
	Data []byte
} {
	raw := a.adv.ServiceData()
	result := make([]struct {
		UUID string
		Data []byte
	}, len(raw))
	for i, sd := range raw {
		result[i].UUID = device.NormalizeUUID(sd.UUID.String())
		result[i].Data = sd.Data
	}
	return result
}

func (a *BLEAdvertisement) Services() []string {
	raw := a.adv.Services()
	result := make([]string, len(raw))
	for i, svc := range raw {
		result[i] = device.NormalizeUUID(svc.String())
	}
	return result
}
