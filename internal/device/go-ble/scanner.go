package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/blelink/internal/device"
)

// bleScanner wraps ble.Device to implement device.ScanningDevice
type bleScanner struct {
	dev ble.Device
}

// Scan converts every ble.Advertisement before handing it to handler
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	return NormalizeError(s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}))
}

// NewScanningDevice creates a device.ScanningDevice backed by the platform radio
func NewScanningDevice() (device.ScanningDevice, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}
