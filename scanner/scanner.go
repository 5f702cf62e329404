package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is emitted for every accepted advertisement
type DeviceEvent struct {
	Type   DeviceEventType
	Device *device.Peripheral
}

// DeviceFactory opens the scanning radio (can be overridden in tests)
var DeviceFactory = goble.NewScanningDevice

// Options configures a Scanner
type Options struct {
	// Transport is used by every Peripheral the scanner creates.
	Transport device.Transport
	// Peripheral options applied to newly discovered devices.
	Peripheral device.PeripheralOptions
	// EventBuffer bounds the events channel; the oldest events are dropped when full.
	EventBuffer int
}

// Scanner keeps a registry of peripherals fed by advertisements.
// Peripherals survive across scans so their connection state is preserved.
type Scanner struct {
	opts    Options
	devices *hashmap.Map[string, *device.Peripheral]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a new BLE scanner
func NewScanner(opts Options, logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("scanner requires a transport")
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 100
	}

	return &Scanner{
		opts:    opts,
		devices: hashmap.New[string, *device.Peripheral](),
		events:  ringchan.New[DeviceEvent](opts.EventBuffer),
		logger:  logger,
	}, nil
}

// Scan listens for advertisements until ctx is done or opts.Duration elapses.
// Returns the peripherals seen so far, keyed by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]*device.Peripheral, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	filter := newFilter(opts)

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	err = dev.Scan(ctx, !opts.DuplicateFilter, func(adv device.Advertisement) {
		s.HandleAdvertisement(adv, filter)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.Devices(), nil
}

// HandleAdvertisement updates an existing peripheral or registers a new one
// that passes filter. A nil filter accepts everything.
func (s *Scanner) HandleAdvertisement(adv device.Advertisement, filter *Filter) {
	id := adv.Addr()

	p, existing := s.devices.Get(id)
	if !existing {
		if !filter.Accepts(adv) {
			return
		}
		p, existing = s.devices.GetOrInsert(id, device.NewPeripheral(adv, s.opts.Transport, s.opts.Peripheral, s.logger))
	}

	event := DeviceEvent{Device: p}
	if existing {
		p.Update(adv)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":      p.Name(),
			"address":     p.Address(),
			"rssi":        p.RSSI(),
			"connectable": p.IsConnectable(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// Device returns the peripheral registered for id
func (s *Scanner) Device(id string) (*device.Peripheral, bool) {
	return s.devices.Get(id)
}

// Devices returns a snapshot of the registry
func (s *Scanner) Devices() map[string]*device.Peripheral {
	devices := make(map[string]*device.Peripheral, s.devices.Len())
	s.devices.Range(func(key string, value *device.Peripheral) bool {
		devices[key] = value
		return true
	})
	return devices
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Close disconnects every registered peripheral and closes the events channel
func (s *Scanner) Close() {
	s.devices.Range(func(_ string, p *device.Peripheral) bool {
		p.Close()
		return true
	})
	s.events.Close()
}

// Filter decides which advertisers get registered
type Filter struct {
	allow    []string
	block    []string
	services []string
}

func newFilter(opts *ScanOptions) *Filter {
	return &Filter{
		allow:    opts.AllowList,
		block:    opts.BlockList,
		services: device.NormalizeUUIDs(opts.ServiceUUIDs),
	}
}

// NewFilter builds a filter from scan options
func NewFilter(opts *ScanOptions) *Filter {
	if opts == nil {
		return nil
	}
	return newFilter(opts)
}

// Accepts applies the block, allow and service filters in that order
func (f *Filter) Accepts(adv device.Advertisement) bool {
	if f == nil {
		return true
	}
	addr := adv.Addr()

	if slices.Contains(f.block, addr) {
		return false
	}
	if len(f.allow) > 0 && !slices.Contains(f.allow, addr) {
		return false
	}
	if len(f.services) > 0 {
		advertised := device.NormalizeUUIDs(adv.Services())
		for _, required := range f.services {
			if slices.Contains(advertised, required) {
				return true
			}
		}
		return false
	}
	return true
}
