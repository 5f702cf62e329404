package device

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PeripheralOptions configures a Peripheral
type PeripheralOptions struct {
	Reconnection ReconnectionSettings
}

// Peripheral is the application-facing view of one BLE device: the latest
// advertisement snapshot plus the connection lifecycle driven by its manager.
type Peripheral struct {
	id     string
	logger *logrus.Logger

	// updateMu orders snapshot replacement together with its forwarding,
	// so the manager sees connectability in snapshot order.
	updateMu sync.Mutex

	mu       sync.RWMutex
	name     string
	snapshot AdvertisementSnapshot

	manager *ConnectionManager
}

// NewPeripheral creates a Peripheral from its first advertisement
func NewPeripheral(adv Advertisement, transport Transport, opts PeripheralOptions, logger *logrus.Logger) *Peripheral {
	snap := NewAdvertisementSnapshot(adv, time.Now())
	return newPeripheral(adv.Addr(), snap, transport, opts, logger)
}

// NewPeripheralWithAddress creates a Peripheral for a known address that has
// not been scanned. It is assumed connectable until an advertisement says otherwise.
func NewPeripheralWithAddress(address string, transport Transport, opts PeripheralOptions, logger *logrus.Logger) *Peripheral {
	snap := AdvertisementSnapshot{Connectable: true, Timestamp: time.Now()}
	return newPeripheral(address, snap, transport, opts, logger)
}

func newPeripheral(id string, snap AdvertisementSnapshot, transport Transport, opts PeripheralOptions, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	return &Peripheral{
		id:       id,
		logger:   logger,
		name:     snap.LocalName,
		snapshot: snap,
		manager: NewConnectionManager(id, transport, ManagerOptions{
			Reconnection: opts.Reconnection,
			Connectable:  snap.Connectable,
		}, logger),
	}
}

// Update replaces the advertisement snapshot and forwards its connectability
func (p *Peripheral) Update(adv Advertisement) {
	snap := NewAdvertisementSnapshot(adv, time.Now())

	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	p.mu.Lock()
	p.snapshot = snap
	if snap.LocalName != "" {
		p.name = snap.LocalName
	}
	p.mu.Unlock()

	p.manager.OnAdvertisement(snap.Connectable)
}

func (p *Peripheral) ID() string      { return p.id }
func (p *Peripheral) Address() string { return p.id }

// Name returns the most recent non-empty advertised name
func (p *Peripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *Peripheral) RSSI() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.RSSI
}

func (p *Peripheral) IsConnectable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.Connectable
}

func (p *Peripheral) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.Timestamp
}

// ServiceData returns a copy of the advertised service data keyed by normalized UUID
func (p *Peripheral) ServiceData() map[string][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.serviceData()
}

// Snapshot returns the latest advertisement snapshot
func (p *Peripheral) Snapshot() AdvertisementSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.clone()
}

// Manager returns the connection manager driving this peripheral
func (p *Peripheral) Manager() *ConnectionManager { return p.manager }

func (p *Peripheral) State() State { return p.manager.State() }

func (p *Peripheral) Watch(buffer int) (<-chan State, func()) { return p.manager.Watch(buffer) }

func (p *Peripheral) Connect() (State, error)          { return p.manager.Connect() }
func (p *Peripheral) Disconnect() (State, error)       { return p.manager.Disconnect() }
func (p *Peripheral) DiscoverServices() (State, error) { return p.manager.DiscoverServices() }

func (p *Peripheral) Perform(a *Action) (*Completion, error) { return p.manager.Perform(a) }

// Close disconnects and releases watchers
func (p *Peripheral) Close() { p.manager.Close() }

// WaitFor blocks until the state satisfies match, returning that state.
func (p *Peripheral) WaitFor(ctx context.Context, match func(State) bool) (State, error) {
	states, cancel := p.manager.Watch(DefaultWatchBuffer)
	defer cancel()

	for {
		select {
		case st, ok := <-states:
			if !ok {
				return p.State(), ErrNotConnected
			}
			if match(st) {
				return st, nil
			}
		case <-ctx.Done():
			return p.State(), ctx.Err()
		}
	}
}

// Read submits a characteristic read and waits for the value
func (p *Peripheral) Read(ctx context.Context, ref CharacteristicRef) ([]byte, error) {
	return p.submitAndWait(ctx, NewReadCharacteristic(ref))
}

// Write submits a characteristic write and waits for it to complete
func (p *Peripheral) Write(ctx context.Context, ref CharacteristicRef, data []byte, withResponse bool) error {
	_, err := p.submitAndWait(ctx, NewWriteCharacteristic(ref, data, withResponse))
	return err
}

// ReadDescriptor submits a descriptor read and waits for the value
func (p *Peripheral) ReadDescriptor(ctx context.Context, ref DescriptorRef) ([]byte, error) {
	return p.submitAndWait(ctx, NewReadDescriptor(ref))
}

// WriteDescriptor submits a descriptor write and waits for it to complete
func (p *Peripheral) WriteDescriptor(ctx context.Context, ref DescriptorRef, data []byte) error {
	_, err := p.submitAndWait(ctx, NewWriteDescriptor(ref, data))
	return err
}

// SetNotification toggles notifications and waits for the transport to confirm
func (p *Peripheral) SetNotification(ctx context.Context, ref CharacteristicRef, enabled bool) error {
	_, err := p.submitAndWait(ctx, NewSetNotification(ref, enabled))
	return err
}

func (p *Peripheral) submitAndWait(ctx context.Context, a *Action) ([]byte, error) {
	completion, err := p.manager.Perform(a)
	if err != nil {
		return nil, err
	}
	return completion.Wait(ctx)
}
