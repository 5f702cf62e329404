package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds a single dial attempt
	DefaultConnectTimeout = 30 * time.Second

	// disconnectWait bounds how long Disconnect waits for the platform to confirm
	disconnectWait = 5 * time.Second
)

// NotificationHandler receives notification and indication payloads
type NotificationHandler func(id string, ref device.CharacteristicRef, data []byte)

// TransportOptions configures the go-ble transport
type TransportOptions struct {
	ConnectTimeout      time.Duration
	NotificationHandler NotificationHandler
}

// Transport implements device.Transport on top of go-ble.
// Each call starts a named goroutine and reports through its done callback.
type Transport struct {
	opts   TransportOptions
	logger *logrus.Logger

	devOnce sync.Once
	dev     ble.Device
	devErr  error

	// linksMu serializes replacing and removing links so a finished attempt
	// only ever removes its own entry.
	linksMu  sync.Mutex
	links    *hashmap.Map[string, *link]
	handlers *hashmap.Map[string, func(error)]
}

// link is one dial attempt and, once it succeeds, the live client
type link struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	client  ble.Client
	profile *ble.Profile
	closing atomic.Bool
}

func (l *link) snapshot() (ble.Client, *ble.Profile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client, l.profile
}

// NewTransport creates a transport. The radio is opened lazily on first connect.
func NewTransport(opts TransportOptions, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &Transport{
		opts:     opts,
		logger:   logger,
		links:    hashmap.New[string, *link](),
		handlers: hashmap.New[string, func(error)](),
	}
}

var _ device.Transport = (*Transport)(nil)

func (t *Transport) device() (ble.Device, error) {
	t.devOnce.Do(func() {
		t.dev, t.devErr = DeviceFactory()
		if t.devErr != nil {
			t.devErr = NormalizeError(t.devErr)
		}
	})
	return t.dev, t.devErr
}

// connected returns the live link for id
func (t *Transport) connected(id string) (*link, ble.Client, *ble.Profile, error) {
	l, ok := t.links.Get(id)
	if !ok {
		return nil, nil, nil, device.ErrNotConnected
	}
	client, profile := l.snapshot()
	if client == nil {
		return nil, nil, nil, device.ErrNotConnected
	}
	return l, client, profile, nil
}

// release removes l from the link table unless another link replaced it
func (t *Transport) release(id string, l *link) bool {
	t.linksMu.Lock()
	defer t.linksMu.Unlock()
	if cur, ok := t.links.Get(id); !ok || cur != l {
		return false
	}
	t.links.Del(id)
	return true
}

// SetDisconnectHandler registers the receiver of unexpected drops for id
func (t *Transport) SetDisconnectHandler(id string, fn func(error)) {
	if fn == nil {
		t.handlers.Del(id)
		return
	}
	t.handlers.Set(id, fn)
}

// Connect dials id with the configured timeout
func (t *Transport) Connect(id string, done func(error)) {
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.ConnectTimeout)
	l := &link{cancel: cancel}
	t.linksMu.Lock()
	_, loaded := t.links.GetOrInsert(id, l)
	t.linksMu.Unlock()
	if loaded {
		cancel()
		done(fmt.Errorf("connection to %s already in progress", id))
		return
	}

	logger := t.logger.WithFields(logrus.Fields{"address": id, "timeout": t.opts.ConnectTimeout})
	logger.Info("Connecting to BLE device...")

	groutine.Go(ctx, "ble-connect-"+id, func(ctx context.Context) {
		defer cancel()

		dev, err := t.device()
		if err != nil {
			t.release(id, l)
			done(err)
			return
		}

		client, err := dev.Dial(ctx, ble.NewAddr(id))
		if err != nil {
			t.release(id, l)
			logger.WithField("error", err).Warn("Failed to dial BLE device")
			done(NormalizeError(err))
			return
		}

		l.mu.Lock()
		l.client = client
		l.mu.Unlock()

		if l.closing.Load() {
			// Disconnect raced the dial; it has already reported completion.
			if cancelErr := client.CancelConnection(); cancelErr != nil {
				logger.WithField("error", cancelErr).Debug("Failed to cancel late connection")
			}
			done(fmt.Errorf("%w: connection cancelled", device.ErrNotConnected))
			return
		}

		t.monitor(id, l, client)
		logger.Info("BLE device connected")
		done(nil)
	})
}

// monitor reports a link drop that nobody asked for
func (t *Transport) monitor(id string, l *link, client ble.Client) {
	notifier, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.WithField("address", id).Debug("Client does not expose Disconnected(), drops will not be reported")
		return
	}

	groutine.Go(context.Background(), "ble-link-monitor-"+id, func(context.Context) {
		<-notifier.Disconnected()
		if l.closing.Load() || !t.release(id, l) {
			return
		}
		t.logger.WithField("address", id).Warn("Peripheral dropped the connection")
		if fn, ok := t.handlers.Get(id); ok {
			fn(fmt.Errorf("%w: link lost", device.ErrNotConnected))
		}
	})
}

// Disconnect closes the link or aborts a dial in progress
func (t *Transport) Disconnect(id string, done func()) {
	t.linksMu.Lock()
	l, ok := t.links.Get(id)
	if ok {
		l.closing.Store(true)
		t.links.Del(id)
	}
	t.linksMu.Unlock()
	if !ok {
		done()
		return
	}

	client, _ := l.snapshot()
	if client == nil {
		l.cancel()
		done()
		return
	}

	groutine.Go(context.Background(), "ble-disconnect-"+id, func(context.Context) {
		logger := t.logger.WithField("address", id)
		logger.Info("Disconnecting BLE device...")

		if err := client.ClearSubscriptions(); err != nil {
			logger.WithField("error", err).Debug("Failed to clear subscriptions")
		}
		if err := client.CancelConnection(); err != nil {
			logger.WithField("error", NormalizeError(err)).Warn("Failed to cancel connection")
		}
		if notifier, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
			select {
			case <-notifier.Disconnected():
			case <-time.After(disconnectWait):
				logger.Warn("Timed out waiting for disconnect confirmation")
			}
		}
		done()
	})
}

// DiscoverServices discovers the full GATT profile and keeps it for later lookups
func (t *Transport) DiscoverServices(id string, done func([]device.ServiceRef, error)) {
	l, client, _, err := t.connected(id)
	if err != nil {
		done(nil, err)
		return
	}

	groutine.Go(context.Background(), "ble-discover-"+id, func(context.Context) {
		profile, err := client.DiscoverProfile(true)
		if err != nil {
			done(nil, NormalizeError(err))
			return
		}

		l.mu.Lock()
		l.profile = profile
		l.mu.Unlock()

		services := servicesFromProfile(profile)
		t.logger.WithFields(logrus.Fields{"address": id, "services": len(services)}).Debug("Profile discovered")
		done(services, nil)
	})
}

func (t *Transport) ReadCharacteristic(id string, ref device.CharacteristicRef, done func([]byte, error)) {
	_, client, profile, err := t.connected(id)
	if err != nil {
		done(nil, err)
		return
	}
	c, err := findCharacteristic(profile, ref)
	if err != nil {
		done(nil, err)
		return
	}

	groutine.Go(context.Background(), "ble-read-"+id, func(context.Context) {
		value, err := client.ReadCharacteristic(c)
		done(value, NormalizeError(err))
	})
}

func (t *Transport) WriteCharacteristic(id string, ref device.CharacteristicRef, data []byte, withResponse bool, done func(error)) {
	_, client, profile, err := t.connected(id)
	if err != nil {
		done(err)
		return
	}
	c, err := findCharacteristic(profile, ref)
	if err != nil {
		done(err)
		return
	}

	groutine.Go(context.Background(), "ble-write-"+id, func(context.Context) {
		done(NormalizeError(client.WriteCharacteristic(c, data, !withResponse)))
	})
}

func (t *Transport) ReadDescriptor(id string, ref device.DescriptorRef, done func([]byte, error)) {
	_, client, profile, err := t.connected(id)
	if err != nil {
		done(nil, err)
		return
	}
	d, err := findDescriptor(profile, ref)
	if err != nil {
		done(nil, err)
		return
	}

	groutine.Go(context.Background(), "ble-read-descriptor-"+id, func(context.Context) {
		value, err := client.ReadDescriptor(d)
		done(value, NormalizeError(err))
	})
}

func (t *Transport) WriteDescriptor(id string, ref device.DescriptorRef, data []byte, done func(error)) {
	_, client, profile, err := t.connected(id)
	if err != nil {
		done(err)
		return
	}
	d, err := findDescriptor(profile, ref)
	if err != nil {
		done(err)
		return
	}

	groutine.Go(context.Background(), "ble-write-descriptor-"+id, func(context.Context) {
		done(NormalizeError(client.WriteDescriptor(d, data)))
	})
}

// SetNotification subscribes or unsubscribes, using indications when the
// characteristic does not support notifications
func (t *Transport) SetNotification(id string, ref device.CharacteristicRef, enabled bool, done func(error)) {
	_, client, profile, err := t.connected(id)
	if err != nil {
		done(err)
		return
	}
	c, err := findCharacteristic(profile, ref)
	if err != nil {
		done(err)
		return
	}
	ind := prefersIndication(c)

	groutine.Go(context.Background(), "ble-subscribe-"+id, func(context.Context) {
		if !enabled {
			done(NormalizeError(client.Unsubscribe(c, ind)))
			return
		}
		done(NormalizeError(client.Subscribe(c, ind, func(data []byte) {
			if h := t.opts.NotificationHandler; h != nil {
				h(id, ref, append([]byte(nil), data...))
			}
		})))
	})
}
