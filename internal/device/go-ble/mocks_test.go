package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// mockDevice overrides the ble.Device methods the transport and scanner use
type mockDevice struct {
	ble.Device
	mock.Mock
}

func (m *mockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *mockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

// mockClient overrides the ble.Client methods the transport uses.
// Disconnected is backed by a channel the test closes to simulate a link drop.
type mockClient struct {
	ble.Client
	mock.Mock

	once         sync.Once
	disconnected chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{disconnected: make(chan struct{})}
}

func (m *mockClient) drop() {
	m.once.Do(func() { close(m.disconnected) })
}

func (m *mockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

func (m *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	profile, _ := args.Get(0).(*ble.Profile)
	return profile, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	value, _ := args.Get(0).([]byte)
	return value, args.Error(1)
}

func (m *mockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *mockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	value, _ := args.Get(0).([]byte)
	return value, args.Error(1)
}

func (m *mockClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return m.Called(d, value).Error(0)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockClient) ClearSubscriptions() error {
	return m.Called().Error(0)
}

func (m *mockClient) CancelConnection() error {
	err := m.Called().Error(0)
	m.drop()
	return err
}

// mockAdvertisement overrides the ble.Advertisement accessors
type mockAdvertisement struct {
	ble.Advertisement
	mock.Mock
}

func (m *mockAdvertisement) LocalName() string        { return m.Called().String(0) }
func (m *mockAdvertisement) ManufacturerData() []byte { return m.Called().Get(0).([]byte) }
func (m *mockAdvertisement) TxPowerLevel() int        { return m.Called().Int(0) }
func (m *mockAdvertisement) Connectable() bool        { return m.Called().Bool(0) }
func (m *mockAdvertisement) RSSI() int                { return m.Called().Int(0) }
func (m *mockAdvertisement) Addr() ble.Addr           { return m.Called().Get(0).(ble.Addr) }

func (m *mockAdvertisement) ServiceData() []ble.ServiceData {
	return m.Called().Get(0).([]ble.ServiceData)
}

func (m *mockAdvertisement) Services() []ble.UUID {
	return m.Called().Get(0).([]ble.UUID)
}

// heartRateProfile is a Battery + Heart Rate profile with a CCCD on 2a37
func heartRateProfile() *ble.Profile {
	return &ble.Profile{Services: []*ble.Service{
		{
			UUID: ble.MustParse("180F"),
			Characteristics: []*ble.Characteristic{
				{UUID: ble.MustParse("2A19"), Property: ble.CharRead | ble.CharNotify},
			},
		},
		{
			UUID: ble.MustParse("180D"),
			Characteristics: []*ble.Characteristic{
				{
					UUID:        ble.MustParse("2A37"),
					Property:    ble.CharIndicate,
					Descriptors: []*ble.Descriptor{{UUID: ble.MustParse("2902")}},
				},
				{UUID: ble.MustParse("2A39"), Property: ble.CharWrite},
			},
		},
	}}
}
