package device

// Transport performs raw GATT operations against a physical link.
//
// Every call starts an operation and returns; the outcome is reported through
// done exactly once, possibly from another goroutine or synchronously before
// the call returns. The ConnectionManager never issues two actions against the
// same id concurrently.
type Transport interface {
	Connect(id string, done func(err error))
	Disconnect(id string, done func())
	DiscoverServices(id string, done func(services []ServiceRef, err error))

	ReadCharacteristic(id string, ref CharacteristicRef, done func(value []byte, err error))
	WriteCharacteristic(id string, ref CharacteristicRef, data []byte, withResponse bool, done func(err error))
	ReadDescriptor(id string, ref DescriptorRef, done func(value []byte, err error))
	WriteDescriptor(id string, ref DescriptorRef, data []byte, done func(err error))
	SetNotification(id string, ref CharacteristicRef, enabled bool, done func(err error))

	// SetDisconnectHandler registers the single receiver of unexpected link
	// drops for id, replacing any previous one. A nil fn unregisters.
	SetDisconnectHandler(id string, fn func(err error))
}
