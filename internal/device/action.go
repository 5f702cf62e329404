package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ActionKind tags the variant of an Action
type ActionKind int

const (
	ReadCharacteristicAction ActionKind = iota
	WriteCharacteristicAction
	ReadDescriptorAction
	WriteDescriptorAction
	SetNotificationAction
)

func (k ActionKind) String() string {
	switch k {
	case ReadCharacteristicAction:
		return "ReadCharacteristic"
	case WriteCharacteristicAction:
		return "WriteCharacteristic"
	case ReadDescriptorAction:
		return "ReadDescriptor"
	case WriteDescriptorAction:
		return "WriteDescriptor"
	case SetNotificationAction:
		return "SetNotification"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is a single GATT operation queued against a connected device.
// Actions are immutable once built; the only moving part is the Completion.
type Action struct {
	id           string
	kind         ActionKind
	char         CharacteristicRef
	desc         DescriptorRef
	data         []byte
	withResponse bool
	enabled      bool
	completion   *Completion
}

func newAction(kind ActionKind) *Action {
	return &Action{
		id:         uuid.NewString(),
		kind:       kind,
		completion: newCompletion(),
	}
}

// NewReadCharacteristic creates an action reading the characteristic value
func NewReadCharacteristic(ref CharacteristicRef) *Action {
	a := newAction(ReadCharacteristicAction)
	a.char = ref
	return a
}

// NewWriteCharacteristic creates an action writing data to the characteristic.
// The payload is copied.
func NewWriteCharacteristic(ref CharacteristicRef, data []byte, withResponse bool) *Action {
	a := newAction(WriteCharacteristicAction)
	a.char = ref
	a.data = append([]byte(nil), data...)
	a.withResponse = withResponse
	return a
}

// NewReadDescriptor creates an action reading the descriptor value
func NewReadDescriptor(ref DescriptorRef) *Action {
	a := newAction(ReadDescriptorAction)
	a.desc = ref
	a.char = ref.CharacteristicRef()
	return a
}

// NewWriteDescriptor creates an action writing data to the descriptor.
// The payload is copied.
func NewWriteDescriptor(ref DescriptorRef, data []byte) *Action {
	a := newAction(WriteDescriptorAction)
	a.desc = ref
	a.char = ref.CharacteristicRef()
	a.data = append([]byte(nil), data...)
	return a
}

// NewSetNotification creates an action enabling or disabling notifications
func NewSetNotification(ref CharacteristicRef, enabled bool) *Action {
	a := newAction(SetNotificationAction)
	a.char = ref
	a.enabled = enabled
	return a
}

func (a *Action) ID() string                        { return a.id }
func (a *Action) Kind() ActionKind                  { return a.kind }
func (a *Action) Characteristic() CharacteristicRef { return a.char }
func (a *Action) Descriptor() DescriptorRef         { return a.desc }
func (a *Action) WithResponse() bool                { return a.withResponse }
func (a *Action) Enabled() bool                     { return a.enabled }
func (a *Action) Completion() *Completion           { return a.completion }

// Data returns a copy of the write payload
func (a *Action) Data() []byte {
	if a.data == nil {
		return nil
	}
	return append([]byte(nil), a.data...)
}

// String renders the action the way it shows up in logs and state traces
func (a *Action) String() string {
	if a == nil {
		return "<nil>"
	}
	switch a.kind {
	case ReadDescriptorAction, WriteDescriptorAction:
		return fmt.Sprintf("%s(%s)", a.kind, a.desc)
	case SetNotificationAction:
		return fmt.Sprintf("%s(%s, %t)", a.kind, a.char, a.enabled)
	default:
		return fmt.Sprintf("%s(%s)", a.kind, a.char)
	}
}

// ----------------------------
// Completion
// ----------------------------

// Result is the outcome of an action
type Result struct {
	Value []byte
	Err   error
}

// Completion resolves exactly once and may be awaited by any number of goroutines
type Completion struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve stores r and wakes all awaiters. Returns false if already resolved.
func (c *Completion) resolve(r Result) bool {
	resolved := false
	c.once.Do(func() {
		c.result = r
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the completion resolves
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome without blocking; ok is false while pending.
func (c *Completion) Result() (Result, bool) {
	select {
	case <-c.done:
		return c.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the completion resolves or ctx is done.
// Cancelling ctx abandons the wait only; the action keeps its place in the queue.
func (c *Completion) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.result.Value, c.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
