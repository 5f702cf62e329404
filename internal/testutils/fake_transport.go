package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// Call records one transport invocation
type Call struct {
	Op           string
	ID           string
	Ref          string
	Data         []byte
	WithResponse bool
	Enabled      bool
}

func (c Call) String() string {
	if c.Ref == "" {
		return c.Op
	}
	return fmt.Sprintf("%s %s", c.Op, c.Ref)
}

type pendingAction struct {
	call Call
	done func([]byte, error)
}

// FakeTransport is a scripted device.Transport.
//
// In manual mode every operation stays pending until the test completes it
// with CompleteConnect, CompleteAction and friends, in FIFO order per kind.
// In auto mode operations succeed on their own after Delay.
type FakeTransport struct {
	mu          sync.Mutex
	calls       []Call
	connects    []func(error)
	disconnects []func()
	discovers   []func([]device.ServiceRef, error)
	actions     []pendingAction
	handlers    map[string]func(error)
	inFlight    int
	maxInFlight int

	auto     bool
	delay    time.Duration
	services []device.ServiceRef
	values   map[string][]byte
	failures map[string]error
}

// NewFakeTransport creates a manual-mode transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		handlers: make(map[string]func(error)),
		values:   make(map[string][]byte),
		failures: make(map[string]error),
	}
}

// NewAutoTransport creates a transport that completes every operation by itself,
// reporting services on discovery
func NewAutoTransport(services []device.ServiceRef, delay time.Duration) *FakeTransport {
	t := NewFakeTransport()
	t.auto = true
	t.delay = delay
	t.services = services
	return t
}

// WithValue sets the value auto mode returns for reads of ref (a CharacteristicRef or DescriptorRef string)
func (t *FakeTransport) WithValue(ref fmt.Stringer, value []byte) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[ref.String()] = value
	return t
}

// WithFailure makes auto mode fail every action against ref
func (t *FakeTransport) WithFailure(ref fmt.Stringer, err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[ref.String()] = err
	return t
}

func (t *FakeTransport) record(c Call) {
	t.calls = append(t.calls, c)
}

func (t *FakeTransport) later(name string, fn func()) {
	delay := t.delay
	groutine.Go(context.Background(), "fake-transport-"+name, func(context.Context) {
		if delay > 0 {
			time.Sleep(delay)
		}
		fn()
	})
}

func (t *FakeTransport) Connect(id string, done func(error)) {
	t.mu.Lock()
	t.record(Call{Op: "connect", ID: id})
	if t.auto {
		t.mu.Unlock()
		t.later("connect", func() { done(nil) })
		return
	}
	t.connects = append(t.connects, done)
	t.mu.Unlock()
}

func (t *FakeTransport) Disconnect(id string, done func()) {
	t.mu.Lock()
	t.record(Call{Op: "disconnect", ID: id})
	if t.auto {
		t.mu.Unlock()
		t.later("disconnect", done)
		return
	}
	t.disconnects = append(t.disconnects, done)
	t.mu.Unlock()
}

func (t *FakeTransport) DiscoverServices(id string, done func([]device.ServiceRef, error)) {
	t.mu.Lock()
	t.record(Call{Op: "discover", ID: id})
	if t.auto {
		services := t.services
		t.mu.Unlock()
		t.later("discover", func() { done(services, nil) })
		return
	}
	t.discovers = append(t.discovers, done)
	t.mu.Unlock()
}

func (t *FakeTransport) ReadCharacteristic(id string, ref device.CharacteristicRef, done func([]byte, error)) {
	t.startAction(Call{Op: "read", ID: id, Ref: ref.String()}, done)
}

func (t *FakeTransport) WriteCharacteristic(id string, ref device.CharacteristicRef, data []byte, withResponse bool, done func(error)) {
	t.startAction(Call{Op: "write", ID: id, Ref: ref.String(), Data: data, WithResponse: withResponse}, dropValue(done))
}

func (t *FakeTransport) ReadDescriptor(id string, ref device.DescriptorRef, done func([]byte, error)) {
	t.startAction(Call{Op: "read-descriptor", ID: id, Ref: ref.String()}, done)
}

func (t *FakeTransport) WriteDescriptor(id string, ref device.DescriptorRef, data []byte, done func(error)) {
	t.startAction(Call{Op: "write-descriptor", ID: id, Ref: ref.String(), Data: data}, dropValue(done))
}

func (t *FakeTransport) SetNotification(id string, ref device.CharacteristicRef, enabled bool, done func(error)) {
	t.startAction(Call{Op: "notify", ID: id, Ref: ref.String(), Enabled: enabled}, dropValue(done))
}

func (t *FakeTransport) SetDisconnectHandler(id string, fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		delete(t.handlers, id)
		return
	}
	t.handlers[id] = fn
}

func dropValue(done func(error)) func([]byte, error) {
	return func(_ []byte, err error) { done(err) }
}

func (t *FakeTransport) startAction(c Call, done func([]byte, error)) {
	t.mu.Lock()
	t.record(c)
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	if !t.auto {
		t.actions = append(t.actions, pendingAction{call: c, done: done})
		t.mu.Unlock()
		return
	}
	value, err := t.values[c.Ref], t.failures[c.Ref]
	t.mu.Unlock()

	t.later(c.Op, func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
		done(value, err)
	})
}

// CompleteConnect finishes the oldest pending connect
func (t *FakeTransport) CompleteConnect(err error) {
	t.mu.Lock()
	if len(t.connects) == 0 {
		t.mu.Unlock()
		panic("fake transport: no pending connect")
	}
	done := t.connects[0]
	t.connects = t.connects[1:]
	t.mu.Unlock()
	done(err)
}

// CompleteDisconnect finishes the oldest pending disconnect
func (t *FakeTransport) CompleteDisconnect() {
	t.mu.Lock()
	if len(t.disconnects) == 0 {
		t.mu.Unlock()
		panic("fake transport: no pending disconnect")
	}
	done := t.disconnects[0]
	t.disconnects = t.disconnects[1:]
	t.mu.Unlock()
	done()
}

// CompleteDiscovery finishes the oldest pending discovery
func (t *FakeTransport) CompleteDiscovery(services []device.ServiceRef, err error) {
	t.mu.Lock()
	if len(t.discovers) == 0 {
		t.mu.Unlock()
		panic("fake transport: no pending discovery")
	}
	done := t.discovers[0]
	t.discovers = t.discovers[1:]
	t.mu.Unlock()
	done(services, err)
}

// CompleteAction finishes the oldest pending action and returns its call
func (t *FakeTransport) CompleteAction(value []byte, err error) Call {
	t.mu.Lock()
	if len(t.actions) == 0 {
		t.mu.Unlock()
		panic("fake transport: no pending action")
	}
	p := t.actions[0]
	t.actions = t.actions[1:]
	t.inFlight--
	t.mu.Unlock()
	p.done(value, err)
	return p.call
}

// DropLink simulates the peripheral going away
func (t *FakeTransport) DropLink(id string, err error) {
	t.mu.Lock()
	fn := t.handlers[id]
	t.mu.Unlock()
	if fn == nil {
		panic("fake transport: no disconnect handler for " + id)
	}
	fn(err)
}

// Calls returns every recorded call in order
func (t *FakeTransport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Ops returns the recorded calls rendered as "op ref" strings
func (t *FakeTransport) Ops() []string {
	calls := t.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.String()
	}
	return ops
}

// PendingActions returns how many actions wait for CompleteAction
func (t *FakeTransport) PendingActions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.actions)
}

// PendingConnects returns how many connects wait for CompleteConnect
func (t *FakeTransport) PendingConnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connects)
}

// MaxInFlight returns the largest number of actions ever outstanding at once
func (t *FakeTransport) MaxInFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInFlight
}

// HasDisconnectHandler reports whether a handler is registered for id
func (t *FakeTransport) HasDisconnectHandler(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.handlers[id]
	return ok
}
