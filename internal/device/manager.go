package device

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/ringchan"
)

// DefaultWatchBuffer is the default number of states buffered per watcher
const DefaultWatchBuffer = 16

// ManagerOptions configures a ConnectionManager
type ManagerOptions struct {
	Reconnection ReconnectionSettings
	// Connectable is the connectability of the first advertisement snapshot.
	Connectable bool
}

// StateChange describes one published state
type StateChange struct {
	From  State
	To    State
	Event Event
}

// ConnectionManager drives the lifecycle of one device.
//
// Every entry point and transport callback is turned into an Event and applied
// with Transition under a mutex, so transitions are totally ordered. Effects
// are queued in the order transitions produce them and executed outside the
// lock by a single drainer at a time; transports may therefore invoke their
// callbacks synchronously.
type ConnectionManager struct {
	id        string
	transport Transport
	logger    *logrus.Logger

	mu       sync.Mutex
	state    State
	effects  []Effect
	draining bool
	closed   bool
	watchers map[*ringchan.RingChannel[State]]struct{}
	hooks    []func(StateChange)
}

// NewConnectionManager creates a manager for the device id and registers it
// as the transport's disconnect handler for that id.
func NewConnectionManager(id string, transport Transport, opts ManagerOptions, logger *logrus.Logger) *ConnectionManager {
	if logger == nil {
		logger = logrus.New()
	}

	m := &ConnectionManager{
		id:        id,
		transport: transport,
		logger:    logger,
		state:     InitialState(opts.Connectable, opts.Reconnection),
		watchers:  make(map[*ringchan.RingChannel[State]]struct{}),
	}
	transport.SetDisconnectHandler(id, m.OnUnexpectedDisconnect)
	return m
}

// ID returns the device identifier
func (m *ConnectionManager) ID() string {
	return m.id
}

// State returns the latest state
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Watch subscribes to state changes. The current state is delivered first,
// followed by every published state in order. A subscriber that falls more
// than buffer states behind loses the oldest ones. cancel closes the channel.
func (m *ConnectionManager) Watch(buffer int) (<-chan State, func()) {
	if buffer <= 0 {
		buffer = DefaultWatchBuffer
	}
	rc := ringchan.New[State](buffer)

	m.mu.Lock()
	rc.Send(m.state)
	if m.closed {
		rc.Close()
	} else {
		m.watchers[rc] = struct{}{}
	}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.watchers, rc)
		m.mu.Unlock()
		rc.Close()
	}
	return rc.C(), cancel
}

// OnStateChange registers fn to observe every published state.
// fn runs while the manager is locked and must not call back into it.
func (m *ConnectionManager) OnStateChange(fn func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// ----------------------------
// Application entry points
// ----------------------------

// Connect starts connecting from Disconnected. It is a no-op in any other
// connectable state and fails with ErrNotReady when the device is not connectable.
func (m *ConnectionManager) Connect() (State, error) {
	out := m.dispatch(ConnectEvent{})
	return out.State, out.Err
}

// Disconnect tears the link down, cancelling every pending action.
// It is a no-op when there is no link.
func (m *ConnectionManager) Disconnect() (State, error) {
	out := m.dispatch(DisconnectEvent{})
	return out.State, out.Err
}

// DiscoverServices starts service discovery from Connected.NoServices
func (m *ConnectionManager) DiscoverServices() (State, error) {
	out := m.dispatch(DiscoverEvent{})
	return out.State, out.Err
}

// Perform submits a for execution. When the device does not accept actions the
// returned error is ErrNotReady and the completion is already resolved with it.
func (m *ConnectionManager) Perform(a *Action) (*Completion, error) {
	if a == nil {
		return nil, newError(ActionFailed, "perform", errNilAction)
	}
	out := m.dispatch(SubmitEvent{Action: a})
	if out.Err != nil {
		a.completion.resolve(Result{Err: out.Err})
		return a.completion, out.Err
	}
	return a.completion, nil
}

// OnAdvertisement applies the connectability of a new advertisement snapshot
func (m *ConnectionManager) OnAdvertisement(connectable bool) State {
	return m.dispatch(AdvertisementEvent{Connectable: connectable}).State
}

// Close disconnects, detaches from the transport and closes all watchers
func (m *ConnectionManager) Close() {
	m.dispatch(DisconnectEvent{})
	m.transport.SetDisconnectHandler(m.id, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for rc := range m.watchers {
		rc.Close()
	}
	m.watchers = nil
}

// ----------------------------
// Transport callbacks
// ----------------------------

// Connect and discovery callbacks carry the link of the effect that started
// them; callbacks of a superseded link are ignored.

func (m *ConnectionManager) OnConnected(link uint64) { m.dispatch(ConnectedEvent{Link: link}) }

func (m *ConnectionManager) OnConnectFailed(link uint64, err error) {
	m.dispatch(ConnectFailedEvent{Link: link, Err: err})
}

func (m *ConnectionManager) OnDisconnected() { m.dispatch(DisconnectedEvent{}) }

func (m *ConnectionManager) OnUnexpectedDisconnect(err error) {
	m.dispatch(UnexpectedDisconnectEvent{Err: err})
}

func (m *ConnectionManager) OnServicesDiscovered(link uint64, services []ServiceRef) {
	m.dispatch(ServicesDiscoveredEvent{Link: link, Services: services})
}

func (m *ConnectionManager) OnDiscoveryFailed(link uint64, err error) {
	m.dispatch(DiscoveryFailedEvent{Link: link, Err: err})
}

func (m *ConnectionManager) OnActionCompleted(id string, value []byte, err error) {
	m.dispatch(ActionCompletedEvent{ID: id, Value: value, Err: err})
}

// ----------------------------
// Serialization
// ----------------------------

func (m *ConnectionManager) dispatch(ev Event) Outcome {
	m.mu.Lock()
	from := m.state
	out := Transition(from, ev)
	m.effects = append(m.effects, out.Effects...)

	switch {
	case out.Err != nil:
		m.logger.WithFields(logrus.Fields{
			"device": m.id,
			"state":  from.Phase.String(),
			"event":  ev.String(),
			"error":  out.Err,
		}).Debug("Event rejected")
	case out.Ignored:
		m.logger.WithFields(logrus.Fields{
			"device": m.id,
			"state":  from.Phase.String(),
			"event":  ev.String(),
		}).Debug("Event ignored")
	default:
		m.state = out.State
		prev := from
		for _, st := range append(append([]State(nil), out.Trail...), out.State) {
			m.publish(StateChange{From: prev, To: st, Event: ev})
			prev = st
		}
		m.logOutcome(from, ev, out)
	}
	m.mu.Unlock()

	m.drain()
	return out
}

// publish must be called with mu held
func (m *ConnectionManager) publish(change StateChange) {
	m.logger.WithFields(logrus.Fields{
		"device": m.id,
		"from":   change.From.String(),
		"to":     change.To.String(),
		"event":  change.Event.String(),
	}).Debug("State transition")

	for rc := range m.watchers {
		rc.Send(change.To)
	}
	for _, fn := range m.hooks {
		fn(change)
	}
}

func (m *ConnectionManager) logOutcome(from State, ev Event, out Outcome) {
	switch ev.(type) {
	case ConnectFailedEvent, UnexpectedDisconnectEvent:
	default:
		return
	}
	if from.Phase == Disconnecting {
		return
	}

	fields := logrus.Fields{
		"device": m.id,
		"policy": out.State.Policy.String(),
		"error":  out.State.Err,
	}
	if out.State.Phase == Connecting {
		fields["attempt"] = out.State.Attempts
		m.logger.WithFields(fields).Info("Reconnecting")
		return
	}
	m.logger.WithFields(fields).Warn("Link lost, not reconnecting")
}

// drain runs queued effects in order; only one goroutine drains at a time
func (m *ConnectionManager) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.effects) > 0 {
		eff := m.effects[0]
		m.effects = m.effects[1:]
		m.mu.Unlock()
		m.run(eff)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *ConnectionManager) run(eff Effect) {
	switch eff.Kind {
	case EffectConnect:
		link := eff.Link
		m.logger.WithFields(logrus.Fields{"device": m.id, "link": link}).Debug("Connecting...")
		m.transport.Connect(m.id, func(err error) {
			if err != nil {
				m.OnConnectFailed(link, err)
				return
			}
			m.OnConnected(link)
		})
	case EffectDisconnect:
		m.logger.WithField("device", m.id).Debug("Disconnecting...")
		m.transport.Disconnect(m.id, m.OnDisconnected)
	case EffectDiscover:
		link := eff.Link
		m.transport.DiscoverServices(m.id, func(services []ServiceRef, err error) {
			if err != nil {
				m.logger.WithFields(logrus.Fields{"device": m.id, "link": link, "error": err}).Warn("Service discovery failed")
				m.OnDiscoveryFailed(link, err)
				return
			}
			m.OnServicesDiscovered(link, services)
		})
	case EffectPerform:
		m.perform(eff.Action)
	case EffectResolve:
		if !eff.Action.completion.resolve(eff.Result) {
			m.logger.WithFields(logrus.Fields{"device": m.id, "action": eff.Action.String()}).Debug("Action already resolved")
		}
	}
}

func (m *ConnectionManager) perform(a *Action) {
	id := a.ID()
	completeValue := func(value []byte, err error) { m.OnActionCompleted(id, value, err) }
	complete := func(err error) { m.OnActionCompleted(id, nil, err) }

	m.logger.WithFields(logrus.Fields{"device": m.id, "action": a.String()}).Debug("Performing action")

	switch a.Kind() {
	case ReadCharacteristicAction:
		m.transport.ReadCharacteristic(m.id, a.char, completeValue)
	case WriteCharacteristicAction:
		m.transport.WriteCharacteristic(m.id, a.char, a.Data(), a.withResponse, complete)
	case ReadDescriptorAction:
		m.transport.ReadDescriptor(m.id, a.desc, completeValue)
	case WriteDescriptorAction:
		m.transport.WriteDescriptor(m.id, a.desc, a.Data(), complete)
	case SetNotificationAction:
		m.transport.SetNotification(m.id, a.char, a.enabled, complete)
	}
}
