package device

import (
	"fmt"
	"strings"
)

// Phase is the variant tag of a device State
type Phase int

const (
	NotConnectable Phase = iota
	Disconnected
	Connecting
	ConnectedNoServices
	ConnectedDiscovering
	ConnectedIdle
	ConnectedHandlingAction
	Disconnecting
)

func (p Phase) String() string {
	switch p {
	case NotConnectable:
		return "NotConnectable"
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case ConnectedNoServices:
		return "Connected.NoServices"
	case ConnectedDiscovering:
		return "Connected.Discovering"
	case ConnectedIdle:
		return "Connected.Idle"
	case ConnectedHandlingAction:
		return "Connected.HandlingAction"
	case Disconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// IsConnected reports whether the phase is one of the Connected sub-states
func (p Phase) IsConnected() bool {
	return p >= ConnectedNoServices && p <= ConnectedHandlingAction
}

// State is an immutable snapshot of a device lifecycle.
// Transition never modifies a State; it always returns a new value.
type State struct {
	Phase Phase

	// Connectable mirrors the latest advertisement snapshot.
	Connectable bool

	// Services is set in Connected.Idle and Connected.HandlingAction.
	Services *Services

	// Current is the in-flight action in Connected.HandlingAction; Queue holds the rest.
	Current *Action
	Queue   ActionQueue

	// Attempts counts reconnection attempts since the last successful connect.
	Attempts int
	Policy   ReconnectionSettings

	// Link numbers connection attempts. Every connect effect starts a new
	// link; connect and discovery callbacks carry the link they belong to
	// and are ignored once it is superseded.
	Link uint64

	// Err is the cause of the last failure that led into this state, if any.
	Err error
}

// InitialState returns the state of a freshly observed device
func InitialState(connectable bool, policy ReconnectionSettings) State {
	s := State{Phase: Disconnected, Connectable: connectable, Policy: policy}
	if !connectable {
		s.Phase = NotConnectable
	}
	return s
}

// IsConnected reports whether the device holds a live link
func (s State) IsConnected() bool {
	return s.Phase.IsConnected()
}

// Pending returns the in-flight action followed by the queued ones
func (s State) Pending() []*Action {
	if s.Current == nil {
		return s.Queue.Items()
	}
	return append([]*Action{s.Current}, s.Queue.Items()...)
}

func (s State) String() string {
	switch s.Phase {
	case ConnectedHandlingAction:
		queued := make([]string, 0, s.Queue.Len())
		for _, a := range s.Queue.Items() {
			queued = append(queued, a.String())
		}
		return fmt.Sprintf("%s(%s, [%s])", s.Phase, s.Current, strings.Join(queued, ", "))
	case ConnectedIdle:
		return fmt.Sprintf("%s(%d services)", s.Phase, s.Services.Len())
	default:
		return s.Phase.String()
	}
}

// ----------------------------
// Events
// ----------------------------

// Event is an input to Transition. Application calls and transport callbacks
// are both expressed as events.
type Event interface {
	fmt.Stringer
	isEvent()
}

type AdvertisementEvent struct{ Connectable bool }
type ConnectEvent struct{}
type ConnectedEvent struct{ Link uint64 }
type ConnectFailedEvent struct {
	Link uint64
	Err  error
}
type DiscoverEvent struct{}
type ServicesDiscoveredEvent struct {
	Link     uint64
	Services []ServiceRef
}
type DiscoveryFailedEvent struct {
	Link uint64
	Err  error
}
type SubmitEvent struct{ Action *Action }
type ActionCompletedEvent struct {
	ID    string
	Value []byte
	Err   error
}
type DisconnectEvent struct{}
type UnexpectedDisconnectEvent struct{ Err error }
type DisconnectedEvent struct{}

func (AdvertisementEvent) isEvent()        {}
func (ConnectEvent) isEvent()              {}
func (ConnectedEvent) isEvent()            {}
func (ConnectFailedEvent) isEvent()        {}
func (DiscoverEvent) isEvent()             {}
func (ServicesDiscoveredEvent) isEvent()   {}
func (DiscoveryFailedEvent) isEvent()      {}
func (SubmitEvent) isEvent()               {}
func (ActionCompletedEvent) isEvent()      {}
func (DisconnectEvent) isEvent()           {}
func (UnexpectedDisconnectEvent) isEvent() {}
func (DisconnectedEvent) isEvent()         {}

func (e AdvertisementEvent) String() string {
	return fmt.Sprintf("advertisement(connectable=%t)", e.Connectable)
}
func (ConnectEvent) String() string            { return "connect" }
func (ConnectedEvent) String() string          { return "connected" }
func (ConnectFailedEvent) String() string      { return "connectFailed" }
func (DiscoverEvent) String() string           { return "discover" }
func (ServicesDiscoveredEvent) String() string { return "servicesDiscovered" }
func (DiscoveryFailedEvent) String() string    { return "discoveryFailed" }
func (e SubmitEvent) String() string           { return fmt.Sprintf("submit(%s)", e.Action) }
func (ActionCompletedEvent) String() string    { return "actionCompleted" }
func (DisconnectEvent) String() string         { return "disconnect" }
func (UnexpectedDisconnectEvent) String() string {
	return "unexpectedDisconnect"
}
func (DisconnectedEvent) String() string { return "disconnected" }

// ----------------------------
// Effects
// ----------------------------

// EffectKind tags a side effect requested by Transition
type EffectKind int

const (
	EffectConnect EffectKind = iota
	EffectDisconnect
	EffectDiscover
	EffectPerform
	EffectResolve
)

func (k EffectKind) String() string {
	switch k {
	case EffectConnect:
		return "connect"
	case EffectDisconnect:
		return "disconnect"
	case EffectDiscover:
		return "discover"
	case EffectPerform:
		return "perform"
	case EffectResolve:
		return "resolve"
	default:
		return fmt.Sprintf("EffectKind(%d)", int(k))
	}
}

// Effect is a side effect the ConnectionManager runs after a transition
type Effect struct {
	Kind   EffectKind
	Link   uint64  // EffectConnect, EffectDiscover
	Action *Action // EffectPerform, EffectResolve
	Result Result  // EffectResolve
}

func (e Effect) String() string {
	switch e.Kind {
	case EffectPerform:
		return fmt.Sprintf("perform(%s)", e.Action)
	case EffectResolve:
		if e.Result.Err != nil {
			return fmt.Sprintf("resolve(%s, %v)", e.Action, e.Result.Err)
		}
		return fmt.Sprintf("resolve(%s)", e.Action)
	default:
		return e.Kind.String()
	}
}

// Outcome is the result of applying one event
type Outcome struct {
	// State is the state after the event.
	State State
	// Trail holds intermediate states passed through before State, in order.
	Trail []State
	// Effects are executed in order by the manager.
	Effects []Effect
	// Err is set when the event was rejected; State is then the input state.
	Err error
	// Ignored is set when the event does not apply to the current state.
	Ignored bool
}

// Changed reports whether the event moved the device to a new state
func (o Outcome) Changed() bool {
	return o.Err == nil && !o.Ignored
}
