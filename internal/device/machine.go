package device

// Transition applies ev to s and returns the resulting state together with the
// side effects to run. It has no side effects of its own.
func Transition(s State, ev Event) Outcome {
	switch e := ev.(type) {
	case AdvertisementEvent:
		return onAdvertisement(s, e.Connectable)
	case ConnectEvent:
		return onConnect(s)
	case ConnectedEvent:
		return onConnected(s, e.Link)
	case ConnectFailedEvent:
		return onConnectFailed(s, e.Link, e.Err)
	case DiscoverEvent:
		return onDiscover(s)
	case ServicesDiscoveredEvent:
		return onServicesDiscovered(s, e.Link, e.Services)
	case DiscoveryFailedEvent:
		return onDiscoveryFailed(s, e.Link, e.Err)
	case SubmitEvent:
		return onSubmit(s, e.Action)
	case ActionCompletedEvent:
		return onActionCompleted(s, e)
	case DisconnectEvent:
		return onDisconnect(s)
	case UnexpectedDisconnectEvent:
		return onUnexpectedDisconnect(s, e.Err)
	case DisconnectedEvent:
		return onDisconnected(s)
	default:
		return ignore(s)
	}
}

func ignore(s State) Outcome {
	return Outcome{State: s, Ignored: true}
}

func reject(s State, err error, effects ...Effect) Outcome {
	return Outcome{State: s, Err: err, Effects: effects}
}

func moveTo(s State, effects ...Effect) Outcome {
	return Outcome{State: s, Effects: effects}
}

func onAdvertisement(s State, connectable bool) Outcome {
	if s.Connectable == connectable {
		return ignore(s)
	}

	next := s
	next.Connectable = connectable

	if connectable {
		if s.Phase == NotConnectable {
			next.Phase = Disconnected
		}
		return moveTo(next)
	}

	switch s.Phase {
	case Disconnected:
		next.Phase = NotConnectable
		next.Err = nil
		return moveTo(next)
	case Connecting, ConnectedNoServices, ConnectedDiscovering, ConnectedIdle:
		next = cleared(next, Disconnecting)
		return moveTo(next, append(cancelAll(s, nil), Effect{Kind: EffectDisconnect})...)
	default:
		// HandlingAction tears down once the in-flight call completes;
		// Disconnecting already heads for the connectability-derived target.
		return moveTo(next)
	}
}

func onConnect(s State) Outcome {
	switch s.Phase {
	case Disconnected:
		next := s
		next.Phase = Connecting
		next.Err = nil
		next.Link = s.Link + 1
		return moveTo(next, Effect{Kind: EffectConnect, Link: next.Link})
	case NotConnectable:
		return reject(s, notReady("connect", s.Phase))
	default:
		return ignore(s)
	}
}

func onConnected(s State, link uint64) Outcome {
	if s.Phase != Connecting || link != s.Link {
		return ignore(s)
	}
	next := s
	next.Phase = ConnectedNoServices
	next.Attempts = 0
	next.Err = nil
	return moveTo(next)
}

func onConnectFailed(s State, link uint64, cause error) Outcome {
	if link != s.Link {
		return ignore(s)
	}
	switch s.Phase {
	case Connecting:
		return dropLink(s, newError(ConnectFailed, "connect", cause), nil, nil)
	case Disconnecting:
		return settleOutcome(s)
	default:
		return ignore(s)
	}
}

func onDiscover(s State) Outcome {
	if s.Phase != ConnectedNoServices {
		return reject(s, notReady("discoverServices", s.Phase))
	}
	next := s
	next.Phase = ConnectedDiscovering
	next.Err = nil
	return moveTo(next, Effect{Kind: EffectDiscover, Link: s.Link})
}

func onServicesDiscovered(s State, link uint64, services []ServiceRef) Outcome {
	if s.Phase != ConnectedDiscovering || link != s.Link {
		return ignore(s)
	}
	next := s
	next.Phase = ConnectedIdle
	next.Services = NewServices(services)
	return moveTo(next)
}

func onDiscoveryFailed(s State, link uint64, cause error) Outcome {
	if s.Phase != ConnectedDiscovering || link != s.Link {
		return ignore(s)
	}
	next := s
	next.Phase = ConnectedNoServices
	next.Err = cause
	return moveTo(next)
}

func onSubmit(s State, a *Action) Outcome {
	if a == nil {
		return reject(s, newError(ActionFailed, "perform", errNilAction))
	}

	switch {
	case s.Phase == ConnectedIdle && s.Connectable:
		next := s
		next.Phase = ConnectedHandlingAction
		next.Current = a
		next.Queue = ActionQueue{}
		return moveTo(next, Effect{Kind: EffectPerform, Action: a})
	case s.Phase == ConnectedHandlingAction && s.Connectable:
		next := s
		next.Queue = s.Queue.Push(a)
		return moveTo(next)
	default:
		err := notReady("perform", s.Phase)
		return reject(s, err, Effect{Kind: EffectResolve, Action: a, Result: Result{Err: err}})
	}
}

func onActionCompleted(s State, e ActionCompletedEvent) Outcome {
	if s.Phase != ConnectedHandlingAction || s.Current == nil || s.Current.ID() != e.ID {
		return ignore(s)
	}

	res := Result{Value: e.Value}
	if e.Err != nil {
		res = Result{Err: newError(ActionFailed, s.Current.Kind().String(), e.Err)}
	}
	effects := []Effect{{Kind: EffectResolve, Action: s.Current, Result: res}}

	if !s.Connectable {
		next := cleared(s, Disconnecting)
		for _, a := range s.Queue.Items() {
			effects = append(effects, cancelEffect(a, nil))
		}
		return moveTo(next, append(effects, Effect{Kind: EffectDisconnect})...)
	}

	next := s
	if head, rest, ok := s.Queue.Pop(); ok {
		next.Current = head
		next.Queue = rest
		return moveTo(next, append(effects, Effect{Kind: EffectPerform, Action: head})...)
	}

	next.Phase = ConnectedIdle
	next.Current = nil
	next.Queue = ActionQueue{}
	return moveTo(next, effects...)
}

func onDisconnect(s State) Outcome {
	switch {
	case s.Phase == Connecting || s.Phase.IsConnected():
		next := cleared(s, Disconnecting)
		next.Err = nil
		return moveTo(next, append(cancelAll(s, nil), Effect{Kind: EffectDisconnect})...)
	default:
		return ignore(s)
	}
}

func onUnexpectedDisconnect(s State, cause error) Outcome {
	switch {
	case s.Phase == Connecting || s.Phase.IsConnected():
		err := newError(UnexpectedDisconnect, "", cause)
		tearing := cleared(s, Disconnecting)
		tearing.Err = err
		return dropLink(s, err, cancelAll(s, err), []State{tearing})
	case s.Phase == Disconnecting:
		return settleOutcome(s)
	default:
		return ignore(s)
	}
}

func onDisconnected(s State) Outcome {
	switch {
	case s.Phase == Disconnecting:
		return settleOutcome(s)
	case s.Phase == Connecting || s.Phase.IsConnected():
		return onUnexpectedDisconnect(s, nil)
	default:
		return ignore(s)
	}
}

// dropLink settles a lost or failed link and consults the reconnection policy
func dropLink(s State, cause error, effects []Effect, trail []State) Outcome {
	next := settle(s)
	next.Err = cause

	if next.Phase == Disconnected && ShouldReconnect(s.Policy, s.Attempts) {
		trail = append(trail, next)
		next.Phase = Connecting
		next.Attempts = s.Attempts + 1
		next.Link = s.Link + 1
		effects = append(effects, Effect{Kind: EffectConnect, Link: next.Link})
	}

	return Outcome{State: next, Trail: trail, Effects: effects}
}

func settleOutcome(s State) Outcome {
	next := settle(s)
	next.Err = nil
	return moveTo(next)
}

// settle resolves the link-less phase from the latest connectability
func settle(s State) State {
	if s.Connectable {
		return cleared(s, Disconnected)
	}
	return cleared(s, NotConnectable)
}

func cleared(s State, phase Phase) State {
	s.Phase = phase
	s.Services = nil
	s.Current = nil
	s.Queue = ActionQueue{}
	return s
}

func cancelAll(s State, cause error) []Effect {
	pending := s.Pending()
	if len(pending) == 0 {
		return nil
	}
	effects := make([]Effect, 0, len(pending))
	for _, a := range pending {
		effects = append(effects, cancelEffect(a, cause))
	}
	return effects
}

func cancelEffect(a *Action, cause error) Effect {
	return Effect{Kind: EffectResolve, Action: a, Result: Result{Err: newError(ActionCancelled, a.Kind().String(), cause)}}
}
