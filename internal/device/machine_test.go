package device_test

import (
	"errors"
	"testing"

	"github.com/srg/blelink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step applies events in order, requiring each to be accepted
func step(t *testing.T, s device.State, events ...device.Event) (device.State, []device.Effect) {
	t.Helper()
	var effects []device.Effect
	for _, ev := range events {
		out := device.Transition(s, ev)
		require.Truef(t, out.Changed(), "event %s MUST be accepted in %s (err=%v)", ev, s, out.Err)
		s = out.State
		effects = append(effects, out.Effects...)
	}
	return s, effects
}

func effectKinds(effects []device.Effect) []device.EffectKind {
	kinds := make([]device.EffectKind, len(effects))
	for i, e := range effects {
		kinds[i] = e.Kind
	}
	return kinds
}

func idleState(t *testing.T, policy device.ReconnectionSettings) device.State {
	t.Helper()
	s, _ := step(t, device.InitialState(true, policy),
		device.ConnectEvent{},
		device.ConnectedEvent{Link: 1},
		device.DiscoverEvent{},
		device.ServicesDiscoveredEvent{Link: 1, Services: []device.ServiceRef{{UUID: "180f"}}},
	)
	require.Equal(t, device.ConnectedIdle, s.Phase)
	return s
}

func TestInitialState(t *testing.T) {
	assert.Equal(t, device.Disconnected, device.InitialState(true, device.NeverReconnect()).Phase)
	assert.Equal(t, device.NotConnectable, device.InitialState(false, device.NeverReconnect()).Phase)
}

func TestTransition_ConnectAndDiscover(t *testing.T) {
	// GOAL: Verify the connect → discover path reaches Connected.Idle
	//
	// TEST SCENARIO: connect → connected → discover → servicesDiscovered([]) → Connected.Idle with no services

	s := device.InitialState(true, device.NeverReconnect())

	out := device.Transition(s, device.ConnectEvent{})
	assert.Equal(t, device.Connecting, out.State.Phase)
	assert.Equal(t, []device.EffectKind{device.EffectConnect}, effectKinds(out.Effects))

	out = device.Transition(out.State, device.ConnectedEvent{Link: out.State.Link})
	assert.Equal(t, device.ConnectedNoServices, out.State.Phase, "connected MUST yield Connected.NoServices")
	assert.Empty(t, out.Effects)

	out = device.Transition(out.State, device.DiscoverEvent{})
	assert.Equal(t, device.ConnectedDiscovering, out.State.Phase)
	assert.Equal(t, []device.EffectKind{device.EffectDiscover}, effectKinds(out.Effects))

	out = device.Transition(out.State, device.ServicesDiscoveredEvent{Link: out.State.Link})
	assert.Equal(t, device.ConnectedIdle, out.State.Phase)
	assert.Equal(t, 0, out.State.Services.Len(), "MUST hold an empty service list")
	assert.Equal(t, "Connected.Idle(0 services)", out.State.String())
}

func TestTransition_ConnectOutsideDisconnected(t *testing.T) {
	idle := idleState(t, device.NeverReconnect())

	out := device.Transition(idle, device.ConnectEvent{})
	assert.True(t, out.Ignored, "connect while connected MUST be a no-op")
	assert.NoError(t, out.Err)
	assert.Equal(t, idle.Phase, out.State.Phase)
	assert.Empty(t, out.Effects)

	out = device.Transition(device.InitialState(false, device.NeverReconnect()), device.ConnectEvent{})
	assert.ErrorIs(t, out.Err, device.ErrNotReady, "connect while not connectable MUST fail with NotReady")
	assert.Equal(t, device.NotConnectable, out.State.Phase)
	assert.False(t, out.Changed())
}

func TestTransition_DiscoverRequiresNoServices(t *testing.T) {
	for _, s := range []device.State{
		device.InitialState(true, device.NeverReconnect()),
		idleState(t, device.NeverReconnect()),
	} {
		out := device.Transition(s, device.DiscoverEvent{})
		assert.ErrorIs(t, out.Err, device.ErrNotReady, "discover in %s MUST fail", s)
		assert.Equal(t, s.Phase, out.State.Phase)
	}
}

func TestTransition_DiscoveryFailed(t *testing.T) {
	cause := errors.New("att timeout")
	s, _ := step(t, device.InitialState(true, device.NeverReconnect()),
		device.ConnectEvent{}, device.ConnectedEvent{Link: 1}, device.DiscoverEvent{})

	out := device.Transition(s, device.DiscoveryFailedEvent{Link: s.Link, Err: cause})
	assert.Equal(t, device.ConnectedNoServices, out.State.Phase, "failed discovery MUST allow a retry")
	assert.ErrorIs(t, out.State.Err, cause)

	_, effects := step(t, out.State, device.DiscoverEvent{})
	assert.Equal(t, []device.EffectKind{device.EffectDiscover}, effectKinds(effects))
}

func TestTransition_ActionExclusivity(t *testing.T) {
	// GOAL: Verify only one action is handed to the transport at a time
	//
	// TEST SCENARIO: submit 3 actions in Idle → only the first produces a perform effect → completing each performs the next in order

	s := idleState(t, device.NeverReconnect())
	a := device.NewReadCharacteristic(batteryLevel)
	b := device.NewWriteCharacteristic(heartRate, []byte{1}, true)
	c := device.NewSetNotification(heartRate, true)

	s, effects := step(t, s, device.SubmitEvent{Action: a}, device.SubmitEvent{Action: b}, device.SubmitEvent{Action: c})
	require.Len(t, effects, 1, "only the first submit MUST start an action")
	assert.Equal(t, device.EffectPerform, effects[0].Kind)
	assert.Same(t, a, effects[0].Action)
	assert.Equal(t, device.ConnectedHandlingAction, s.Phase)
	assert.Same(t, a, s.Current)
	assert.Equal(t, []*device.Action{b, c}, s.Queue.Items())

	var performed []*device.Action
	performed = append(performed, a)
	for s.Phase == device.ConnectedHandlingAction {
		out := device.Transition(s, device.ActionCompletedEvent{ID: s.Current.ID(), Value: []byte{7}})
		require.True(t, out.Changed())
		require.NotEmpty(t, out.Effects)
		assert.Equal(t, device.EffectResolve, out.Effects[0].Kind, "completion MUST resolve before the next action starts")
		for _, e := range out.Effects[1:] {
			require.Equal(t, device.EffectPerform, e.Kind)
			performed = append(performed, e.Action)
		}
		s = out.State
	}

	assert.Equal(t, []*device.Action{a, b, c}, performed, "actions MUST run in submission order")
	assert.Equal(t, device.ConnectedIdle, s.Phase)
	assert.Nil(t, s.Current)
	assert.Equal(t, 0, s.Queue.Len())
}

func TestTransition_ActionCompleted(t *testing.T) {
	s := idleState(t, device.NeverReconnect())
	a := device.NewReadCharacteristic(batteryLevel)
	s, _ = step(t, s, device.SubmitEvent{Action: a})

	t.Run("stale completion is ignored", func(t *testing.T) {
		out := device.Transition(s, device.ActionCompletedEvent{ID: "some-other-action"})
		assert.True(t, out.Ignored)
		assert.Same(t, a, out.State.Current)
	})

	t.Run("transport error resolves as failed", func(t *testing.T) {
		cause := errors.New("write not permitted")
		out := device.Transition(s, device.ActionCompletedEvent{ID: a.ID(), Err: cause})
		require.Len(t, out.Effects, 1)

		res := out.Effects[0].Result
		assert.ErrorIs(t, res.Err, device.ErrActionFailed)
		assert.ErrorIs(t, res.Err, cause)
		assert.NotErrorIs(t, res.Err, device.ErrActionCancelled)
		assert.Equal(t, device.ConnectedIdle, out.State.Phase)
	})

	t.Run("value is carried in the result", func(t *testing.T) {
		out := device.Transition(s, device.ActionCompletedEvent{ID: a.ID(), Value: []byte{42}})
		require.Len(t, out.Effects, 1)
		assert.Equal(t, device.Result{Value: []byte{42}}, out.Effects[0].Result)
	})
}

func TestTransition_SubmitRejected(t *testing.T) {
	tests := []struct {
		name  string
		state device.State
	}{
		{name: "disconnected", state: device.InitialState(true, device.NeverReconnect())},
		{name: "not connectable", state: device.InitialState(false, device.NeverReconnect())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := device.NewReadCharacteristic(batteryLevel)
			out := device.Transition(tt.state, device.SubmitEvent{Action: a})

			assert.ErrorIs(t, out.Err, device.ErrNotReady)
			require.Len(t, out.Effects, 1)
			assert.Equal(t, device.EffectResolve, out.Effects[0].Kind, "rejected action MUST be resolved")
			assert.ErrorIs(t, out.Effects[0].Result.Err, device.ErrNotReady)
		})
	}

	t.Run("no services yet", func(t *testing.T) {
		s, _ := step(t, device.InitialState(true, device.NeverReconnect()), device.ConnectEvent{}, device.ConnectedEvent{Link: 1})
		out := device.Transition(s, device.SubmitEvent{Action: device.NewReadCharacteristic(batteryLevel)})
		assert.ErrorIs(t, out.Err, device.ErrNotReady)
	})

	t.Run("nil action", func(t *testing.T) {
		out := device.Transition(idleState(t, device.NeverReconnect()), device.SubmitEvent{})
		assert.Error(t, out.Err)
		assert.Empty(t, out.Effects)
	})
}

func TestTransition_DisconnectCancelsPending(t *testing.T) {
	// GOAL: Verify disconnect resolves the executing and queued actions as cancelled
	//
	// TEST SCENARIO: 1 executing + 2 queued → disconnect → 3 cancel resolutions + disconnect effect → disconnected → Disconnected

	s := idleState(t, device.NeverReconnect())
	a := device.NewReadCharacteristic(batteryLevel)
	b := device.NewWriteCharacteristic(heartRate, []byte{1}, false)
	c := device.NewReadDescriptor(cccd)
	s, _ = step(t, s, device.SubmitEvent{Action: a}, device.SubmitEvent{Action: b}, device.SubmitEvent{Action: c})

	out := device.Transition(s, device.DisconnectEvent{})
	assert.Equal(t, device.Disconnecting, out.State.Phase)
	assert.Nil(t, out.State.Current)
	assert.Equal(t, 0, out.State.Queue.Len(), "queue MUST be empty after disconnect")
	assert.Nil(t, out.State.Services)

	require.Equal(t, []device.EffectKind{
		device.EffectResolve, device.EffectResolve, device.EffectResolve, device.EffectDisconnect,
	}, effectKinds(out.Effects))
	for i, want := range []*device.Action{a, b, c} {
		assert.Same(t, want, out.Effects[i].Action)
		assert.ErrorIs(t, out.Effects[i].Result.Err, device.ErrActionCancelled)
	}

	out = device.Transition(out.State, device.DisconnectedEvent{})
	assert.Equal(t, device.Disconnected, out.State.Phase)
	assert.NoError(t, out.State.Err)
}

func TestTransition_DisconnectWithoutLink(t *testing.T) {
	for _, s := range []device.State{
		device.InitialState(true, device.NeverReconnect()),
		device.InitialState(false, device.NeverReconnect()),
	} {
		out := device.Transition(s, device.DisconnectEvent{})
		assert.True(t, out.Ignored, "disconnect in %s MUST be a no-op", s)
		assert.Empty(t, out.Effects)
	}
}

func TestTransition_ConnectivityFlip(t *testing.T) {
	t.Run("not connectable becomes disconnected", func(t *testing.T) {
		out := device.Transition(device.InitialState(false, device.NeverReconnect()), device.AdvertisementEvent{Connectable: true})
		assert.Equal(t, device.Disconnected, out.State.Phase)
		assert.True(t, out.State.Connectable)
	})

	t.Run("disconnected becomes not connectable", func(t *testing.T) {
		out := device.Transition(device.InitialState(true, device.NeverReconnect()), device.AdvertisementEvent{Connectable: false})
		assert.Equal(t, device.NotConnectable, out.State.Phase)
	})

	t.Run("same connectability is ignored", func(t *testing.T) {
		out := device.Transition(device.InitialState(true, device.NeverReconnect()), device.AdvertisementEvent{Connectable: true})
		assert.True(t, out.Ignored)
	})

	t.Run("connected tears down then settles not connectable", func(t *testing.T) {
		out := device.Transition(idleState(t, device.AlwaysReconnect()), device.AdvertisementEvent{Connectable: false})
		assert.Equal(t, device.Disconnecting, out.State.Phase)
		assert.Equal(t, []device.EffectKind{device.EffectDisconnect}, effectKinds(out.Effects))

		out = device.Transition(out.State, device.DisconnectedEvent{})
		assert.Equal(t, device.NotConnectable, out.State.Phase, "MUST settle NotConnectable")
		assert.Empty(t, out.Effects, "MUST NOT reconnect a non-connectable device")
	})

	t.Run("connecting tears down", func(t *testing.T) {
		s, _ := step(t, device.InitialState(true, device.NeverReconnect()), device.ConnectEvent{})
		out := device.Transition(s, device.AdvertisementEvent{Connectable: false})
		assert.Equal(t, device.Disconnecting, out.State.Phase)

		out = device.Transition(out.State, device.ConnectFailedEvent{Link: out.State.Link, Err: errors.New("cancelled")})
		assert.Equal(t, device.NotConnectable, out.State.Phase)
	})

	t.Run("handling action finishes before teardown", func(t *testing.T) {
		// GOAL: Verify the in-flight action is not interrupted by a connectability drop
		//
		// TEST SCENARIO: HandlingAction(a, [b]) → advertisement(false) → stays → submit c rejected → a completes → a resolved, b cancelled, Disconnecting

		s := idleState(t, device.NeverReconnect())
		a := device.NewReadCharacteristic(batteryLevel)
		b := device.NewReadCharacteristic(heartRate)
		s, _ = step(t, s, device.SubmitEvent{Action: a}, device.SubmitEvent{Action: b})

		out := device.Transition(s, device.AdvertisementEvent{Connectable: false})
		require.True(t, out.Changed())
		assert.Equal(t, device.ConnectedHandlingAction, out.State.Phase)
		assert.False(t, out.State.Connectable)
		assert.Empty(t, out.Effects)
		s = out.State

		rejected := device.Transition(s, device.SubmitEvent{Action: device.NewReadCharacteristic(batteryLevel)})
		assert.ErrorIs(t, rejected.Err, device.ErrNotReady, "new work MUST be refused once not connectable")

		out = device.Transition(s, device.ActionCompletedEvent{ID: a.ID(), Value: []byte{1}})
		assert.Equal(t, device.Disconnecting, out.State.Phase)
		require.Equal(t, []device.EffectKind{device.EffectResolve, device.EffectResolve, device.EffectDisconnect}, effectKinds(out.Effects))
		assert.NoError(t, out.Effects[0].Result.Err)
		assert.ErrorIs(t, out.Effects[1].Result.Err, device.ErrActionCancelled)

		out = device.Transition(out.State, device.DisconnectedEvent{})
		assert.Equal(t, device.NotConnectable, out.State.Phase)
	})
}

func TestTransition_UnexpectedDisconnect(t *testing.T) {
	cause := errors.New("supervision timeout")

	t.Run("never reconnects", func(t *testing.T) {
		s := idleState(t, device.NeverReconnect())
		a := device.NewReadCharacteristic(batteryLevel)
		s, _ = step(t, s, device.SubmitEvent{Action: a})

		out := device.Transition(s, device.UnexpectedDisconnectEvent{Err: cause})
		require.Len(t, out.Trail, 1)
		assert.Equal(t, device.Disconnecting, out.Trail[0].Phase, "MUST pass through Disconnecting")
		assert.Equal(t, device.Disconnected, out.State.Phase)
		assert.ErrorIs(t, out.State.Err, device.ErrUnexpectedDisconnect)
		assert.ErrorIs(t, out.State.Err, cause)

		require.Equal(t, []device.EffectKind{device.EffectResolve}, effectKinds(out.Effects))
		assert.ErrorIs(t, out.Effects[0].Result.Err, device.ErrActionCancelled)
		assert.ErrorIs(t, out.Effects[0].Result.Err, cause)
	})

	t.Run("always reconnects", func(t *testing.T) {
		out := device.Transition(idleState(t, device.AlwaysReconnect()), device.UnexpectedDisconnectEvent{Err: cause})

		require.Len(t, out.Trail, 2)
		assert.Equal(t, device.Disconnecting, out.Trail[0].Phase)
		assert.Equal(t, device.Disconnected, out.Trail[1].Phase)
		assert.Equal(t, device.Connecting, out.State.Phase)
		assert.Equal(t, 1, out.State.Attempts)
		assert.Equal(t, []device.EffectKind{device.EffectConnect}, effectKinds(out.Effects))
	})

	t.Run("transport disconnected report while connected", func(t *testing.T) {
		out := device.Transition(idleState(t, device.NeverReconnect()), device.DisconnectedEvent{})
		assert.Equal(t, device.Disconnected, out.State.Phase)
		assert.ErrorIs(t, out.State.Err, device.ErrUnexpectedDisconnect)
	})

	t.Run("ignored when already disconnected", func(t *testing.T) {
		out := device.Transition(device.InitialState(true, device.AlwaysReconnect()), device.UnexpectedDisconnectEvent{Err: cause})
		assert.True(t, out.Ignored)
		assert.Empty(t, out.Effects)
	})
}

func TestTransition_ConnectFailedReconnects(t *testing.T) {
	// GOAL: Verify a failed connect re-issues connect under the Always policy
	//
	// TEST SCENARIO: Connecting → connectFailed → trail Disconnected → Connecting with connect effect

	s, _ := step(t, device.InitialState(true, device.AlwaysReconnect()), device.ConnectEvent{})
	cause := errors.New("le-connection-abort-by-local")

	out := device.Transition(s, device.ConnectFailedEvent{Link: s.Link, Err: cause})
	require.Len(t, out.Trail, 1)
	assert.Equal(t, device.Disconnected, out.Trail[0].Phase)
	assert.ErrorIs(t, out.Trail[0].Err, device.ErrConnectFailed)
	assert.Equal(t, device.Connecting, out.State.Phase)
	assert.Equal(t, []device.EffectKind{device.EffectConnect}, effectKinds(out.Effects))

	never, _ := step(t, device.InitialState(true, device.NeverReconnect()), device.ConnectEvent{})
	out = device.Transition(never, device.ConnectFailedEvent{Link: never.Link, Err: cause})
	assert.Equal(t, device.Disconnected, out.State.Phase)
	assert.Empty(t, out.Effects)
	assert.ErrorIs(t, out.State.Err, cause)
}

func TestTransition_LimitedReconnection(t *testing.T) {
	// GOAL: Verify Limited(2) allows two retries and resets on success
	//
	// TEST SCENARIO: drop → retry 1 → drop → retry 2 → drop → stays Disconnected; then connect succeeds → attempts reset → drop → retry again

	drop := device.UnexpectedDisconnectEvent{Err: errors.New("link lost")}
	s, _ := step(t, device.InitialState(true, device.LimitedReconnect(2)), device.ConnectEvent{}, device.ConnectedEvent{Link: 1})

	out := device.Transition(s, drop)
	assert.Equal(t, device.Connecting, out.State.Phase, "first drop MUST reconnect")
	assert.Equal(t, 1, out.State.Attempts)

	out = device.Transition(out.State, drop)
	assert.Equal(t, device.Connecting, out.State.Phase, "second drop MUST reconnect")
	assert.Equal(t, 2, out.State.Attempts)

	exhausted := device.Transition(out.State, drop)
	assert.Equal(t, device.Disconnected, exhausted.State.Phase, "third drop MUST NOT reconnect")
	assert.Empty(t, exhausted.Effects)

	reset := device.Transition(out.State, device.ConnectedEvent{Link: out.State.Link})
	assert.Equal(t, 0, reset.State.Attempts, "successful connect MUST reset the counter")
	out = device.Transition(reset.State, drop)
	assert.Equal(t, device.Connecting, out.State.Phase)
	assert.Equal(t, 1, out.State.Attempts)
}

func TestTransition_StaleLinkCallbacks(t *testing.T) {
	// GOAL: Verify connect and discovery callbacks of a superseded link are ignored
	//
	// TEST SCENARIO: connect (link 1) → disconnect → disconnected → connect (link 2) → link 1 failure ignored → link 2 success → Connected.NoServices

	s, _ := step(t, device.InitialState(true, device.AlwaysReconnect()),
		device.ConnectEvent{}, device.DisconnectEvent{}, device.DisconnectedEvent{})

	out := device.Transition(s, device.ConnectEvent{})
	require.Equal(t, device.Connecting, out.State.Phase)
	assert.Equal(t, uint64(2), out.State.Link, "every connect MUST start a new link")
	require.Len(t, out.Effects, 1)
	assert.Equal(t, uint64(2), out.Effects[0].Link, "connect effect MUST carry its link")
	s = out.State

	stale := device.Transition(s, device.ConnectFailedEvent{Link: 1, Err: errors.New("context canceled")})
	assert.True(t, stale.Ignored, "failure of a superseded dial MUST be ignored")
	assert.Empty(t, stale.Effects, "stale failure MUST NOT consume a reconnection attempt")
	assert.Equal(t, 0, stale.State.Attempts)

	assert.True(t, device.Transition(s, device.ConnectedEvent{Link: 1}).Ignored)

	out = device.Transition(s, device.ConnectedEvent{Link: 2})
	assert.Equal(t, device.ConnectedNoServices, out.State.Phase)

	t.Run("discovery", func(t *testing.T) {
		// discover on link 1, drop, reconnect on link 2, discover again
		s, _ := step(t, device.InitialState(true, device.AlwaysReconnect()),
			device.ConnectEvent{}, device.ConnectedEvent{Link: 1}, device.DiscoverEvent{},
			device.UnexpectedDisconnectEvent{Err: errors.New("link lost")},
			device.ConnectedEvent{Link: 2}, device.DiscoverEvent{})
		require.Equal(t, device.ConnectedDiscovering, s.Phase)

		services := []device.ServiceRef{{UUID: "180f"}}
		assert.True(t, device.Transition(s, device.ServicesDiscoveredEvent{Link: 1, Services: services}).Ignored,
			"services of a superseded link MUST be ignored")
		assert.True(t, device.Transition(s, device.DiscoveryFailedEvent{Link: 1, Err: errors.New("att timeout")}).Ignored,
			"discovery failure of a superseded link MUST be ignored")

		out := device.Transition(s, device.ServicesDiscoveredEvent{Link: 2, Services: services})
		assert.Equal(t, device.ConnectedIdle, out.State.Phase)
	})

	t.Run("teardown waits for its own dial", func(t *testing.T) {
		s, _ := step(t, device.InitialState(true, device.NeverReconnect()),
			device.ConnectEvent{}, device.DisconnectEvent{}, device.DisconnectedEvent{},
			device.ConnectEvent{}, device.DisconnectEvent{})
		require.Equal(t, device.Disconnecting, s.Phase)

		assert.True(t, device.Transition(s, device.ConnectFailedEvent{Link: 1}).Ignored)
		assert.Equal(t, device.Disconnected, device.Transition(s, device.ConnectFailedEvent{Link: 2}).State.Phase)
	})
}

func TestTransition_DoesNotModifyInput(t *testing.T) {
	s := idleState(t, device.NeverReconnect())
	a := device.NewReadCharacteristic(batteryLevel)
	s, _ = step(t, s, device.SubmitEvent{Action: a})
	before := s.String()

	device.Transition(s, device.SubmitEvent{Action: device.NewReadCharacteristic(heartRate)})
	device.Transition(s, device.DisconnectEvent{})
	device.Transition(s, device.ActionCompletedEvent{ID: a.ID()})

	assert.Equal(t, before, s.String())
	assert.Equal(t, 0, s.Queue.Len())
	assert.Same(t, a, s.Current)
	assert.Equal(t, 1, s.Services.Len())
}

func TestState_String(t *testing.T) {
	s := idleState(t, device.NeverReconnect())
	a := device.NewReadCharacteristic(batteryLevel)
	b := device.NewWriteDescriptor(cccd, []byte{1, 0})
	s, _ = step(t, s, device.SubmitEvent{Action: a}, device.SubmitEvent{Action: b})

	assert.Equal(t, "Connected.HandlingAction(ReadCharacteristic(180f/2a19), [WriteDescriptor(180d/2a37/2902)])", s.String())
	assert.Equal(t, []*device.Action{a, b}, s.Pending())
	assert.True(t, s.IsConnected())
	assert.False(t, device.Disconnecting.IsConnected())
}
