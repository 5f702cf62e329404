package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/srg/blelink/internal/device"
	"github.com/stretchr/testify/assert"
)

func withoutColor(t *testing.T) {
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = original })
}

func TestFormatState(t *testing.T) {
	withoutColor(t)

	s := device.InitialState(true, device.LimitedReconnect(3))
	assert.Equal(t, "Disconnected", formatState(s))

	s.Phase = device.Connecting
	s.Attempts = 2
	s.Err = device.ErrConnectFailed
	assert.Equal(t, "Connecting (attempt 2, limited:3) [connect_failed]", formatState(s))

	s.Phase = device.NotConnectable
	s.Err = nil
	assert.Equal(t, "NotConnectable", formatState(s))
}

func TestPhaseColor(t *testing.T) {
	assert.Same(t, connectedColor, phaseColor(device.ConnectedIdle))
	assert.Same(t, connectedColor, phaseColor(device.ConnectedHandlingAction))
	assert.Same(t, transientColor, phaseColor(device.Connecting))
	assert.Same(t, transientColor, phaseColor(device.Disconnecting))
	assert.Same(t, unavailableColor, phaseColor(device.NotConnectable))
	assert.Same(t, idleColor, phaseColor(device.Disconnected))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "(empty)", formatValue(nil))
	assert.Equal(t, "5500", formatValue([]byte{0x55, 0x00}))
	assert.Equal(t, `4869 "Hi"`, formatValue([]byte("Hi")))
}

func TestNotificationPrinter(t *testing.T) {
	withoutColor(t)

	var buf bytes.Buffer
	handler := notificationPrinter(newPrinter(&buf))
	handler("AA:BB:CC:DD:EE:FF", device.NewCharacteristicRef("180d", "2a37"), []byte{0x06, 0x48})

	assert.Equal(t, "notification: 180d/2a37 0648\n", buf.String())
}

func TestGaveUp(t *testing.T) {
	failed := errors.New("link lost")

	tests := []struct {
		name     string
		state    device.State
		expected bool
	}{
		{name: "initial", state: device.InitialState(true, device.NeverReconnect()), expected: false},
		{name: "not connectable", state: device.InitialState(false, device.AlwaysReconnect()), expected: true},
		{name: "failed without policy", state: device.State{Phase: device.Disconnected, Err: failed}, expected: true},
		{name: "failed with retries left", state: device.State{Phase: device.Disconnected, Err: failed, Policy: device.LimitedReconnect(2), Attempts: 1}, expected: false},
		{name: "failed with retries spent", state: device.State{Phase: device.Disconnected, Err: failed, Policy: device.LimitedReconnect(2), Attempts: 2}, expected: true},
		{name: "connecting", state: device.State{Phase: device.Connecting, Err: failed}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, gaveUp(tt.state))
		})
	}
}
