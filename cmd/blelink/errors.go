package main

import (
	"errors"
	"fmt"

	"github.com/srg/blelink/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was still using it.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns lifecycle and platform errors into short hints
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("not supported on this platform (%v)", err)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%v; run with --discover to list the device's services", notFound)
	case errors.Is(err, device.ErrNotReady):
		return fmt.Sprintf("device is not ready for this operation (%v)", err)
	case errors.Is(err, device.ErrActionCancelled):
		return fmt.Sprintf("operation cancelled because the device disconnected (%v)", err)
	case errors.Is(err, device.ErrConnectFailed):
		return fmt.Sprintf("could not connect (%v)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("timed out (%v)", err)
	default:
		return err.Error()
	}
}
