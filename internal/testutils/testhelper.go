package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
)

// DefaultWait bounds how long tests wait for asynchronous state changes
const DefaultWait = 2 * time.Second

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: NewTestLogger(),
	}
}

// NewTestLogger returns a logger at debug level to track execution flow
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// BatteryServices is a small GATT layout shared by lifecycle tests:
// Battery (180f: 2a19) and Heart Rate (180d: 2a37, 2a38)
func BatteryServices() []device.ServiceRef {
	return []device.ServiceRef{
		{UUID: "180f", Characteristics: []device.CharacteristicRef{{Service: "180f", UUID: "2a19"}}},
		{UUID: "180d", Characteristics: []device.CharacteristicRef{
			{Service: "180d", UUID: "2a37"},
			{Service: "180d", UUID: "2a38"},
		}},
	}
}

// WaitForPhase drains states until one has the wanted phase or the timeout expires
func WaitForPhase(states <-chan device.State, want device.Phase, timeout time.Duration) (device.State, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return device.State{}, false
			}
			if st.Phase == want {
				return st, true
			}
		case <-deadline:
			return device.State{}, false
		}
	}
}
