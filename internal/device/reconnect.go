package device

import (
	"fmt"
	"strconv"
	"strings"
)

// ReconnectMode selects the reconnection strategy
type ReconnectMode int

const (
	ReconnectNever ReconnectMode = iota
	ReconnectAlways
	ReconnectLimited
)

// ReconnectionSettings decide whether a dropped or failed link is retried.
// Fixed per device at construction.
type ReconnectionSettings struct {
	Mode        ReconnectMode
	MaxAttempts int // Limited only
}

func NeverReconnect() ReconnectionSettings  { return ReconnectionSettings{Mode: ReconnectNever} }
func AlwaysReconnect() ReconnectionSettings { return ReconnectionSettings{Mode: ReconnectAlways} }

// LimitedReconnect allows n attempts between successful connections
func LimitedReconnect(n int) ReconnectionSettings {
	return ReconnectionSettings{Mode: ReconnectLimited, MaxAttempts: n}
}

// ShouldReconnect reports whether another attempt is allowed after attempts
// retries since the last successful connection.
func ShouldReconnect(s ReconnectionSettings, attempts int) bool {
	switch s.Mode {
	case ReconnectAlways:
		return true
	case ReconnectLimited:
		return attempts < s.MaxAttempts
	default:
		return false
	}
}

func (s ReconnectionSettings) String() string {
	switch s.Mode {
	case ReconnectAlways:
		return "always"
	case ReconnectLimited:
		return fmt.Sprintf("limited:%d", s.MaxAttempts)
	default:
		return "never"
	}
}

// ParseReconnectionSettings parses "never", "always" or "limited:N"
func ParseReconnectionSettings(s string) (ReconnectionSettings, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "" || v == "never":
		return NeverReconnect(), nil
	case v == "always":
		return AlwaysReconnect(), nil
	case strings.HasPrefix(v, "limited:"):
		n, err := strconv.Atoi(strings.TrimPrefix(v, "limited:"))
		if err != nil || n < 0 {
			return ReconnectionSettings{}, fmt.Errorf("invalid reconnect attempts in %q", s)
		}
		return LimitedReconnect(n), nil
	default:
		return ReconnectionSettings{}, fmt.Errorf("invalid reconnect policy %q (must be never, always or limited:N)", s)
	}
}
