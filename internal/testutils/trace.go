package testutils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/srg/blelink/internal/device"
)

// TraceRecorder records every published state change of a manager as
// "From -> To (event)" lines
type TraceRecorder struct {
	mu    sync.Mutex
	lines []string
	to    []device.State
}

// NewTraceRecorder attaches a recorder to m
func NewTraceRecorder(m *device.ConnectionManager) *TraceRecorder {
	r := &TraceRecorder{}
	m.OnStateChange(r.record)
	return r
}

func (r *TraceRecorder) record(c device.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf("%s -> %s (%s)", c.From, c.To, c.Event))
	r.to = append(r.to, c.To)
}

// String returns the trace, one transition per line
func (r *TraceRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

// Phases returns the phase of every published state in order
func (r *TraceRecorder) Phases() []device.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases := make([]device.Phase, len(r.to))
	for i, s := range r.to {
		phases[i] = s.Phase
	}
	return phases
}

// States returns every published state in order
func (r *TraceRecorder) States() []device.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.State(nil), r.to...)
}

// Reset forgets everything recorded so far
func (r *TraceRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
	r.to = nil
}
