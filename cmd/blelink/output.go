package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/blelink/internal/device"
)

var (
	connectedColor  = color.New(color.FgGreen, color.Bold)
	transientColor  = color.New(color.FgYellow)
	unavailableColor = color.New(color.FgRed)
	idleColor       = color.New(color.FgWhite)
	errorColor      = color.New(color.FgRed)
	labelColor      = color.New(color.FgCyan)
)

// printer serializes output from the command and its state watcher
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) Printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// State prints one lifecycle state line
func (p *printer) State(s device.State) {
	p.Printf("%s %s\n", labelColor.Sprint("state:"), formatState(s))
}

func phaseColor(phase device.Phase) *color.Color {
	switch {
	case phase.IsConnected():
		return connectedColor
	case phase == device.Connecting || phase == device.Disconnecting:
		return transientColor
	case phase == device.NotConnectable:
		return unavailableColor
	default:
		return idleColor
	}
}

// formatState renders a state with its failure cause and reconnect attempt
func formatState(s device.State) string {
	text := phaseColor(s.Phase).Sprint(s.String())
	if s.Phase == device.Connecting && s.Attempts > 0 {
		text += fmt.Sprintf(" (attempt %d, %s)", s.Attempts, s.Policy)
	}
	if s.Err != nil {
		text += " " + errorColor.Sprintf("[%v]", s.Err)
	}
	return text
}
