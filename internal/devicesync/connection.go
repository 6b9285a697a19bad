package devicesync

import (
	"fmt"
	"time"

	"github.com/dokzlo13/lampyd/internal/control"
)

// ConnectionState is the controller's belief about the lamp's reachability
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateOffline    ConnectionState = "offline"
)

// StatusText renders a connection state for display
func StatusText(state ConnectionState, selected *control.Device) string {
	switch state {
	case StateConnected:
		if selected != nil {
			return fmt.Sprintf("Connected to %s", selected.Name)
		}
		return "Connected"
	case StateConnecting:
		return "Connecting..."
	case StateOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// tracker applies probe results in sequence order. A result carrying an
// older sequence than the newest applied one is discarded.
type tracker struct {
	state   ConnectionState
	since   time.Time
	issued  uint64
	applied uint64
}

func (t *tracker) next() uint64 {
	t.issued++
	return t.issued
}

// apply returns whether the result was accepted and whether the state changed
func (t *tracker) apply(seq uint64, ok bool, now time.Time) (accepted, changed bool) {
	if seq <= t.applied {
		return false, false
	}
	t.applied = seq

	next := StateOffline
	if ok {
		next = StateConnected
	}
	if next == t.state {
		return true, false
	}
	t.state = next
	t.since = now
	return true, true
}
