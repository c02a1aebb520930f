package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tapchat/tapd/internal/bus"
)

// State is the session's connection lifecycle state.
type State string

const (
	Offline      State = "OFFLINE"
	Connecting   State = "CONNECTING"
	Online       State = "ONLINE"
	Reconnecting State = "RECONNECTING"
	AuthFailed   State = "AUTH_FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Offline:      {Connecting},
	Connecting:   {Online, AuthFailed, Reconnecting, Offline},
	Online:       {Reconnecting, Offline},
	Reconnecting: {Connecting, Offline},
	AuthFailed:   {Connecting, Offline},
}

// machine tracks and enforces session state transitions.
type machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

func newMachine(b *bus.Bus) *machine {
	return &machine{current: Offline, bus: b}
}

// Current returns the current state.
func (m *machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if the
// transition is invalid.
func (m *machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit("session.state_changed", StateChange{From: from, To: to})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	From State
	To   State
}
