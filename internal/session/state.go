package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mvilaca/parley/internal/bus"
)

// Status represents the connectivity state of the transport connection.
type Status string

const (
	Closed     Status = "CLOSED"
	Connecting Status = "CONNECTING"
	Open       Status = "OPEN"
)

// validTransitions defines allowed connectivity transitions. A drop while
// open goes back through Connecting (reconnect) or to Closed (logout).
var validTransitions = map[Status][]Status{
	Closed:     {Connecting},
	Connecting: {Open, Closed},
	Open:       {Connecting, Closed},
}

// Machine tracks and enforces connectivity state transitions.
type Machine struct {
	mu      sync.RWMutex
	current Status
	bus     *bus.Bus
}

// NewMachine creates a connectivity state machine starting in Closed.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Closed,
		bus:     b,
	}
}

// Current returns the current status.
func (m *Machine) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new status. Returns an error if the
// transition is invalid. A change is published as session.status_changed.
func (m *Machine) Transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind: "session.status_changed",
			At:   time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From Status
	To   Status
}
