package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/enterchat/internal/bus"
)

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// State represents a runtime state.
type State string

// Bridge engine states.
const (
	Uninitialized State = "UNINITIALIZED"
	Initializing  State = "INITIALIZING"
	Ready         State = "READY"
	Stopping      State = "STOPPING"
	Stopped       State = "STOPPED"
)

// Linked-device connection states, used by protocol apps.
const (
	LinkIdle         State = "IDLE"
	LinkAuthRequired State = "AUTH_REQUIRED"
	LinkConnecting   State = "CONNECTING"
	LinkConnected    State = "CONNECTED"
	LinkReconnecting State = "RECONNECTING"
	LinkLoggedOut    State = "LOGGED_OUT"
)

// Table maps each state to the states it may move to.
type Table map[State][]State

// EngineTransitions is the bridge engine lifecycle. A failed initialization
// falls back to Uninitialized so it can be retried.
var EngineTransitions = Table{
	Uninitialized: {Initializing, Stopped},
	Initializing:  {Ready, Uninitialized},
	Ready:         {Stopping},
	Stopping:      {Stopped},
	Stopped:       {},
}

// LinkTransitions is the linked-device connection lifecycle.
var LinkTransitions = Table{
	LinkIdle:         {LinkAuthRequired, LinkConnecting},
	LinkAuthRequired: {LinkConnecting, LinkIdle},
	LinkConnecting:   {LinkConnected, LinkAuthRequired, LinkReconnecting, LinkIdle},
	LinkConnected:    {LinkReconnecting, LinkLoggedOut, LinkIdle},
	LinkReconnecting: {LinkConnecting, LinkConnected, LinkLoggedOut, LinkIdle},
	LinkLoggedOut:    {LinkAuthRequired, LinkIdle},
}

// Machine tracks and enforces state transitions and announces each one on
// the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	table   Table
	kind    string
	appID   string
	bus     *bus.Bus
}

// NewMachine creates the bridge engine state machine, starting Uninitialized.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Uninitialized,
		table:   EngineTransitions,
		kind:    bus.EngineStateChanged,
		bus:     b,
	}
}

// NewLinkMachine creates a connection state machine for a protocol app,
// starting Idle.
func NewLinkMachine(b *bus.Bus, appID string) *Machine {
	return &Machine{
		current: LinkIdle,
		table:   LinkTransitions,
		kind:    bus.AppLinkStateChanged,
		appID:   appID,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in state s.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.table[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(m.kind, m.appID, StatusChange{From: from, To: to}))
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
