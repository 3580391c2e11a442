// Package status tracks the list synchronizer's lifecycle phase and the
// feed connectivity shown alongside it.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/feedmirror/internal/bus"
)

// Phase is the lifecycle of the conversation list mirror. Row diffs are
// forwarded to the display only in Steady.
type Phase string

const (
	Initializing        Phase = "INITIALIZING"
	InitialSyncInFlight Phase = "INITIAL_SYNC_IN_FLIGHT"
	Steady              Phase = "STEADY"
)

// validTransitions defines allowed phase transitions. Every phase may fall
// back to Initializing on teardown.
var validTransitions = map[Phase][]Phase{
	Initializing:        {InitialSyncInFlight},
	InitialSyncInFlight: {Steady, Initializing},
	Steady:              {Initializing},
}

// Connectivity mirrors the feed's connected flag.
type Connectivity string

const (
	Connecting Connectivity = "CONNECTING"
	Online     Connectivity = "ONLINE"
)

// Machine tracks and enforces phase transitions.
type Machine struct {
	mu           sync.RWMutex
	current      Phase
	connectivity Connectivity
	bus          *bus.Bus
}

// NewMachine creates a machine in Initializing, connecting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current:      Initializing,
		connectivity: Connecting,
		bus:          b,
	}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Connectivity returns the last reported connectivity.
func (m *Machine) Connectivity() Connectivity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectivity
}

// Transition attempts to move to a new phase. Returns error if transition is invalid.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.publish("session.phase_changed", PhaseChange{From: from, To: to})
	return nil
}

// SetConnectivity records the feed's connectivity and reports whether it changed.
func (m *Machine) SetConnectivity(c Connectivity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectivity == c {
		return false
	}
	m.connectivity = c
	m.publish("session.connectivity_changed", c)
	return true
}

func (m *Machine) publish(kind string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(kind, payload)
}

// PhaseChange is the payload for phase change events.
type PhaseChange struct {
	From Phase
	To   Phase
}
