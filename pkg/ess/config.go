package ess

import (
	"fmt"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the ESS systems based on flags and selects the one
// named by ess-provider.
func Configured() *Map {
	m := NewMap()
	name := lflag.String("ess-provider", "solaredge", "Telemetry provider for the site (solaredge, givenergy or simulated)")
	timezone := lflag.String("ess-timezone", "Europe/London", "Timezone the telemetry provider reports local times in")

	se := configuredSolarEdge()
	ge := configuredGivEnergy()
	sim := NewSimulated(time.UTC)
	m.SetSystem("solaredge", se)
	m.SetSystem("givenergy", ge)
	m.SetSystem("simulated", sim)

	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid ess-timezone %q: %v", *timezone, err))
		}
		se.loc = loc
		ge.loc = loc
		sim.loc = loc
		m.selected = *name
	})
	return m
}

// Map manages the available ESS systems.
type Map struct {
	mu       sync.Mutex
	systems  map[string]System
	selected string
}

// NewMap creates a new ESS Map.
func NewMap() *Map {
	return &Map{
		systems: make(map[string]System),
	}
}

// System returns the system for the given name.
func (m *Map) System(name string) (System, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sys, ok := m.systems[name]; ok {
		return sys, nil
	}
	return nil, fmt.Errorf("unknown ess provider: %s", name)
}

// Selected returns the validated system chosen by ess-provider.
func (m *Map) Selected() (System, error) {
	m.mu.Lock()
	name := m.selected
	m.mu.Unlock()

	sys, err := m.System(name)
	if err != nil {
		return nil, err
	}
	if err := sys.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s configuration: %w", name, err)
	}
	return sys, nil
}

// Select picks the system returned by Selected.
func (m *Map) Select(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = name
}

// SetSystem sets the system for a name. This is primarily used for testing.
func (m *Map) SetSystem(name string, sys System) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systems[name] = sys
}
