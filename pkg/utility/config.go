package utility

import (
	"context"
	"fmt"
	"sync"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the utility providers based on flags.
func Configured() *Map {
	m := NewMap()
	name := lflag.String("utility-provider", "octopus", "Supplier that provides meter readings and tariff rates")
	m.SetProvider("octopus", configuredOctopus())
	lflag.Do(func() {
		m.selected = *name
	})
	return m
}

// Map manages multiple utility providers.
type Map struct {
	mu        sync.Mutex
	providers map[string]Provider
	selected  string
}

// NewMap creates a new utility Map.
func NewMap() *Map {
	return &Map{
		providers: make(map[string]Provider),
	}
}

// Provider returns the provider for the given name.
func (m *Map) Provider(name string) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prov, ok := m.providers[name]; ok {
		return prov, nil
	}
	return nil, fmt.Errorf("unknown utility provider: %s", name)
}

// Selected returns the provider chosen by the utility-provider flag after
// validating it. Providers that can discover their meters from the account
// do so here.
func (m *Map) Selected(ctx context.Context) (Provider, error) {
	m.mu.Lock()
	name := m.selected
	m.mu.Unlock()

	prov, err := m.Provider(name)
	if err != nil {
		return nil, err
	}
	if d, ok := prov.(interface{ Discover(context.Context) error }); ok {
		if err := d.Discover(ctx); err != nil {
			return nil, fmt.Errorf("failed to discover %s meters: %w", name, err)
		}
	}
	if err := prov.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s configuration: %w", name, err)
	}
	return prov, nil
}

// SetProvider sets the provider for the given name. This is primarily used for testing.
func (m *Map) SetProvider(name string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = provider
}

// Select picks the provider returned by Selected.
func (m *Map) Select(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = name
}
