package prices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nightwatt/nightwatt/pkg/types"
)

// ErrNotAvailable is returned when a day's prices have not been published
// yet. Callers should retry later rather than treat it as a failure.
var ErrNotAvailable = errors.New("prices not available yet")

// Source defines the interface for fetching day-ahead spot prices.
type Source interface {
	// DayPrices returns the hourly prices for the local calendar day of
	// date. It returns ErrNotAvailable if the day has not been published.
	DayPrices(ctx context.Context, date time.Time) (types.DayPrices, error)
}

// Configured sets up the price sources based on flags.
func Configured() *Map {
	m := NewMap()
	m.SetSource("spot", configuredSpot())
	return m
}

// Map manages multiple price sources.
type Map struct {
	mu      sync.Mutex
	sources map[string]Source
}

// NewMap creates a new price source Map.
func NewMap() *Map {
	return &Map{
		sources: make(map[string]Source),
	}
}

// Source returns the source for the given name.
func (m *Map) Source(name string) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src, ok := m.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("unknown price source: %s", name)
}

// SetSource sets the source for the given name. This is primarily used for testing.
func (m *Map) SetSource(name string, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = src
}
