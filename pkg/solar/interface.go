package solar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoForecast is returned when the source has no data for the requested
// day, as opposed to forecasting zero production.
var ErrNoForecast = errors.New("no forecast for day")

// Source defines the interface for fetching solar production forecasts.
type Source interface {
	// Daily returns the forecast production in kWh for the local calendar
	// day of date. Days outside the source's horizon return ErrNoForecast.
	Daily(ctx context.Context, date time.Time) (float64, error)

	// Hourly returns the forecast production in kWh per local hour for the
	// day of date. Sources without hourly resolution return a nil map and
	// no error.
	Hourly(ctx context.Context, date time.Time) (map[int]float64, error)
}

// Configured sets up the solar forecast sources based on flags.
func Configured() *Map {
	m := NewMap()
	m.SetSource("forecastsolar", configuredForecastSolar())
	return m
}

// Map manages multiple forecast sources.
type Map struct {
	mu      sync.Mutex
	sources map[string]Source
}

// NewMap creates a new forecast source Map.
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
	return nil, fmt.Errorf("unknown solar forecast source: %s", name)
}

// SetSource sets the source for the given name. This is primarily used for testing.
func (m *Map) SetSource(name string, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = src
}
