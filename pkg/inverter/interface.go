// Package inverter talks to the battery inverter. The controller only uses
// the small capability set in Inverter; any backend satisfying it is
// interchangeable.
package inverter

import (
	"context"
	"fmt"
	"sync"

	"github.com/nightwatt/nightwatt/pkg/types"
)

// Inverter defines the interface for controlling a hybrid inverter.
type Inverter interface {
	// SetMode switches the inverter operating mode.
	SetMode(ctx context.Context, mode types.InverterMode) error

	// SetChargeCommand starts or stops grid charging. Only meaningful in
	// manual mode.
	SetChargeCommand(ctx context.Context, cmd types.ChargeCommand) error

	// SetDischargeMinSOC sets the discharge floor in percent.
	SetDischargeMinSOC(ctx context.Context, pct float64) error

	// SOC returns the current state of charge in percent.
	SOC(ctx context.Context) (float64, error)

	// CapacityKWH returns the total battery capacity.
	CapacityKWH(ctx context.Context) (float64, error)
}

// Configured sets up the inverter backends based on flags.
func Configured() *Map {
	m := NewMap()
	m.SetInverter("modbus", configuredModbus())
	return m
}

// Map manages multiple inverter backends.
type Map struct {
	mu        sync.Mutex
	inverters map[string]Inverter
}

// NewMap creates a new inverter Map.
func NewMap() *Map {
	return &Map{
		inverters: make(map[string]Inverter),
	}
}

// Inverter returns the backend for the given name.
func (m *Map) Inverter(name string) (Inverter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv, ok := m.inverters[name]; ok {
		return inv, nil
	}
	return nil, fmt.Errorf("unknown inverter backend: %s", name)
}

// SetInverter sets the backend for the given name. This is primarily used for testing.
func (m *Map) SetInverter(name string, inv Inverter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inverters[name] = inv
}
