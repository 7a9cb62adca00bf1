// Package invertermock provides a mock implementation of the
// inverter.Inverter interface for testing.
package invertermock

import (
	"context"

	"github.com/nightwatt/nightwatt/pkg/inverter"
	"github.com/nightwatt/nightwatt/pkg/types"
	"github.com/stretchr/testify/mock"
)

// Inverter is a mock implementation of inverter.Inverter.
type Inverter struct {
	mock.Mock
}

var _ inverter.Inverter = (*Inverter)(nil)

// SetMode implements inverter.Inverter.
func (m *Inverter) SetMode(ctx context.Context, mode types.InverterMode) error {
	args := m.Called(ctx, mode)
	return args.Error(0)
}

// SetChargeCommand implements inverter.Inverter.
func (m *Inverter) SetChargeCommand(ctx context.Context, cmd types.ChargeCommand) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}

// SetDischargeMinSOC implements inverter.Inverter.
func (m *Inverter) SetDischargeMinSOC(ctx context.Context, pct float64) error {
	args := m.Called(ctx, pct)
	return args.Error(0)
}

// SOC implements inverter.Inverter.
func (m *Inverter) SOC(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

// CapacityKWH implements inverter.Inverter.
func (m *Inverter) CapacityKWH(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}
