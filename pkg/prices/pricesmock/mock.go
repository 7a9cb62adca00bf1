// Package pricesmock provides a mock implementation of the prices.Source
// interface for testing.
package pricesmock

import (
	"context"
	"time"

	"github.com/nightwatt/nightwatt/pkg/prices"
	"github.com/nightwatt/nightwatt/pkg/types"
	"github.com/stretchr/testify/mock"
)

// Source is a mock implementation of prices.Source.
type Source struct {
	mock.Mock
}

var _ prices.Source = (*Source)(nil)

// DayPrices implements prices.Source.
func (m *Source) DayPrices(ctx context.Context, date time.Time) (types.DayPrices, error) {
	args := m.Called(ctx, date)
	return args.Get(0).(types.DayPrices), args.Error(1)
}
