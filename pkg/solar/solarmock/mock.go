// Package solarmock provides a mock implementation of the solar.Source
// interface for testing.
package solarmock

import (
	"context"
	"time"

	"github.com/nightwatt/nightwatt/pkg/solar"
	"github.com/stretchr/testify/mock"
)

// Source is a mock implementation of solar.Source.
type Source struct {
	mock.Mock
}

var _ solar.Source = (*Source)(nil)

// Daily implements solar.Source.
func (m *Source) Daily(ctx context.Context, date time.Time) (float64, error) {
	args := m.Called(ctx, date)
	return args.Get(0).(float64), args.Error(1)
}

// Hourly implements solar.Source.
func (m *Source) Hourly(ctx context.Context, date time.Time) (map[int]float64, error) {
	args := m.Called(ctx, date)
	if h := args.Get(0); h != nil {
		return h.(map[int]float64), args.Error(1)
	}
	return nil, args.Error(1)
}
