package planner

import (
	"testing"

	"github.com/nightwatt/nightwatt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourlyConsumption(t *testing.T) {
	s := NewSimulator()
	daily := 20.0
	base := daily / (12 + 5*s.EveningMultiplier + 7*s.NightMultiplier)

	assert.InDelta(t, base, s.HourlyConsumption(daily, 12), 0.0001)
	assert.InDelta(t, base*s.EveningMultiplier, s.HourlyConsumption(daily, 19), 0.0001)
	assert.InDelta(t, base*s.NightMultiplier, s.HourlyConsumption(daily, 2), 0.0001)
	assert.InDelta(t, base*s.NightMultiplier, s.HourlyConsumption(daily, 23), 0.0001)

	// the profile must add back up to the daily total
	var sum float64
	for hour := 0; hour < 24; hour++ {
		sum += s.HourlyConsumption(daily, hour)
	}
	assert.InDelta(t, daily, sum, 0.0001)
}

func TestEstimateAtWindowStart(t *testing.T) {
	s := NewSimulator()
	assert.InDelta(t, 4.0, s.EstimateAtWindowStart(5, 3, 2), 0.0001)
	assert.Equal(t, 0.0, s.EstimateAtWindowStart(1, 5, 1))
}

func TestRampHour(t *testing.T) {
	s := NewSimulator()

	t.Run("hourly forecast wins", func(t *testing.T) {
		hourly := map[int]float64{7: 0.1, 8: 5.0, 9: 6.0}
		assert.Equal(t, 8, s.RampHour(20, hourly, 6, true, 6))
	})

	t.Run("sunrise fallback", func(t *testing.T) {
		assert.Equal(t, 8, s.RampHour(20, nil, 6, true, 6))
	})

	t.Run("window end fallback", func(t *testing.T) {
		assert.Equal(t, 9, s.RampHour(20, nil, 0, false, 6))
	})
}

func TestSimulate(t *testing.T) {
	s := NewSimulator()
	flat := func(int) float64 { return 1.0 }

	t.Run("deficit night", func(t *testing.T) {
		// 1 kWh drain for hours 0-7, solar takes over at hour 8
		need, hours := s.Simulate(3, 0, 8, flat, nil)
		assert.InDelta(t, 5.0, need, 0.0001)
		require.Len(t, hours, 8)
		assert.InDelta(t, -5.0, hours[7].BalanceKWH, 0.0001)
	})

	t.Run("battery survives", func(t *testing.T) {
		need, _ := s.Simulate(10, 0, 8, flat, nil)
		assert.Equal(t, 0.0, need)
	})

	t.Run("wraps midnight", func(t *testing.T) {
		need, hours := s.Simulate(2, 22, 2, flat, nil)
		assert.InDelta(t, 2.0, need, 0.0001)
		require.Len(t, hours, 4)
		assert.Equal(t, 22, hours[0].Hour)
		assert.Equal(t, 1, hours[3].Hour)
	})

	t.Run("solar offsets drain", func(t *testing.T) {
		hourly := map[int]float64{6: 0.5, 7: 0.5}
		need, _ := s.Simulate(3, 0, 8, flat, hourly)
		assert.InDelta(t, 4.0, need, 0.0001)
	})

	t.Run("bounded walk", func(t *testing.T) {
		s := NewSimulator()
		s.MaxHours = 4
		_, hours := s.Simulate(3, 0, 12, flat, nil)
		assert.Len(t, hours, 4)
	})
}

func TestOvernightNeed(t *testing.T) {
	s := NewSimulator()
	battery := types.BatteryState{SOC: 40, CapacityKWH: 15, MinSOC: 20, MaxLevel: 90}

	need, hours := s.OvernightNeed(battery, 2, 0, 20, 22, 6, nil, 6, true)
	assert.Greater(t, need, 0.0)
	assert.NotEmpty(t, hours)

	t.Run("full battery needs nothing", func(t *testing.T) {
		battery.SOC = 90
		need, _ := s.OvernightNeed(battery, 0, 2, 5, 22, 6, nil, 6, true)
		assert.Equal(t, 0.0, need)
	})
}
