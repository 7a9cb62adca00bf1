package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatteryStateUsable(t *testing.T) {
	b := BatteryState{
		SOC:         50,
		CapacityKWH: 15,
		MinSOC:      20,
		MaxLevel:    90,
	}
	assert.InDelta(t, 10.5, b.UsableCapacityKWH(), 0.001)
	assert.InDelta(t, 4.5, b.UsableKWH(), 0.001)

	t.Run("below floor", func(t *testing.T) {
		b.SOC = 10
		assert.Equal(t, 0.0, b.UsableKWH())
	})

	t.Run("inverted bounds", func(t *testing.T) {
		b.MinSOC = 95
		assert.Equal(t, 0.0, b.UsableCapacityKWH())
	})
}

func TestChargeSession(t *testing.T) {
	s := ChargeSession{
		StartTime: time.Date(2026, 1, 10, 22, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 1, 11, 2, 0, 0, 0, time.UTC),
		StartSOC:  30,
		EndSOC:    90,
		AvgPrice:  0.5,
		Result:    ResultTargetReached,
	}
	assert.InDelta(t, 9.0, s.KWHCharged(15), 0.001)
	assert.InDelta(t, 4.5, s.Cost(15), 0.001)

	t.Run("no charge on soc drop", func(t *testing.T) {
		s.EndSOC = 25
		assert.Equal(t, 0.0, s.KWHCharged(15))
	})
}

func TestPlanInWindow(t *testing.T) {
	p := Plan{
		Kind:            PlanScheduled,
		WindowStartHour: 22,
		WindowEndHour:   6,
	}
	assert.True(t, p.InWindow(22))
	assert.True(t, p.InWindow(23))
	assert.True(t, p.InWindow(0))
	assert.True(t, p.InWindow(5))
	assert.False(t, p.InWindow(6))
	assert.False(t, p.InWindow(12))

	t.Run("non-wrapping", func(t *testing.T) {
		p.WindowStartHour = 1
		p.WindowEndHour = 5
		assert.True(t, p.InWindow(1))
		assert.True(t, p.InWindow(4))
		assert.False(t, p.InWindow(5))
		assert.False(t, p.InWindow(23))
	})

	t.Run("not scheduled", func(t *testing.T) {
		p.Kind = PlanNoChargeNeeded
		assert.False(t, p.InWindow(2))
	})
}

func TestMigrateState(t *testing.T) {
	t.Run("v0 to current", func(t *testing.T) {
		s, changed := MigrateState(PersistedState{})
		assert.True(t, changed)
		assert.Equal(t, CurrentStateVersion, s.Version)
		assert.True(t, s.Enabled)
	})

	t.Run("no change at current", func(t *testing.T) {
		in := PersistedState{Version: CurrentStateVersion, Enabled: false}
		s, changed := MigrateState(in)
		assert.False(t, changed)
		assert.Equal(t, in, s)
	})
}
