package solar

import (
	"fmt"
	"testing"

	"github.com/nightwatt/nightwatt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrectorRecord(t *testing.T) {
	c := NewCorrector(nil)

	t.Run("idempotent per day", func(t *testing.T) {
		assert.True(t, c.Record("2026-01-10", 10, 6))
		assert.False(t, c.Record("2026-01-10", 12, 8))
		assert.Equal(t, 1, c.DaysTracked())
		assert.InDelta(t, 0.4, c.Records()[0].ErrorPct, 0.0001)
	})

	t.Run("zero forecast has zero error", func(t *testing.T) {
		require.True(t, c.Record("2026-01-11", 0, 5))
		assert.Equal(t, 0.0, c.Records()[1].ErrorPct)
	})

	t.Run("evicts oldest past capacity", func(t *testing.T) {
		c := NewCorrector(nil)
		for i := 0; i < types.HistoryWindowDays+1; i++ {
			require.True(t, c.Record(fmt.Sprintf("2026-01-%02d", i+1), 10, 8))
		}
		assert.Equal(t, types.HistoryWindowDays, c.DaysTracked())
		assert.Equal(t, "2026-01-02", c.Records()[0].Date)
	})
}

func TestCorrectorAdjust(t *testing.T) {
	t.Run("overestimating week", func(t *testing.T) {
		c := NewCorrector(nil)
		for i := 0; i < 7; i++ {
			require.True(t, c.Record(fmt.Sprintf("2026-01-%02d", i+1), 10, 6))
		}
		assert.InDelta(t, 0.4, c.AverageError(), 0.0001)
		assert.InDelta(t, 6.0, c.Adjust(10), 0.0001)
	})

	t.Run("underestimating grows the forecast", func(t *testing.T) {
		c := NewCorrector(nil)
		require.True(t, c.Record("2026-01-10", 10, 12))
		assert.InDelta(t, -0.2, c.AverageError(), 0.0001)
		assert.InDelta(t, 12.0, c.Adjust(10), 0.0001)
	})

	t.Run("cold start is a no-op", func(t *testing.T) {
		c := NewCorrector(nil)
		assert.Equal(t, 0.0, c.AverageError())
		assert.Equal(t, 10.0, c.Adjust(10))
	})
}

func TestNewCorrectorTruncates(t *testing.T) {
	records := make([]types.ForecastRecord, types.HistoryWindowDays+3)
	for i := range records {
		records[i] = types.ForecastRecord{Date: fmt.Sprintf("2026-01-%02d", i+1)}
	}
	c := NewCorrector(records)
	assert.Equal(t, types.HistoryWindowDays, c.DaysTracked())
	assert.Equal(t, "2026-01-04", c.Records()[0].Date)
}
