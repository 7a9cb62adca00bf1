package solar

import (
	"github.com/nightwatt/nightwatt/pkg/types"
)

// Corrector tracks how far the solar forecast has been off over the last
// week and adjusts new forecasts accordingly. Forecasts routinely
// overestimate cloudy stretches and underestimate clear ones; the correction
// works in both directions.
type Corrector struct {
	records []types.ForecastRecord
}

// NewCorrector creates a Corrector from previously persisted records.
func NewCorrector(records []types.ForecastRecord) *Corrector {
	if len(records) > types.HistoryWindowDays {
		records = records[len(records)-types.HistoryWindowDays:]
	}
	return &Corrector{records: records}
}

// Record inserts one day of forecast-vs-actual data. A day already recorded
// is ignored. The oldest record is evicted once the history is full. It
// returns whether the history changed.
func (c *Corrector) Record(date string, forecastKWH, actualKWH float64) bool {
	for _, r := range c.records {
		if r.Date == date {
			return false
		}
	}
	var errorPct float64
	if forecastKWH != 0 {
		errorPct = (forecastKWH - actualKWH) / forecastKWH
	}
	c.records = append(c.records, types.ForecastRecord{
		Date:        date,
		ForecastKWH: forecastKWH,
		ActualKWH:   actualKWH,
		ErrorPct:    errorPct,
	})
	if len(c.records) > types.HistoryWindowDays {
		c.records = c.records[1:]
	}
	return true
}

// AverageError returns the mean forecast error. Positive means forecasts
// have been overestimating. An empty history means no correction.
func (c *Corrector) AverageError() float64 {
	if len(c.records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range c.records {
		sum += r.ErrorPct
	}
	return sum / float64(len(c.records))
}

// Adjust scales a forecast by the observed average error.
func (c *Corrector) Adjust(forecastKWH float64) float64 {
	return forecastKWH * (1 - c.AverageError())
}

// DaysTracked returns how many days of data the corrector holds.
func (c *Corrector) DaysTracked() int {
	return len(c.records)
}

// Records returns the history for persistence.
func (c *Corrector) Records() []types.ForecastRecord {
	return c.records
}
