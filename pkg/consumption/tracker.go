package consumption

import (
	"github.com/nightwatt/nightwatt/pkg/types"
)

// Tracker keeps the last week of daily household consumption and produces
// the average the planner works from. Until a first day has been recorded it
// falls back to a configured estimate.
type Tracker struct {
	records []types.ConsumptionRecord
}

// NewTracker creates a Tracker from previously persisted records.
func NewTracker(records []types.ConsumptionRecord) *Tracker {
	if len(records) > types.HistoryWindowDays {
		records = records[len(records)-types.HistoryWindowDays:]
	}
	return &Tracker{records: records}
}

// Record inserts one day of consumption. A day already recorded is ignored,
// as are non-positive readings, which a cumulative meter publishes right
// after its midnight reset. The oldest record is evicted once the history is
// full. It returns whether the history changed.
func (t *Tracker) Record(date string, kwh float64) bool {
	if kwh <= 0 {
		return false
	}
	for _, r := range t.records {
		if r.Date == date {
			return false
		}
	}
	t.records = append(t.records, types.ConsumptionRecord{Date: date, KWH: kwh})
	if len(t.records) > types.HistoryWindowDays {
		t.records = t.records[1:]
	}
	return true
}

// Average returns the mean daily consumption, or fallbackKWH while the
// history is empty.
func (t *Tracker) Average(fallbackKWH float64) float64 {
	if len(t.records) == 0 {
		return fallbackKWH
	}
	var sum float64
	for _, r := range t.records {
		sum += r.KWH
	}
	return sum / float64(len(t.records))
}

// DaysTracked returns how many days of data the tracker holds.
func (t *Tracker) DaysTracked() int {
	return len(t.records)
}

// UsingFallback reports whether Average would return the fallback.
func (t *Tracker) UsingFallback() bool {
	return len(t.records) == 0
}

// Records returns the history for persistence.
func (t *Tracker) Records() []types.ConsumptionRecord {
	return t.records
}
