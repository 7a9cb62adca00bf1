package types

import (
	"time"
)

const (
	// CurrentStateVersion is the current version of the persisted state blob.
	CurrentStateVersion = 2

	// HistoryWindowDays is the maximum number of daily records kept in the
	// consumption and forecast-error histories.
	HistoryWindowDays = 7
)

// DateFormat is the calendar-day key format used in the histories.
const DateFormat = "2006-01-02"

// DayPrices holds the hourly spot prices for one calendar day. The map may
// be partial; absent hours simply have no price published yet.
type DayPrices struct {
	Date  string          `json:"date"` // YYYY-MM-DD, local
	Hours map[int]float64 `json:"hours"`
}

// Price returns the price for the given hour and whether it is known.
func (d DayPrices) Price(hour int) (float64, bool) {
	p, ok := d.Hours[hour]
	return p, ok
}

// ForecastRecord is one day of solar forecast versus actual production.
type ForecastRecord struct {
	Date        string  `json:"date"`
	ForecastKWH float64 `json:"forecastKWH"`
	ActualKWH   float64 `json:"actualKWH"`
	// ErrorPct is (forecast-actual)/forecast, 0 when forecast is 0.
	// Positive means the forecast overestimated production.
	ErrorPct float64 `json:"errorPct"`
}

// ConsumptionRecord is one day of total home consumption.
type ConsumptionRecord struct {
	Date string  `json:"date"`
	KWH  float64 `json:"kwh"`
}

// BatteryState is a live snapshot of the battery. CapacityKWH is always read
// from the inverter, never persisted.
type BatteryState struct {
	SOC         float64 `json:"soc"`         // 0-100
	CapacityKWH float64 `json:"capacityKWH"` // total capacity (kWh)
	MinSOC      float64 `json:"minSOC"`      // configured discharge floor (0-100)
	MaxLevel    float64 `json:"maxLevel"`    // configured charge ceiling (0-100)
}

// UsableCapacityKWH returns the energy between the configured discharge
// floor and charge ceiling.
func (b BatteryState) UsableCapacityKWH() float64 {
	u := b.CapacityKWH * (b.MaxLevel - b.MinSOC) / 100.0
	if u < 0 {
		return 0
	}
	return u
}

// UsableKWH returns the energy currently stored above the discharge floor.
func (b BatteryState) UsableKWH() float64 {
	u := b.CapacityKWH * (b.SOC - b.MinSOC) / 100.0
	if u < 0 {
		return 0
	}
	return u
}

// InverterMode is an inverter operating mode.
type InverterMode string

const (
	// ModeSelfUse lets the inverter run the home from solar and battery.
	ModeSelfUse InverterMode = "selfUse"
	// ModeManual hands charge control to us.
	ModeManual InverterMode = "manual"
)

// ChargeCommand is a manual-mode charge instruction for the inverter.
type ChargeCommand string

const (
	CommandForceCharge ChargeCommand = "forceCharge"
	CommandStopCharge  ChargeCommand = "stopCharge"
)

// PriceStatus classifies an hourly price against the configured maximum
// charge price.
type PriceStatus string

const (
	PriceVeryCheap PriceStatus = "veryCheap"
	PriceCheap     PriceStatus = "cheap"
	PriceNormal    PriceStatus = "normal"
	PriceExpensive PriceStatus = "expensive"
)

// SessionResult records why a charge session ended.
type SessionResult string

const (
	ResultTargetReached SessionResult = "targetReached"
	ResultWindowEnded   SessionResult = "windowEnded"
	ResultMorningSafety SessionResult = "morningSafety"
	ResultDisabled      SessionResult = "disabled"
	ResultError         SessionResult = "error"
)

// ChargeSession is the record of one charge execution. It is opened when
// charging starts and sealed when the controller leaves the charging state.
type ChargeSession struct {
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	StartSOC  float64       `json:"startSOC"`
	EndSOC    float64       `json:"endSOC"`
	AvgPrice  float64       `json:"avgPrice"`
	Result    SessionResult `json:"result"`
	Error     string        `json:"error,omitempty"`
}

// KWHCharged derives the charged energy from the SOC delta.
func (s ChargeSession) KWHCharged(capacityKWH float64) float64 {
	if s.EndSOC <= s.StartSOC {
		return 0
	}
	return (s.EndSOC - s.StartSOC) / 100.0 * capacityKWH
}

// Cost returns the approximate cost of the session.
func (s ChargeSession) Cost(capacityKWH float64) float64 {
	return s.KWHCharged(capacityKWH) * s.AvgPrice
}

// PersistedState is the durable state owned by the planner core and written
// through the storage provider.
type PersistedState struct {
	Version              int                 `json:"version"`
	ConsumptionHistory   []ConsumptionRecord `json:"consumptionHistory"`
	ForecastErrorHistory []ForecastRecord    `json:"forecastErrorHistory"`
	LastSession          *ChargeSession      `json:"lastSession,omitempty"`
	Enabled              bool                `json:"enabled"`
}

// MigrateState migrates an older persisted blob to the current version. It
// returns the migrated state and whether anything changed.
func MigrateState(s PersistedState) (PersistedState, bool) {
	if s.Version >= CurrentStateVersion {
		return s, false
	}
	for version := s.Version + 1; version <= CurrentStateVersion; version++ {
		switch version {
		case 1:
			// version 1: initial blob
		case 2:
			// version 2: master switch added, defaults to on for existing
			// installs
			s.Enabled = true
		}
	}
	s.Version = CurrentStateVersion
	return s, true
}
