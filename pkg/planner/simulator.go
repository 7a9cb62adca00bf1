package planner

import (
	"github.com/nightwatt/nightwatt/pkg/types"
)

// Day period boundaries for the consumption profile. Households use little
// overnight, the most in the evening, and a steady base during the day.
const (
	dayStartHour     = 6
	eveningStartHour = 18
	nightStartHour   = 23

	dayHours     = 12
	eveningHours = 5
	nightHours   = 7
)

// SimHour is one row of the overnight walk, kept for observability.
type SimHour struct {
	Hour           int     `json:"hour"`
	ConsumptionKWH float64 `json:"consumptionKWH"`
	SolarKWH       float64 `json:"solarKWH"`
	BalanceKWH     float64 `json:"balanceKWH"`
}

// Simulator walks the battery balance hour by hour through the dark part of
// the night to find how much extra energy is needed to not hit empty before
// solar takes over in the morning.
type Simulator struct {
	// EveningMultiplier scales the 18-23 period against the daytime base.
	EveningMultiplier float64
	// NightMultiplier scales the 23-06 period against the daytime base.
	NightMultiplier float64
	// MaxHours caps the walk as a guard against bad ramp data.
	MaxHours int
}

// NewSimulator returns a Simulator with the default consumption profile.
func NewSimulator() Simulator {
	return Simulator{
		EveningMultiplier: 1.5,
		NightMultiplier:   0.5,
		MaxHours:          16,
	}
}

// HourlyConsumption splits a daily total across the three day periods and
// returns the estimate for one hour.
func (s Simulator) HourlyConsumption(dailyKWH float64, hour int) float64 {
	base := dailyKWH / (dayHours + eveningHours*s.EveningMultiplier + nightHours*s.NightMultiplier)
	switch {
	case hour >= dayStartHour && hour < eveningStartHour:
		return base
	case hour >= eveningStartHour && hour < nightStartHour:
		return base * s.EveningMultiplier
	default:
		return base * s.NightMultiplier
	}
}

// EstimateAtWindowStart projects the usable battery energy at the start of
// the charge window from the current state. Clamped to zero; the battery
// cannot go below its floor before the window either.
func (s Simulator) EstimateAtWindowStart(currentUsableKWH, consumptionUntilWindowKWH, remainingSolarTodayKWH float64) float64 {
	est := currentUsableKWH - consumptionUntilWindowKWH + remainingSolarTodayKWH
	if est < 0 {
		return 0
	}
	return est
}

// RampHour resolves the morning hour at which solar starts covering
// consumption. Preference order: per-hour forecast data, sunrise plus two
// hours, window end plus three hours. Each is a fallback for missing data,
// not a blend.
func (s Simulator) RampHour(dailyConsumptionKWH float64, hourlySolar map[int]float64, sunriseHour int, haveSunrise bool, windowEndHour int) int {
	if len(hourlySolar) > 0 {
		for hour := 0; hour < 24; hour++ {
			if hourlySolar[hour] >= s.HourlyConsumption(dailyConsumptionKWH, hour) && hourlySolar[hour] > 0 {
				return hour
			}
		}
	}
	if haveSunrise {
		return (sunriseHour + 2) % 24
	}
	return (windowEndHour + 3) % 24
}

// Simulate walks from startHour to rampHour subtracting the hourly net
// drain, tracking the minimum balance reached. The returned need is the
// grid energy required to keep the balance at or above zero the whole way.
func (s Simulator) Simulate(batteryAtStartKWH float64, startHour, rampHour int, consumptionAt func(hour int) float64, hourlySolar map[int]float64) (float64, []SimHour) {
	balance := batteryAtStartKWH
	minBalance := balance

	maxHours := s.MaxHours
	if maxHours <= 0 {
		maxHours = 16
	}

	var hours []SimHour
	for hour, n := startHour, 0; hour != rampHour && n < maxHours; hour, n = (hour+1)%24, n+1 {
		cons := consumptionAt(hour)
		solar := hourlySolar[hour]
		balance -= cons - solar
		if balance < minBalance {
			minBalance = balance
		}
		hours = append(hours, SimHour{
			Hour:           hour,
			ConsumptionKWH: cons,
			SolarKWH:       solar,
			BalanceKWH:     balance,
		})
	}

	need := 0.0
	if minBalance < 0 {
		need = -minBalance
	}
	return need, hours
}

// OvernightNeed is the full estimate pipeline for one night: project the
// battery to window start, resolve the ramp hour, and walk the dark hours.
func (s Simulator) OvernightNeed(battery types.BatteryState, consumptionUntilWindowKWH, remainingSolarTodayKWH, dailyConsumptionKWH float64, startHour, windowEndHour int, hourlySolar map[int]float64, sunriseHour int, haveSunrise bool) (float64, []SimHour) {
	atStart := s.EstimateAtWindowStart(battery.UsableKWH(), consumptionUntilWindowKWH, remainingSolarTodayKWH)
	ramp := s.RampHour(dailyConsumptionKWH, hourlySolar, sunriseHour, haveSunrise, windowEndHour)
	return s.Simulate(atStart, startHour, ramp, func(hour int) float64 {
		return s.HourlyConsumption(dailyConsumptionKWH, hour)
	}, hourlySolar)
}
