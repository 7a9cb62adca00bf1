// Package planner decides whether and when to grid-charge the battery
// overnight. ComputePlan is pure: the controller gathers the inputs and the
// same inputs always produce the same plan.
package planner

import (
	"fmt"

	"github.com/nightwatt/nightwatt/pkg/prices"
	"github.com/nightwatt/nightwatt/pkg/types"
)

// Plan reasons surfaced to notifications and the status API.
const (
	ReasonBatteryCovers  = "battery covers tomorrow"
	ReasonTooExpensive   = "prices unavailable or above maximum"
	ReasonDeficit        = "predicted deficit"
	ReasonNegativePrices = "negative prices, charging to full"
)

// Inputs are everything ComputePlan needs for one planning run.
type Inputs struct {
	Date string

	ConsumptionAvgKWH        float64
	AdjustedSolarTomorrowKWH float64
	OvernightNeedKWH         float64

	Battery    types.BatteryState
	MaxPowerKW float64
	MaxPrice   float64

	WindowStartHour int
	WindowEndHour   int

	// HourPrices maps each night-window hour to its spot price. Hours
	// without published prices are absent.
	HourPrices map[int]float64
}

// Validate rejects configurations the planner cannot work with.
func (in Inputs) Validate() error {
	if in.WindowStartHour == in.WindowEndHour {
		return fmt.Errorf("charge window is empty: start and end hour are both %d", in.WindowStartHour)
	}
	if in.WindowStartHour < 0 || in.WindowStartHour > 23 || in.WindowEndHour < 0 || in.WindowEndHour > 23 {
		return fmt.Errorf("charge window hours out of range: %d-%d", in.WindowStartHour, in.WindowEndHour)
	}
	if in.Battery.CapacityKWH <= 0 {
		return fmt.Errorf("battery capacity must be positive, got %g", in.Battery.CapacityKWH)
	}
	if in.MaxPowerKW <= 0 {
		return fmt.Errorf("max charge power must be positive, got %g", in.MaxPowerKW)
	}
	return nil
}

// ComputePlan combines the deficit estimates and the price table into a
// single immutable plan for tonight.
func ComputePlan(in Inputs) types.Plan {
	usable := in.Battery.UsableCapacityKWH()

	dailyDeficit := in.ConsumptionAvgKWH - in.AdjustedSolarTomorrowKWH
	if dailyDeficit < 0 {
		dailyDeficit = 0
	}
	if dailyDeficit > usable {
		dailyDeficit = usable
	}

	chargeNeeded := dailyDeficit
	if in.OvernightNeedKWH > chargeNeeded {
		chargeNeeded = in.OvernightNeedKWH
	}
	if chargeNeeded > usable {
		chargeNeeded = usable
	}

	if chargeNeeded <= 0 {
		return types.Plan{
			Kind:   types.PlanNoChargeNeeded,
			Reason: ReasonBatteryCovers,
			Date:   in.Date,
		}
	}

	hoursNeeded := prices.HoursNeeded(chargeNeeded, in.MaxPowerKW)
	w, ok := prices.CheapestWindow(in.HourPrices, in.WindowStartHour, in.WindowEndHour, hoursNeeded, in.MaxPrice)
	if !ok {
		return types.Plan{
			Kind:   types.PlanNotScheduled,
			Reason: ReasonTooExpensive,
			Date:   in.Date,
		}
	}

	reason := ReasonDeficit
	// paid to take energy off the grid, fill everything we can
	if w.AvgPrice < 0 {
		chargeNeeded = usable
		if fullHours := prices.HoursNeeded(chargeNeeded, in.MaxPowerKW); fullHours > w.Hours {
			if fullW, fullOK := prices.CheapestWindow(in.HourPrices, in.WindowStartHour, in.WindowEndHour, fullHours, in.MaxPrice); fullOK {
				w = fullW
			}
		}
		reason = ReasonNegativePrices
	}

	targetSOC := in.Battery.SOC + chargeNeeded/in.Battery.CapacityKWH*100.0
	if targetSOC > in.Battery.MaxLevel {
		targetSOC = in.Battery.MaxLevel
	}

	source := types.SourceDaily
	if in.OvernightNeedKWH > dailyDeficit {
		source = types.SourceOvernight
	}

	return types.Plan{
		Kind:            types.PlanScheduled,
		WindowStartHour: w.StartHour,
		WindowEndHour:   w.EndHour(),
		WindowHours:     w.Hours,
		ChargeKWH:       chargeNeeded,
		TargetSOC:       targetSOC,
		AvgPrice:        w.AvgPrice,
		Source:          source,
		Reason:          reason,
		Date:            in.Date,
	}
}
