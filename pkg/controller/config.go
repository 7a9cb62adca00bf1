package controller

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/nightwatt/nightwatt/pkg/consumption"
	"github.com/nightwatt/nightwatt/pkg/inverter"
	"github.com/nightwatt/nightwatt/pkg/notify"
	"github.com/nightwatt/nightwatt/pkg/planner"
	"github.com/nightwatt/nightwatt/pkg/prices"
	"github.com/nightwatt/nightwatt/pkg/solar"
	"github.com/nightwatt/nightwatt/pkg/storage"
)

// Config holds the controller knobs. All of it comes from flags; nothing
// here is persisted.
type Config struct {
	MaxLevel               float64
	MinSOC                 float64
	MaxPowerKW             float64
	MaxPrice               float64
	FallbackConsumptionKWH float64

	// ChargeEfficiency discounts MaxPowerKW for AC to DC conversion
	// losses when sizing the charge window.
	ChargeEfficiency float64

	// WeekendMultiplier scales the consumption average when planning for a
	// Saturday or Sunday morning.
	WeekendMultiplier float64

	WindowStartHour int
	WindowEndHour   int

	SettleDelay     time.Duration
	SocPollInterval time.Duration
	CommandRetries  int

	// Daily trigger hours, local time.
	PriceUpdateHour int
	FallbackHour    int
	RecordHour      int
	SunriseHour     int

	Location *time.Location
}

// Validate rejects configurations the controller cannot run with.
func (c Config) Validate() error {
	if c.WindowStartHour == c.WindowEndHour {
		return fmt.Errorf("charge window is empty: start and end hour are both %d", c.WindowStartHour)
	}
	if c.MinSOC < 0 || c.MaxLevel > 100 || c.MinSOC >= c.MaxLevel {
		return fmt.Errorf("invalid SOC bounds: min %g, max %g", c.MinSOC, c.MaxLevel)
	}
	if c.MaxPowerKW <= 0 {
		return fmt.Errorf("max charge power must be positive, got %g", c.MaxPowerKW)
	}
	if c.ChargeEfficiency <= 0 || c.ChargeEfficiency > 1 {
		return fmt.Errorf("charge efficiency must be in (0, 1], got %g", c.ChargeEfficiency)
	}
	if c.WeekendMultiplier <= 0 {
		return fmt.Errorf("weekend multiplier must be positive, got %g", c.WeekendMultiplier)
	}
	return nil
}

// Configured sets up the controller based on flags.
func Configured(
	inverters *inverter.Map,
	priceSources *prices.Map,
	solarSources *solar.Map,
	meter consumption.Meter,
	db storage.Database,
	notifier notify.Notifier,
) *Controller {
	c := &Controller{
		meter:    meter,
		db:       db,
		notifier: notifier,
		clock:    realClock{},
		sim:      planner.NewSimulator(),
		triggers: make(chan Trigger, 16),
	}

	inverterName := lflag.String("inverter-provider", "modbus", "inverter backend to control")
	priceName := lflag.String("price-source", "spot", "spot price source")
	solarName := lflag.String("solar-source", "forecastsolar", "solar forecast source")

	maxLevel := lflag.Float64("battery-max-level", 90, "charge ceiling in percent")
	minSOC := lflag.Float64("battery-min-soc", 20, "discharge floor in percent")
	maxPower := lflag.Float64("charge-max-power-kw", 10, "maximum grid charge power in kW")
	maxPrice := lflag.Float64("charge-max-price", 4.0, "maximum acceptable average price per kWh, 0 disables the cap")
	fallback := lflag.Float64("fallback-consumption-kwh", 20, "daily consumption estimate used until a week of data exists")
	efficiency := lflag.Float64("charge-efficiency", 0.95, "fraction of grid power that lands in the battery")
	eveningMult := lflag.Float64("consumption-evening-multiplier", 1.5, "evening consumption relative to the daytime base")
	nightMult := lflag.Float64("consumption-night-multiplier", 0.5, "night consumption relative to the daytime base")
	weekendMult := lflag.Float64("consumption-weekend-multiplier", 1.0, "scales the consumption average for weekend mornings")
	windowStart := lflag.Int("window-start-hour", 22, "night charge window start hour, local")
	windowEnd := lflag.Int("window-end-hour", 6, "night charge window end hour, local, exclusive")
	settle := lflag.Duration("inverter-settle-delay", 5*time.Second, "pause between a mode change and the next inverter command")
	socPoll := lflag.Duration("soc-poll-interval", 2*time.Minute, "SOC poll interval while charging")
	retries := lflag.Int("inverter-command-retries", 3, "retries for a failed inverter command before giving up")
	priceHour := lflag.Int("price-update-hour", 14, "hour to plan once day-ahead prices are published")
	fallbackHour := lflag.Int("fallback-plan-hour", 21, "hour to plan with partial data if prices never arrived")
	recordHour := lflag.Int("record-hour", 23, "hour to record daily consumption and forecast accuracy")
	sunriseHour := lflag.Int("sunrise-hour", 7, "local sunrise hour, safety stop fires 15 minutes before it")
	tz := lflag.String("timezone", "Local", "IANA timezone the household runs on")

	lflag.Do(func() {
		var err error
		if c.inv, err = inverters.Inverter(*inverterName); err != nil {
			panic(fmt.Sprintf("unknown inverter provider: %v", err))
		}
		if c.priceSource, err = priceSources.Source(*priceName); err != nil {
			panic(fmt.Sprintf("unknown price source: %v", err))
		}
		if c.solarSource, err = solarSources.Source(*solarName); err != nil {
			panic(fmt.Sprintf("unknown solar source: %v", err))
		}
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Sprintf("failed to load timezone %s: %v", *tz, err))
		}
		c.cfg = Config{
			MaxLevel:               *maxLevel,
			MinSOC:                 *minSOC,
			MaxPowerKW:             *maxPower,
			MaxPrice:               *maxPrice,
			FallbackConsumptionKWH: *fallback,
			ChargeEfficiency:       *efficiency,
			WeekendMultiplier:      *weekendMult,
			WindowStartHour:        *windowStart,
			WindowEndHour:          *windowEnd,
			SettleDelay:            *settle,
			SocPollInterval:        *socPoll,
			CommandRetries:         *retries,
			PriceUpdateHour:        *priceHour,
			FallbackHour:           *fallbackHour,
			RecordHour:             *recordHour,
			SunriseHour:            *sunriseHour,
			Location:               loc,
		}
		c.sim.EveningMultiplier = *eveningMult
		c.sim.NightMultiplier = *nightMult
		if err := c.cfg.Validate(); err != nil {
			panic(fmt.Sprintf("controller configuration invalid: %v", err))
		}
	})

	return c
}
