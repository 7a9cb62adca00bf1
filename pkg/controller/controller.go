// Package controller runs the nightly charge cycle: it plans once prices
// arrive, executes the plan against the inverter, and always leaves the
// inverter in Self-Use before the morning.
//
// All state is written from a single goroutine consuming triggers one at a
// time, so no transition can observe another mid-flight.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/nightwatt/nightwatt/pkg/consumption"
	"github.com/nightwatt/nightwatt/pkg/inverter"
	"github.com/nightwatt/nightwatt/pkg/log"
	"github.com/nightwatt/nightwatt/pkg/notify"
	"github.com/nightwatt/nightwatt/pkg/planner"
	"github.com/nightwatt/nightwatt/pkg/prices"
	"github.com/nightwatt/nightwatt/pkg/solar"
	"github.com/nightwatt/nightwatt/pkg/storage"
	"github.com/nightwatt/nightwatt/pkg/types"
)

// Trigger is one discrete event the controller reacts to.
type Trigger string

const (
	TriggerPriceUpdate Trigger = "priceUpdate"
	TriggerFallback    Trigger = "fallbackPlan"
	TriggerTick        Trigger = "tick"
	TriggerSocPoll     Trigger = "socPoll"
	TriggerSunrise     Trigger = "sunriseSafety"
	TriggerRecord      Trigger = "recordHistory"
	TriggerSwitchOn    Trigger = "switchOn"
	TriggerSwitchOff   Trigger = "switchOff"
)

// tickInterval is how often the loop wakes to check for due triggers.
const tickInterval = 30 * time.Second

// safetyLeadTime is how long before sunrise the safety stop fires.
const safetyLeadTime = 15 * time.Minute

// Controller owns the plan, the histories, and the state machine.
type Controller struct {
	cfg         Config
	inv         inverter.Inverter
	priceSource prices.Source
	solarSource solar.Source
	meter       consumption.Meter
	db          storage.Database
	notifier    notify.Notifier
	clock       Clock
	sim         planner.Simulator

	triggers chan Trigger

	// mu guards the fields below. Only the trigger loop writes them;
	// Status reads them.
	mu          sync.Mutex
	machine     *fsm.FSM
	plan        types.Plan
	session     *types.ChargeSession
	lastSession *types.ChargeSession
	tracker     *consumption.Tracker
	corrector   *solar.Corrector
	battery     types.BatteryState
	enabled     bool
	lastErr     string

	lastSocPoll    time.Time
	lastPlanDate   string
	lastFallDate   string
	lastSafetyDate string
	lastRecordDate string
}

// Init loads persisted state and prepares the state machine. It must be
// called before Run.
func (c *Controller) Init(ctx context.Context) error {
	state, err := c.db.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	state, migrated := types.MigrateState(state)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracker = consumption.NewTracker(state.ConsumptionHistory)
	c.corrector = solar.NewCorrector(state.ForecastErrorHistory)
	c.lastSession = state.LastSession
	c.enabled = state.Enabled

	initial := StateIdle
	if !state.Enabled {
		initial = StateDisabled
	}
	c.machine = newMachine(initial)

	if migrated {
		c.persistState(ctx)
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"controller initialized",
		slog.String("state", initial),
		slog.Int("consumptionDays", c.tracker.DaysTracked()),
		slog.Int("forecastDays", c.corrector.DaysTracked()),
	)
	return nil
}

// Run consumes triggers until ctx is cancelled. Timer-driven triggers are
// derived from the injected clock so tests can replay a night.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trigger := <-c.triggers:
			c.Handle(ctx, trigger)
		case <-c.clock.After(tickInterval):
			for _, trigger := range c.dueTriggers(c.clock.Now().In(c.cfg.Location)) {
				c.Handle(ctx, trigger)
			}
		}
	}
}

// SetEnabled flips the master switch. The change is applied by the trigger
// loop, never inline.
func (c *Controller) SetEnabled(enabled bool) {
	if enabled {
		c.triggers <- TriggerSwitchOn
	} else {
		c.triggers <- TriggerSwitchOff
	}
}

// Replan asks the loop for a fresh planning run.
func (c *Controller) Replan() {
	c.triggers <- TriggerPriceUpdate
}

// dueTriggers returns the timer-driven triggers that should fire now.
func (c *Controller) dueTriggers(now time.Time) []Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()

	date := now.Format(types.DateFormat)
	var due []Trigger

	safetyAt := time.Date(now.Year(), now.Month(), now.Day(), c.cfg.SunriseHour, 0, 0, 0, now.Location()).Add(-safetyLeadTime)
	if !now.Before(safetyAt) && c.lastSafetyDate != date {
		c.lastSafetyDate = date
		due = append(due, TriggerSunrise)
	}

	if now.Hour() >= c.cfg.PriceUpdateHour && c.lastPlanDate != date {
		c.lastPlanDate = date
		due = append(due, TriggerPriceUpdate)
	}

	if now.Hour() >= c.cfg.FallbackHour && c.lastFallDate != date {
		c.lastFallDate = date
		due = append(due, TriggerFallback)
	}

	if now.Hour() >= c.cfg.RecordHour && c.lastRecordDate != date {
		c.lastRecordDate = date
		due = append(due, TriggerRecord)
	}

	if c.machine.Current() == StateCharging && now.Sub(c.lastSocPoll) >= c.cfg.SocPollInterval {
		c.lastSocPoll = now
		due = append(due, TriggerSocPoll)
	}

	due = append(due, TriggerTick)
	return due
}

// Handle processes one trigger to completion.
func (c *Controller) Handle(ctx context.Context, trigger Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx = log.WithAttrs(ctx,
		slog.String("trigger", string(trigger)),
		slog.String("state", c.machine.Current()),
	)

	switch trigger {
	case TriggerSwitchOff:
		c.handleSwitchOff(ctx)
	case TriggerSwitchOn:
		c.handleSwitchOn(ctx)
	case TriggerSunrise:
		c.handleSunriseSafety(ctx)
	case TriggerPriceUpdate:
		c.handlePlanning(ctx, false)
	case TriggerFallback:
		c.handlePlanning(ctx, true)
	case TriggerRecord:
		c.handleRecord(ctx)
	case TriggerSocPoll:
		c.handleSocPoll(ctx)
	case TriggerTick:
		c.handleTick(ctx)
	default:
		log.Ctx(ctx).WarnContext(ctx, "unknown trigger")
	}
}

// handleSwitchOff stops any active charge and parks the controller. Always
// honored immediately.
func (c *Controller) handleSwitchOff(ctx context.Context) {
	if c.machine.Current() == StateDisabled {
		return
	}

	if c.machine.Current() == StateCharging {
		if err := c.command(ctx, func(ctx context.Context) error {
			return c.inv.SetChargeCommand(ctx, types.CommandStopCharge)
		}); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to stop charge on disable", slog.Any("error", err))
		}
		c.sealSession(ctx, types.ResultDisabled, "")
	}
	if err := c.command(ctx, func(ctx context.Context) error {
		return c.inv.SetMode(ctx, types.ModeSelfUse)
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to restore self-use on disable", slog.Any("error", err))
	}

	c.plan = types.Plan{}
	c.enabled = false
	if err := transition(ctx, c.machine, eventDisable); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "disable transition failed", slog.Any("error", err))
	}
	c.persistState(ctx)
	log.Ctx(ctx).InfoContext(ctx, "controller disabled")
}

// handleSwitchOn re-enables the controller and asks for a fresh plan.
func (c *Controller) handleSwitchOn(ctx context.Context) {
	if c.machine.Current() != StateDisabled {
		return
	}
	c.enabled = true
	if err := transition(ctx, c.machine, eventEnable); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "enable transition failed", slog.Any("error", err))
		return
	}
	c.persistState(ctx)
	log.Ctx(ctx).InfoContext(ctx, "controller enabled")
	c.handlePlanning(ctx, false)
}

// handleSunriseSafety guarantees the inverter is back in Self-Use before
// the solar day starts, whatever happened overnight.
func (c *Controller) handleSunriseSafety(ctx context.Context) {
	switch c.machine.Current() {
	case StateDisabled:
		// the switch-off path already restored self-use
		return
	case StateCharging:
		if err := c.command(ctx, func(ctx context.Context) error {
			return c.inv.SetChargeCommand(ctx, types.CommandStopCharge)
		}); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to stop charge at sunrise", slog.Any("error", err))
		}
		if err := c.command(ctx, func(ctx context.Context) error {
			return c.inv.SetMode(ctx, types.ModeSelfUse)
		}); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to restore self-use at sunrise", slog.Any("error", err))
		}
		c.sealSession(ctx, types.ResultMorningSafety, "")
		if err := transition(ctx, c.machine, eventSafetyStop); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "safety transition failed", slog.Any("error", err))
		}
	case StateScheduled:
		// never started, clear the plan and make sure the mode is sane
		if err := c.command(ctx, func(ctx context.Context) error {
			return c.inv.SetMode(ctx, types.ModeSelfUse)
		}); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to restore self-use at sunrise", slog.Any("error", err))
		}
		c.plan = types.Plan{}
		if err := transition(ctx, c.machine, eventSafetyClear); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "safety transition failed", slog.Any("error", err))
		}
	default:
		// idle or complete, nothing in flight but Self-Use is still
		// asserted so a missed stop can never leak into the day
		if err := c.command(ctx, func(ctx context.Context) error {
			return c.inv.SetMode(ctx, types.ModeSelfUse)
		}); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to assert self-use at sunrise", slog.Any("error", err))
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "sunrise safety processed", slog.String("newState", c.machine.Current()))
}

// handlePlanning runs one planning pass. With partial set, missing price
// data is tolerated; otherwise planning defers until prices exist.
func (c *Controller) handlePlanning(ctx context.Context, partial bool) {
	if !c.enabled {
		return
	}

	// a finished session is sealed away at the next planning pass
	if c.machine.Current() == StateComplete {
		if err := transition(ctx, c.machine, eventReset); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "reset transition failed", slog.Any("error", err))
			return
		}
	}
	if c.machine.Current() == StateCharging {
		// never replan under an active charge
		return
	}

	now := c.clock.Now().In(c.cfg.Location)

	battery, err := c.readBattery(ctx)
	if err != nil {
		c.lastErr = err.Error()
		log.Ctx(ctx).ErrorContext(ctx, "failed to read battery", slog.Any("error", err))
		return
	}
	c.battery = battery

	hourPrices, err := c.nightPrices(ctx, now)
	if err != nil {
		c.lastErr = err.Error()
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch prices", slog.Any("error", err))
		return
	}
	if len(hourPrices) == 0 && !partial {
		// leave the daily marker unset so the next tick retries instead of
		// waiting for the fallback hour; the price source backs off fetches
		// on its own
		c.lastPlanDate = ""
		log.Ctx(ctx).InfoContext(ctx, "prices not published yet, deferring plan")
		return
	}

	windowStart := c.windowStartTime(now)
	morning := windowStart.AddDate(0, 0, 1)

	solarTomorrow, err := c.solarSource.Daily(ctx, morning)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "no solar forecast, assuming zero", slog.Any("error", err))
		solarTomorrow = 0
	}
	adjustedSolar := c.corrector.Adjust(solarTomorrow)

	consumptionAvg := c.tracker.Average(c.cfg.FallbackConsumptionKWH)
	if wd := morning.Weekday(); wd == time.Saturday || wd == time.Sunday {
		consumptionAvg *= c.cfg.WeekendMultiplier
	}

	overnightNeed := c.overnightNeed(ctx, now, windowStart, battery, consumptionAvg, morning)

	in := planner.Inputs{
		Date:                     windowStart.Format(types.DateFormat),
		ConsumptionAvgKWH:        consumptionAvg,
		AdjustedSolarTomorrowKWH: adjustedSolar,
		OvernightNeedKWH:         overnightNeed,
		Battery:                  battery,
		MaxPowerKW:               c.cfg.MaxPowerKW * c.cfg.ChargeEfficiency,
		MaxPrice:                 c.cfg.MaxPrice,
		WindowStartHour:          c.cfg.WindowStartHour,
		WindowEndHour:            c.cfg.WindowEndHour,
		HourPrices:               hourPrices,
	}
	if err := in.Validate(); err != nil {
		c.lastErr = err.Error()
		log.Ctx(ctx).ErrorContext(ctx, "configuration invalid, planning paused", slog.Any("error", err))
		if err := c.notifier.Notify(ctx, notify.NewEvent(notify.EventConfigurationBad, err.Error())); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to notify", slog.Any("error", err))
		}
		return
	}

	plan := planner.ComputePlan(in)
	c.lastErr = ""
	c.plan = plan

	log.Ctx(ctx).InfoContext(
		ctx,
		"plan computed",
		slog.String("kind", string(plan.Kind)),
		slog.Float64("chargeKWH", plan.ChargeKWH),
		slog.Float64("targetSOC", plan.TargetSOC),
		slog.Int("windowStartHour", plan.WindowStartHour),
		slog.Int("windowHours", plan.WindowHours),
		slog.Float64("avgPrice", plan.AvgPrice),
		slog.String("source", string(plan.Source)),
	)

	if err := c.db.InsertPlan(ctx, plan); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist plan", slog.Any("error", err))
	}
	if err := c.notifier.Notify(ctx, notify.PlanEvent(plan)); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to notify", slog.Any("error", err))
	}

	switch c.machine.Current() {
	case StateIdle:
		if plan.Kind == types.PlanScheduled {
			if err := transition(ctx, c.machine, eventPlanReady); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "schedule transition failed", slog.Any("error", err))
			}
		}
	case StateScheduled:
		if plan.Kind != types.PlanScheduled {
			if err := transition(ctx, c.machine, eventPlanCancelled); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "cancel transition failed", slog.Any("error", err))
			}
		}
	}

	// the window may already be open
	c.maybeStartCharging(ctx, now)
}

// handleTick checks window boundaries.
func (c *Controller) handleTick(ctx context.Context) {
	now := c.clock.Now().In(c.cfg.Location)
	switch c.machine.Current() {
	case StateScheduled:
		c.maybeStartCharging(ctx, now)
	case StateCharging:
		if !c.plan.InWindow(now.Hour()) {
			c.stopCharging(ctx, types.ResultWindowEnded, eventWindowEnd, false)
		}
	}
}

// handleSocPoll reads the SOC and stops once the target is reached.
func (c *Controller) handleSocPoll(ctx context.Context) {
	if c.machine.Current() != StateCharging {
		return
	}
	soc, err := c.inv.SOC(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "soc poll failed", slog.Any("error", err))
		return
	}
	c.battery.SOC = soc
	log.Ctx(ctx).DebugContext(
		ctx,
		"soc polled",
		slog.Float64("soc", soc),
		slog.Float64("targetSOC", c.plan.TargetSOC),
	)
	if soc >= c.plan.TargetSOC {
		c.stopCharging(ctx, types.ResultTargetReached, eventTargetReached, true)
	}
}

// handleRecord records today's consumption and forecast accuracy, once per
// day.
func (c *Controller) handleRecord(ctx context.Context) {
	now := c.clock.Now().In(c.cfg.Location)
	date := now.Format(types.DateFormat)

	if c.meter != nil {
		if kwh, ok := c.meter.DailyConsumptionKWH(); ok {
			if c.tracker.Record(date, kwh) {
				log.Ctx(ctx).InfoContext(ctx, "recorded consumption", slog.String("date", date), slog.Float64("kwh", kwh))
			}
		} else {
			log.Ctx(ctx).WarnContext(ctx, "no consumption reading today")
		}

		if actual, ok := c.meter.DailySolarKWH(); ok {
			forecast, err := c.solarSource.Daily(ctx, now)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "no forecast to score", slog.Any("error", err))
			} else if c.corrector.Record(date, forecast, actual) {
				log.Ctx(ctx).InfoContext(
					ctx,
					"recorded forecast accuracy",
					slog.String("date", date),
					slog.Float64("forecastKWH", forecast),
					slog.Float64("actualKWH", actual),
				)
			}
		}
	}

	c.persistState(ctx)
}

// maybeStartCharging opens the session once the window starts. Never moves
// out of any state but Scheduled.
func (c *Controller) maybeStartCharging(ctx context.Context, now time.Time) {
	if c.machine.Current() != StateScheduled || !c.plan.InWindow(now.Hour()) {
		return
	}

	soc, err := c.inv.SOC(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read soc before charging", slog.Any("error", err))
		soc = c.battery.SOC
	}

	if err := transition(ctx, c.machine, eventWindowStart); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "charge transition failed", slog.Any("error", err))
		return
	}

	c.session = &types.ChargeSession{
		StartTime: now,
		StartSOC:  soc,
		AvgPrice:  c.plan.AvgPrice,
	}
	c.lastSocPoll = now

	if err := c.command(ctx, func(ctx context.Context) error {
		return c.inv.SetMode(ctx, types.ModeManual)
	}); err != nil {
		c.failCharge(ctx, fmt.Errorf("set manual mode: %w", err))
		return
	}

	// inverters need a settle gap between the mode switch and the charge
	// command
	c.clock.Sleep(c.cfg.SettleDelay)

	if err := c.command(ctx, func(ctx context.Context) error {
		return c.inv.SetChargeCommand(ctx, types.CommandForceCharge)
	}); err != nil {
		c.failCharge(ctx, fmt.Errorf("force charge: %w", err))
		return
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"charging started",
		slog.Float64("startSOC", soc),
		slog.Float64("targetSOC", c.plan.TargetSOC),
		slog.Float64("avgPrice", c.plan.AvgPrice),
	)
	if err := c.notifier.Notify(ctx, notify.NewEvent(notify.EventChargeStarted, *c.session)); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to notify", slog.Any("error", err))
	}
}

// stopCharging ends the active charge and seals the session.
func (c *Controller) stopCharging(ctx context.Context, result types.SessionResult, event string, restoreFloor bool) {
	if err := c.command(ctx, func(ctx context.Context) error {
		return c.inv.SetChargeCommand(ctx, types.CommandStopCharge)
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to stop charge", slog.Any("error", err))
	}
	if restoreFloor {
		if err := c.command(ctx, func(ctx context.Context) error {
			return c.inv.SetDischargeMinSOC(ctx, c.cfg.MinSOC)
		}); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to restore discharge floor", slog.Any("error", err))
		}
	}
	c.sealSession(ctx, result, "")
	if err := transition(ctx, c.machine, event); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "stop transition failed", slog.Any("error", err))
	}
}

// failCharge handles exhausted command retries: the inverter goes back to
// Self-Use and the session ends with an error.
func (c *Controller) failCharge(ctx context.Context, cause error) {
	log.Ctx(ctx).ErrorContext(ctx, "charge failed, restoring self-use", slog.Any("error", cause))
	if err := c.command(ctx, func(ctx context.Context) error {
		return c.inv.SetMode(ctx, types.ModeSelfUse)
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to restore self-use after failure", slog.Any("error", err))
	}
	c.sealSession(ctx, types.ResultError, cause.Error())
	if err := transition(ctx, c.machine, eventChargeFailed); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failure transition failed", slog.Any("error", err))
	}
	if err := c.notifier.Notify(ctx, notify.NewEvent(notify.EventInverterUnhealthy, cause.Error())); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to notify", slog.Any("error", err))
	}
}

// sealSession closes the open session, persists it, and notifies.
func (c *Controller) sealSession(ctx context.Context, result types.SessionResult, errMsg string) {
	if c.session == nil {
		return
	}
	now := c.clock.Now().In(c.cfg.Location)
	session := *c.session
	session.EndTime = now
	session.Result = result
	session.Error = errMsg
	if soc, err := c.inv.SOC(ctx); err == nil {
		session.EndSOC = soc
		c.battery.SOC = soc
	} else {
		session.EndSOC = c.battery.SOC
		log.Ctx(ctx).WarnContext(ctx, "failed to read soc at session end", slog.Any("error", err))
	}

	c.session = nil
	c.lastSession = &session

	if err := c.db.InsertSession(ctx, session); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist session", slog.Any("error", err))
	}
	c.persistState(ctx)

	log.Ctx(ctx).InfoContext(
		ctx,
		"charge session sealed",
		slog.String("result", string(result)),
		slog.Float64("startSOC", session.StartSOC),
		slog.Float64("endSOC", session.EndSOC),
		slog.Float64("kwhCharged", session.KWHCharged(c.battery.CapacityKWH)),
	)
	if err := c.notifier.Notify(ctx, notify.SessionEvent(session)); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to notify", slog.Any("error", err))
	}
}

// command runs an inverter command with bounded retries, pausing the settle
// delay between attempts.
func (c *Controller) command(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= c.cfg.CommandRetries; attempt++ {
		if attempt > 0 {
			c.clock.Sleep(c.cfg.SettleDelay)
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		log.Ctx(ctx).WarnContext(
			ctx,
			"inverter command failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	return fmt.Errorf("after %d attempts: %w", c.cfg.CommandRetries+1, err)
}

// readBattery assembles a live battery snapshot.
func (c *Controller) readBattery(ctx context.Context) (types.BatteryState, error) {
	soc, err := c.inv.SOC(ctx)
	if err != nil {
		return types.BatteryState{}, fmt.Errorf("failed to read soc: %w", err)
	}
	capacity, err := c.inv.CapacityKWH(ctx)
	if err != nil {
		return types.BatteryState{}, fmt.Errorf("failed to read capacity: %w", err)
	}
	return types.BatteryState{
		SOC:         soc,
		CapacityKWH: capacity,
		MinSOC:      c.cfg.MinSOC,
		MaxLevel:    c.cfg.MaxLevel,
	}, nil
}

// windowStartTime returns the start of the night window this planning run
// targets: the window already underway, else tonight's, else tomorrow's.
func (c *Controller) windowStartTime(now time.Time) time.Time {
	start := time.Date(now.Year(), now.Month(), now.Day(), c.cfg.WindowStartHour, 0, 0, 0, now.Location())
	span := time.Duration(len(prices.NightSlots(c.cfg.WindowStartHour, c.cfg.WindowEndHour))) * time.Hour
	if prev := start.AddDate(0, 0, -1); !now.Before(prev) && now.Before(prev.Add(span)) {
		return prev
	}
	if !start.Add(span).After(now) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}

// nightPrices assembles the price per night-window hour, reading each slot
// from the day it actually falls on. Unpublished days just leave their
// hours out.
func (c *Controller) nightPrices(ctx context.Context, now time.Time) (map[int]float64, error) {
	start := c.windowStartTime(now)
	slots := prices.NightSlots(c.cfg.WindowStartHour, c.cfg.WindowEndHour)

	days := make(map[string]types.DayPrices)
	hourPrices := make(map[int]float64)
	for i, hour := range slots {
		t := start.Add(time.Duration(i) * time.Hour)
		date := t.Format(types.DateFormat)
		day, ok := days[t.Format(types.DateFormat)]
		if !ok {
			var err error
			day, err = c.priceSource.DayPrices(ctx, t)
			if err != nil {
				if errors.Is(err, prices.ErrNotAvailable) {
					// normal before publication, leave the hours out
					days[date] = types.DayPrices{Date: date}
					continue
				}
				return nil, err
			}
			days[date] = day
		}
		if p, ok := day.Hours[hour]; ok {
			hourPrices[hour] = p
		}
	}
	return hourPrices, nil
}

// overnightNeed runs the survival simulation for tonight.
func (c *Controller) overnightNeed(ctx context.Context, now, windowStart time.Time, battery types.BatteryState, consumptionAvg float64, morning time.Time) float64 {
	// consumption between now and window start, whole hours
	var untilWindow float64
	for t := now.Truncate(time.Hour); t.Before(windowStart); t = t.Add(time.Hour) {
		untilWindow += c.sim.HourlyConsumption(consumptionAvg, t.Hour())
	}

	var remainingToday float64
	if hourly, err := c.solarSource.Hourly(ctx, now); err == nil {
		for hour, kwh := range hourly {
			if hour > now.Hour() {
				remainingToday += kwh
			}
		}
	}

	var morningSolar map[int]float64
	if hourly, err := c.solarSource.Hourly(ctx, morning); err == nil {
		morningSolar = hourly
	}

	need, hours := c.sim.OvernightNeed(
		battery,
		untilWindow,
		remainingToday,
		consumptionAvg,
		c.cfg.WindowStartHour,
		c.cfg.WindowEndHour,
		morningSolar,
		c.cfg.SunriseHour,
		c.cfg.SunriseHour > 0,
	)
	log.Ctx(ctx).DebugContext(
		ctx,
		"overnight simulation",
		slog.Float64("needKWH", need),
		slog.Int("hoursWalked", len(hours)),
	)
	return need
}

// persistState writes the durable blob.
func (c *Controller) persistState(ctx context.Context) {
	state := types.PersistedState{
		Version:              types.CurrentStateVersion,
		ConsumptionHistory:   c.tracker.Records(),
		ForecastErrorHistory: c.corrector.Records(),
		LastSession:          c.lastSession,
		Enabled:              c.enabled,
	}
	if err := c.db.SaveState(ctx, state); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist state", slog.Any("error", err))
	}
}

// Status is a read-only snapshot for the HTTP API.
type Status struct {
	State             string               `json:"state"`
	Enabled           bool                 `json:"enabled"`
	Plan              *types.Plan          `json:"plan,omitempty"`
	Session           *types.ChargeSession `json:"session,omitempty"`
	LastSession       *types.ChargeSession `json:"lastSession,omitempty"`
	Battery           types.BatteryState   `json:"battery"`
	ConsumptionAvgKWH float64              `json:"consumptionAvgKWH"`
	ConsumptionDays   int                  `json:"consumptionDays"`
	UsingFallback     bool                 `json:"usingFallback"`
	ForecastErrorPct  float64              `json:"forecastErrorPct"`
	LastError         string               `json:"lastError,omitempty"`
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		State:             c.machine.Current(),
		Enabled:           c.enabled,
		Battery:           c.battery,
		ConsumptionAvgKWH: c.tracker.Average(c.cfg.FallbackConsumptionKWH),
		ConsumptionDays:   c.tracker.DaysTracked(),
		UsingFallback:     c.tracker.UsingFallback(),
		ForecastErrorPct:  c.corrector.AverageError(),
		LastError:         c.lastErr,
	}
	if c.plan.Kind != "" {
		plan := c.plan
		s.Plan = &plan
	}
	if c.session != nil {
		session := *c.session
		s.Session = &session
	}
	if c.lastSession != nil {
		last := *c.lastSession
		s.LastSession = &last
	}
	return s
}
