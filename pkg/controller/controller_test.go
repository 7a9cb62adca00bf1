package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nightwatt/nightwatt/pkg/consumption"
	"github.com/nightwatt/nightwatt/pkg/inverter"
	"github.com/nightwatt/nightwatt/pkg/inverter/invertermock"
	"github.com/nightwatt/nightwatt/pkg/notify"
	"github.com/nightwatt/nightwatt/pkg/planner"
	"github.com/nightwatt/nightwatt/pkg/prices"
	"github.com/nightwatt/nightwatt/pkg/prices/pricesmock"
	"github.com/nightwatt/nightwatt/pkg/solar"
	"github.com/nightwatt/nightwatt/pkg/solar/solarmock"
	"github.com/nightwatt/nightwatt/pkg/storage"
	"github.com/nightwatt/nightwatt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func (c *fakeClock) setNow(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Notify(ctx context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) eventTypes() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]notify.EventType, len(n.events))
	for i, e := range n.events {
		types[i] = e.Type
	}
	return types
}

type fakeMeter struct {
	consumptionKWH float64
	solarKWH       float64
	haveReadings   bool
}

func (m fakeMeter) DailyConsumptionKWH() (float64, bool) { return m.consumptionKWH, m.haveReadings }
func (m fakeMeter) DailySolarKWH() (float64, bool)       { return m.solarKWH, m.haveReadings }

func testConfig() Config {
	return Config{
		MaxLevel:               90,
		MinSOC:                 20,
		MaxPowerKW:             5,
		MaxPrice:               4,
		ChargeEfficiency:       1,
		WeekendMultiplier:      1,
		FallbackConsumptionKWH: 20,
		WindowStartHour:        22,
		WindowEndHour:          6,
		SettleDelay:            time.Millisecond,
		SocPollInterval:        2 * time.Minute,
		CommandRetries:         1,
		PriceUpdateHour:        14,
		FallbackHour:           21,
		RecordHour:             23,
		SunriseHour:            7,
		Location:               time.UTC,
	}
}

// newTestController wires a controller against in-memory collaborators and
// runs Init as main would.
func newTestController(t *testing.T, clk *fakeClock, inv inverter.Inverter, ps prices.Source, ss solar.Source) (*Controller, *storage.Memory, *captureNotifier) {
	t.Helper()
	db := storage.NewMemory()
	n := &captureNotifier{}
	c := &Controller{
		cfg:         testConfig(),
		inv:         inv,
		priceSource: ps,
		solarSource: ss,
		db:          db,
		notifier:    n,
		clock:       clk,
		sim:         planner.NewSimulator(),
		triggers:    make(chan Trigger, 16),
	}
	require.NoError(t, c.Init(context.Background()))
	return c, db, n
}

// bareController builds a controller already sitting in the given state,
// skipping the planning machinery.
func bareController(inv inverter.Inverter, state string) (*Controller, *fakeClock, *captureNotifier, *storage.Memory) {
	clk := &fakeClock{now: time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)}
	db := storage.NewMemory()
	n := &captureNotifier{}
	c := &Controller{
		cfg:       testConfig(),
		inv:       inv,
		db:        db,
		notifier:  n,
		clock:     clk,
		sim:       planner.NewSimulator(),
		triggers:  make(chan Trigger, 16),
		machine:   newMachine(state),
		enabled:   state != StateDisabled,
		tracker:   consumption.NewTracker(nil),
		corrector: solar.NewCorrector(nil),
		battery:   types.BatteryState{SOC: 55, CapacityKWH: 15, MinSOC: 20, MaxLevel: 90},
	}
	return c, clk, n, db
}

func chargingController(inv inverter.Inverter) (*Controller, *fakeClock, *captureNotifier, *storage.Memory) {
	c, clk, n, db := bareController(inv, StateCharging)
	c.plan = types.Plan{
		Kind:            types.PlanScheduled,
		WindowStartHour: 0,
		WindowEndHour:   3,
		WindowHours:     3,
		ChargeKWH:       7.5,
		TargetSOC:       90,
		AvgPrice:        0.4,
		Source:          types.SourceDaily,
		Date:            "2026-03-10",
	}
	c.session = &types.ChargeSession{
		StartTime: clk.now.Add(-2 * time.Hour),
		StartSOC:  40,
		AvgPrice:  0.4,
	}
	return c, clk, n, db
}

func stubDay(src *pricesmock.Source, date string, hours map[int]float64) {
	src.On("DayPrices", mock.Anything, mock.MatchedBy(func(d time.Time) bool {
		return d.Format(types.DateFormat) == date
	})).Return(types.DayPrices{Date: date, Hours: hours}, nil)
}

func TestControllerFullNight(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)}

	inv := &invertermock.Inverter{}
	inv.On("CapacityKWH", mock.Anything).Return(15.0, nil)
	// planning read and pre-charge read, then two polls, then the seal
	inv.On("SOC", mock.Anything).Return(40.0, nil).Twice()
	inv.On("SOC", mock.Anything).Return(70.0, nil).Once()
	inv.On("SOC", mock.Anything).Return(90.0, nil)
	inv.On("SetMode", mock.Anything, types.ModeManual).Return(nil).Once()
	inv.On("SetChargeCommand", mock.Anything, types.CommandForceCharge).Return(nil).Once()
	inv.On("SetChargeCommand", mock.Anything, types.CommandStopCharge).Return(nil).Once()
	inv.On("SetDischargeMinSOC", mock.Anything, 20.0).Return(nil).Once()

	ps := &pricesmock.Source{}
	stubDay(ps, "2026-03-10", map[int]float64{22: 2.0, 23: 1.0})
	stubDay(ps, "2026-03-11", map[int]float64{0: 0.5, 1: 0.4, 2: 0.3, 3: 0.6, 4: 0.8, 5: 0.9})

	ss := &solarmock.Source{}
	ss.On("Daily", mock.Anything, mock.Anything).Return(0.0, nil)
	ss.On("Hourly", mock.Anything, mock.Anything).Return(map[int]float64{}, nil)

	c, db, n := newTestController(t, clk, inv, ps, ss)
	require.Equal(t, StateIdle, c.Status().State)

	c.Handle(ctx, TriggerPriceUpdate)
	status := c.Status()
	require.Equal(t, StateScheduled, status.State)
	require.NotNil(t, status.Plan)
	assert.Equal(t, types.PlanScheduled, status.Plan.Kind)
	assert.Equal(t, 0, status.Plan.WindowStartHour)
	assert.Equal(t, 3, status.Plan.WindowHours)
	assert.InDelta(t, 0.4, status.Plan.AvgPrice, 0.001)
	assert.InDelta(t, 90, status.Plan.TargetSOC, 0.001)

	plans, err := db.GetPlanHistory(ctx, "2026-03-10", "2026-03-11")
	require.NoError(t, err)
	require.Len(t, plans, 1)

	// window opens at midnight
	clk.setNow(time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC))
	c.Handle(ctx, TriggerTick)
	require.Equal(t, StateCharging, c.Status().State)
	assert.Equal(t, []time.Duration{time.Millisecond}, clk.slept)

	clk.setNow(time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC))
	c.Handle(ctx, TriggerSocPoll)
	require.Equal(t, StateCharging, c.Status().State)

	clk.setNow(time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC))
	c.Handle(ctx, TriggerSocPoll)
	status = c.Status()
	require.Equal(t, StateComplete, status.State)
	assert.Nil(t, status.Session)
	require.NotNil(t, status.LastSession)
	assert.Equal(t, types.ResultTargetReached, status.LastSession.Result)
	assert.Equal(t, 40.0, status.LastSession.StartSOC)
	assert.Equal(t, 90.0, status.LastSession.EndSOC)

	sessions, err := db.GetSessionHistory(ctx, clk.Now().Add(-24*time.Hour), clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, types.ResultTargetReached, sessions[0].Result)

	assert.Equal(t, []notify.EventType{
		notify.EventPlanScheduled,
		notify.EventChargeStarted,
		notify.EventChargeComplete,
	}, n.eventTypes())

	// the next planning pass seals the night and returns to idle
	stubDay(ps, "2026-03-12", map[int]float64{0: 0.5, 1: 0.4, 2: 0.3, 3: 0.6, 4: 0.8, 5: 0.9})
	clk.setNow(time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC))
	c.Handle(ctx, TriggerPriceUpdate)
	assert.NotEqual(t, StateComplete, c.Status().State)

	inv.AssertExpectations(t)
}

func TestControllerSwitchOffWhileCharging(t *testing.T) {
	ctx := context.Background()

	inv := &invertermock.Inverter{}
	inv.On("SetChargeCommand", mock.Anything, types.CommandStopCharge).Return(nil).Once()
	inv.On("SetMode", mock.Anything, types.ModeSelfUse).Return(nil).Once()
	inv.On("SOC", mock.Anything).Return(62.0, nil)

	c, _, _, db := chargingController(inv)
	c.Handle(ctx, TriggerSwitchOff)

	status := c.Status()
	assert.Equal(t, StateDisabled, status.State)
	assert.False(t, status.Enabled)
	assert.Nil(t, status.Plan)
	require.NotNil(t, status.LastSession)
	assert.Equal(t, types.ResultDisabled, status.LastSession.Result)
	assert.Equal(t, 62.0, status.LastSession.EndSOC)

	state, err := db.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, state.Enabled)

	// sunrise safety is a no-op once disabled, the inverter is already safe
	c.Handle(ctx, TriggerSunrise)
	assert.Equal(t, StateDisabled, c.Status().State)
	inv.AssertExpectations(t)
	inv.AssertNumberOfCalls(t, "SetMode", 1)
}

func TestControllerSunriseSafety(t *testing.T) {
	ctx := context.Background()

	t.Run("FromCharging", func(t *testing.T) {
		inv := &invertermock.Inverter{}
		inv.On("SetChargeCommand", mock.Anything, types.CommandStopCharge).Return(nil).Once()
		inv.On("SetMode", mock.Anything, types.ModeSelfUse).Return(nil).Once()
		inv.On("SOC", mock.Anything).Return(75.0, nil)

		c, _, _, _ := chargingController(inv)
		c.Handle(ctx, TriggerSunrise)

		status := c.Status()
		assert.Equal(t, StateComplete, status.State)
		require.NotNil(t, status.LastSession)
		assert.Equal(t, types.ResultMorningSafety, status.LastSession.Result)
		inv.AssertExpectations(t)
		inv.AssertNumberOfCalls(t, "SetMode", 1)
	})

	t.Run("FromScheduled", func(t *testing.T) {
		inv := &invertermock.Inverter{}
		inv.On("SetMode", mock.Anything, types.ModeSelfUse).Return(nil).Once()

		c, _, _, _ := bareController(inv, StateScheduled)
		c.plan = types.Plan{Kind: types.PlanScheduled, WindowStartHour: 0, WindowEndHour: 3, WindowHours: 3}
		c.Handle(ctx, TriggerSunrise)

		status := c.Status()
		assert.Equal(t, StateIdle, status.State)
		assert.Nil(t, status.Plan)
		assert.Nil(t, status.LastSession)
		inv.AssertExpectations(t)
		inv.AssertNumberOfCalls(t, "SetMode", 1)
	})

	for _, state := range []string{StateIdle, StateComplete} {
		t.Run("From"+state, func(t *testing.T) {
			inv := &invertermock.Inverter{}
			inv.On("SetMode", mock.Anything, types.ModeSelfUse).Return(nil).Once()

			c, _, _, _ := bareController(inv, state)
			c.Handle(ctx, TriggerSunrise)

			assert.Equal(t, state, c.Status().State)
			inv.AssertExpectations(t)
			inv.AssertNumberOfCalls(t, "SetMode", 1)
		})
	}

	t.Run("FromDisabled", func(t *testing.T) {
		inv := &invertermock.Inverter{}
		c, _, _, _ := bareController(inv, StateDisabled)
		c.Handle(ctx, TriggerSunrise)
		assert.Equal(t, StateDisabled, c.Status().State)
		inv.AssertNumberOfCalls(t, "SetMode", 0)
	})
}

func TestControllerCommandRetryExhaustion(t *testing.T) {
	ctx := context.Background()

	inv := &invertermock.Inverter{}
	inv.On("SOC", mock.Anything).Return(40.0, nil)
	// CommandRetries is 1 in testConfig, so two attempts before giving up
	inv.On("SetMode", mock.Anything, types.ModeManual).Return(errors.New("modbus: timeout")).Times(2)
	inv.On("SetMode", mock.Anything, types.ModeSelfUse).Return(nil).Once()

	c, clk, n, db := bareController(inv, StateScheduled)
	c.plan = types.Plan{
		Kind:            types.PlanScheduled,
		WindowStartHour: 0,
		WindowEndHour:   3,
		WindowHours:     3,
		TargetSOC:       90,
	}

	c.Handle(ctx, TriggerTick)

	status := c.Status()
	assert.Equal(t, StateComplete, status.State)
	require.NotNil(t, status.LastSession)
	assert.Equal(t, types.ResultError, status.LastSession.Result)
	assert.Contains(t, status.LastSession.Error, "modbus: timeout")

	// the settle delay separates the retry attempts
	assert.Contains(t, clk.slept, c.cfg.SettleDelay)

	sessions, err := db.GetSessionHistory(ctx, clk.Now().Add(-24*time.Hour), clk.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, types.ResultError, sessions[0].Result)

	assert.Contains(t, n.eventTypes(), notify.EventInverterUnhealthy)
	inv.AssertExpectations(t)
}

func TestControllerDisabledNeverCharges(t *testing.T) {
	ctx := context.Background()

	inv := &invertermock.Inverter{}
	c, _, _, _ := bareController(inv, StateDisabled)

	c.Handle(ctx, TriggerPriceUpdate)
	c.Handle(ctx, TriggerFallback)
	c.Handle(ctx, TriggerTick)
	c.Handle(ctx, TriggerSocPoll)

	assert.Equal(t, StateDisabled, c.Status().State)
	inv.AssertNumberOfCalls(t, "SetMode", 0)
	inv.AssertNumberOfCalls(t, "SetChargeCommand", 0)
}

func TestControllerWindowEnd(t *testing.T) {
	ctx := context.Background()

	inv := &invertermock.Inverter{}
	inv.On("SetChargeCommand", mock.Anything, types.CommandStopCharge).Return(nil).Once()
	inv.On("SOC", mock.Anything).Return(80.0, nil)

	c, clk, _, _ := chargingController(inv)
	clk.setNow(time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC))
	c.Handle(ctx, TriggerTick)

	status := c.Status()
	assert.Equal(t, StateComplete, status.State)
	require.NotNil(t, status.LastSession)
	assert.Equal(t, types.ResultWindowEnded, status.LastSession.Result)
	assert.Equal(t, 80.0, status.LastSession.EndSOC)
	inv.AssertExpectations(t)
}

func TestControllerSwitchOnReplans(t *testing.T) {
	ctx := context.Background()

	inv := &invertermock.Inverter{}
	inv.On("SOC", mock.Anything).Return(40.0, nil)
	inv.On("CapacityKWH", mock.Anything).Return(15.0, nil)

	ps := &pricesmock.Source{}
	ps.On("DayPrices", mock.Anything, mock.Anything).Return(types.DayPrices{}, prices.ErrNotAvailable)

	c, _, _, db := bareController(inv, StateDisabled)
	c.priceSource = ps

	c.Handle(ctx, TriggerSwitchOn)

	// prices not published yet, so it enables and waits for the next pass
	status := c.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.True(t, status.Enabled)

	state, err := db.LoadState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
}

func TestControllerDeferredPlanRetries(t *testing.T) {
	ctx := context.Background()

	inv := &invertermock.Inverter{}
	inv.On("SOC", mock.Anything).Return(40.0, nil)
	inv.On("CapacityKWH", mock.Anything).Return(15.0, nil)

	ps := &pricesmock.Source{}
	ps.On("DayPrices", mock.Anything, mock.Anything).Return(types.DayPrices{}, prices.ErrNotAvailable)

	c, clk, _, _ := bareController(inv, StateIdle)
	c.priceSource = ps

	afternoon := time.Date(2026, 3, 11, 14, 0, 30, 0, time.UTC)
	clk.setNow(afternoon)
	require.Contains(t, c.dueTriggers(afternoon), TriggerPriceUpdate)

	c.Handle(ctx, TriggerPriceUpdate)
	assert.Equal(t, StateIdle, c.Status().State)

	// prices publish an hour later; the next pass must plan again instead
	// of waiting for the fallback hour
	later := afternoon.Add(time.Hour)
	clk.setNow(later)
	assert.Contains(t, c.dueTriggers(later), TriggerPriceUpdate)
}

func TestControllerRecordsHistory(t *testing.T) {
	ctx := context.Background()

	inv := &invertermock.Inverter{}
	ss := &solarmock.Source{}
	ss.On("Daily", mock.Anything, mock.Anything).Return(8.0, nil)

	c, clk, _, db := bareController(inv, StateIdle)
	c.solarSource = ss
	c.meter = fakeMeter{consumptionKWH: 18.5, solarKWH: 6.0, haveReadings: true}
	clk.setNow(time.Date(2026, 3, 11, 23, 5, 0, 0, time.UTC))

	c.Handle(ctx, TriggerRecord)

	assert.Equal(t, 1, c.tracker.DaysTracked())
	assert.InDelta(t, 18.5, c.tracker.Average(20), 0.001)
	assert.Equal(t, 1, c.corrector.DaysTracked())
	assert.InDelta(t, 0.25, c.corrector.AverageError(), 0.001)

	state, err := db.LoadState(ctx)
	require.NoError(t, err)
	require.Len(t, state.ConsumptionHistory, 1)
	assert.Equal(t, "2026-03-11", state.ConsumptionHistory[0].Date)
	require.Len(t, state.ForecastErrorHistory, 1)

	// the same day records only once
	c.Handle(ctx, TriggerRecord)
	assert.Equal(t, 1, c.tracker.DaysTracked())
}

func TestControllerDueTriggers(t *testing.T) {
	inv := &invertermock.Inverter{}
	c, _, _, _ := bareController(inv, StateIdle)

	morning := time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)
	due := c.dueTriggers(morning)
	assert.Equal(t, []Trigger{TriggerTick}, due)

	// sunrise minus 15 minutes
	due = c.dueTriggers(time.Date(2026, 3, 11, 6, 45, 0, 0, time.UTC))
	assert.Contains(t, due, TriggerSunrise)

	// only once per day
	due = c.dueTriggers(time.Date(2026, 3, 11, 6, 46, 0, 0, time.UTC))
	assert.NotContains(t, due, TriggerSunrise)

	due = c.dueTriggers(time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC))
	assert.Contains(t, due, TriggerPriceUpdate)

	due = c.dueTriggers(time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC))
	assert.Contains(t, due, TriggerFallback)
	assert.Contains(t, due, TriggerRecord)
	assert.NotContains(t, due, TriggerSocPoll)
}
