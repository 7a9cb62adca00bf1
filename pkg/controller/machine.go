package controller

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Charge execution states.
const (
	StateIdle      = "idle"
	StateScheduled = "scheduled"
	StateCharging  = "charging"
	StateComplete  = "complete"
	StateDisabled  = "disabled"
)

// State machine events.
const (
	eventPlanReady     = "plan_ready"
	eventPlanCancelled = "plan_cancelled"
	eventWindowStart   = "window_start"
	eventTargetReached = "target_reached"
	eventWindowEnd     = "window_end"
	eventSafetyStop    = "safety_stop"
	eventSafetyClear   = "safety_clear"
	eventChargeFailed  = "charge_failed"
	eventDisable       = "disable"
	eventEnable        = "enable"
	eventReset         = "reset"
)

// newMachine builds the charge state machine. Transitions not listed here
// are illegal and rejected by the fsm, which is the point: a bug cannot move
// the controller from idle straight to charging.
func newMachine(initial string) *fsm.FSM {
	if initial == "" {
		initial = StateIdle
	}
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: eventPlanReady, Src: []string{StateIdle}, Dst: StateScheduled},
			{Name: eventPlanCancelled, Src: []string{StateScheduled}, Dst: StateIdle},

			{Name: eventWindowStart, Src: []string{StateScheduled}, Dst: StateCharging},
			{Name: eventTargetReached, Src: []string{StateCharging}, Dst: StateComplete},
			{Name: eventWindowEnd, Src: []string{StateCharging}, Dst: StateComplete},

			{Name: eventSafetyStop, Src: []string{StateCharging}, Dst: StateComplete},
			{Name: eventSafetyClear, Src: []string{StateScheduled}, Dst: StateIdle},
			{Name: eventChargeFailed, Src: []string{StateScheduled, StateCharging}, Dst: StateComplete},

			{Name: eventDisable, Src: []string{StateIdle, StateScheduled, StateCharging, StateComplete}, Dst: StateDisabled},
			{Name: eventEnable, Src: []string{StateDisabled}, Dst: StateIdle},

			{Name: eventReset, Src: []string{StateComplete}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
}

// transition fires an event and wraps the fsm error with both states for
// log context.
func transition(ctx context.Context, m *fsm.FSM, event string) error {
	if err := m.Event(ctx, event); err != nil {
		return fmt.Errorf("transition %s from %s: %w", event, m.Current(), err)
	}
	return nil
}
