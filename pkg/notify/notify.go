// Package notify emits structured events when plans and charge sessions
// change. Delivery is pluggable; dedup keys let any sink suppress repeats
// without understanding the planner.
package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nightwatt/nightwatt/pkg/log"
	"github.com/nightwatt/nightwatt/pkg/types"
)

// EventType identifies what happened.
type EventType string

const (
	EventPlanScheduled     EventType = "planScheduled"
	EventPlanNotScheduled  EventType = "planNotScheduled"
	EventPlanNoChargeNeed  EventType = "planNoChargeNeeded"
	EventChargeStarted     EventType = "chargeStarted"
	EventChargeComplete    EventType = "chargeComplete"
	EventMorningSafety     EventType = "morningSafety"
	EventConfigurationBad  EventType = "configurationError"
	EventInverterUnhealthy EventType = "inverterError"
)

// Event is one notification.
type Event struct {
	Type EventType `json:"type"`
	// Payload is the plan, session, or error detail behind the event.
	Payload interface{} `json:"payload,omitempty"`
	// DedupKey is deterministic for identical content so sinks can suppress
	// duplicates.
	DedupKey string `json:"dedupKey"`
}

// Notifier delivers events to some sink.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// DedupKey hashes an event type and its payload into a stable key. Identical
// plans for the same day always produce identical keys.
func DedupKey(eventType EventType, payload interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha1.Sum(append([]byte(eventType), data...))
	return hex.EncodeToString(sum[:])
}

// NewEvent builds an event with its dedup key filled in.
func NewEvent(eventType EventType, payload interface{}) Event {
	return Event{
		Type:     eventType,
		Payload:  payload,
		DedupKey: DedupKey(eventType, payload),
	}
}

// PlanEvent builds the event for a freshly computed plan.
func PlanEvent(plan types.Plan) Event {
	var eventType EventType
	switch plan.Kind {
	case types.PlanScheduled:
		eventType = EventPlanScheduled
	case types.PlanNotScheduled:
		eventType = EventPlanNotScheduled
	default:
		eventType = EventPlanNoChargeNeed
	}
	return NewEvent(eventType, plan)
}

// SessionEvent builds the event for a sealed charge session.
func SessionEvent(session types.ChargeSession) Event {
	eventType := EventChargeComplete
	if session.Result == types.ResultMorningSafety {
		eventType = EventMorningSafety
	}
	return NewEvent(eventType, session)
}

// Deduper wraps a Notifier and drops events whose dedup key was already
// delivered. Keys are held in memory; a restart re-delivers at most one
// duplicate per event.
type Deduper struct {
	next Notifier

	mu   sync.Mutex
	seen map[string]bool
}

var _ Notifier = (*Deduper)(nil)

// NewDeduper wraps next with duplicate suppression.
func NewDeduper(next Notifier) *Deduper {
	return &Deduper{
		next: next,
		seen: make(map[string]bool),
	}
}

// Notify implements Notifier.
func (d *Deduper) Notify(ctx context.Context, event Event) error {
	d.mu.Lock()
	if d.seen[event.DedupKey] {
		d.mu.Unlock()
		log.Ctx(ctx).DebugContext(ctx, "suppressing duplicate notification", slog.String("type", string(event.Type)))
		return nil
	}
	d.seen[event.DedupKey] = true
	d.mu.Unlock()
	return d.next.Notify(ctx, event)
}

// LogNotifier writes events to the structured log. It is the default sink
// when no broker is configured.
type LogNotifier struct{}

var _ Notifier = (*LogNotifier)(nil)

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, event Event) error {
	log.Ctx(ctx).InfoContext(
		ctx,
		"notification",
		slog.String("type", string(event.Type)),
		slog.String("dedupKey", event.DedupKey),
		slog.Any("payload", event.Payload),
	)
	return nil
}
