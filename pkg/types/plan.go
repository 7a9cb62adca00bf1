package types

// PlanKind says what, if anything, the plan intends to do.
type PlanKind string

const (
	// PlanScheduled means a charge is scheduled inside the night window.
	PlanScheduled PlanKind = "scheduled"
	// PlanNoChargeNeeded means the battery covers tomorrow without grid help.
	PlanNoChargeNeeded PlanKind = "noChargeNeeded"
	// PlanNotScheduled means a charge is needed but no acceptable window
	// exists, usually because every candidate window is too expensive.
	PlanNotScheduled PlanKind = "notScheduled"
)

// PlanSource says which deficit drove the charge amount.
type PlanSource string

const (
	SourceDaily     PlanSource = "daily"
	SourceOvernight PlanSource = "overnight"
)

// Plan is the immutable output of one planning run.
type Plan struct {
	Kind PlanKind `json:"kind"`

	// Window bounds are local hours. The window may wrap midnight, for
	// example 22 to 2.
	WindowStartHour int `json:"windowStartHour"`
	WindowEndHour   int `json:"windowEndHour"`
	WindowHours     int `json:"windowHours"`

	ChargeKWH float64 `json:"chargeKWH"`
	TargetSOC float64 `json:"targetSOC"`
	AvgPrice  float64 `json:"avgPrice"`

	Source PlanSource `json:"source,omitempty"`
	Reason string     `json:"reason"`

	// Date is the calendar day the plan was computed for.
	Date string `json:"date"`
}

// InWindow reports whether the given local hour falls inside the plan's
// charge window, handling windows that wrap midnight.
func (p Plan) InWindow(hour int) bool {
	if p.Kind != PlanScheduled {
		return false
	}
	if p.WindowStartHour < p.WindowEndHour {
		return hour >= p.WindowStartHour && hour < p.WindowEndHour
	}
	return hour >= p.WindowStartHour || hour < p.WindowEndHour
}
