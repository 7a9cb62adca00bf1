package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nightwatt/nightwatt/pkg/types"
)

// Memory implements the Database interface in memory. It backs tests and
// trial runs where nothing should be persisted.
type Memory struct {
	mu       sync.Mutex
	state    types.PersistedState
	hasState bool
	sessions map[string]types.ChargeSession
	plans    map[string]types.Plan
}

var _ Database = (*Memory)(nil)

// NewMemory creates an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]types.ChargeSession),
		plans:    make(map[string]types.Plan),
	}
}

// LoadState implements Database.
func (m *Memory) LoadState(ctx context.Context) (types.PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasState {
		return types.PersistedState{}, nil
	}
	return m.state, nil
}

// SaveState implements Database.
func (m *Memory) SaveState(ctx context.Context, state types.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.hasState = true
	return nil
}

// InsertSession implements Database.
func (m *Memory) InsertSession(ctx context.Context, session types.ChargeSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.StartTime.UTC().Format(time.RFC3339)] = session
	return nil
}

// GetSessionHistory implements Database.
func (m *Memory) GetSessionHistory(ctx context.Context, start, end time.Time) ([]types.ChargeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []types.ChargeSession
	for _, s := range m.sessions {
		if !s.StartTime.Before(start) && s.StartTime.Before(end) {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

// InsertPlan implements Database.
func (m *Memory) InsertPlan(ctx context.Context, plan types.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.Date] = plan
	return nil
}

// GetPlanHistory implements Database.
func (m *Memory) GetPlanHistory(ctx context.Context, startDate, endDate string) ([]types.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var plans []types.Plan
	for date, p := range m.plans {
		if date >= startDate && date < endDate {
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Date < plans[j].Date
	})
	return plans, nil
}

// Close implements Database.
func (m *Memory) Close() error {
	return nil
}
