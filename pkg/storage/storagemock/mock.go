package storagemock

import (
	"context"
	"time"

	"github.com/nightwatt/nightwatt/pkg/storage"
	"github.com/nightwatt/nightwatt/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) LoadState(ctx context.Context) (types.PersistedState, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.PersistedState), args.Error(1)
}

func (m *MockDatabase) SaveState(ctx context.Context, state types.PersistedState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDatabase) InsertSession(ctx context.Context, session types.ChargeSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDatabase) GetSessionHistory(ctx context.Context, start, end time.Time) ([]types.ChargeSession, error) {
	args := m.Called(ctx, start, end)
	if s := args.Get(0); s != nil {
		return s.([]types.ChargeSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) InsertPlan(ctx context.Context, plan types.Plan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockDatabase) GetPlanHistory(ctx context.Context, startDate, endDate string) ([]types.Plan, error) {
	args := m.Called(ctx, startDate, endDate)
	if p := args.Get(0); p != nil {
		return p.([]types.Plan), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
