package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nightwatt/nightwatt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	projectID := "test-project-id"

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: projectID,
		database:  randDB,
		root:      "test",
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("State", func(t *testing.T) {
		// empty load returns a zero state
		state, err := f.LoadState(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.PersistedState{}, state)

		state = types.PersistedState{
			Version: types.CurrentStateVersion,
			Enabled: true,
			ConsumptionHistory: []types.ConsumptionRecord{
				{Date: "2026-01-10", KWH: 18},
			},
		}
		require.NoError(t, f.SaveState(ctx, state))

		got, err := f.LoadState(ctx)
		require.NoError(t, err)
		assert.Equal(t, state, got)
	})

	t.Run("Sessions", func(t *testing.T) {
		start := time.Date(2026, 1, 10, 22, 0, 0, 0, time.UTC)
		session := types.ChargeSession{
			StartTime: start,
			EndTime:   start.Add(2 * time.Hour),
			StartSOC:  30,
			EndSOC:    85,
			Result:    types.ResultTargetReached,
		}
		require.NoError(t, f.InsertSession(ctx, session))

		sessions, err := f.GetSessionHistory(ctx, start.Add(-time.Hour), start.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, session.Result, sessions[0].Result)

		sessions, err = f.GetSessionHistory(ctx, start.Add(time.Hour), start.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, sessions)

		assert.Error(t, f.InsertSession(ctx, types.ChargeSession{}))
	})

	t.Run("Plans", func(t *testing.T) {
		plan := types.Plan{
			Kind:            types.PlanScheduled,
			Date:            "2026-01-10",
			WindowStartHour: 1,
			WindowEndHour:   3,
			ChargeKWH:       8,
		}
		require.NoError(t, f.InsertPlan(ctx, plan))

		// replanning the same day overwrites
		plan.ChargeKWH = 9
		require.NoError(t, f.InsertPlan(ctx, plan))

		plans, err := f.GetPlanHistory(ctx, "2026-01-10", "2026-01-11")
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, 9.0, plans[0].ChargeKWH)

		assert.Error(t, f.InsertPlan(ctx, types.Plan{}))
	})
}
