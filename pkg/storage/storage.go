package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/nightwatt/nightwatt/pkg/types"
)

// Database defines the interface for persisting planner state and history.
type Database interface {
	// State blob
	// LoadState returns the persisted state, or a zero state with no error
	// when nothing has been saved yet.
	LoadState(ctx context.Context) (types.PersistedState, error)
	SaveState(ctx context.Context, state types.PersistedState) error

	// History. Both range queries include start and exclude end.
	InsertSession(ctx context.Context, session types.ChargeSession) error
	GetSessionHistory(ctx context.Context, start, end time.Time) ([]types.ChargeSession, error)
	InsertPlan(ctx context.Context, plan types.Plan) error
	GetPlanHistory(ctx context.Context, startDate, endDate string) ([]types.Plan, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
