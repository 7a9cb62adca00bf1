// Command seed fills storage with a week of plausible history so the API
// and dashboards have something to show on a fresh install. Point it at the
// firestore emulator or run it with -storage-provider=memory to dry-run.
package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/nightwatt/nightwatt/pkg/log"
	"github.com/nightwatt/nightwatt/pkg/storage"
	"github.com/nightwatt/nightwatt/pkg/types"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	db := storage.Configured()
	lflag.Configure()

	ctx := context.Background()
	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now()

	const (
		batteryCapacityKWH = 15.0
		avgConsumptionKWH  = 20.0
		avgSolarKWH        = 12.0
	)

	var consumption []types.ConsumptionRecord
	var forecastErrors []types.ForecastRecord
	var lastSession types.ChargeSession

	for daysAgo := types.HistoryWindowDays; daysAgo >= 1; daysAgo-- {
		day := now.AddDate(0, 0, -daysAgo)
		date := day.Format(types.DateFormat)

		kwh := avgConsumptionKWH + (rng.Float64()*6 - 3)
		consumption = append(consumption, types.ConsumptionRecord{
			Date: date,
			KWH:  kwh,
		})

		// forecasts overestimate a little most days
		forecast := avgSolarKWH + (rng.Float64()*4 - 2)
		actual := forecast * (0.75 + rng.Float64()*0.35)
		errorPct := 0.0
		if forecast != 0 {
			errorPct = (forecast - actual) / forecast
		}
		forecastErrors = append(forecastErrors, types.ForecastRecord{
			Date:        date,
			ForecastKWH: forecast,
			ActualKWH:   actual,
			ErrorPct:    errorPct,
		})

		// a half-full battery most evenings means most nights charge
		startSOC := 30 + rng.Float64()*20
		targetSOC := 85 + rng.Float64()*5
		start := time.Date(day.Year(), day.Month(), day.Day(), 1, 0, 0, 0, now.Location())
		session := types.ChargeSession{
			StartTime: start,
			EndTime:   start.Add(time.Duration(2+rng.Intn(2)) * time.Hour),
			StartSOC:  startSOC,
			EndSOC:    targetSOC,
			AvgPrice:  0.3 + rng.Float64()*0.5,
			Result:    types.ResultTargetReached,
		}
		if err := db.InsertSession(ctx, session); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to insert session", slog.String("date", date), slog.Any("error", err))
			os.Exit(1)
		}
		lastSession = session

		needed := (targetSOC - startSOC) / 100 * batteryCapacityKWH
		plan := types.Plan{
			Kind:            types.PlanScheduled,
			WindowStartHour: 1,
			WindowEndHour:   4,
			WindowHours:     3,
			ChargeKWH:       needed,
			TargetSOC:       targetSOC,
			AvgPrice:        session.AvgPrice,
			Source:          types.SourceDaily,
			Reason:          "predicted deficit",
			Date:            date,
		}
		if err := db.InsertPlan(ctx, plan); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to insert plan", slog.String("date", date), slog.Any("error", err))
			os.Exit(1)
		}
	}

	state := types.PersistedState{
		Version:              types.CurrentStateVersion,
		ConsumptionHistory:   consumption,
		ForecastErrorHistory: forecastErrors,
		LastSession:          &lastSession,
		Enabled:              true,
	}
	if err := db.SaveState(ctx, state); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save state", slog.Any("error", err))
		os.Exit(1)
	}

	if err := db.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded history", slog.Int("days", len(consumption)))
}
