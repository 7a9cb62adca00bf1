package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nightwatt/nightwatt/pkg/log"
	"github.com/nightwatt/nightwatt/pkg/types"
)

func (s *Server) handleHistorySessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessions, err := s.storage.GetSessionHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get sessions", slog.Any("error", err))
		writeJSONError(w, "failed to get sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []types.ChargeSession{}
	}

	// finished nights never change, recent ones might still be sealing
	if end.Before(time.Now().Truncate(24 * time.Hour)) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, sessions)
}

func (s *Server) handleHistoryPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	// plan history is end-exclusive on dates, bump past the final day
	plans, err := s.storage.GetPlanHistory(ctx, start.Format(types.DateFormat), end.AddDate(0, 0, 1).Format(types.DateFormat))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get plans", slog.Any("error", err))
		writeJSONError(w, "failed to get plans", http.StatusInternalServerError)
		return
	}
	if plans == nil {
		plans = []types.Plan{}
	}
	writeJSON(w, plans)
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to the last week if not specified
		end := time.Now()
		start := end.AddDate(0, 0, -7)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > 90*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 90 days")
	}

	return start, end, nil
}
