package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/nightwatt/nightwatt/pkg/common"
	"github.com/nightwatt/nightwatt/pkg/log"
	"github.com/nightwatt/nightwatt/pkg/types"
)

// ForecastSolar implements the Source interface against the forecast.solar
// public API. The free tier allows a handful of requests per hour, so
// responses are cached aggressively.
type ForecastSolar struct {
	apiURL      string
	lat         float64
	lon         float64
	declination float64
	azimuth     float64
	kwp         float64
	client      *http.Client

	mu            sync.Mutex
	lastFetchTime time.Time
	cachedDaily   map[string]float64
	cachedHourly  map[string]map[int]float64
}

// configuredForecastSolar sets up flags for forecast.solar and returns the
// instance. It uses lflag to register command-line flags for configuration.
func configuredForecastSolar() *ForecastSolar {
	f := &ForecastSolar{
		client: common.HTTPClient(15 * time.Second),
	}
	apiURL := lflag.String("solar-api-url", "https://api.forecast.solar", "URL for the forecast.solar API")
	lat := lflag.Float64("solar-lat", 0, "latitude of the solar installation")
	lon := lflag.Float64("solar-lon", 0, "longitude of the solar installation")
	dec := lflag.Float64("solar-declination", 30, "panel declination in degrees")
	az := lflag.Float64("solar-azimuth", 0, "panel azimuth in degrees, 0 is south")
	kwp := lflag.Float64("solar-kwp", 0, "installed peak power in kW")

	lflag.Do(func() {
		f.apiURL = *apiURL
		f.lat = *lat
		f.lon = *lon
		f.declination = *dec
		f.azimuth = *az
		f.kwp = *kwp
	})

	return f
}

// Validate ensures the configuration is valid.
func (f *ForecastSolar) Validate() error {
	if f.apiURL == "" {
		return fmt.Errorf("solar-api-url is required")
	}
	if _, err := url.Parse(f.apiURL); err != nil {
		return fmt.Errorf("failed to parse solar url (%s): %w", f.apiURL, err)
	}
	if f.kwp <= 0 {
		return fmt.Errorf("solar-kwp must be positive")
	}
	return nil
}

// forecastResponse represents the structure of the JSON returned by
// forecast.solar. Energy values are watt hours.
type forecastResponse struct {
	Result struct {
		WattHoursDay    map[string]float64 `json:"watt_hours_day"`
		WattHoursPeriod map[string]float64 `json:"watt_hours_period"`
	} `json:"result"`
}

// Daily returns the forecast production in kWh for the day of date.
func (f *ForecastSolar) Daily(ctx context.Context, date time.Time) (float64, error) {
	daily, _, err := f.fetch(ctx, date.Location())
	if err != nil {
		return 0, err
	}
	day := date.Format(types.DateFormat)
	kwh, ok := daily[day]
	if !ok {
		// the API only covers today and tomorrow
		return 0, fmt.Errorf("%s: %w", day, ErrNoForecast)
	}
	return kwh, nil
}

// Hourly returns the forecast production in kWh per local hour for the day
// of date.
func (f *ForecastSolar) Hourly(ctx context.Context, date time.Time) (map[int]float64, error) {
	_, hourly, err := f.fetch(ctx, date.Location())
	if err != nil {
		return nil, err
	}
	return hourly[date.Format(types.DateFormat)], nil
}

// fetch retrieves the forecast, caching it for an hour. The API returns
// today and tomorrow in one response.
func (f *ForecastSolar) fetch(ctx context.Context, loc *time.Location) (map[string]float64, map[string]map[int]float64, error) {
	f.mu.Lock()
	if !f.lastFetchTime.IsZero() && time.Since(f.lastFetchTime) < time.Hour {
		daily, hourly := f.cachedDaily, f.cachedHourly
		f.mu.Unlock()
		return daily, hourly, nil
	}
	f.mu.Unlock()

	u, err := url.Parse(fmt.Sprintf("%s/estimate/%g/%g/%g/%g/%g",
		f.apiURL, f.lat, f.lon, f.declination, f.azimuth, f.kwp))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid api url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching solar forecast", slog.String("url", u.String()))

	resp, err := f.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch solar forecast", slog.Any("error", err))
		return nil, nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("forecast api returned status: %d", resp.StatusCode)
	}

	var data forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}

	daily := make(map[string]float64, len(data.Result.WattHoursDay))
	for day, wh := range data.Result.WattHoursDay {
		daily[day] = wh / 1000.0
	}

	hourly := make(map[string]map[int]float64)
	for key, wh := range data.Result.WattHoursPeriod {
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", key, loc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse forecast period", slog.String("value", key), slog.Any("error", err))
			continue
		}
		day := ts.Format(types.DateFormat)
		if hourly[day] == nil {
			hourly[day] = make(map[int]float64)
		}
		hourly[day][ts.Hour()] += wh / 1000.0
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched solar forecast",
		slog.Int("days", len(daily)),
	)

	f.mu.Lock()
	f.cachedDaily = daily
	f.cachedHourly = hourly
	f.lastFetchTime = time.Now()
	f.mu.Unlock()

	return daily, hourly, nil
}
