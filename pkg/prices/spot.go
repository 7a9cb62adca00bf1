package prices

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

// Spot implements the Source interface against a day-ahead spot price API.
// Day-ahead prices are published once per day, usually in the early
// afternoon, so completed days are cached forever and incomplete days for a
// short time.
type Spot struct {
	apiURL   string
	area     string
	currency string
	client   *http.Client

	mu            sync.Mutex
	cachedDays    map[string]types.DayPrices
	lastFetchTime map[string]time.Time
}

// configuredSpot sets up flags for the spot price API and returns the
// instance. It uses lflag to register command-line flags for configuration.
func configuredSpot() *Spot {
	s := &Spot{
		client:        common.HTTPClient(10 * time.Second),
		cachedDays:    make(map[string]types.DayPrices),
		lastFetchTime: make(map[string]time.Time),
	}
	apiURL := lflag.String("spot-api-url", "https://www.elprisetjustnu.se/api/v1/prices", "URL for the day-ahead spot price API")
	area := lflag.String("spot-area", "SE3", "bidding area to fetch prices for")
	currency := lflag.String("spot-currency", "SEK", "currency the API returns prices in")

	lflag.Do(func() {
		s.apiURL = *apiURL
		s.area = *area
		s.currency = *currency
	})

	return s
}

// Validate ensures the configuration is valid.
func (s *Spot) Validate() error {
	if s.apiURL == "" {
		return fmt.Errorf("spot-api-url is required")
	}
	if _, err := url.Parse(s.apiURL); err != nil {
		return fmt.Errorf("failed to parse spot url (%s): %w", s.apiURL, err)
	}
	if s.area == "" {
		return fmt.Errorf("spot-area is required")
	}
	return nil
}

// spotPriceEntry represents one hour in the JSON returned by the API.
type spotPriceEntry struct {
	TimeStart time.Time `json:"time_start"`
	TimeEnd   time.Time `json:"time_end"`
	Price     float64   `json:"price_per_kwh"`
}

// DayPrices returns the hourly prices for the local calendar day of date.
func (s *Spot) DayPrices(ctx context.Context, date time.Time) (types.DayPrices, error) {
	day := date.Format(types.DateFormat)

	s.mu.Lock()
	cached, ok := s.cachedDays[day]
	fetched := s.lastFetchTime[day]
	s.mu.Unlock()

	// a complete day never changes; an incomplete one is retried after a
	// short backoff
	if ok && (len(cached.Hours) >= 24 || time.Since(fetched) < 15*time.Minute) {
		return cached, nil
	}

	prices, err := s.fetchDay(ctx, date)
	if err != nil {
		return types.DayPrices{}, err
	}

	s.mu.Lock()
	s.cachedDays[day] = prices
	s.lastFetchTime[day] = time.Now()
	s.mu.Unlock()

	return prices, nil
}

// fetchDay retrieves a single day of prices from the API.
func (s *Spot) fetchDay(ctx context.Context, date time.Time) (types.DayPrices, error) {
	day := date.Format(types.DateFormat)

	u, err := url.Parse(s.apiURL)
	if err != nil {
		return types.DayPrices{}, fmt.Errorf("invalid api url: %w", err)
	}

	params := url.Values{}
	params.Set("date", day)
	params.Set("area", s.area)
	params.Set("currency", s.currency)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return types.DayPrices{}, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching spot prices", slog.String("url", u.String()))

	resp, err := s.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch spot prices", slog.Any("error", err))
		return types.DayPrices{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	// the API 404s for days that have not been published yet
	if resp.StatusCode == http.StatusNotFound {
		return types.DayPrices{}, fmt.Errorf("%s: %w", day, ErrNotAvailable)
	}
	if resp.StatusCode != http.StatusOK {
		return types.DayPrices{}, fmt.Errorf("spot api returned status: %d", resp.StatusCode)
	}

	var entries []spotPriceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode spot response", slog.Any("error", err))
		return types.DayPrices{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(entries) == 0 {
		return types.DayPrices{}, fmt.Errorf("%s: %w", day, ErrNotAvailable)
	}

	prices := types.DayPrices{
		Date:  day,
		Hours: make(map[int]float64, len(entries)),
	}
	for _, e := range entries {
		start := e.TimeStart.In(date.Location())
		if start.Format(types.DateFormat) != day {
			continue
		}
		prices.Hours[start.Hour()] = e.Price
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched spot prices",
		slog.String("date", day),
		slog.Int("hours", len(prices.Hours)),
	)

	return prices, nil
}
