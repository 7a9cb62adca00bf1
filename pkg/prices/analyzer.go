package prices

import (
	"math"
	"sort"

	"github.com/nightwatt/nightwatt/pkg/types"
)

// NightSlots returns the local hours of the night window in order, wrapping
// midnight when startHour >= endHour. The end hour is exclusive.
func NightSlots(startHour, endHour int) []int {
	if startHour == endHour {
		return nil
	}
	var slots []int
	for h := startHour; h != endHour; h = (h + 1) % 24 {
		slots = append(slots, h)
	}
	return slots
}

// HoursNeeded returns how many whole hours of charging at maxPowerKW are
// needed for chargeKWH. Zero energy needs zero hours.
func HoursNeeded(chargeKWH, maxPowerKW float64) int {
	if chargeKWH <= 0 || maxPowerKW <= 0 {
		return 0
	}
	return int(math.Ceil(chargeKWH / maxPowerKW))
}

// Window is a contiguous run of hours with its average price.
type Window struct {
	StartHour int
	Hours     int
	AvgPrice  float64
}

// EndHour returns the exclusive end hour of the window.
func (w Window) EndHour() int {
	return (w.StartHour + w.Hours) % 24
}

// CheapestWindow finds the contiguous run of hours inside the night window
// with the lowest average price. Prices are keyed by local hour and must
// cover every slot the candidate window uses; candidates with missing prices
// are skipped. Ties go to the earliest start. The second return is false when
// no candidate has complete price data, hours exceeds the window size, or
// the winning average is above maxPrice (0 disables the cap).
func CheapestWindow(hourPrices map[int]float64, startHour, endHour, hours int, maxPrice float64) (Window, bool) {
	slots := NightSlots(startHour, endHour)
	if hours <= 0 || hours > len(slots) {
		return Window{}, false
	}

	best := Window{}
	found := false
	for i := 0; i+hours <= len(slots); i++ {
		var sum float64
		complete := true
		for j := i; j < i+hours; j++ {
			p, ok := hourPrices[slots[j]]
			if !ok {
				complete = false
				break
			}
			sum += p
		}
		if !complete {
			continue
		}
		avg := sum / float64(hours)
		if !found || avg < best.AvgPrice {
			best = Window{StartHour: slots[i], Hours: hours, AvgPrice: avg}
			found = true
		}
	}
	if found && maxPrice > 0 && best.AvgPrice > maxPrice {
		return Window{}, false
	}
	return best, found
}

// CheapestHours returns up to n hours inside the night window ordered by
// price ascending, ties broken by window position. Hours without a price are
// excluded.
func CheapestHours(hourPrices map[int]float64, startHour, endHour, n int) []int {
	slots := NightSlots(startHour, endHour)
	type slotPrice struct {
		pos   int
		hour  int
		price float64
	}
	var priced []slotPrice
	for pos, h := range slots {
		if p, ok := hourPrices[h]; ok {
			priced = append(priced, slotPrice{pos: pos, hour: h, price: p})
		}
	}
	sort.Slice(priced, func(i, j int) bool {
		if priced[i].price != priced[j].price {
			return priced[i].price < priced[j].price
		}
		return priced[i].pos < priced[j].pos
	})
	if n > len(priced) {
		n = len(priced)
	}
	hours := make([]int, 0, n)
	for _, sp := range priced[:n] {
		hours = append(hours, sp.hour)
	}
	return hours
}

// Status classifies a price against the configured maximum charge price.
// With no maximum configured everything is normal.
func Status(price, maxPrice float64) types.PriceStatus {
	if maxPrice <= 0 {
		return types.PriceNormal
	}
	switch {
	case price < 0.5*maxPrice:
		return types.PriceVeryCheap
	case price < 0.8*maxPrice:
		return types.PriceCheap
	case price <= maxPrice:
		return types.PriceNormal
	default:
		return types.PriceExpensive
	}
}
