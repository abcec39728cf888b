// Package constants defines centralized configuration for crawl tiers,
// upstream API parameters, and pacing defaults. Change values here to
// update budgets across the entire application.
package constants

import (
	"errors"
	"fmt"
)

// Tier names
const (
	TierA = "A" // conservative: priority-1 stations, direct connection
	TierB = "B" // medium: priority-1/2 stations, proxied
	TierC = "C" // full scale: all stations, calendar and detail, proxied
)

// ErrUnknownTier is returned when a tier name is not A, B or C.
var ErrUnknownTier = errors.New("unknown crawl tier")

// TierBudget defines the request budget and pacing for a crawl tier.
// A budget is immutable for the lifetime of the process.
type TierBudget struct {
	// Name is the tier letter ("A", "B" or "C").
	Name string
	// StationPriorities is the set of station priorities this tier crawls.
	// Priority 1 covers roughly 30 stations, 1-2 roughly 100, 1-3 roughly 300.
	StationPriorities []int
	// SearchIntervalMinutes is the cadence of the search snapshot job.
	SearchIntervalMinutes int
	// CalendarEnabled controls whether the daily calendar job is scheduled.
	CalendarEnabled bool
	// CalendarHour is the local hour-of-day at which the calendar job fires.
	CalendarHour int
	// DetailEnabled controls whether the weekly listing-detail job is scheduled.
	DetailEnabled bool
	// Concurrency is the max in-flight requests within a job.
	Concurrency int
	// DelayBase is the base inter-request delay in seconds.
	DelayBase float64
	// JitterLow and JitterHigh bound the uniform random jitter added to
	// the base delay, in seconds.
	JitterLow  float64
	JitterHigh float64
	// ProxyRequired indicates the tier must not run with an empty pool.
	ProxyRequired bool
	// RotateAfter is the per-proxy request count before forced rotation.
	RotateAfter int
	// MaxRequestsPerHour caps requests in a rolling hourly window.
	MaxRequestsPerHour int
	// MaxRequestsPerDay caps requests per IP in a rolling daily window.
	MaxRequestsPerDay int
}

// Budgets defines the three built-in operating points. Tier A runs
// direct with long delays, tier C assumes a rotating proxy pool.
var Budgets = map[string]TierBudget{
	TierA: {
		Name:                  TierA,
		StationPriorities:     []int{1},
		SearchIntervalMinutes: 60,
		CalendarEnabled:       true,
		CalendarHour:          3,
		DetailEnabled:         false,
		Concurrency:           1,
		DelayBase:             7.0,
		JitterLow:             2.0,
		JitterHigh:            8.0,
		ProxyRequired:         false,
		RotateAfter:           500,
		MaxRequestsPerHour:    500,
		MaxRequestsPerDay:     8000,
	},
	TierB: {
		Name:                  TierB,
		StationPriorities:     []int{1, 2},
		SearchIntervalMinutes: 60,
		CalendarEnabled:       true,
		CalendarHour:          2,
		DetailEnabled:         true,
		Concurrency:           2,
		DelayBase:             5.0,
		JitterLow:             1.0,
		JitterHigh:            5.0,
		ProxyRequired:         true,
		RotateAfter:           30,
		MaxRequestsPerHour:    80,
		MaxRequestsPerDay:     600,
	},
	TierC: {
		Name:                  TierC,
		StationPriorities:     []int{1, 2, 3},
		SearchIntervalMinutes: 60,
		CalendarEnabled:       true,
		CalendarHour:          1,
		DetailEnabled:         true,
		Concurrency:           3,
		DelayBase:             4.0,
		JitterLow:             1.0,
		JitterHigh:            4.0,
		ProxyRequired:         true,
		RotateAfter:           25,
		MaxRequestsPerHour:    100,
		MaxRequestsPerDay:     500,
	},
}

// BudgetFor returns the budget for a tier name.
func BudgetFor(tier string) (TierBudget, error) {
	budget, ok := Budgets[tier]
	if !ok {
		return TierBudget{}, fmt.Errorf("%w: %q (must be A, B or C)", ErrUnknownTier, tier)
	}
	return budget, nil
}

// AllowsPriority reports whether the budget covers stations of the
// given priority.
func (b TierBudget) AllowsPriority(priority int) bool {
	for _, p := range b.StationPriorities {
		if p == priority {
			return true
		}
	}
	return false
}
