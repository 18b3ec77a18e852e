package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPacingInterval is one day in seconds, the granularity at which
// delivery targets are computed unless a flight overrides it.
const DefaultPacingInterval = 86400

// Flight is a bought line item: price model, budget, dates and targeting
// for the advertisements underneath it. Exactly one of CPC and CPM is
// positive at any time.
type Flight struct {
	Slug         string `json:"slug"`
	CampaignSlug string `json:"campaign"`
	Name         string `json:"name"`
	Live         bool   `json:"live"`

	// StartDate and EndDate are inclusive UTC dates bounding delivery.
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	CPC             decimal.Decimal `json:"cpc"`
	CPM             decimal.Decimal `json:"cpm"`
	SoldClicks      int64           `json:"sold_clicks"`
	SoldImpressions int64           `json:"sold_impressions"`

	// PriorityMultiplier scales the flight's lottery weight, in [1, 100].
	PriorityMultiplier int `json:"priority_multiplier"`
	// PacingInterval is the delivery interval in seconds (default one day).
	PacingInterval int `json:"pacing_interval"`
	// PrioritizeCTR boosts the lottery weight of well-performing CPC flights.
	PrioritizeCTR bool `json:"prioritize_ctr"`
	// DailyCap bounds the flight's spend per day. Zero means uncapped.
	DailyCap decimal.Decimal `json:"daily_cap"`

	Targeting Targeting `json:"targeting"`

	// Denormalized totals refreshed by the rollup worker from the daily
	// impression table. Eventually consistent.
	TotalViews  int64 `json:"total_views"`
	TotalClicks int64 `json:"total_clicks"`
}

// Interval returns the pacing interval in seconds, defaulting when unset.
func (f *Flight) Interval() int {
	if f.PacingInterval <= 0 {
		return DefaultPacingInterval
	}
	return f.PacingInterval
}

// IsCPC reports whether the flight bills per click.
func (f *Flight) IsCPC() bool { return f.CPC.IsPositive() }

// IsCPM reports whether the flight bills per thousand views.
func (f *Flight) IsCPM() bool { return f.CPM.IsPositive() }

// CTR returns the flight's lifetime click-through rate in percent based on
// the denormalized totals. Zero when no views have been recorded.
func (f *Flight) CTR() float64 {
	if f.TotalViews <= 0 {
		return 0
	}
	return float64(f.TotalClicks) / float64(f.TotalViews) * 100
}

// ContainsDate reports whether the given time falls inside the flight's
// inclusive date window.
func (f *Flight) ContainsDate(t time.Time) bool {
	day := t.UTC().Truncate(24 * time.Hour)
	start := f.StartDate.UTC().Truncate(24 * time.Hour)
	end := f.EndDate.UTC().Truncate(24 * time.Hour)
	return !day.Before(start) && !day.After(end)
}
