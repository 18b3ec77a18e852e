package logic

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/cache"
	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/models"
)

// nowFn is swapped in tests to pin the decision clock.
var nowFn = time.Now

// thousand is the CPM denominator.
var thousand = decimal.NewFromInt(1000)

// Pacer computes how much delivery each flight still needs in the current
// pacing interval and turns that into a lottery weight. Interval counters
// live in Redis; a short-lived local cache shaves the round trip on the hot
// decision path.
type Pacer struct {
	Store    *db.RedisStore
	Local    *cache.Cache
	LocalTTL time.Duration
}

// NewPacer wires a pacer over the shared Redis store. localTTL bounds how
// stale the per-process counter cache may get.
func NewPacer(store *db.RedisStore, local *cache.Cache, localTTL time.Duration) *Pacer {
	return &Pacer{Store: store, Local: local, LocalTTL: localTTL}
}

// SoldIntervals is the number of pacing intervals the flight was sold
// across, counting both the start and end dates. With the default daily
// interval this is simply the number of sold days.
func SoldIntervals(f *models.Flight) int64 {
	interval := time.Duration(f.Interval()) * time.Second
	total := f.EndDate.UTC().Truncate(24 * time.Hour).
		Add(24 * time.Hour).
		Sub(f.StartDate.UTC().Truncate(24 * time.Hour))
	if total <= 0 {
		return 1
	}
	n := int64(math.Ceil(float64(total) / float64(interval)))
	if n < 1 {
		return 1
	}
	return n
}

// ElapsedIntervals counts whole intervals between the flight start and t.
func ElapsedIntervals(f *models.Flight, t time.Time) int64 {
	interval := time.Duration(f.Interval()) * time.Second
	elapsed := t.Sub(f.StartDate.UTC().Truncate(24 * time.Hour))
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed / interval)
}

// IntervalsRemaining never drops below one, so an over-pace flight can
// still catch up on its final interval.
func IntervalsRemaining(f *models.Flight, t time.Time) int64 {
	remaining := SoldIntervals(f) - ElapsedIntervals(f, t)
	if remaining < 1 {
		return 1
	}
	return remaining
}

// IntervalStart returns the start of the interval containing t, used to key
// the interval counters.
func IntervalStart(f *models.Flight, t time.Time) time.Time {
	interval := time.Duration(f.Interval()) * time.Second
	start := f.StartDate.UTC().Truncate(24 * time.Hour)
	return start.Add(time.Duration(ElapsedIntervals(f, t)) * interval)
}

// targetTotal is the cumulative delivery the flight should have reached by
// the end of the current interval, for a budget of sold units.
func targetTotal(sold, intervalsRemaining, soldIntervals int64) int64 {
	return sold - sold*(intervalsRemaining-1)/soldIntervals
}

// ViewsNeeded and ClicksNeeded return how many more of each event the
// flight needs before the current interval closes. Past the end date the
// whole unsold remainder is needed; before the start, nothing.
func (p *Pacer) ViewsNeeded(ctx context.Context, f *models.Flight) (int64, error) {
	return p.needed(ctx, f, f.SoldImpressions, f.TotalViews, "views")
}

func (p *Pacer) ClicksNeeded(ctx context.Context, f *models.Flight) (int64, error) {
	return p.needed(ctx, f, f.SoldClicks, f.TotalClicks, "clicks")
}

func (p *Pacer) needed(ctx context.Context, f *models.Flight, sold, total int64, kind string) (int64, error) {
	if sold <= 0 || !f.Live {
		return 0, nil
	}
	t := nowFn().UTC()
	start := f.StartDate.UTC().Truncate(24 * time.Hour)
	end := f.EndDate.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if t.Before(start) {
		return 0, nil
	}
	if !t.Before(end) {
		return maxInt64(0, sold-total), nil
	}

	views, clicks, err := p.countsThisInterval(ctx, f, t)
	if err != nil {
		return 0, err
	}
	soFar := views
	if kind == "clicks" {
		soFar = clicks
	}

	soldIntervals := SoldIntervals(f)
	remaining := IntervalsRemaining(f, t)
	target := targetTotal(sold, remaining, soldIntervals)
	return maxInt64(0, target-total-soFar), nil
}

// countsThisInterval reads the interval counters, preferring the local
// cache. A Redis failure degrades to zero counts rather than dropping the
// flight from selection.
func (p *Pacer) countsThisInterval(ctx context.Context, f *models.Flight, t time.Time) (views, clicks int64, err error) {
	if p.Store == nil {
		return 0, 0, ErrNilRedisStore
	}
	intervalStart := IntervalStart(f, t)
	key := fmt.Sprintf("counts:%s:%d", f.Slug, intervalStart.Unix())
	if p.Local != nil {
		if v, ok := p.Local.Get(key); ok {
			c := v.([2]int64)
			return c[0], c[1], nil
		}
	}
	views, clicks, err = p.Store.FlightIntervalCounts(ctx, f.Slug, intervalStart)
	if err != nil {
		zap.L().Warn("interval counts unavailable, assuming zero",
			zap.String("flight", f.Slug), zap.Error(err))
		return 0, 0, nil
	}
	if p.Local != nil {
		p.Local.Set(key, [2]int64{views, clicks}, p.LocalTTL)
	}
	return views, clicks, nil
}

// DailyCapReached reports whether one more billed event at the flight's
// price would push today's spend past its daily cap.
func (p *Pacer) DailyCapReached(ctx context.Context, f *models.Flight) (bool, error) {
	if !f.DailyCap.IsPositive() {
		return false, nil
	}
	if p.Store == nil {
		return false, ErrNilRedisStore
	}
	day := nowFn().UTC()
	views, clicks, err := p.Store.FlightDayCounts(ctx, f.Slug, day)
	if err != nil {
		return false, err
	}
	spent := f.CPC.Mul(decimal.NewFromInt(clicks)).
		Add(f.CPM.Mul(decimal.NewFromInt(views)).Div(thousand))
	return spent.Add(EventCost(f)).GreaterThan(f.DailyCap), nil
}

// PublisherCapReached reports whether billing one more of this flight's
// events would push the publisher past its daily earnings cap.
func (p *Pacer) PublisherCapReached(ctx context.Context, pub *models.Publisher, f *models.Flight) (bool, error) {
	if !pub.DailyCap.IsPositive() {
		return false, nil
	}
	if p.Store == nil {
		return false, ErrNilRedisStore
	}
	spend, err := p.Store.PublisherSpendToday(ctx, pub.Slug, nowFn().UTC())
	if err != nil {
		return false, err
	}
	return spend.Add(EventCost(f)).GreaterThan(pub.DailyCap), nil
}

// EventCost is the price of one billable event on the flight: the CPC for a
// click flight, a thousandth of the CPM for a view flight.
func EventCost(f *models.Flight) decimal.Decimal {
	if f.IsCPC() {
		return f.CPC
	}
	return f.CPM.Div(thousand)
}

// WeightedClicksNeeded is the flight's lottery weight: outstanding work
// scaled by priority and performance boosts. Boosts only ever push the
// weight up; each multiplicative factor is clamped to [1, 10].
func (p *Pacer) WeightedClicksNeeded(ctx context.Context, f *models.Flight, pub *models.Publisher) (int64, error) {
	views, err := p.ViewsNeeded(ctx, f)
	if err != nil {
		return 0, err
	}
	clicks, err := p.ClicksNeeded(ctx, f)
	if err != nil {
		return 0, err
	}
	base := (views+999)/1000 + clicks
	if base <= 0 {
		return 0, nil
	}

	capped, err := p.DailyCapReached(ctx, f)
	if err != nil {
		return 0, err
	}
	if capped {
		return 0, nil
	}
	capped, err = p.PublisherCapReached(ctx, pub, f)
	if err != nil {
		return 0, err
	}
	if capped {
		return 0, nil
	}

	w := float64(base) * float64(maxInt(1, f.PriorityMultiplier))

	cpc, _ := f.CPC.Float64()
	cpm, _ := f.CPM.Float64()
	if f.IsCPM() {
		w *= boost(cpm)
	}
	if f.PrioritizeCTR && f.CTR() > 0.1 {
		w *= boost(10 * cpc * f.CTR())
	}
	if pub.SampledCTR > 0 && cpc > 0 {
		w *= boost(10 * cpc * pub.SampledCTR)
	}

	t := nowFn().UTC()
	end := f.EndDate.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if t.After(end) {
		daysOverdue := t.Sub(end).Hours() / 24
		if factor := int64(math.Pow(daysOverdue, 1.5)); factor > 1 {
			w *= float64(factor)
		}
	}

	return int64(w), nil
}

// boost clamps a multiplicative bonus to [1, 10].
func boost(x float64) float64 {
	if x < 1 {
		return 1
	}
	if x > 10 {
		return 10
	}
	return x
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
