package offers

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/analytics"
	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/geoip"
	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/logic/ratelimit"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
)

// EventContext is the annotated form of a view or click request hitting the
// proxy endpoints.
type EventContext struct {
	IP        net.IP
	UserAgent string
	UA        logic.UserAgentInfo
	Referrer  string
	Geo       geoip.Location
	// KnownUser marks staff, publisher and advertiser traffic, which is
	// never billed.
	KnownUser bool
}

// Tracker validates view and click events against armed nonces, applies the
// fraud rules and bills the ones that pass.
type Tracker struct {
	PG        *db.Postgres
	Redis     *db.RedisStore
	Data      models.AdDataStore
	Analytics analytics.AnalyticsService
	Metrics   observability.MetricsRegistry
	Blocklist *logic.Blocklist
	Geo       *logic.Geography
	Limiter   *ratelimit.Limiter

	// RecordViews globally enables View audit rows; publishers can also
	// opt in individually.
	RecordViews bool
	// MaxViewTime bounds reported view_time seconds.
	MaxViewTime int
}

// TrackView processes one view event and returns the reason. Billing
// happens only when the returned reason is ReasonBilledView.
func (t *Tracker) TrackView(ctx context.Context, adSlug, nonce string, ec *EventContext) string {
	publisher, err := t.Redis.NoncePublisher(ctx, adSlug, nonce)
	if err != nil {
		zap.L().Error("nonce publisher lookup failed", zap.Error(err))
		return ReasonUnknownOffer
	}
	if publisher == "" {
		t.Metrics.IncrementEvent("view", ReasonUnknownOffer)
		return ReasonUnknownOffer
	}

	// Fraud rules run before the nonce is touched: a denied view leaves the
	// view nonce armed, so it never unlocks the offer's click.
	if reason := t.fraudReason(ec, "view"); reason != "" {
		t.recordDenied(ctx, "view", adSlug, nonce, publisher, ec, reason)
		return reason
	}

	consumed, err := t.Redis.ConsumeNonce(ctx, adSlug, nonce, "view")
	if err != nil {
		zap.L().Error("view nonce consume failed", zap.Error(err))
		return ReasonInvalidNonce
	}
	if !consumed {
		t.Metrics.IncrementEvent("view", ReasonInvalidNonce)
		return ReasonInvalidNonce
	}

	return t.billView(ctx, adSlug, nonce, publisher, ec)
}

// TrackClick processes one click event. It returns the reason and the
// publisher the offer was served on, which the handler needs for link
// substitution regardless of billing outcome.
func (t *Tracker) TrackClick(ctx context.Context, adSlug, nonce string, ec *EventContext) (string, string) {
	publisher, err := t.Redis.NoncePublisher(ctx, adSlug, nonce)
	if err != nil {
		zap.L().Error("nonce publisher lookup failed", zap.Error(err))
		return ReasonUnknownOffer, ""
	}
	if publisher == "" {
		t.Metrics.IncrementEvent("click", ReasonUnknownOffer)
		return ReasonUnknownOffer, ""
	}

	// Fraud and targeting rules run before any nonce is touched, so a
	// denied click leaves the click nonce armed for a clean retry.
	if reason := t.fraudReason(ec, "click"); reason != "" {
		t.recordDenied(ctx, "click", adSlug, nonce, publisher, ec, reason)
		return reason, publisher
	}

	// Geo is re-checked at click time; a clicker who moved out of the
	// flight's targeting no longer bills.
	if flight := t.flightFor(adSlug); flight != nil {
		if !logic.GeoPasses(&flight.Targeting, ec.Geo, t.Geo) {
			t.recordDenied(ctx, "click", adSlug, nonce, publisher, ec, ReasonInvalidTargeting)
			return ReasonInvalidTargeting, publisher
		}
	}

	// A click is accepted only strictly after its view was billed. The view
	// nonce is consumed at billing time and only then, so it still being
	// armed means no billed view exists for this offer yet.
	viewArmed, err := t.Redis.PeekNonce(ctx, adSlug, nonce, "view")
	if err != nil {
		zap.L().Error("view nonce peek failed", zap.Error(err))
		return ReasonInvalidNonce, publisher
	}
	if viewArmed {
		t.Metrics.IncrementEvent("click", ReasonInvalidNonce)
		return ReasonInvalidNonce, publisher
	}

	consumed, err := t.Redis.ConsumeNonce(ctx, adSlug, nonce, "click")
	if err != nil {
		zap.L().Error("click nonce consume failed", zap.Error(err))
		return ReasonInvalidNonce, publisher
	}
	if !consumed {
		t.Metrics.IncrementEvent("click", ReasonInvalidNonce)
		return ReasonInvalidNonce, publisher
	}

	return t.billClick(ctx, adSlug, nonce, publisher, ec), publisher
}

// TrackViewTime records the reported seconds an ad was in view.
func (t *Tracker) TrackViewTime(ctx context.Context, adSlug, nonce string, seconds int) string {
	publisher, err := t.Redis.NoncePublisher(ctx, adSlug, nonce)
	if err != nil || publisher == "" {
		return ReasonUnknownOffer
	}
	if seconds < 0 || seconds > t.MaxViewTime {
		return ReasonInvalidViewTime
	}
	offerID, err := uuid.Parse(nonce)
	if err != nil {
		return ReasonInvalidViewTime
	}
	if err := t.PG.SetOfferViewTime(ctx, offerID, seconds); err != nil {
		zap.L().Error("set view time failed", zap.Error(err))
		return ReasonInvalidViewTime
	}
	return ReasonUpdatedViewTime
}

// Uplift marks the offer uplifted without touching viewed or consuming the
// nonce.
func (t *Tracker) Uplift(ctx context.Context, adSlug, nonce string) bool {
	publisher, err := t.Redis.NoncePublisher(ctx, adSlug, nonce)
	if err != nil || publisher == "" {
		return false
	}
	offerID, err := uuid.Parse(nonce)
	if err != nil {
		return false
	}
	if err := t.PG.MarkOfferUplifted(ctx, offerID); err != nil {
		zap.L().Error("mark uplifted failed", zap.Error(err))
		return false
	}
	return true
}

// Refund flips is_refunded on the offer and rolls back that day's billed
// counters. The second refund of the same offer returns false.
func (t *Tracker) Refund(ctx context.Context, offerID uuid.UUID) (bool, error) {
	refunded, err := t.PG.RefundOffer(ctx, offerID)
	if err != nil || !refunded {
		return false, err
	}
	t.Metrics.IncrementRefunds()
	if offer, err := t.PG.GetOffer(ctx, offerID); err == nil && offer != nil {
		e := analytics.EventRecord{
			Timestamp:     nowFn().UTC(),
			EventType:     analytics.EventRefund,
			OfferID:       offerID.String(),
			Publisher:     offer.Publisher,
			Advertisement: offer.Advertisement,
			Reason:        "refund",
		}
		if err := t.Analytics.RecordEvent(ctx, e); err != nil && err != analytics.ErrUnavailable {
			zap.L().Warn("analytics event failed", zap.String("event", analytics.EventRefund), zap.Error(err))
		}
	}
	return true, nil
}

// fraudReason applies the ordered not-billed rules shared by views and
// clicks. Empty means the event may bill.
func (t *Tracker) fraudReason(ec *EventContext, eventType string) string {
	if t.Blocklist.InternalIP(ec.IP) {
		return ReasonInternalIP
	}
	if t.Blocklist.BlockedIP(ec.IP) {
		return ReasonBlockedIP
	}
	if t.Blocklist.BlockedUserAgent(ec.UserAgent) {
		return ReasonBlockedUA
	}
	if t.Blocklist.BlockedReferrer(ec.Referrer) {
		return ReasonBlockedReferrer
	}
	if ec.KnownUser {
		return ReasonKnownUser
	}
	if ec.UA.IsBot {
		return ReasonBot
	}
	if !ec.UA.Supported() {
		return ReasonUnrecognizedUA
	}
	if t.Limiter != nil && ec.IP != nil && !t.Limiter.Allow(ratelimit.Key(ec.IP.String(), eventType)) {
		t.Metrics.IncrementRateLimitHits(eventType)
		if eventType == "click" {
			return ReasonRatelimitedClick
		}
		return ReasonRatelimitedView
	}
	return ""
}

func (t *Tracker) billView(ctx context.Context, adSlug, nonce, publisher string, ec *EventContext) string {
	day := nowFn().UTC()

	if err := t.PG.IncrementImpression(ctx, publisher, &adSlug, day, db.ImpressionViews); err != nil {
		zap.L().Error("increment views failed", zap.Error(err))
	}

	// Forced house views count in the daily counters but have no offer
	// row reachable from the sentinel nonce.
	if nonce != models.ForcedNonce {
		if offerID, err := uuid.Parse(nonce); err == nil {
			if err := t.PG.MarkOfferViewed(ctx, offerID); err != nil {
				zap.L().Error("mark viewed failed", zap.Error(err))
			}
			if t.shouldRecordViews(publisher) {
				if err := t.PG.InsertView(ctx, models.View{OfferID: offerID, CreatedAt: day}); err != nil {
					zap.L().Error("insert view failed", zap.Error(err))
				}
			}
		}
		t.settle(ctx, adSlug, publisher, "views", day)
	}

	t.Metrics.IncrementEvent("view", ReasonBilledView)
	t.recordBilled(ctx, analytics.EventView, adSlug, nonce, publisher, ec, true)
	return ReasonBilledView
}

func (t *Tracker) billClick(ctx context.Context, adSlug, nonce, publisher string, ec *EventContext) string {
	day := nowFn().UTC()

	if err := t.PG.IncrementImpression(ctx, publisher, &adSlug, day, db.ImpressionClicks); err != nil {
		zap.L().Error("increment clicks failed", zap.Error(err))
	}
	if offerID, err := uuid.Parse(nonce); err == nil {
		if err := t.PG.MarkOfferClicked(ctx, offerID); err != nil {
			zap.L().Error("mark clicked failed", zap.Error(err))
		}
		if err := t.PG.InsertClick(ctx, models.Click{OfferID: offerID, CreatedAt: day}); err != nil {
			zap.L().Error("insert click failed", zap.Error(err))
		}
	}
	t.settle(ctx, adSlug, publisher, "clicks", day)

	t.Metrics.IncrementEvent("click", ReasonBilledClick)
	t.recordBilled(ctx, analytics.EventClick, adSlug, nonce, publisher, ec, false)
	return ReasonBilledClick
}

// settle bumps the pacing counters and the publisher's earnings for one
// billed event.
func (t *Tracker) settle(ctx context.Context, adSlug, publisher, kind string, day time.Time) {
	flight := t.flightFor(adSlug)
	if flight == nil {
		return
	}
	interval := time.Duration(flight.Interval()) * time.Second
	intervalStart := logic.IntervalStart(flight, day)
	if err := t.Redis.IncrFlightEvent(ctx, flight.Slug, kind, intervalStart, interval, day); err != nil {
		zap.L().Error("flight counter increment failed", zap.String("flight", flight.Slug), zap.Error(err))
	}
	billable := (kind == "views" && flight.IsCPM()) || (kind == "clicks" && flight.IsCPC())
	if billable {
		if err := t.Redis.AddPublisherSpend(ctx, publisher, day, logic.EventCost(flight)); err != nil {
			zap.L().Error("publisher spend increment failed", zap.String("publisher", publisher), zap.Error(err))
		}
	}
}

func (t *Tracker) flightFor(adSlug string) *models.Flight {
	ad := t.Data.GetAdvertisement(adSlug)
	if ad == nil {
		return nil
	}
	return t.Data.GetFlight(ad.FlightSlug)
}

func (t *Tracker) shouldRecordViews(publisher string) bool {
	if t.RecordViews {
		return true
	}
	pub := t.Data.GetPublisher(publisher)
	return pub != nil && pub.RecordViews
}

func (t *Tracker) recordBilled(ctx context.Context, eventType, adSlug, nonce, publisher string, ec *EventContext, isView bool) {
	cost := 0.0
	var flightSlug, campaignSlug, campaignType *string
	if flight := t.flightFor(adSlug); flight != nil {
		if (isView && flight.IsCPM()) || (!isView && flight.IsCPC()) {
			cost, _ = logic.EventCost(flight).Float64()
		}
		flightSlug = &flight.Slug
		if campaign := t.Data.GetCampaign(flight.CampaignSlug); campaign != nil {
			campaignSlug = &campaign.Slug
			campaignType = &campaign.Type
		}
	}
	reason := ReasonBilledClick
	if isView {
		reason = ReasonBilledView
	}
	t.emit(ctx, eventType, adSlug, nonce, publisher, ec, cost, reason, flightSlug, campaignSlug, campaignType)
}

func (t *Tracker) recordDenied(ctx context.Context, eventType, adSlug, nonce, publisher string, ec *EventContext, reason string) {
	t.Metrics.IncrementEvent(eventType, reason)
	t.emit(ctx, eventType, adSlug, nonce, publisher, ec, 0, reason, nil, nil, nil)
}

func (t *Tracker) emit(ctx context.Context, eventType, adSlug, nonce, publisher string, ec *EventContext, cost float64, reason string, flight, campaign, campaignType *string) {
	e := analytics.EventRecord{
		Timestamp:     nowFn().UTC(),
		EventType:     eventType,
		OfferID:       nonce,
		Publisher:     publisher,
		Advertisement: &adSlug,
		Flight:        flight,
		Campaign:      campaign,
		CampaignType:  campaignType,
		Cost:          cost,
		Reason:        reason,
	}
	if ec.Geo.Country != "" {
		e.Country = &ec.Geo.Country
	}
	if err := t.Analytics.RecordEvent(ctx, e); err != nil && err != analytics.ErrUnavailable {
		zap.L().Warn("analytics event failed", zap.String("event", eventType), zap.Error(err))
	}
}
