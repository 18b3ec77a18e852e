// Package offers materializes decisions into durable Offer rows, arms the
// single-use nonces that bind later view and click events to them, and
// builds the response payload handed back to the publisher page.
package offers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/analytics"
	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/logic/selectors"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
	"github.com/patrickwarner/adengine/internal/token"
)

// maxDivIDLength bounds the persisted div id.
const maxDivIDLength = 100

// nowFn is swapped in tests.
var nowFn = time.Now

// newUUID is swapped in tests to pin nonces.
var newUUID = uuid.NewV7

// Copy is the headline/content/cta triple in the decision payload.
type Copy struct {
	Headline string `json:"headline"`
	Content  string `json:"content"`
	CTA      string `json:"cta"`
}

// Payload is the decision response body for a matched ad.
type Payload struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	HTML         string `json:"html"`
	Image        string `json:"image"`
	Link         string `json:"link"`
	Nonce        string `json:"nonce"`
	ViewURL      string `json:"view_url"`
	ClickURL     string `json:"click_url"`
	ViewTimeURL  string `json:"view_time_url"`
	Copy         Copy   `json:"copy"`
	Body         string `json:"body"`
	DivID        string `json:"div_id"`
	CampaignType string `json:"campaign_type"`
}

// Ledger creates offers and their validation state.
type Ledger struct {
	PG        *db.Postgres
	Redis     *db.RedisStore
	Analytics analytics.AnalyticsService
	Metrics   observability.MetricsRegistry

	// BaseURL prefixes the signed view/click/view-time URLs.
	BaseURL string
	// ProxySecret signs the event proxy paths.
	ProxySecret string
	NonceTTL    time.Duration
	// DoNotTrack drops the raw UA from non-click records.
	DoNotTrack bool
}

// CreateOffer persists an offer for the selected ad, arms its nonces and
// returns the response payload. Forced offers get the sentinel nonce and,
// unless the campaign is house, no armed nonces at all.
func (l *Ledger) CreateOffer(ctx context.Context, rc *logic.RequestContext, d *selectors.Decision) (*models.Offer, *Payload, error) {
	offer, err := l.buildOffer(rc, &d.Advertisement.Slug, d)
	if err != nil {
		return nil, nil, err
	}

	nonce := offer.ID.String()
	if d.Forced {
		nonce = models.ForcedNonce
	}

	if err := l.PG.InsertOffer(ctx, offer); err != nil {
		return nil, nil, err
	}

	adSlug := d.Advertisement.Slug
	if !d.Forced {
		if err := l.armNonces(ctx, adSlug, nonce, rc.Publisher.Slug, true); err != nil {
			return nil, nil, err
		}
	} else if d.Campaign.Type == models.CampaignHouse {
		// Forced house views still count.
		if err := l.armNonces(ctx, adSlug, nonce, rc.Publisher.Slug, false); err != nil {
			return nil, nil, err
		}
	}

	day := nowFn().UTC()
	if err := l.PG.IncrementImpression(ctx, rc.Publisher.Slug, &adSlug, day, db.ImpressionDecisions); err != nil {
		return nil, nil, err
	}
	if err := l.PG.IncrementImpression(ctx, rc.Publisher.Slug, &adSlug, day, db.ImpressionOffers); err != nil {
		return nil, nil, err
	}
	l.Metrics.IncrementDecisions("offer")
	l.recordEvent(ctx, analytics.EventOffer, offer, d, 0, "")

	return offer, l.buildPayload(offer, d, nonce), nil
}

// CreateNullOffer records a decision that returned no ad: an Offer row with
// a null advertisement plus a bump of the sentinel impression row.
func (l *Ledger) CreateNullOffer(ctx context.Context, rc *logic.RequestContext) (*models.Offer, error) {
	offer, err := l.buildOffer(rc, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := l.PG.InsertOffer(ctx, offer); err != nil {
		return nil, err
	}
	if err := l.PG.IncrementImpression(ctx, rc.Publisher.Slug, nil, nowFn().UTC(), db.ImpressionDecisions); err != nil {
		return nil, err
	}
	l.Metrics.IncrementDecisions("null")
	l.recordEvent(ctx, analytics.EventDecision, offer, nil, 0, "")
	return offer, nil
}

func (l *Ledger) buildOffer(rc *logic.RequestContext, adSlug *string, d *selectors.Decision) (*models.Offer, error) {
	id, err := newUUID()
	if err != nil {
		return nil, fmt.Errorf("offer id: %w", err)
	}

	divID := ""
	adTypeSlug := ""
	if d != nil {
		divID = d.Placement.DivID
		adTypeSlug = d.Placement.AdType
	} else if len(rc.Placements) > 0 {
		divID = rc.Placements[0].DivID
		adTypeSlug = rc.Placements[0].AdType
	}
	if len(divID) > maxDivIDLength {
		divID = divID[:maxDivIDLength]
	}

	ua := rc.UserAgent
	if rc.UA.Rare() {
		ua = models.RareUserAgent
	}
	if l.DoNotTrack {
		ua = ""
	}

	rotations := rc.Rotations
	if rotations <= 0 {
		rotations = 1
	}

	ip := ""
	if rc.IP != nil {
		ip = logic.AnonymizeIP(rc.IP.String())
	}

	offer := &models.Offer{
		ID:            id,
		Advertisement: adSlug,
		Publisher:     rc.Publisher.Slug,
		AdTypeSlug:    adTypeSlug,
		DivID:         divID,
		IP:            ip,
		UserAgent:     ua,
		Browser:       rc.UA.Browser,
		OS:            rc.UA.OS,
		IsBot:         rc.UA.IsBot,
		IsMobile:      rc.UA.IsMobile,
		Country:       rc.Geo.Country,
		Keywords:      rc.KeywordList,
		URL:           rc.URL,
		Rotations:     rotations,
		CreatedAt:     nowFn().UTC(),
	}
	if d != nil {
		offer.PaidEligible = d.Campaign.Type == models.CampaignPaid
	}
	return offer, nil
}

// armNonces writes the short-lived validation keys. withClick is false for
// forced house offers, whose clicks never bill.
func (l *Ledger) armNonces(ctx context.Context, ad, nonce, publisher string, withClick bool) error {
	if err := l.Redis.SetNonce(ctx, ad, nonce, "view", l.NonceTTL); err != nil {
		return fmt.Errorf("arm view nonce: %w", err)
	}
	if withClick {
		if err := l.Redis.SetNonce(ctx, ad, nonce, "click", l.NonceTTL); err != nil {
			return fmt.Errorf("arm click nonce: %w", err)
		}
	}
	if err := l.Redis.SetNoncePublisher(ctx, ad, nonce, publisher, l.NonceTTL); err != nil {
		return fmt.Errorf("arm publisher nonce: %w", err)
	}
	return nil
}

func (l *Ledger) buildPayload(offer *models.Offer, d *selectors.Decision, nonce string) *Payload {
	ad := d.Advertisement
	headline, content, cta := ad.Copy()
	return &Payload{
		ID:           ad.Slug,
		Text:         ad.Text,
		HTML:         ad.Body,
		Image:        ad.Image,
		Link:         ad.Link,
		Nonce:        nonce,
		ViewURL:      l.SignedProxyURL("view", ad.Slug, nonce),
		ClickURL:     l.SignedProxyURL("click", ad.Slug, nonce),
		ViewTimeURL:  l.SignedProxyURL("view-time", ad.Slug, nonce),
		Copy:         Copy{Headline: headline, Content: content, CTA: cta},
		Body:         ad.Body,
		DivID:        offer.DivID,
		CampaignType: d.Campaign.Type,
	}
}

// SignedProxyURL builds an absolute event URL with the HMAC signature the
// proxy handlers verify.
func (l *Ledger) SignedProxyURL(kind, ad, nonce string) string {
	path := fmt.Sprintf("/proxy/%s/%s/%s/", kind, ad, nonce)
	sig := token.SignPath(l.ProxySecret, path)
	return fmt.Sprintf("%s%s?sig=%s", l.BaseURL, path, sig)
}

func (l *Ledger) recordEvent(ctx context.Context, eventType string, offer *models.Offer, d *selectors.Decision, cost float64, reason string) {
	e := analytics.EventRecord{
		Timestamp: nowFn().UTC(),
		EventType: eventType,
		OfferID:   offer.ID.String(),
		Publisher: offer.Publisher,
		Cost:      cost,
		Reason:    reason,
	}
	if offer.Country != "" {
		e.Country = &offer.Country
	}
	if d != nil {
		e.Advertisement = &d.Advertisement.Slug
		e.Flight = &d.Flight.Slug
		e.Campaign = &d.Campaign.Slug
		e.CampaignType = &d.Campaign.Type
	}
	if err := l.Analytics.RecordEvent(ctx, e); err != nil && err != analytics.ErrUnavailable {
		zap.L().Warn("analytics event failed", zap.String("event", eventType), zap.Error(err))
	}
}
