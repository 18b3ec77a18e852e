package selectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/cache"
	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/models"
)

// randFn draws a uniform integer in [0, max). Tests replace it; returning a
// negative value makes the lottery yield nothing.
var randFn = defaultRandFn

func defaultRandFn(max int64) int64 {
	if max <= 0 {
		return -1
	}
	return rand.Int63n(max)
}

// TieredSelector draws a flight by weighted lottery within campaign-type
// tiers evaluated in fixed order, then samples one of the flight's ads
// weighted by placement priority.
type TieredSelector struct {
	Data  models.AdDataStore
	Pacer *logic.Pacer
	Geo   *logic.Geography

	// Sticky, when set, pins repeated decisions from the same client to
	// the same ad for the TTL.
	Sticky    *cache.Cache
	StickyTTL time.Duration
}

// NewTieredSelector wires the standard selector. sticky may be nil to
// disable sticky decisions.
func NewTieredSelector(data models.AdDataStore, pacer *logic.Pacer, geo *logic.Geography, sticky *cache.Cache, stickyTTL time.Duration) *TieredSelector {
	return &TieredSelector{Data: data, Pacer: pacer, Geo: geo, Sticky: sticky, StickyTTL: stickyTTL}
}

type weightedFlight struct {
	flight *models.Flight
	weight int64
}

// Select implements Selector.
func (s *TieredSelector) Select(ctx context.Context, rc *logic.RequestContext) (*Decision, error) {
	if rc.PlacementIndex > 0 && !rc.Publisher.AllowMultiplePlacements {
		return nil, nil
	}

	if rc.ForceAd != "" || rc.ForceCampaign != "" {
		return s.selectForced(rc), nil
	}

	stickyKey := s.stickyKey(rc)
	if stickyKey != "" {
		if v, ok := s.Sticky.Get(stickyKey); ok {
			return v.(*Decision), nil
		}
	}

	tiers := map[string][]weightedFlight{}
	for _, f := range s.Data.LiveFlights() {
		campaign := s.Data.GetCampaign(f.CampaignSlug)
		if campaign == nil {
			continue
		}
		ads := s.Data.AdsByFlight(f.Slug)
		if !logic.FlightPasses(f, campaign, ads, rc, s.Geo) {
			continue
		}
		w, err := s.Pacer.WeightedClicksNeeded(ctx, f, rc.Publisher)
		if err != nil {
			zap.L().Warn("pacing weight failed, skipping flight",
				zap.String("flight", f.Slug), zap.Error(err))
			continue
		}
		if w > 0 {
			tiers[campaign.Type] = append(tiers[campaign.Type], weightedFlight{f, w})
		}
	}

	for _, tier := range rc.Publisher.AllowedCampaignTypes(rc.CampaignTypes) {
		flight := drawFlight(tiers[tier])
		if flight == nil {
			continue
		}
		ad, placement := s.drawAd(flight, rc.Placements)
		if ad == nil {
			continue
		}
		d := &Decision{
			Campaign:      s.Data.GetCampaign(flight.CampaignSlug),
			Flight:        flight,
			Advertisement: ad,
			Placement:     placement,
		}
		if stickyKey != "" {
			s.Sticky.Set(stickyKey, d, s.StickyTTL)
		}
		return d, nil
	}
	return nil, nil
}

// selectForced resolves force_ad/force_campaign, bypassing targeting, live
// flags and date windows. Forced house ads skip the publisher's
// campaign-type allowance too.
func (s *TieredSelector) selectForced(rc *logic.RequestContext) *Decision {
	if rc.ForceAd != "" {
		ad := s.Data.GetAdvertisement(rc.ForceAd)
		if ad == nil {
			return nil
		}
		flight := s.Data.GetFlight(ad.FlightSlug)
		if flight == nil {
			return nil
		}
		campaign := s.Data.GetCampaign(flight.CampaignSlug)
		if campaign == nil || !logic.ForcedEligible(campaign, []*models.Advertisement{ad}, rc) {
			return nil
		}
		placement, ok := logic.AdMatchesPlacement(ad, rc.Placements)
		if !ok {
			return nil
		}
		return &Decision{Campaign: campaign, Flight: flight, Advertisement: ad, Placement: placement, Forced: true}
	}

	campaign := s.Data.GetCampaign(rc.ForceCampaign)
	if campaign == nil {
		return nil
	}
	type match struct {
		flight *models.Flight
		ad     *models.Advertisement
	}
	var matches []match
	for _, f := range s.Data.FlightsByCampaign(campaign.Slug) {
		ads := s.Data.AdsByFlight(f.Slug)
		if !logic.ForcedEligible(campaign, ads, rc) {
			continue
		}
		for _, ad := range ads {
			if _, ok := logic.AdMatchesPlacement(ad, rc.Placements); ok {
				matches = append(matches, match{f, ad})
			}
		}
	}
	if len(matches) == 0 {
		return nil
	}
	r := randFn(int64(len(matches)))
	if r < 0 {
		return nil
	}
	m := matches[r]
	placement, _ := logic.AdMatchesPlacement(m.ad, rc.Placements)
	return &Decision{Campaign: campaign, Flight: m.flight, Advertisement: m.ad, Placement: placement, Forced: true}
}

// drawFlight runs the weighted lottery over one tier: a uniform draw over
// the cumulative weight line picks the flight whose segment contains it.
func drawFlight(candidates []weightedFlight) *models.Flight {
	if len(candidates) == 0 {
		return nil
	}
	var total int64
	for _, c := range candidates {
		total += c.weight
	}
	if total <= 0 {
		return nil
	}
	r := randFn(total)
	if r < 0 {
		return nil
	}
	var acc int64
	for _, c := range candidates {
		acc += c.weight
		if r < acc {
			return c.flight
		}
	}
	return candidates[len(candidates)-1].flight
}

// drawAd samples one of the flight's ads uniformly over an expanded list
// where each (ad, placement) pair appears 11-priority times.
func (s *TieredSelector) drawAd(flight *models.Flight, placements []logic.Placement) (*models.Advertisement, logic.Placement) {
	type slot struct {
		ad        *models.Advertisement
		placement logic.Placement
	}
	var expanded []slot
	for _, ad := range s.Data.AdsByFlight(flight.Slug) {
		for _, p := range placements {
			if !ad.HasAdType(p.AdType) {
				continue
			}
			priority := p.Priority
			if priority < 1 || priority > 10 {
				priority = 1
			}
			for i := 0; i < 11-priority; i++ {
				expanded = append(expanded, slot{ad, p})
			}
		}
	}
	if len(expanded) == 0 {
		return nil, logic.Placement{}
	}
	r := randFn(int64(len(expanded)))
	if r < 0 {
		return nil, logic.Placement{}
	}
	return expanded[r].ad, expanded[r].placement
}

// stickyKey hashes (publisher, ordered placement signature, client id).
// Empty when sticky decisions are disabled or the client is anonymous.
func (s *TieredSelector) stickyKey(rc *logic.RequestContext) string {
	if s.Sticky == nil || rc.ClientID == "" {
		return ""
	}
	var sig strings.Builder
	sig.WriteString(rc.Publisher.Slug)
	for _, p := range rc.Placements {
		sig.WriteByte('|')
		sig.WriteString(p.DivID)
		sig.WriteByte(':')
		sig.WriteString(p.AdType)
	}
	sig.WriteByte('|')
	sig.WriteString(rc.ClientID)
	sum := sha256.Sum256([]byte(sig.String()))
	return hex.EncodeToString(sum[:])
}
