package models

import "github.com/shopspring/decimal"

// Publisher is a site that requests ad decisions. Identified by slug.
// Publishers control which campaign types they accept and how traffic on
// their pages is treated.
type Publisher struct {
	Slug string `json:"slug"`
	Name string `json:"name"`

	// Campaign type acceptance flags.
	AllowPaidCampaigns      bool `json:"allow_paid_campaigns"`
	AllowAffiliateCampaigns bool `json:"allow_affiliate_campaigns"`
	AllowCommunityCampaigns bool `json:"allow_community_campaigns"`
	AllowHouseCampaigns     bool `json:"allow_house_campaigns"`

	// DailyCap bounds the publisher's earnings per day. Zero means uncapped.
	DailyCap decimal.Decimal `json:"daily_cap"`

	// RecordViews stores a View audit row for every billed view on this
	// publisher in addition to the offer flag.
	RecordViews bool `json:"record_views"`
	// AllowMultiplePlacements permits more than one simultaneous placement
	// per page. When false, decisions with placement_index > 0 return no ad.
	AllowMultiplePlacements bool `json:"allow_multiple_placements"`
	// IgnoreMobileTraffic blocks all flights from serving to mobile
	// requests on this publisher.
	IgnoreMobileTraffic bool `json:"ignore_mobile_traffic"`
	// UnauthedAdDecisions allows decision requests without a bearer token.
	UnauthedAdDecisions bool `json:"unauthed_ad_decisions"`

	// DefaultKeywords are merged into every decision request's keyword set.
	DefaultKeywords []string `json:"default_keywords,omitempty"`
	// SampledCTR is the publisher's sampled click-through rate in percent,
	// derived offline and used as a pacing boost.
	SampledCTR float64 `json:"sampled_ctr"`
	// Groups are the publisher groups this publisher belongs to.
	Groups []string `json:"groups,omitempty"`

	Disabled bool `json:"disabled"`

	// Token is the opaque bearer token linked to this publisher.
	Token string `json:"-"`
}

// AllowsCampaignType reports whether the publisher accepts the given
// campaign type.
func (p *Publisher) AllowsCampaignType(t string) bool {
	switch t {
	case CampaignPaid:
		return p.AllowPaidCampaigns
	case CampaignAffiliate:
		return p.AllowAffiliateCampaigns
	case CampaignCommunity:
		return p.AllowCommunityCampaigns
	case CampaignHouse:
		return p.AllowHouseCampaigns
	}
	return false
}

// AllowedCampaignTypes returns the campaign types the publisher accepts,
// optionally intersected with the requested types, in tier order.
func (p *Publisher) AllowedCampaignTypes(requested []string) []string {
	var out []string
	for _, t := range TierOrder {
		if !p.AllowsCampaignType(t) {
			continue
		}
		if len(requested) > 0 && !contains(requested, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
