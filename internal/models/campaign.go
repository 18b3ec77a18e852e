package models

import "github.com/shopspring/decimal"

// Campaign types partition flights into the tiers evaluated during
// selection. Paid campaigns are always considered first and house
// campaigns last, so unsold inventory falls through to self-promotion.
const (
	CampaignPaid      = "paid"
	CampaignAffiliate = "affiliate"
	CampaignCommunity = "community"
	CampaignHouse     = "house"
)

// TierOrder is the fixed evaluation order for campaign types, from the
// highest-value tier to the lowest. The selector stops at the first tier
// that yields a flight.
var TierOrder = []string{CampaignPaid, CampaignAffiliate, CampaignCommunity, CampaignHouse}

// ValidCampaignType reports whether t names a known campaign type.
func ValidCampaignType(t string) bool {
	switch t {
	case CampaignPaid, CampaignAffiliate, CampaignCommunity, CampaignHouse:
		return true
	}
	return false
}

// Advertiser owns campaigns. Identified by slug.
type Advertiser struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Campaign groups flights bought by one advertiser under a single campaign
// type and publisher scope.
type Campaign struct {
	Slug           string `json:"slug"`
	AdvertiserSlug string `json:"advertiser"`
	Name           string `json:"name"`
	// Type is one of the campaign type constants above.
	Type string `json:"campaign_type"`
	// PublisherGroups lists the publisher groups this campaign may appear on.
	// Empty means any group.
	PublisherGroups []string `json:"publisher_groups,omitempty"`
	// ExcludePublishers lists publisher slugs this campaign never serves on,
	// regardless of targeting.
	ExcludePublishers []string `json:"exclude_publishers,omitempty"`
	// MaxSaleValue optionally caps the lifetime sale value of the campaign.
	// Zero means uncapped.
	MaxSaleValue decimal.Decimal `json:"max_sale_value"`
}

// ExcludesPublisher reports whether the campaign explicitly excludes the
// given publisher slug.
func (c *Campaign) ExcludesPublisher(slug string) bool {
	for _, p := range c.ExcludePublishers {
		if p == slug {
			return true
		}
	}
	return false
}

// AllowedOnGroups reports whether the campaign may appear on a publisher
// belonging to any of the given groups.
func (c *Campaign) AllowedOnGroups(groups []string) bool {
	if len(c.PublisherGroups) == 0 {
		return true
	}
	for _, cg := range c.PublisherGroups {
		for _, pg := range groups {
			if cg == pg {
				return true
			}
		}
	}
	return false
}
