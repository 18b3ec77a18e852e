package logic

import (
	"strings"

	"github.com/patrickwarner/adengine/internal/geoip"
	"github.com/patrickwarner/adengine/internal/models"
)

// FlightPasses evaluates every targeting predicate for a flight against an
// annotated request. Predicates whose targeting parameter is absent are
// skipped. Work-remaining is the selector's concern, not checked here.
func FlightPasses(f *models.Flight, campaign *models.Campaign, ads []*models.Advertisement, ctx *RequestContext, geo *Geography) bool {
	if !f.Live || !f.ContainsDate(ctx.Now) {
		return false
	}
	if !PlacementMatches(ads, ctx.Placements) {
		return false
	}
	if !publisherAllowsCampaign(ctx, campaign) {
		return false
	}
	t := &f.Targeting
	if !GeoPasses(t, ctx.Geo, geo) {
		return false
	}
	if !keywordsPass(t, ctx.Keywords, geo) {
		return false
	}
	if !publisherListsPass(t, ctx.Publisher.Slug) {
		return false
	}
	if !domainPasses(t, ctx.Domain) {
		return false
	}
	if !mobilePasses(t, ctx) {
		return false
	}
	if !t.HasDay(strings.ToLower(ctx.Now.UTC().Weekday().String())) {
		return false
	}
	return true
}

// ForcedEligible applies the reduced rule set for force_ad/force_campaign:
// geo, keyword, domain, mobile, day, live and date predicates are bypassed.
// Placement match and the publisher's campaign exclusions still apply, and
// the publisher's campaign-type allowance applies to everything but house.
func ForcedEligible(campaign *models.Campaign, ads []*models.Advertisement, ctx *RequestContext) bool {
	if !PlacementMatches(ads, ctx.Placements) {
		return false
	}
	if campaign.ExcludesPublisher(ctx.Publisher.Slug) {
		return false
	}
	if !campaign.AllowedOnGroups(ctx.Publisher.Groups) {
		return false
	}
	if campaign.Type == models.CampaignHouse {
		return true
	}
	return ctx.Publisher.AllowsCampaignType(campaign.Type)
}

// GeoPasses evaluates the include and exclude geo predicates. It is reused
// at click time to re-check that the clicker's location still matches.
func GeoPasses(t *models.Targeting, loc geoip.Location, geo *Geography) bool {
	if len(t.IncludeCountries) > 0 && !containsFold(t.IncludeCountries, loc.Country) {
		return false
	}
	if len(t.IncludeStateProvinces) > 0 && !containsFold(t.IncludeStateProvinces, loc.Region) {
		return false
	}
	if len(t.IncludeMetroCodes) > 0 && !containsInt(t.IncludeMetroCodes, loc.Metro) {
		return false
	}
	if len(t.IncludeRegions) > 0 {
		matched := false
		for _, r := range t.IncludeRegions {
			if geo.RegionContains(r, loc.Country) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if containsFold(t.ExcludeCountries, loc.Country) && loc.Country != "" {
		return false
	}
	for _, r := range t.ExcludeRegions {
		if geo.RegionContains(r, loc.Country) {
			return false
		}
	}
	return true
}

// PlacementMatches reports whether any ad under the flight carries an ad
// type one of the requested placements asks for.
func PlacementMatches(ads []*models.Advertisement, placements []Placement) bool {
	for _, ad := range ads {
		for _, p := range placements {
			if ad.HasAdType(p.AdType) {
				return true
			}
		}
	}
	return false
}

// AdMatchesPlacement reports whether a single ad fits one of the requested
// placements and returns the first matching placement.
func AdMatchesPlacement(ad *models.Advertisement, placements []Placement) (Placement, bool) {
	for _, p := range placements {
		if ad.HasAdType(p.AdType) {
			return p, true
		}
	}
	return Placement{}, false
}

func publisherAllowsCampaign(ctx *RequestContext, campaign *models.Campaign) bool {
	if !ctx.Publisher.AllowsCampaignType(campaign.Type) {
		return false
	}
	if len(ctx.CampaignTypes) > 0 && !containsFold(ctx.CampaignTypes, campaign.Type) {
		return false
	}
	if campaign.ExcludesPublisher(ctx.Publisher.Slug) {
		return false
	}
	return campaign.AllowedOnGroups(ctx.Publisher.Groups)
}

func keywordsPass(t *models.Targeting, keywords map[string]bool, geo *Geography) bool {
	if len(t.IncludeKeywords) > 0 || len(t.IncludeTopics) > 0 {
		matched := false
		for _, k := range t.IncludeKeywords {
			if keywords[strings.ToLower(k)] {
				matched = true
				break
			}
		}
		if !matched {
			for _, topic := range t.IncludeTopics {
				if geo.TopicMatches(topic, keywords) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}
	for _, k := range t.ExcludeKeywords {
		if keywords[strings.ToLower(k)] {
			return false
		}
	}
	return true
}

func publisherListsPass(t *models.Targeting, slug string) bool {
	if len(t.IncludePublishers) > 0 && !containsFold(t.IncludePublishers, slug) {
		return false
	}
	return !containsFold(t.ExcludePublishers, slug)
}

// domainPasses checks the page URL host. An include list cannot match a
// blank URL; an exclude list passes one.
func domainPasses(t *models.Targeting, domain string) bool {
	if len(t.IncludeDomains) > 0 {
		if domain == "" || !domainInList(t.IncludeDomains, domain) {
			return false
		}
	}
	if domain != "" && domainInList(t.ExcludeDomains, domain) {
		return false
	}
	return true
}

// domainInList matches exact hosts and subdomains of listed hosts.
func domainInList(list []string, domain string) bool {
	for _, d := range list {
		d = strings.ToLower(d)
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func mobilePasses(t *models.Targeting, ctx *RequestContext) bool {
	if ctx.Publisher.IgnoreMobileTraffic && ctx.UA.IsMobile {
		return false
	}
	switch t.MobileTraffic {
	case models.MobileOnly:
		return ctx.UA.IsMobile
	case models.MobileExclude:
		return !ctx.UA.IsMobile
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
