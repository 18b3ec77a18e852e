package logic

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/patrickwarner/adengine/internal/geoip"
	"github.com/patrickwarner/adengine/internal/models"
)

// Placement is one slot on the page a decision request wants filled.
// Priority weights ad choice within the winning flight, 1 (default, lowest)
// through 10.
type Placement struct {
	DivID    string `json:"div_id"`
	AdType   string `json:"ad_type"`
	Priority int    `json:"priority,omitempty"`
}

// RequestContext is the annotated form of a decision or event request.
// The geo/UA resolver and fingerprint steps fill it in; targeting, pacing
// and selection only read it.
type RequestContext struct {
	Publisher *models.Publisher

	Placements     []Placement
	CampaignTypes  []string
	PlacementIndex int

	// Keywords is the lowercased union of request keywords and the
	// publisher's defaults. KeywordList preserves them for persistence.
	Keywords    map[string]bool
	KeywordList []string

	URL    string
	Domain string

	Referrer  string
	IP        net.IP
	UserAgent string
	UA        UserAgentInfo
	Geo       geoip.Location
	ClientID  string

	ForceAd       string
	ForceCampaign string
	Rotations     int

	Now time.Time
}

// BuildKeywordSet lowercases and dedups keyword lists into a set plus the
// persisted ordering.
func BuildKeywordSet(lists ...[]string) (map[string]bool, []string) {
	set := map[string]bool{}
	var ordered []string
	for _, list := range lists {
		for _, k := range list {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" || set[k] {
				continue
			}
			set[k] = true
			ordered = append(ordered, k)
		}
	}
	return set, ordered
}

// ValidateURL returns the URL when it parses as absolute http(s), else "".
// Invalid page URLs are dropped rather than failing the request.
func ValidateURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return raw
}

// DomainOf extracts the lowercased host of a validated URL, without port.
func DomainOf(validated string) string {
	if validated == "" {
		return ""
	}
	u, err := url.Parse(validated)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
