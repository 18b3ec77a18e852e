package models

// Advertisement is a single creative under a flight. The link may contain
// ${publisher} and ${advertisement} placeholders which are expanded at
// click time.
type Advertisement struct {
	Slug       string `json:"slug"`
	FlightSlug string `json:"flight"`
	Name       string `json:"name"`
	Live       bool   `json:"live"`

	Link  string `json:"link"`
	Image string `json:"image,omitempty"`

	// Text is the legacy single-blob copy. Newer ads carry the
	// headline/content/cta triple instead; both may be present during
	// migration and the triple wins.
	Text     string `json:"text,omitempty"`
	Headline string `json:"headline,omitempty"`
	Content  string `json:"content,omitempty"`
	CTA      string `json:"cta,omitempty"`

	// AdTypes lists the ad type slugs this creative can render as.
	AdTypes []string `json:"ad_types"`

	// Body is the sanitized HTML for the creative.
	Body string `json:"body,omitempty"`
}

// HasAdType reports whether the ad can render as the given ad type slug.
func (a *Advertisement) HasAdType(slug string) bool {
	for _, t := range a.AdTypes {
		if t == slug {
			return true
		}
	}
	return false
}

// Copy returns the display copy for the ad, synthesizing the triple from
// the legacy text blob when needed.
func (a *Advertisement) Copy() (headline, content, cta string) {
	if a.Headline != "" || a.Content != "" || a.CTA != "" {
		return a.Headline, a.Content, a.CTA
	}
	return "", a.Text, ""
}

// AdType describes the shape of a creative slot: dimensions, copy limits
// and the HTML tags a creative may use. Publisher-scoped ad types apply to
// a single publisher; others are global.
type AdType struct {
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	MaxTextLength int      `json:"max_text_length"`
	AllowedTags   []string `json:"allowed_tags,omitempty"`
	Template      string   `json:"template,omitempty"`
	Deprecated    bool     `json:"deprecated"`
	// PublisherSlug scopes the ad type to one publisher when non-empty.
	PublisherSlug string `json:"publisher,omitempty"`
}
