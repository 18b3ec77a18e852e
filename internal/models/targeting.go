package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Mobile traffic rules.
const (
	MobileAny     = "any"
	MobileOnly    = "only"
	MobileExclude = "exclude"
)

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// Targeting is the predicate list attached to a flight. Every field is
// optional; an absent field skips its rule during evaluation. The JSON
// decoder rejects unknown keys so misspelled parameters fail at write time
// instead of silently matching everything.
type Targeting struct {
	IncludeCountries       []string `json:"include_countries,omitempty"`
	ExcludeCountries       []string `json:"exclude_countries,omitempty"`
	IncludeStateProvinces  []string `json:"include_state_provinces,omitempty"`
	IncludeMetroCodes      []int    `json:"include_metro_codes,omitempty"`
	IncludeKeywords        []string `json:"include_keywords,omitempty"`
	ExcludeKeywords        []string `json:"exclude_keywords,omitempty"`
	IncludePublishers      []string `json:"include_publishers,omitempty"`
	ExcludePublishers      []string `json:"exclude_publishers,omitempty"`
	IncludeDomains         []string `json:"include_domains,omitempty"`
	ExcludeDomains         []string `json:"exclude_domains,omitempty"`
	IncludeRegions         []string `json:"include_regions,omitempty"`
	ExcludeRegions         []string `json:"exclude_regions,omitempty"`
	IncludeTopics          []string `json:"include_topics,omitempty"`
	MobileTraffic          string   `json:"mobile_traffic,omitempty"`
	Days                   []string `json:"days,omitempty"`

	// NicheTargeting and NicheURLs feed the external URL analyzer and are
	// not evaluated by the in-process filter.
	NicheTargeting float64  `json:"niche_targeting,omitempty"`
	NicheURLs      []string `json:"niche_urls,omitempty"`
}

// ParseTargeting decodes a targeting parameter document, rejecting unknown
// keys and invalid enum values.
func ParseTargeting(data []byte) (Targeting, error) {
	var t Targeting
	if len(data) == 0 {
		return t, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return Targeting{}, fmt.Errorf("parse targeting: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Targeting{}, err
	}
	return t, nil
}

// Validate checks enum fields and value ranges.
func (t *Targeting) Validate() error {
	switch t.MobileTraffic {
	case "", MobileAny, MobileOnly, MobileExclude:
	default:
		return fmt.Errorf("invalid mobile_traffic %q", t.MobileTraffic)
	}
	for _, d := range t.Days {
		if !weekdays[strings.ToLower(d)] {
			return fmt.Errorf("invalid day %q", d)
		}
	}
	if t.NicheTargeting < 0 || t.NicheTargeting > 1 {
		return fmt.Errorf("niche_targeting out of range: %f", t.NicheTargeting)
	}
	return nil
}

// HasDay reports whether the given lowercase weekday name is targeted.
// An empty Days list targets every day.
func (t *Targeting) HasDay(day string) bool {
	if len(t.Days) == 0 {
		return true
	}
	for _, d := range t.Days {
		if strings.EqualFold(d, day) {
			return true
		}
	}
	return false
}
