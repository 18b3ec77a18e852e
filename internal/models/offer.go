package models

import (
	"time"

	"github.com/google/uuid"
)

// ForcedNonce marks offers created via force_ad/force_campaign. Forced
// offers are never billed, except that house campaigns count forced views.
const ForcedNonce = "forced"

// RareUserAgent is the sentinel persisted instead of a raw UA string when
// the browser or OS family could not be recognized, to avoid storing
// uniquely identifying strings.
const RareUserAgent = "Rare user agent"

// Offer is the durable record that an ad (or a null decision) was served to
// a client. Its time-ordered UUID doubles as the single-use nonce binding
// later view and click events to this row.
type Offer struct {
	// ID is a UUIDv7 so offers sort by creation time.
	ID uuid.UUID `json:"id"`

	// Advertisement is nil for null decisions.
	Advertisement *string `json:"advertisement,omitempty"`
	Publisher     string  `json:"publisher"`
	AdTypeSlug    string  `json:"ad_type"`
	DivID         string  `json:"div_id"`

	// IP is anonymized before persistence (low 16 bits zeroed).
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	IsBot     bool   `json:"is_bot"`
	IsMobile  bool   `json:"is_mobile"`
	Country   string `json:"country,omitempty"`

	Keywords []string `json:"keywords,omitempty"`
	URL      string   `json:"url,omitempty"`

	Viewed       bool `json:"viewed"`
	Clicked      bool `json:"clicked"`
	Uplifted     bool `json:"uplifted"`
	IsRefunded   bool `json:"is_refunded"`
	PaidEligible bool `json:"paid_eligible"`

	// Rotations counts how many ads the client rotated through in the slot.
	Rotations int `json:"rotations"`
	// ViewTime is the reported seconds the ad was in view, when known.
	ViewTime *int `json:"view_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// View is the audit record of a billed view event.
type View struct {
	OfferID   uuid.UUID `json:"offer_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Click is the audit record of a billed click event.
type Click struct {
	OfferID   uuid.UUID `json:"offer_id"`
	CreatedAt time.Time `json:"created_at"`
}
