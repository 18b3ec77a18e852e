package models

import "time"

// AdImpression is the daily rollup row per (publisher, advertisement, date).
// A row with a nil advertisement is the sentinel that counts decisions which
// returned no ad. Counters only grow; corrections go through offer refunds.
type AdImpression struct {
	Publisher     string    `json:"publisher"`
	Advertisement *string   `json:"advertisement,omitempty"`
	Date          time.Time `json:"date"`

	Decisions int64 `json:"decisions"`
	Offers    int64 `json:"offers"`
	Views     int64 `json:"views"`
	Clicks    int64 `json:"clicks"`
}
