// Package selectors picks the advertisement a decision request gets. The
// tiered selector runs a weighted lottery over eligible flights, one
// campaign-type tier at a time.
package selectors

import (
	"context"

	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/models"
)

// Decision is a selected advertisement along with the flight and campaign
// it belongs to and the placement it fills. Forced is set when targeting
// and pacing were bypassed by force_ad/force_campaign.
type Decision struct {
	Campaign      *models.Campaign
	Flight        *models.Flight
	Advertisement *models.Advertisement
	Placement     logic.Placement
	Forced        bool
}

// Selector chooses at most one advertisement for a request. A nil Decision
// with a nil error means no ad was available.
type Selector interface {
	Select(ctx context.Context, rc *logic.RequestContext) (*Decision, error)
}
