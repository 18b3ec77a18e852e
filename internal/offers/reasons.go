package offers

// X-Adserver-Reason values. This is a closed set; handlers never emit
// anything outside it.
const (
	ReasonBilledView       = "Billed view"
	ReasonBilledClick      = "Billed click"
	ReasonUnknownOffer     = "Unknown offer"
	ReasonInvalidNonce     = "Old/Invalid nonce"
	ReasonInternalIP       = "Internal IP"
	ReasonKnownUser        = "Known user impression"
	ReasonBot              = "Bot impression"
	ReasonUnrecognizedUA   = "Unrecognized user agent"
	ReasonBlockedUA        = "Blocked UA impression"
	ReasonBlockedReferrer  = "Blocked referrer impression"
	ReasonBlockedIP        = "Blocked IP impression"
	ReasonRatelimitedView  = "Ratelimited view impression"
	ReasonRatelimitedClick = "Ratelimited click impression"
	ReasonInvalidTargeting = "Invalid targeting impression"
	ReasonInvalidViewTime  = "Invalid view time"
	ReasonUpdatedViewTime  = "Updated view time"
)
