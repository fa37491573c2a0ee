package models

// Feed event types streamed to connected operator consoles.
const (
	FeedAuditAppend = "audit.append"
	FeedTierChange  = "tier.change"
	FeedAlert       = "alert"
	FeedError       = "error"
)

// FeedMessage is the envelope for every websocket feed frame.
type FeedMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// TierChangePayload announces a tier transition on the feed.
type TierChangePayload struct {
	Record  TrustRecord  `json:"record"`
	From    Tier         `json:"from"`
	To      Tier         `json:"to"`
	Verdict *RiskVerdict `json:"verdict,omitempty"`
}

type FeedErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
