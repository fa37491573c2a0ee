package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskCategory is the closed set of violation categories the classifier
// may report. Anything else is coerced to CategoryNone at the boundary.
type RiskCategory string

const (
	CategoryNone       RiskCategory = "none"
	CategorySpam       RiskCategory = "spam"
	CategoryToxicity   RiskCategory = "toxicity"
	CategoryHarassment RiskCategory = "harassment"
	CategoryPhishing   RiskCategory = "phishing"
	CategoryScam       RiskCategory = "scam"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c RiskCategory) bool {
	switch c {
	case CategoryNone, CategorySpam, CategoryToxicity, CategoryHarassment, CategoryPhishing, CategoryScam:
		return true
	}
	return false
}

// RiskVerdict is the classifier's assessment for one behavioral event.
// Immutable once produced; cached by content fingerprint.
type RiskVerdict struct {
	UserID     uuid.UUID    `json:"user_id"`
	EventRef   string       `json:"event_ref"` // content fingerprint of the triggering event
	Score      float64      `json:"score"`     // 0 = benign, 1 = certain violation
	Category   RiskCategory `json:"category"`
	Rationale  string       `json:"rationale"`
	Degraded   bool         `json:"degraded,omitempty"` // classifier was unavailable, benign placeholder
	ComputedAt time.Time    `json:"computed_at"`
}
