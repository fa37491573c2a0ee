package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is a moderation action the engine may take against a user.
type ActionType string

const (
	ActionWarn  ActionType = "warn"
	ActionMute  ActionType = "mute"
	ActionKick  ActionType = "kick"
	ActionBan   ActionType = "ban"
	ActionUnban ActionType = "unban" // operator override only, never emitted by the state machine
)

// ValidAction reports whether a is a known action type.
func ValidAction(a ActionType) bool {
	switch a {
	case ActionWarn, ActionMute, ActionKick, ActionBan, ActionUnban:
		return true
	}
	return false
}

// ActionIntent is a pending moderation action derived from a tier
// transition (or an operator command). Immutable; discarded after the
// dispatcher executes it.
type ActionIntent struct {
	UserID            uuid.UUID     `json:"user_id"`
	Action            ActionType    `json:"action"`
	Duration          time.Duration `json:"duration,omitempty"` // mute only
	Reason            string        `json:"reason"`
	TriggeringVerdict *RiskVerdict  `json:"triggering_verdict,omitempty"`
}

// Audit outcomes.
const (
	OutcomeSuccess          = "success"
	OutcomeActionFailed     = "action_failed"
	OutcomePermissionDenied = "permission_denied"
)

// AuditEntry records one execution attempt of an ActionIntent, success or
// not. Append-only.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    uuid.UUID      `json:"user_id" db:"user_id"`
	Action    ActionType     `json:"action" db:"action"`
	Reason    *string        `json:"reason,omitempty" db:"reason"`
	Outcome   string         `json:"outcome" db:"outcome"`
	Detail    *string        `json:"detail,omitempty" db:"detail"`
	LatencyMS int64          `json:"latency_ms" db:"latency_ms"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
