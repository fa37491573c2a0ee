package models

import "github.com/google/uuid"

// CommandOp is the closed set of operations an operator command can map to.
// The AI extraction step is only a suggestion; anything outside this set
// becomes OpUnknown and executes nothing.
type CommandOp string

const (
	OpQueryUser     CommandOp = "query_user"
	OpQueryTopRisk  CommandOp = "query_top_risk"
	OpQueryStats    CommandOp = "query_stats"
	OpExecuteAction CommandOp = "execute_action"
	OpUnknown       CommandOp = "unknown"
)

// CommandIntent is the parsed form of one operator free-text command.
// Transient, produced and consumed within a single interpreter call.
type CommandIntent struct {
	RawText  string     `json:"raw_text"`
	Op       CommandOp  `json:"op"`
	TargetID uuid.UUID  `json:"target_id,omitempty"`
	Action   ActionType `json:"action,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Command response statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusNoAction = "no_action_taken"
)

// CommandRequest is the operator API payload.
type CommandRequest struct {
	Text string `json:"text" binding:"required"`
}

// CommandResponse is what the operator gets back for any command.
type CommandResponse struct {
	Status  string    `json:"status"`
	Op      CommandOp `json:"op"`
	Message string    `json:"message,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// EngineStats is the aggregate view behind QueryStats.
type EngineStats struct {
	TotalUsers      int              `json:"total_users"`
	TierCounts      map[Tier]int     `json:"tier_counts"`
	AverageTrust    float64          `json:"average_trust"`
	EventsProcessed int64            `json:"events_processed"`
	EventsDropped   int64            `json:"events_dropped"`
	VerdictsApplied int64            `json:"verdicts_applied"`
	VerdictsStale   int64            `json:"verdicts_stale"`
	DegradedCount   int64            `json:"degraded_count"`
	ActionsTotal    int64            `json:"actions_total"`
	ActionOutcomes  map[string]int64 `json:"action_outcomes,omitempty"`
}
