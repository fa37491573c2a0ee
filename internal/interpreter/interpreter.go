// Package interpreter maps operator free text onto a closed set of
// structured commands and executes them. The AI extraction step is an
// untrusted suggestion: anything it returns outside the fixed grammar
// becomes Unknown and executes nothing, and actions are re-validated
// against the invoking operator's own role before dispatch.
package interpreter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/classifier"
	"github.com/warden/backend/internal/dispatcher"
	"github.com/warden/backend/internal/models"
	"github.com/warden/backend/internal/trust"
)

const (
	defaultTopRiskLimit = 10
	maxTopRiskLimit     = 100
)

// TrustQueries is the durable-store read side used for analytics.
// Satisfied by repository.TrustRepository.
type TrustQueries interface {
	QueryTopRisk(limit int) ([]models.TrustRecord, error)
	TierCounts() (map[models.Tier]int, float64, int, error)
}

// AuditQueries aggregates the audit log. Satisfied by
// repository.AuditRepository.
type AuditQueries interface {
	CountByOutcome() (map[string]int64, error)
}

// CounterSource exposes the engine's pipeline counters for QueryStats.
type CounterSource interface {
	Counters() models.EngineStats
}

type Interpreter struct {
	ai         classifier.Service
	ledger     *trust.Ledger
	machine    *trust.Machine
	dispatcher *dispatcher.Dispatcher
	trustQ     TrustQueries
	auditQ     AuditQueries
	counters   CounterSource

	extractTimeout time.Duration
}

func New(
	ai classifier.Service,
	ledger *trust.Ledger,
	machine *trust.Machine,
	disp *dispatcher.Dispatcher,
	trustQ TrustQueries,
	auditQ AuditQueries,
	counters CounterSource,
) *Interpreter {
	return &Interpreter{
		ai:             ai,
		ledger:         ledger,
		machine:        machine,
		dispatcher:     disp,
		trustQ:         trustQ,
		auditQ:         auditQ,
		counters:       counters,
		extractTimeout: 10 * time.Second,
	}
}

// Interpret parses operator text into a CommandIntent. Never fails: any
// extraction error or out-of-grammar result yields OpUnknown.
func (i *Interpreter) Interpret(ctx context.Context, text string) models.CommandIntent {
	intent := models.CommandIntent{RawText: text, Op: models.OpUnknown}

	extractCtx, cancel := context.WithTimeout(ctx, i.extractTimeout)
	defer cancel()

	extracted, err := i.ai.ExtractIntent(extractCtx, text)
	if err != nil {
		log.Printf("Intent extraction failed: %v", err)
		return intent
	}

	switch models.CommandOp(extracted.Op) {
	case models.OpQueryUser:
		userID, err := uuid.Parse(extracted.UserRef)
		if err != nil {
			return intent
		}
		intent.Op = models.OpQueryUser
		intent.TargetID = userID

	case models.OpQueryTopRisk:
		intent.Op = models.OpQueryTopRisk
		intent.Limit = clampLimit(extracted.Limit)

	case models.OpQueryStats:
		intent.Op = models.OpQueryStats

	case models.OpExecuteAction:
		userID, err := uuid.Parse(extracted.UserRef)
		if err != nil {
			return intent
		}
		action := models.ActionType(extracted.Action)
		if !models.ValidAction(action) {
			return intent
		}
		intent.Op = models.OpExecuteAction
		intent.TargetID = userID
		intent.Action = action
		intent.Reason = extracted.Reason
	}

	return intent
}

// Execute interprets and runs one operator command, returning an
// explicit status in every case.
func (i *Interpreter) Execute(ctx context.Context, operator *models.Operator, text string) models.CommandResponse {
	intent := i.Interpret(ctx, text)

	switch intent.Op {
	case models.OpQueryUser:
		return i.queryUser(intent)
	case models.OpQueryTopRisk:
		return i.queryTopRisk(intent)
	case models.OpQueryStats:
		return i.queryStats(intent)
	case models.OpExecuteAction:
		return i.executeAction(ctx, operator, intent)
	default:
		return models.CommandResponse{
			Status:  models.StatusNoAction,
			Op:      models.OpUnknown,
			Message: "could not map request to a supported command, no action was taken",
		}
	}
}

func (i *Interpreter) queryUser(intent models.CommandIntent) models.CommandResponse {
	rec, err := i.ledger.Snapshot(intent.TargetID)
	if err != nil {
		return errorResponse(intent.Op, fmt.Sprintf("failed to load user: %v", err))
	}
	if rec == nil {
		return errorResponse(intent.Op, "user has no trust record")
	}
	return models.CommandResponse{Status: models.StatusOK, Op: intent.Op, Payload: rec}
}

func (i *Interpreter) queryTopRisk(intent models.CommandIntent) models.CommandResponse {
	records, err := i.trustQ.QueryTopRisk(intent.Limit)
	if err != nil {
		return errorResponse(intent.Op, fmt.Sprintf("failed to query top risk: %v", err))
	}
	return models.CommandResponse{Status: models.StatusOK, Op: intent.Op, Payload: records}
}

func (i *Interpreter) queryStats(intent models.CommandIntent) models.CommandResponse {
	stats := models.EngineStats{TierCounts: make(map[models.Tier]int)}
	if i.counters != nil {
		stats = i.counters.Counters()
	}

	counts, avg, total, err := i.trustQ.TierCounts()
	if err != nil {
		return errorResponse(intent.Op, fmt.Sprintf("failed to aggregate stats: %v", err))
	}
	stats.TierCounts = counts
	stats.AverageTrust = avg
	stats.TotalUsers = total

	if i.auditQ != nil {
		outcomes, err := i.auditQ.CountByOutcome()
		if err != nil {
			log.Printf("Failed to aggregate audit outcomes: %v", err)
		} else {
			stats.ActionOutcomes = outcomes
			for _, n := range outcomes {
				stats.ActionsTotal += n
			}
		}
	}

	return models.CommandResponse{Status: models.StatusOK, Op: intent.Op, Payload: stats}
}

// executeAction re-validates the action against the operator's role, folds
// the manual override into the ledger, then dispatches to the platform.
func (i *Interpreter) executeAction(ctx context.Context, operator *models.Operator, intent models.CommandIntent) models.CommandResponse {
	if operator == nil || !operator.Role.Allows(intent.Action) {
		return models.CommandResponse{
			Status:  models.StatusError,
			Op:      intent.Op,
			Message: fmt.Sprintf("operator role does not permit %s", intent.Action),
		}
	}

	reason := intent.Reason
	if reason == "" {
		reason = fmt.Sprintf("manual %s by %s", intent.Action, operator.Email)
	}

	// Manual bans and unbans change ledger state so the state machine and
	// the platform stay in agreement.
	switch intent.Action {
	case models.ActionBan:
		_, err := i.ledger.Update(intent.TargetID, func(rec *models.TrustRecord) (*models.TrustHistoryEntry, error) {
			i.machine.ForceBan(rec)
			return nil, nil
		})
		if err != nil {
			return errorResponse(intent.Op, fmt.Sprintf("failed to update ledger: %v", err))
		}
	case models.ActionUnban:
		_, err := i.ledger.Update(intent.TargetID, func(rec *models.TrustRecord) (*models.TrustHistoryEntry, error) {
			i.machine.Reset(rec)
			return nil, nil
		})
		if err != nil {
			return errorResponse(intent.Op, fmt.Sprintf("failed to update ledger: %v", err))
		}
	}

	actionIntent := &models.ActionIntent{
		UserID: intent.TargetID,
		Action: intent.Action,
		Reason: reason,
	}
	if err := i.dispatcher.Dispatch(ctx, actionIntent); err != nil {
		return errorResponse(intent.Op, fmt.Sprintf("action failed: %v", err))
	}

	return models.CommandResponse{
		Status:  models.StatusOK,
		Op:      intent.Op,
		Message: fmt.Sprintf("%s executed for %s", intent.Action, intent.TargetID),
		Payload: actionIntent,
	}
}

func errorResponse(op models.CommandOp, msg string) models.CommandResponse {
	return models.CommandResponse{Status: models.StatusError, Op: op, Message: msg}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultTopRiskLimit
	}
	if limit > maxTopRiskLimit {
		return maxTopRiskLimit
	}
	return limit
}
