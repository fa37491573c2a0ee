// Package dispatcher executes moderation action intents against the
// external chat platform and records every attempt in the audit log.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/models"
)

// Platform errors, the full failure surface of the external action API.
var (
	ErrForbidden   = errors.New("platform: forbidden")
	ErrRateLimited = errors.New("platform: rate limited")
	ErrNotFound    = errors.New("platform: not found")
	ErrUnknown     = errors.New("platform: unknown error")
)

// Engine-facing failures.
var (
	// ErrActionFailed is returned when an action could not be executed
	// within the retry policy. Reported to the operator, never to the
	// target user.
	ErrActionFailed = errors.New("dispatcher: action failed")
	// ErrPermissionDenied means the engine lacks the platform role for
	// the action. Never retried; an operator has to fix permissions.
	ErrPermissionDenied = errors.New("dispatcher: permission denied")
)

// PlatformAPI is the external moderation capability. Implementations are
// expected to be idempotent: muting an already-muted user is a no-op
// success.
type PlatformAPI interface {
	ExecuteAction(ctx context.Context, userID uuid.UUID, action models.ActionType, duration time.Duration, reason string) error
}

// AuditSink receives one entry per execution attempt. Satisfied by
// repository.AuditRepository.
type AuditSink interface {
	Append(entry *models.AuditEntry) error
}

// FeedPublisher pushes audit entries to live operator feeds; optional.
type FeedPublisher interface {
	PublishAudit(channel string, msg *models.FeedMessage) error
}

type Config struct {
	MaxAttempts int
	CallTimeout time.Duration
	BackoffBase time.Duration
	FeedChannel string
}

type Dispatcher struct {
	api   PlatformAPI
	audit AuditSink
	feed  FeedPublisher
	cfg   Config
}

func NewDispatcher(api PlatformAPI, audit AuditSink, feed FeedPublisher, cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Dispatcher{api: api, audit: audit, feed: feed, cfg: cfg}
}

// Dispatch executes one action intent. Rate-limit errors are retried
// with backoff up to the attempt cap; permission errors are never
// retried. Once started, a dispatch runs to completion or retry
// exhaustion; it is not cancelled by newer events for the same user.
func (d *Dispatcher) Dispatch(ctx context.Context, intent *models.ActionIntent) error {
	backoff := d.cfg.BackoffBase

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		err := d.api.ExecuteAction(attemptCtx, intent.UserID, intent.Action, intent.Duration, intent.Reason)
		cancel()
		latency := time.Since(start)

		switch {
		case err == nil:
			d.record(intent, models.OutcomeSuccess, "", latency)
			return nil

		case errors.Is(err, ErrForbidden):
			d.record(intent, models.OutcomePermissionDenied, err.Error(), latency)
			return fmt.Errorf("%w: %s for %s", ErrPermissionDenied, intent.Action, intent.UserID)

		case errors.Is(err, ErrRateLimited) && attempt < d.cfg.MaxAttempts:
			d.record(intent, models.OutcomeActionFailed, fmt.Sprintf("rate limited, attempt %d/%d", attempt, d.cfg.MaxAttempts), latency)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrActionFailed, ctx.Err())
			}
			backoff *= 2

		default:
			d.record(intent, models.OutcomeActionFailed, err.Error(), latency)
			return fmt.Errorf("%w: %v", ErrActionFailed, err)
		}
	}

	return ErrActionFailed
}

// record appends the attempt to the audit log and pushes it onto the
// live feed. Audit failures are logged but never block the action path.
func (d *Dispatcher) record(intent *models.ActionIntent, outcome, detail string, latency time.Duration) {
	entry := &models.AuditEntry{
		ID:        uuid.New(),
		UserID:    intent.UserID,
		Action:    intent.Action,
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if intent.Reason != "" {
		reason := intent.Reason
		entry.Reason = &reason
	}
	if detail != "" {
		det := detail
		entry.Detail = &det
	}
	if intent.Duration > 0 {
		entry.Metadata = map[string]any{"duration_seconds": int64(intent.Duration.Seconds())}
	}
	if intent.TriggeringVerdict != nil {
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		entry.Metadata["category"] = string(intent.TriggeringVerdict.Category)
		entry.Metadata["verdict_score"] = intent.TriggeringVerdict.Score
	}

	if d.audit != nil {
		if err := d.audit.Append(entry); err != nil {
			log.Printf("Failed to append audit entry: %v", err)
		}
	}
	if d.feed != nil {
		msg := &models.FeedMessage{Event: models.FeedAuditAppend, Payload: entry}
		if err := d.feed.PublishAudit(d.cfg.FeedChannel, msg); err != nil {
			log.Printf("Failed to publish audit entry: %v", err)
		}
	}
}
