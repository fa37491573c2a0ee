// Package platform connects the dispatcher to the chat platform. The
// bridge publishes action commands onto a Redis channel consumed by the
// platform connector process; a direct API connector can replace it by
// implementing dispatcher.PlatformAPI.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warden/backend/internal/dispatcher"
	"github.com/warden/backend/internal/models"
)

// ActionCommand is the wire format for one enforcement command.
type ActionCommand struct {
	ID              uuid.UUID         `json:"id"`
	UserID          uuid.UUID         `json:"user_id"`
	Action          models.ActionType `json:"action"`
	DurationSeconds int64             `json:"duration_seconds,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	IssuedAt        time.Time         `json:"issued_at"`
}

// RedisBridge publishes action commands for the platform connector.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

func NewRedisBridge(client *redis.Client, channel string) *RedisBridge {
	return &RedisBridge{client: client, channel: channel}
}

// ExecuteAction publishes the command. Delivery to a connector is at
// most once per publish; the connector reports failures back through
// its own audit path.
func (b *RedisBridge) ExecuteAction(ctx context.Context, userID uuid.UUID, action models.ActionType, duration time.Duration, reason string) error {
	cmd := ActionCommand{
		ID:       uuid.New(),
		UserID:   userID,
		Action:   action,
		Reason:   reason,
		IssuedAt: time.Now(),
	}
	if duration > 0 {
		cmd.DurationSeconds = int64(duration.Seconds())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", dispatcher.ErrUnknown, err)
	}

	res := b.client.Publish(ctx, b.channel, data)
	if err := res.Err(); err != nil {
		return fmt.Errorf("%w: %v", dispatcher.ErrUnknown, err)
	}
	if res.Val() == 0 {
		// Nobody is listening; the platform connector is down.
		return fmt.Errorf("%w: no platform connector subscribed", dispatcher.ErrUnknown)
	}
	return nil
}

// LogBridge is the fallback when Redis is unavailable: actions are
// recorded in the audit log but never reach the platform.
type LogBridge struct{}

func (LogBridge) ExecuteAction(ctx context.Context, userID uuid.UUID, action models.ActionType, duration time.Duration, reason string) error {
	log.Printf("Platform bridge offline, %s for user %s not delivered (reason: %s)", action, userID, reason)
	return nil
}
