package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a behavioral event on the platform.
type EventKind string

const (
	KindMessage  EventKind = "message"
	KindJoin     EventKind = "join"
	KindReaction EventKind = "reaction"
	KindEdit     EventKind = "edit"
	KindUnknown  EventKind = "unknown"
)

// RawEvent is what the platform gateway pushes to the engine. The envelope
// may carry platform-specific fields we do not care about; only the fields
// here survive normalization.
type RawEvent struct {
	UserID         uuid.UUID      `json:"user_id"`
	Kind           string         `json:"kind"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	ChannelContext string         `json:"channel_context"`
	Envelope       map[string]any `json:"envelope,omitempty"`
}

// BehaviorEvent is the normalized, immutable unit the pipeline consumes.
type BehaviorEvent struct {
	UserID         uuid.UUID `json:"user_id"`
	Kind           EventKind `json:"kind"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	ChannelContext string    `json:"channel_context"`
}
