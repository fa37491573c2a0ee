package normalizer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/models"
)

func TestNormalize_Kinds(t *testing.T) {
	tests := []struct {
		name string
		kind string
		want models.EventKind
	}{
		{"message", "message", models.KindMessage},
		{"join", "join", models.KindJoin},
		{"reaction", "reaction", models.KindReaction},
		{"edit", "edit", models.KindEdit},
		{"uppercase", "MESSAGE", models.KindMessage},
		{"padded", "  join  ", models.KindJoin},
		{"unrecognized", "voice_state_update", models.KindUnknown},
		{"empty", "", models.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := Normalize(models.RawEvent{UserID: uuid.New(), Kind: tt.kind})
			if evt.Kind != tt.want {
				t.Errorf("Normalize kind = %s, want %s", evt.Kind, tt.want)
			}
		})
	}
}

func TestNormalize_DropsEnvelope(t *testing.T) {
	raw := models.RawEvent{
		UserID:         uuid.New(),
		Kind:           "message",
		Content:        "  buy   cheap    coins  ",
		Timestamp:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		ChannelContext: " general ",
		Envelope:       map[string]any{"shard": 3, "guild_id": "123"},
	}

	evt := Normalize(raw)

	if evt.Content != "buy cheap coins" {
		t.Errorf("expected collapsed content, got %q", evt.Content)
	}
	if evt.ChannelContext != "general" {
		t.Errorf("expected trimmed channel context, got %q", evt.ChannelContext)
	}
	if !evt.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("expected timestamp preserved, got %v", evt.Timestamp)
	}
	if evt.UserID != raw.UserID {
		t.Errorf("expected user id preserved")
	}
}

func TestNormalize_ZeroTimestamp(t *testing.T) {
	evt := Normalize(models.RawEvent{UserID: uuid.New(), Kind: "message"})
	if evt.Timestamp.IsZero() {
		t.Fatal("expected a timestamp to be assigned")
	}
}
