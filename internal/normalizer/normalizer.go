package normalizer

import (
	"strings"
	"time"

	"github.com/warden/backend/internal/models"
)

// Normalize converts a raw platform event into a BehaviorEvent. Total
// function: unrecognized kinds map to KindUnknown, which downstream
// stages ignore. Platform envelope fields are dropped here.
func Normalize(raw models.RawEvent) models.BehaviorEvent {
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return models.BehaviorEvent{
		UserID:         raw.UserID,
		Kind:           normalizeKind(raw.Kind),
		Content:        NormalizeText(raw.Content),
		Timestamp:      ts,
		ChannelContext: strings.TrimSpace(raw.ChannelContext),
	}
}

func normalizeKind(kind string) models.EventKind {
	switch models.EventKind(strings.ToLower(strings.TrimSpace(kind))) {
	case models.KindMessage:
		return models.KindMessage
	case models.KindJoin:
		return models.KindJoin
	case models.KindReaction:
		return models.KindReaction
	case models.KindEdit:
		return models.KindEdit
	default:
		return models.KindUnknown
	}
}

// NormalizeText collapses runs of whitespace to single spaces and trims,
// so near-identical messages share a content fingerprint.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
