// Package classifier fronts the external AI classification service. The
// gateway shields the rest of the engine from the service's latency, cost
// and unreliability: verdicts are cached by content fingerprint, external
// calls are rate-limited and capped, transient failures are retried, and
// a stale in-flight result for a user is discarded once a newer event for
// that user has arrived.
package classifier

import (
	"context"
	"errors"
)

// Service errors, the only classifier failures visible above this package.
var (
	ErrTimeout     = errors.New("classifier: timeout")
	ErrRateLimited = errors.New("classifier: rate limited")
	ErrMalformed   = errors.New("classifier: malformed response")

	// ErrClassifierUnavailable is returned once retries are exhausted.
	// The caller still receives a degraded benign verdict so moderation
	// never stalls while the service is down.
	ErrClassifierUnavailable = errors.New("classifier: unavailable")
)

// Classification is the raw, already-validated result of one external
// classification call.
type Classification struct {
	Score     float64 `json:"score"`
	Category  string  `json:"category"`
	Rationale string  `json:"rationale"`
}

// ExtractedIntent is what the intent-extraction call returns for operator
// free text. Treated strictly as a suggestion; the interpreter validates
// every field against its closed grammar.
type ExtractedIntent struct {
	Op      string `json:"op"`
	UserRef string `json:"user"`
	Action  string `json:"action"`
	Limit   int    `json:"limit"`
	Reason  string `json:"reason"`
}

// Service is the external AI classification capability.
type Service interface {
	Classify(ctx context.Context, content, channelContext string) (*Classification, error)
	ExtractIntent(ctx context.Context, text string) (*ExtractedIntent, error)
}

// Disabled stands in for the Service when no API key is configured.
// Every classification degrades to a benign verdict and every command
// comes back unmapped.
type Disabled struct{}

func (Disabled) Classify(ctx context.Context, content, channelContext string) (*Classification, error) {
	return nil, ErrClassifierUnavailable
}

func (Disabled) ExtractIntent(ctx context.Context, text string) (*ExtractedIntent, error) {
	return nil, ErrClassifierUnavailable
}
