package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/models"
	"golang.org/x/time/rate"
)

// VerdictCache is the fingerprint-keyed verdict cache. Satisfied by
// cache.RedisClient; nil disables caching.
type VerdictCache interface {
	GetVerdict(fingerprint string) (*models.RiskVerdict, error)
	SetVerdict(fingerprint string, verdict *models.RiskVerdict, ttl time.Duration) error
}

// GatewayConfig tunes the gateway
type GatewayConfig struct {
	CallTimeout   time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	MaxConcurrent int
	CacheTTL      time.Duration
	// CallsPerSec caps the external call rate; 0 disables the limiter.
	CallsPerSec float64
}

// Gateway is the rate-limited, cached, retrying façade over the external
// classifier.
type Gateway struct {
	svc     Service
	cache   VerdictCache
	cfg     GatewayConfig
	slots   chan struct{}
	limiter *rate.Limiter

	// per-user monotonic sequence, used to discard stale verdicts
	seqMu  sync.Mutex
	latest map[uuid.UUID]uint64
}

func NewGateway(svc Service, cache VerdictCache, cfg GatewayConfig) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	// A TTL of 0 would cache verdicts forever; entries must expire.
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	var limiter *rate.Limiter
	if cfg.CallsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSec), cfg.MaxConcurrent)
	}

	return &Gateway{
		svc:     svc,
		cache:   cache,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		latest:  make(map[uuid.UUID]uint64),
		limiter: limiter,
	}
}

// Observe assigns the next sequence number for a user. Called once per
// event on arrival; a verdict is only applied while its sequence is still
// the user's latest.
func (g *Gateway) Observe(userID uuid.UUID) uint64 {
	g.seqMu.Lock()
	defer g.seqMu.Unlock()
	g.latest[userID]++
	return g.latest[userID]
}

// IsLatest reports whether seq is still the most recent event sequence
// for the user.
func (g *Gateway) IsLatest(userID uuid.UUID, seq uint64) bool {
	g.seqMu.Lock()
	defer g.seqMu.Unlock()
	return g.latest[userID] == seq
}

// Fingerprint derives the cache key for an event's content.
func Fingerprint(evt models.BehaviorEvent) string {
	sum := sha256.Sum256([]byte(string(evt.Kind) + "|" + evt.Content))
	return hex.EncodeToString(sum[:])
}

// Classifiable reports whether an event carries content worth sending to
// the external service. Joins, unknown kinds and empty content
// short-circuit to a fixed low-risk verdict.
func Classifiable(evt models.BehaviorEvent) bool {
	if evt.Kind == models.KindJoin || evt.Kind == models.KindUnknown {
		return false
	}
	return evt.Content != ""
}

// Classify obtains a RiskVerdict for the event. On exhausted retries it
// returns a benign degraded verdict together with ErrClassifierUnavailable;
// the caller applies the verdict and logs the degradation.
func (g *Gateway) Classify(ctx context.Context, evt models.BehaviorEvent) (*models.RiskVerdict, error) {
	fp := Fingerprint(evt)

	if !Classifiable(evt) {
		return benignVerdict(evt, fp, "content not classifiable", false), nil
	}

	if g.cache != nil {
		cached, err := g.cache.GetVerdict(fp)
		if err != nil {
			log.Printf("Verdict cache read failed: %v", err)
		} else if cached != nil {
			// Rebind the cached assessment to this user and event.
			v := *cached
			v.UserID = evt.UserID
			v.EventRef = fp
			return &v, nil
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return benignVerdict(evt, fp, "classifier unavailable", true), ErrClassifierUnavailable
		}
	}

	// Bounded concurrency; callers past the cap queue here rather than
	// being dropped.
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return benignVerdict(evt, fp, "classifier unavailable", true), ErrClassifierUnavailable
	}
	defer func() { <-g.slots }()

	cls, err := g.classifyWithRetry(ctx, evt)
	if err != nil {
		return benignVerdict(evt, fp, "classifier unavailable", true), fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	verdict := &models.RiskVerdict{
		UserID:     evt.UserID,
		EventRef:   fp,
		Score:      cls.Score,
		Category:   coerceCategory(cls.Category),
		Rationale:  cls.Rationale,
		ComputedAt: time.Now(),
	}

	if g.cache != nil {
		if err := g.cache.SetVerdict(fp, verdict, g.cfg.CacheTTL); err != nil {
			log.Printf("Verdict cache write failed: %v", err)
		}
	}

	return verdict, nil
}

func (g *Gateway) classifyWithRetry(ctx context.Context, evt models.BehaviorEvent) (*Classification, error) {
	var lastErr error
	backoff := g.cfg.BackoffBase

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		cls, err := g.svc.Classify(attemptCtx, evt.Content, evt.ChannelContext)
		cancel()

		if err == nil {
			return cls, nil
		}
		lastErr = err

		// Only transient failures are retried.
		if errors.Is(err, ErrMalformed) || errors.Is(err, ErrClassifierUnavailable) {
			return nil, err
		}

		if attempt < g.cfg.MaxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	return nil, lastErr
}

func benignVerdict(evt models.BehaviorEvent, fp, rationale string, degraded bool) *models.RiskVerdict {
	return &models.RiskVerdict{
		UserID:     evt.UserID,
		EventRef:   fp,
		Score:      0,
		Category:   models.CategoryNone,
		Rationale:  rationale,
		Degraded:   degraded,
		ComputedAt: time.Now(),
	}
}

// coerceCategory folds anything outside the known set to none; the
// classifier's output is untrusted.
func coerceCategory(c string) models.RiskCategory {
	cat := models.RiskCategory(c)
	if models.ValidCategory(cat) {
		return cat
	}
	return models.CategoryNone
}
