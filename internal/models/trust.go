package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier is the discrete trust level derived from a user's numeric score.
// Ordering is strict: Trusted is best, Banned is worst and terminal.
type Tier string

const (
	TierTrusted    Tier = "trusted"
	TierWatched    Tier = "watched"
	TierSuspicious Tier = "suspicious"
	TierRestricted Tier = "restricted"
	TierBanned     Tier = "banned"
)

// tierRank maps tiers onto their strict order, 0 = best.
var tierRank = map[Tier]int{
	TierTrusted:    0,
	TierWatched:    1,
	TierSuspicious: 2,
	TierRestricted: 3,
	TierBanned:     4,
}

// Rank returns the tier's position in the strict order (0 = Trusted).
func (t Tier) Rank() int {
	r, ok := tierRank[t]
	if !ok {
		return tierRank[TierWatched]
	}
	return r
}

// WorseThan reports whether t is a lower-trust tier than other.
func (t Tier) WorseThan(other Tier) bool {
	return t.Rank() > other.Rank()
}

// AllTiers lists tiers best-first, for stats and iteration.
var AllTiers = []Tier{TierTrusted, TierWatched, TierSuspicious, TierRestricted, TierBanned}

// TrustHistoryEntry records one verdict folded into a record.
type TrustHistoryEntry struct {
	Verdict       RiskVerdict `json:"verdict"`
	ScoreDelta    float64     `json:"score_delta"`
	ResultingTier Tier        `json:"resulting_tier"`
	AppliedAt     time.Time   `json:"applied_at"`
}

// TrustRecord is the durable per-user trust state. Exactly one record per
// user, created lazily on first event, mutated only by the state machine.
type TrustRecord struct {
	UserID        uuid.UUID           `json:"user_id" db:"user_id"`
	TrustScore    float64             `json:"trust_score" db:"trust_score"`
	Tier          Tier                `json:"tier" db:"tier"`
	LastDecayAt   time.Time           `json:"last_decay_at" db:"last_decay_at"`
	RecoverySince *time.Time          `json:"recovery_since,omitempty" db:"recovery_since"`
	History       []TrustHistoryEntry `json:"history,omitempty"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// Validate checks the record invariants.
func (r *TrustRecord) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if r.TrustScore < 0 || r.TrustScore > 100 {
		return fmt.Errorf("trust score out of range: %f", r.TrustScore)
	}
	if _, ok := tierRank[r.Tier]; !ok {
		return fmt.Errorf("unknown tier: %s", r.Tier)
	}
	return nil
}

// Clone returns a deep copy safe to hand outside the ledger.
func (r *TrustRecord) Clone() *TrustRecord {
	cp := *r
	if r.RecoverySince != nil {
		t := *r.RecoverySince
		cp.RecoverySince = &t
	}
	cp.History = make([]TrustHistoryEntry, len(r.History))
	copy(cp.History, r.History)
	return &cp
}
