// Package trust owns the per-user trust state: the ledger holds the
// records, the state machine folds verdicts and elapsed time into them
// and decides tier transitions and moderation actions.
package trust

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warden/backend/config"
	"github.com/warden/backend/internal/models"
)

const maxHistoryInMemory = 50

// Policy holds the tunable parameters of the state machine. The concrete
// numbers are deployment policy, not engine behavior, so everything here
// can be overridden via configuration.
type Policy struct {
	InitialScore     float64
	DecayPerHour     float64
	Penalties        map[models.RiskCategory]float64
	TierFloors       map[models.Tier]float64
	HysteresisMargin float64
	RecoveryDwell    time.Duration
	BaseMuteDuration time.Duration
	MutePerPoint     time.Duration
}

// DefaultPolicy returns the stock policy: scores live in [0,100], users
// start fully trusted, and penalties order scam > phishing > harassment >
// toxicity > spam > none.
func DefaultPolicy() Policy {
	return Policy{
		InitialScore: 100,
		DecayPerHour: 1.5,
		Penalties: map[models.RiskCategory]float64{
			models.CategoryScam:       60,
			models.CategoryPhishing:   55,
			models.CategoryHarassment: 40,
			models.CategoryToxicity:   35,
			models.CategorySpam:       25,
			models.CategoryNone:       0,
		},
		TierFloors: map[models.Tier]float64{
			models.TierTrusted:    80,
			models.TierWatched:    40,
			models.TierSuspicious: 25,
			models.TierRestricted: 10,
			models.TierBanned:     0,
		},
		HysteresisMargin: 3,
		RecoveryDwell:    time.Hour,
		BaseMuteDuration: 10 * time.Minute,
		MutePerPoint:     2 * time.Minute,
	}
}

// PolicyFromConfig overlays the configured knobs on the default policy
func PolicyFromConfig(cfg config.TrustConfig) Policy {
	p := DefaultPolicy()
	if cfg.InitialScore > 0 {
		p.InitialScore = cfg.InitialScore
	}
	if cfg.DecayPerHour > 0 {
		p.DecayPerHour = cfg.DecayPerHour
	}
	if cfg.HysteresisMargin > 0 {
		p.HysteresisMargin = cfg.HysteresisMargin
	}
	if cfg.RecoveryDwell > 0 {
		p.RecoveryDwell = cfg.RecoveryDwell
	}
	if cfg.BaseMuteDuration > 0 {
		p.BaseMuteDuration = cfg.BaseMuteDuration
	}
	if cfg.MutePerPoint > 0 {
		p.MutePerPoint = cfg.MutePerPoint
	}
	return p
}

// Machine applies verdicts and time decay to trust records.
type Machine struct {
	policy Policy
	now    func() time.Time
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy, now: time.Now}
}

// Policy returns the machine's active policy
func (m *Machine) Policy() Policy {
	return m.policy
}

// NewRecord creates a fresh record for a user seen for the first time
func (m *Machine) NewRecord(userID uuid.UUID) *models.TrustRecord {
	now := m.now()
	return &models.TrustRecord{
		UserID:      userID,
		TrustScore:  m.policy.InitialScore,
		Tier:        m.tierForScore(m.policy.InitialScore),
		LastDecayAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Touch applies time decay and any recovery transition it enables.
// Called on every access; decay runs before any verdict is folded in.
func (m *Machine) Touch(rec *models.TrustRecord) {
	now := m.now()
	m.decay(rec, now)
	m.transition(rec, now)
	rec.UpdatedAt = now
}

// Apply folds a verdict into the record: decay first, then the category
// penalty scaled by the verdict score, then the tier transition. Returns
// an ActionIntent when the record entered a worse tier that warrants one,
// nil otherwise. Entering the same tier twice without an intervening
// recovery cannot happen, which makes action emission idempotent per
// tier entry.
func (m *Machine) Apply(rec *models.TrustRecord, verdict *models.RiskVerdict) *models.ActionIntent {
	now := m.now()
	m.decay(rec, now)

	penalty := m.policy.Penalties[verdict.Category] * verdict.Score
	before := rec.TrustScore
	rec.TrustScore = clampScore(rec.TrustScore - penalty)
	delta := rec.TrustScore - before

	from := rec.Tier
	m.transition(rec, now)
	rec.UpdatedAt = now

	entry := models.TrustHistoryEntry{
		Verdict:       *verdict,
		ScoreDelta:    delta,
		ResultingTier: rec.Tier,
		AppliedAt:     now,
	}
	rec.History = append(rec.History, entry)
	if len(rec.History) > maxHistoryInMemory {
		rec.History = rec.History[len(rec.History)-maxHistoryInMemory:]
	}

	if rec.Tier.WorseThan(from) {
		return m.actionForTier(rec, verdict)
	}
	return nil
}

// Reset is the manual operator override: it restores the initial score
// and clears Banned. The state machine itself never leaves Banned.
func (m *Machine) Reset(rec *models.TrustRecord) {
	now := m.now()
	rec.TrustScore = m.policy.InitialScore
	rec.Tier = m.tierForScore(rec.TrustScore)
	rec.RecoverySince = nil
	rec.LastDecayAt = now
	rec.UpdatedAt = now
}

// ForceBan is the override in the other direction: it drives the record
// straight to the banned floor. Automatic bans go through Apply.
func (m *Machine) ForceBan(rec *models.TrustRecord) {
	now := m.now()
	rec.TrustScore = 0
	rec.Tier = models.TierBanned
	rec.RecoverySince = nil
	rec.LastDecayAt = now
	rec.UpdatedAt = now
}

// decay moves the score linearly toward 100; good long-term behavior
// erases old infractions. Idempotent given the same timestamps.
func (m *Machine) decay(rec *models.TrustRecord, now time.Time) {
	elapsed := now.Sub(rec.LastDecayAt)
	if elapsed <= 0 {
		return
	}
	rec.LastDecayAt = now
	if rec.Tier == models.TierBanned {
		// Banned is terminal; the score stops mattering.
		return
	}
	rec.TrustScore = clampScore(rec.TrustScore + m.policy.DecayPerHour*elapsed.Hours())
}

// transition moves the record between tiers with hysteresis: escalation
// requires the score to cross the current tier's floor by more than the
// margin and takes effect immediately; recovery requires the score to
// hold above the candidate tier's floor plus margin for the dwell time.
func (m *Machine) transition(rec *models.TrustRecord, now time.Time) {
	raw := m.tierForScore(rec.TrustScore)

	switch {
	case raw.WorseThan(rec.Tier):
		rec.RecoverySince = nil
		if rec.TrustScore < m.policy.TierFloors[rec.Tier]-m.policy.HysteresisMargin {
			rec.Tier = raw
		}

	case rec.Tier.WorseThan(raw) && rec.Tier != models.TierBanned:
		if rec.TrustScore >= m.policy.TierFloors[raw]+m.policy.HysteresisMargin {
			if rec.RecoverySince == nil {
				t := now
				rec.RecoverySince = &t
			} else if now.Sub(*rec.RecoverySince) >= m.policy.RecoveryDwell {
				rec.Tier = raw
				rec.RecoverySince = nil
			}
		} else {
			rec.RecoverySince = nil
		}

	default:
		rec.RecoverySince = nil
	}
}

func (m *Machine) tierForScore(score float64) models.Tier {
	floors := m.policy.TierFloors
	switch {
	case score >= floors[models.TierTrusted]:
		return models.TierTrusted
	case score >= floors[models.TierWatched]:
		return models.TierWatched
	case score >= floors[models.TierSuspicious]:
		return models.TierSuspicious
	case score >= floors[models.TierRestricted]:
		return models.TierRestricted
	default:
		return models.TierBanned
	}
}

func (m *Machine) actionForTier(rec *models.TrustRecord, verdict *models.RiskVerdict) *models.ActionIntent {
	reason := fmt.Sprintf("trust dropped to %.1f (%s)", rec.TrustScore, verdict.Category)

	switch rec.Tier {
	case models.TierSuspicious:
		return &models.ActionIntent{
			UserID:            rec.UserID,
			Action:            models.ActionWarn,
			Reason:            reason,
			TriggeringVerdict: verdict,
		}
	case models.TierRestricted:
		// Mute longer the further the score fell below the Suspicious floor.
		deficit := m.policy.TierFloors[models.TierSuspicious] - rec.TrustScore
		if deficit < 0 {
			deficit = 0
		}
		duration := m.policy.BaseMuteDuration + time.Duration(deficit*float64(m.policy.MutePerPoint))
		return &models.ActionIntent{
			UserID:            rec.UserID,
			Action:            models.ActionMute,
			Duration:          duration,
			Reason:            reason,
			TriggeringVerdict: verdict,
		}
	case models.TierBanned:
		return &models.ActionIntent{
			UserID:            rec.UserID,
			Action:            models.ActionBan,
			Reason:            reason,
			TriggeringVerdict: verdict,
		}
	default:
		return nil
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
