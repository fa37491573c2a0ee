package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/database"
	"github.com/warden/backend/internal/models"
)

type TrustRepository struct {
	db *database.DB
}

func NewTrustRepository(db *database.DB) *TrustRepository {
	return &TrustRepository{db: db}
}

// LoadRecord retrieves a trust record by user ID. Returns (nil, nil) when
// no record exists yet; the ledger creates one lazily.
func (r *TrustRepository) LoadRecord(userID uuid.UUID) (*models.TrustRecord, error) {
	query := `
		SELECT user_id, trust_score, tier, last_decay_at, recovery_since, created_at, updated_at
		FROM trust_records
		WHERE user_id = $1
	`

	rec := &models.TrustRecord{}
	var recoverySince sql.NullTime
	err := r.db.QueryRow(query, userID).Scan(
		&rec.UserID,
		&rec.TrustScore,
		&rec.Tier,
		&rec.LastDecayAt,
		&recoverySince,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trust record: %w", err)
	}
	if recoverySince.Valid {
		t := recoverySince.Time
		rec.RecoverySince = &t
	}

	return rec, nil
}

// SaveRecord upserts a trust record
func (r *TrustRepository) SaveRecord(rec *models.TrustRecord) error {
	query := `
		INSERT INTO trust_records (user_id, trust_score, tier, last_decay_at, recovery_since, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			trust_score = EXCLUDED.trust_score,
			tier = EXCLUDED.tier,
			last_decay_at = EXCLUDED.last_decay_at,
			recovery_since = EXCLUDED.recovery_since,
			updated_at = NOW()
	`

	var recoverySince sql.NullTime
	if rec.RecoverySince != nil {
		recoverySince = sql.NullTime{Time: *rec.RecoverySince, Valid: true}
	}

	if _, err := r.db.Exec(query, rec.UserID, rec.TrustScore, rec.Tier, rec.LastDecayAt, recoverySince, rec.CreatedAt); err != nil {
		return fmt.Errorf("failed to save trust record: %w", err)
	}
	return nil
}

// AppendHistory records one applied verdict for a user
func (r *TrustRepository) AppendHistory(userID uuid.UUID, entry *models.TrustHistoryEntry) error {
	query := `
		INSERT INTO trust_history (id, user_id, score, category, rationale, degraded, score_delta, resulting_tier, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if _, err := r.db.Exec(
		query,
		uuid.New(),
		userID,
		entry.Verdict.Score,
		entry.Verdict.Category,
		entry.Verdict.Rationale,
		entry.Verdict.Degraded,
		entry.ScoreDelta,
		entry.ResultingTier,
		entry.AppliedAt,
	); err != nil {
		return fmt.Errorf("failed to append trust history: %w", err)
	}
	return nil
}

// QueryTopRisk returns records ordered by ascending trust score
func (r *TrustRepository) QueryTopRisk(limit int) ([]models.TrustRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT user_id, trust_score, tier, last_decay_at, recovery_since, created_at, updated_at
		FROM trust_records
		ORDER BY trust_score ASC
		LIMIT $1
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top risk: %w", err)
	}
	defer rows.Close()

	res := []models.TrustRecord{}
	for rows.Next() {
		var rec models.TrustRecord
		var recoverySince sql.NullTime
		if err := rows.Scan(&rec.UserID, &rec.TrustScore, &rec.Tier, &rec.LastDecayAt, &recoverySince, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trust record: %w", err)
		}
		if recoverySince.Valid {
			t := recoverySince.Time
			rec.RecoverySince = &t
		}
		res = append(res, rec)
	}
	return res, nil
}

// TierCounts returns the number of users per tier plus the average score
func (r *TrustRepository) TierCounts() (map[models.Tier]int, float64, int, error) {
	query := `SELECT tier, COUNT(*), COALESCE(AVG(trust_score), 0) FROM trust_records GROUP BY tier`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to query tier counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Tier]int)
	total := 0
	weighted := 0.0
	for rows.Next() {
		var tier models.Tier
		var n int
		var avg float64
		if err := rows.Scan(&tier, &n, &avg); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to scan tier count: %w", err)
		}
		counts[tier] = n
		total += n
		weighted += avg * float64(n)
	}

	average := 0.0
	if total > 0 {
		average = weighted / float64(total)
	}
	return counts, average, total, nil
}
