package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/database"
	"github.com/warden/backend/internal/models"
)

type AuditRepository struct {
	db *database.DB
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append records one action execution attempt. Append-only; entries are
// never updated afterwards.
func (r *AuditRepository) Append(entry *models.AuditEntry) error {
	meta := sql.NullString{}
	if entry.Metadata != nil {
		if b, err := json.Marshal(entry.Metadata); err == nil {
			meta = sql.NullString{String: string(b), Valid: true}
		}
	}

	query := `INSERT INTO audit_log (id, user_id, action, reason, outcome, detail, latency_ms, metadata, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`
	if _, err := r.db.Exec(query, entry.ID, entry.UserID, entry.Action, entry.Reason, entry.Outcome, entry.Detail, entry.LatencyMS, meta); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// GetRecent returns the most recent audit entries, newest first
func (r *AuditRepository) GetRecent(limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, action, reason, outcome, detail, latency_ms, metadata, created_at FROM audit_log ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	res := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Reason, &e.Outcome, &e.Detail, &e.LatencyMS, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if meta.Valid {
			var mm map[string]any
			_ = json.Unmarshal([]byte(meta.String), &mm)
			e.Metadata = mm
		}
		res = append(res, e)
	}
	return res, nil
}

// GetByUser returns recent audit entries for a single user
func (r *AuditRepository) GetByUser(userID uuid.UUID, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, action, reason, outcome, detail, latency_ms, metadata, created_at FROM audit_log WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	res := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Reason, &e.Outcome, &e.Detail, &e.LatencyMS, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if meta.Valid {
			var mm map[string]any
			_ = json.Unmarshal([]byte(meta.String), &mm)
			e.Metadata = mm
		}
		res = append(res, e)
	}
	return res, nil
}

// CountByOutcome aggregates audit entries per outcome
func (r *AuditRepository) CountByOutcome() (map[string]int64, error) {
	query := `SELECT outcome, COUNT(*) FROM audit_log GROUP BY outcome`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit outcomes: %w", err)
	}
	defer rows.Close()

	res := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		res[outcome] = n
	}
	return res, nil
}
