package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/database"
	"github.com/warden/backend/internal/models"
)

type OperatorRepository struct {
	db *database.DB
}

func NewOperatorRepository(db *database.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Create creates a new operator
func (r *OperatorRepository) Create(op *models.Operator) error {
	query := `
		INSERT INTO operators (id, email, display_name, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		query,
		op.ID,
		op.Email,
		op.DisplayName,
		op.Role,
		op.PasswordHash,
		op.CreatedAt,
		op.UpdatedAt,
	).Scan(&op.ID, &op.CreatedAt, &op.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}

	return nil
}

// GetByID retrieves an operator by ID
func (r *OperatorRepository) GetByID(id uuid.UUID) (*models.Operator, error) {
	query := `
		SELECT id, email, display_name, role, password_hash, created_at, updated_at
		FROM operators
		WHERE id = $1
	`

	op := &models.Operator{}
	err := r.db.QueryRow(query, id).Scan(
		&op.ID,
		&op.Email,
		&op.DisplayName,
		&op.Role,
		&op.PasswordHash,
		&op.CreatedAt,
		&op.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operator not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}

	return op, nil
}

// GetByEmail retrieves an operator by email
func (r *OperatorRepository) GetByEmail(email string) (*models.Operator, error) {
	query := `
		SELECT id, email, display_name, role, password_hash, created_at, updated_at
		FROM operators
		WHERE email = $1
	`

	op := &models.Operator{}
	err := r.db.QueryRow(query, email).Scan(
		&op.ID,
		&op.Email,
		&op.DisplayName,
		&op.Role,
		&op.PasswordHash,
		&op.CreatedAt,
		&op.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operator not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}

	return op, nil
}

// CountAdmins returns the number of admin operators. The first operator
// to register is promoted to admin when none exist yet.
func (r *OperatorRepository) CountAdmins() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM operators WHERE role = $1`, models.RoleAdmin).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}
