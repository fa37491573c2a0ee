package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operator roles. Viewers can only run queries; moderators may warn,
// mute and kick; admins may additionally ban and unban.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ValidRole reports whether r is a known operator role.
func ValidRole(r Role) bool {
	switch r {
	case RoleViewer, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Allows reports whether the role may issue the given moderation action.
func (r Role) Allows(a ActionType) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleModerator:
		return a == ActionWarn || a == ActionMute || a == ActionKick
	default:
		return false
	}
}

// Operator is a human user of the engine's command API.
type Operator struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	Role         Role      `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks basic operator fields
func (o *Operator) Validate() error {
	if o.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !strings.Contains(o.Email, "@") {
		return fmt.Errorf("invalid email")
	}
	if o.DisplayName == "" {
		return fmt.Errorf("display name is required")
	}
	if len(o.DisplayName) < 2 || len(o.DisplayName) > 100 {
		return fmt.Errorf("display name length invalid")
	}
	if !ValidRole(o.Role) {
		return fmt.Errorf("unknown role: %s", o.Role)
	}
	return nil
}

type CreateOperatorRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"required"`
	Role        Role   `json:"role,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token    string   `json:"token"`
	Operator Operator `json:"operator"`
}
