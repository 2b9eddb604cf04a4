package user

import (
	"time"

	"github.com/orgboard/orgsync/internal/services/capability"
)

type User struct {
	ID                  string          `db:"id" json:"id"`
	Name                string          `db:"name" json:"name"`
	Email               string          `db:"email" json:"email"`
	PasswordHash        string          `db:"password_hash" json:"-"`
	PasswordAuthEnabled bool            `db:"password_auth_enabled" json:"password_auth_enabled"`
	Role                capability.Role `db:"role" json:"role"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// CreateUserRequest captures payload for registering a user
type CreateUserRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     capability.Role `json:"role"`
}

// UpdateRoleRequest captures payload for reassigning a user's role
type UpdateRoleRequest struct {
	Role capability.Role `json:"role"`
}
