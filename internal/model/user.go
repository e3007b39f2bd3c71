package model

import "time"

// Operator roles. Owner is the privileged tier and passes every role gate.
// Support is reserved for a future read-only tier.
const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleSupport = "support"
)

// Operator account status values. Disabling an account blocks new logins but
// not tokens issued before disablement.
const (
	UserEnabled  = "enabled"
	UserDisabled = "disabled"
)

// User is an operator account for the administrative API. Passwords are
// stored as bcrypt hashes.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Role         string     `json:"role" db:"role"`
	Status       string     `json:"status" db:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
