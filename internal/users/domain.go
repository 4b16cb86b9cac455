package users

import (
	"fmt"
	"time"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// Roles an account may hold.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents a user account for management.
type User struct {
	ID          int64           `json:"id"`
	Username    string          `json:"username"`
	Email       string          `json:"email"`
	Role        string          `json:"role"`
	Phone       string          `json:"phone"`
	Active      bool            `json:"active"`
	Rights      map[string]bool `json:"rights"`
	LastLoginAt *time.Time      `json:"last_login_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Credentials is the login view of an account. It never leaves the server.
type Credentials struct {
	User
	PasswordHash string
}

// CreateInput registers a new account.
type CreateInput struct {
	Username string          `json:"username" validate:"required,min=3,max=60"`
	Email    string          `json:"email" validate:"omitempty,email,max=200"`
	Password string          `json:"password" validate:"required,min=8,max=72"`
	Role     string          `json:"role" validate:"omitempty,oneof=admin user"`
	Phone    string          `json:"phone" validate:"max=40"`
	Active   *bool           `json:"active"`
	Rights   map[string]bool `json:"rights"`
}

// UpdateInput edits an account. An empty password keeps the current one.
type UpdateInput struct {
	Email    string `json:"email" validate:"omitempty,email,max=200"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=admin user"`
	Phone    string `json:"phone" validate:"max=40"`
	Active   *bool  `json:"active"`
}

// RightsInput replaces the rights of an account.
type RightsInput struct {
	Rights map[string]bool `json:"rights" validate:"required"`
}

var (
	// ErrNotFound indicates a missing account.
	ErrNotFound = fmt.Errorf("%w: user not found", httpx.ErrNotFound)
	// ErrDuplicateUsername indicates the username is taken.
	ErrDuplicateUsername = fmt.Errorf("%w: username already used", httpx.ErrDuplicate)
	// ErrUnknownRight rejects rights outside the catalog.
	ErrUnknownRight = fmt.Errorf("%w: unknown right", httpx.ErrValidation)
	// ErrLastAdmin prevents locking everyone out.
	ErrLastAdmin = fmt.Errorf("%w: at least one active administrator is required", httpx.ErrConflict)
	// ErrSelf prevents users from deleting or disabling their own account.
	ErrSelf = fmt.Errorf("%w: cannot delete or disable your own account", httpx.ErrConflict)
)
