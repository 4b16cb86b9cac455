package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/techinfoplus/tip-erp/internal/users"
)

// Claims is the JWT payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Username string          `json:"username"`
	Role     string          `json:"role"`
	Rights   map[string]bool `json:"rights,omitempty"`
}

// LoginRequest carries credentials.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=60"`
	Password string `json:"password" validate:"required,max=72"`
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string     `json:"token"`
	TokenType string     `json:"token_type"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      users.User `json:"user"`
}
