package shared

import "errors"

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenRevoked occurs when a bearer token was logged out.
	ErrTokenRevoked = errors.New("token revoked")
)
