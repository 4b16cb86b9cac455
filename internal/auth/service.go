package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/users"
)

// UserPort authenticates credentials and loads accounts.
type UserPort interface {
	Authenticate(ctx context.Context, username, password string) (users.User, error)
	GetUser(ctx context.Context, id int64) (users.User, error)
}

// RevocationPort blacklists logged out tokens.
type RevocationPort interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Service wraps authentication business rules.
type Service struct {
	users   UserPort
	issuer  *Issuer
	revoked RevocationPort
}

// NewService constructs a new Service.
func NewService(users UserPort, issuer *Issuer, revoked RevocationPort) *Service {
	return &Service{users: users, issuer: issuer, revoked: revoked}
}

// Login validates credentials and issues an access token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	u, err := s.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			return LoginResult{}, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err)
		}
		return LoginResult{}, err
	}
	token, claims, err := s.issuer.Issue(u)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, TokenType: "Bearer", ExpiresAt: claims.ExpiresAt.Time, User: u}, nil
}

// Verify resolves a bearer token into a principal. Revoked tokens fail.
func (s *Service) Verify(ctx context.Context, raw string) (shared.Principal, error) {
	claims, err := s.issuer.Parse(raw)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err)
	}
	p, err := claims.Principal()
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err)
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, p.TokenID)
		if err != nil {
			return shared.Principal{}, err
		}
		if revoked {
			return shared.Principal{}, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrTokenRevoked)
		}
	}
	return p, nil
}

// Logout revokes the token of the principal until it would have expired.
func (s *Service) Logout(ctx context.Context, p shared.Principal) error {
	if s.revoked == nil || p.TokenID == "" {
		return nil
	}
	return s.revoked.Revoke(ctx, p.TokenID, p.ExpiresAt)
}

// Me returns the current account.
func (s *Service) Me(ctx context.Context, p shared.Principal) (users.User, error) {
	return s.users.GetUser(ctx, p.UserID)
}
