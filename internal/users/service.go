package users

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	FindCredentials(ctx context.Context, username string) (Credentials, error)
	CreateUser(ctx context.Context, u User, passwordHash string) (int64, error)
	UpdateUser(ctx context.Context, u User, passwordHash string) error
	SetRights(ctx context.Context, id int64, rights map[string]bool) error
	DeleteUser(ctx context.Context, id int64) error
	CountActiveAdmins(ctx context.Context) (int, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cost  int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, cost: bcrypt.DefaultCost}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one account.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser hashes the password and stores the account.
func (s *Service) CreateUser(ctx context.Context, in CreateInput) (User, error) {
	rights, err := cleanRights(in.Rights)
	if err != nil {
		return User{}, err
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	u := User{
		Username: strings.TrimSpace(in.Username),
		Email:    strings.TrimSpace(in.Email),
		Role:     roleOrDefault(in.Role),
		Phone:    in.Phone,
		Active:   in.Active == nil || *in.Active,
		Rights:   rights,
	}
	id, err := s.repo.CreateUser(ctx, u, hash)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, "user:create", id, map[string]any{"username": u.Username, "role": u.Role})
	return s.repo.GetUser(ctx, id)
}

// UpdateUser edits profile fields, role, status and optionally the password.
func (s *Service) UpdateUser(ctx context.Context, id int64, in UpdateInput) (User, error) {
	current, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	next := current
	next.Email = strings.TrimSpace(in.Email)
	next.Phone = in.Phone
	if in.Role != "" {
		next.Role = in.Role
	}
	if in.Active != nil {
		next.Active = *in.Active
	}
	if !next.Active && id == shared.ActorID(ctx) {
		return User{}, ErrSelf
	}
	if err := s.keepAnAdmin(ctx, current, next.Role == RoleAdmin && next.Active); err != nil {
		return User{}, err
	}
	var hash string
	if in.Password != "" {
		if hash, err = s.hash(in.Password); err != nil {
			return User{}, err
		}
	}
	if err := s.repo.UpdateUser(ctx, next, hash); err != nil {
		return User{}, err
	}
	s.record(ctx, "user:update", id, map[string]any{"role": next.Role, "active": next.Active, "password_changed": hash != ""})
	return s.repo.GetUser(ctx, id)
}

// SetRights replaces the rights of an account.
func (s *Service) SetRights(ctx context.Context, id int64, in RightsInput) (User, error) {
	rights, err := cleanRights(in.Rights)
	if err != nil {
		return User{}, err
	}
	if err := s.repo.SetRights(ctx, id, rights); err != nil {
		return User{}, err
	}
	s.record(ctx, "user:rights", id, map[string]any{"rights": rights})
	return s.repo.GetUser(ctx, id)
}

// DeleteUser removes an account other than the caller's.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id == shared.ActorID(ctx) {
		return ErrSelf
	}
	current, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.keepAnAdmin(ctx, current, false); err != nil {
		return err
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "user:delete", id, map[string]any{"username": current.Username})
	return nil
}

// Authenticate checks a username and password. Unknown, disabled and
// mismatched accounts all report ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	creds, err := s.repo.FindCredentials(ctx, strings.TrimSpace(username))
	if err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	if !creds.Active {
		return User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	_ = s.repo.TouchLogin(ctx, creds.ID, time.Now().UTC())
	return creds.User, nil
}

// keepAnAdmin refuses a change that would leave no active administrator.
func (s *Service) keepAnAdmin(ctx context.Context, current User, staysAdmin bool) error {
	if current.Role != RoleAdmin || !current.Active || staysAdmin {
		return nil
	}
	n, err := s.repo.CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("users: hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "user", EntityID: strconv.FormatInt(id, 10), Meta: meta})
}

func cleanRights(in map[string]bool) (map[string]bool, error) {
	out := make(map[string]bool, len(in))
	for name, granted := range in {
		name = strings.ToLower(strings.TrimSpace(name))
		if !rbac.Known(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRight, name)
		}
		if granted {
			out[name] = true
		}
	}
	return out, nil
}

func roleOrDefault(role string) string {
	if role == "" {
		return RoleUser
	}
	return role
}
