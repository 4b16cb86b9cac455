package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, username, email, role, phone, active, rights, last_login_at, created_at`

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser loads one account.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// FindCredentials loads an account with its password hash.
func (r *Repository) FindCredentials(ctx context.Context, username string) (Credentials, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE LOWER(username) = LOWER($1)`, username)
	var c Credentials
	u := &c.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Phone, &u.Active, &u.Rights, &u.LastLoginAt, &u.CreatedAt, &c.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, err
	}
	return c, nil
}

// CreateUser inserts an account.
func (r *Repository) CreateUser(ctx context.Context, u User, passwordHash string) (int64, error) {
	const query = `INSERT INTO users (username, email, password_hash, role, phone, active, rights) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query, u.Username, u.Email, passwordHash, u.Role, u.Phone, u.Active, rightsJSON(u.Rights)).Scan(&id)
	if err != nil {
		if httpx.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateUsername, u.Username)
		}
		return 0, err
	}
	return id, nil
}

// UpdateUser stores profile fields. An empty hash keeps the password.
func (r *Repository) UpdateUser(ctx context.Context, u User, passwordHash string) error {
	const query = `UPDATE users SET email = $2, role = $3, phone = $4, active = $5,
password_hash = COALESCE(NULLIF($6, ''), password_hash), updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, u.ID, u.Email, u.Role, u.Phone, u.Active, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRights replaces the rights map.
func (r *Repository) SetRights(ctx context.Context, id int64, rights map[string]bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET rights = $2, updated_at = NOW() WHERE id = $1`, id, rightsJSON(rights))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes an account. Documents keep a NULL author.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveAdmins counts enabled administrator accounts.
func (r *Repository) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = $1 AND active`, RoleAdmin).Scan(&n)
	return n, err
}

// TouchLogin records a successful login.
func (r *Repository) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

// Grants implements rbac.GrantSource with the live account state.
func (r *Repository) Grants(ctx context.Context, userID int64) (rbac.Grants, error) {
	var g rbac.Grants
	err := r.pool.QueryRow(ctx, `SELECT role, active, rights FROM users WHERE id = $1`, userID).Scan(&g.Role, &g.Active, &g.Rights)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Grants{}, nil
		}
		return rbac.Grants{}, err
	}
	return g, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Phone, &u.Active, &u.Rights, &u.LastLoginAt, &u.CreatedAt)
	if u.Rights == nil {
		u.Rights = map[string]bool{}
	}
	return u, err
}

func rightsJSON(rights map[string]bool) map[string]bool {
	if rights == nil {
		return map[string]bool{}
	}
	return rights
}

var _ rbac.GrantSource = (*Repository)(nil)
