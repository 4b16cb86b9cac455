// Package suppliers manages the supplier directory.
package suppliers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techinfoplus/tip-erp/internal/platform/db"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Supplier provides articles.
type Supplier struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	TaxID     string    `json:"tax_id"`
	Articles  int       `json:"articles"`
	CreatedAt time.Time `json:"created_at"`
}

// Input carries the editable supplier fields.
type Input struct {
	Code    string `json:"code" validate:"max=40"`
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
	Phone   string `json:"phone" validate:"max=40"`
	Email   string `json:"email" validate:"omitempty,email,max=200"`
	Country string `json:"country" validate:"max=80"`
	City    string `json:"city" validate:"max=120"`
	TaxID   string `json:"tax_id" validate:"max=60"`
}

var (
	// ErrNotFound indicates a missing supplier.
	ErrNotFound = fmt.Errorf("%w: supplier not found", httpx.ErrNotFound)
	// ErrDuplicateCode indicates the code is taken.
	ErrDuplicateCode = fmt.Errorf("%w: supplier code already used", httpx.ErrDuplicate)
)

// Store is the persistence used by Service.
type Store interface {
	Create(ctx context.Context, in Input) (int64, error)
	Update(ctx context.Context, id int64, in Input) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, search string, limit, offset int) ([]Supplier, int, error)
	Get(ctx context.Context, id int64) (Supplier, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages suppliers.
type Service struct {
	store Store
	audit AuditPort
}

// NewService builds Service.
func NewService(store Store, audit AuditPort) *Service {
	return &Service{store: store, audit: audit}
}

// List returns a page of suppliers.
func (s *Service) List(ctx context.Context, search string, page shared.PageRequest) ([]Supplier, int, error) {
	return s.store.List(ctx, search, page.Limit(), page.Offset())
}

// Get returns one supplier.
func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	return s.store.Get(ctx, id)
}

// Create inserts a supplier.
func (s *Service) Create(ctx context.Context, in Input) (Supplier, error) {
	trim(&in)
	id, err := s.store.Create(ctx, in)
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, "supplier:create", id)
	return s.store.Get(ctx, id)
}

// Update edits a supplier.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Supplier, error) {
	trim(&in)
	if in.Code == "" {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return Supplier{}, err
		}
		in.Code = current.Code
	}
	if err := s.store.Update(ctx, id, in); err != nil {
		return Supplier{}, err
	}
	s.record(ctx, "supplier:update", id)
	return s.store.Get(ctx, id)
}

// Delete removes a supplier. Its articles keep existing without supplier.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "supplier:delete", id)
	return nil
}

func (s *Service) record(ctx context.Context, action string, id int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "supplier", EntityID: strconv.FormatInt(id, 10)})
}

func trim(in *Input) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
}

// Repository persists suppliers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a supplier, drawing an FRS-NNNN code when none is given.
func (r *Repository) Create(ctx context.Context, in Input) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if in.Code == "" {
			seq, err := db.NextSequence(ctx, tx, shared.ScopeSupplier, 0)
			if err != nil {
				return err
			}
			in.Code = shared.CodeNumber(shared.ScopeSupplier, seq)
		}
		const query = `INSERT INTO suppliers (code, name, address, phone, email, country, city, tax_id, search_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
		return tx.QueryRow(ctx, query, in.Code, in.Name, in.Address, in.Phone, in.Email, in.Country, in.City, in.TaxID, searchKey(in)).Scan(&id)
	})
	if err != nil {
		if httpx.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}
		return 0, err
	}
	return id, nil
}

// Update edits a supplier row.
func (r *Repository) Update(ctx context.Context, id int64, in Input) error {
	const query = `UPDATE suppliers SET code = $2, name = $3, address = $4, phone = $5, email = $6, country = $7, city = $8, tax_id = $9,
search_key = $10, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, in.Code, in.Name, in.Address, in.Phone, in.Email, in.Country, in.City, in.TaxID, searchKey(in))
	if err != nil {
		if httpx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a supplier row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const supplierColumns = `s.id, s.code, s.name, s.address, s.phone, s.email, s.country, s.city, s.tax_id,
(SELECT COUNT(*) FROM articles a WHERE a.supplier_id = s.id), s.created_at`

// List returns suppliers ordered by name.
func (r *Repository) List(ctx context.Context, search string, limit, offset int) ([]Supplier, int, error) {
	var where string
	var args []any
	if term := strings.TrimSpace(search); term != "" {
		args = append(args, shared.LikePattern(term))
		where = ` WHERE s.search_key LIKE $1`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM suppliers s%s ORDER BY s.name ASC, s.id ASC LIMIT $%d OFFSET $%d`, supplierColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Get loads one supplier.
func (r *Repository) Get(ctx context.Context, id int64) (Supplier, error) {
	s, err := scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers s WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrNotFound
		}
		return Supplier{}, err
	}
	return s, nil
}

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.Phone, &s.Email, &s.Country, &s.City, &s.TaxID, &s.Articles, &s.CreatedAt)
	return s, err
}

func searchKey(in Input) string {
	return shared.SearchKey(in.Code, in.Name, in.City, in.Country)
}
