// Package company stores the settings printed on documents: identity,
// contact details, currency and default VAT rate.
package company

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Settings is the single company settings row.
type Settings struct {
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	Phone       string          `json:"phone"`
	Email       string          `json:"email"`
	TaxID       string          `json:"tax_id"`
	Currency    string          `json:"currency"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	LogoPath    string          `json:"logo_path"`
	Slogan      string          `json:"slogan"`
	Website     string          `json:"website"`
	BankAccount string          `json:"bank_account"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Input carries the editable settings.
type Input struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Address     string          `json:"address" validate:"max=500"`
	Phone       string          `json:"phone" validate:"max=40"`
	Email       string          `json:"email" validate:"omitempty,email,max=200"`
	TaxID       string          `json:"tax_id" validate:"max=60"`
	Currency    string          `json:"currency" validate:"omitempty,max=10"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	LogoPath    string          `json:"logo_path" validate:"max=500"`
	Slogan      string          `json:"slogan" validate:"max=200"`
	Website     string          `json:"website" validate:"omitempty,url,max=200"`
	BankAccount string          `json:"bank_account" validate:"max=100"`
}

const defaultCurrency = "FCFA"

var errVATRate = fmt.Errorf("%w: vat_rate must be between 0 and 100", httpx.ErrValidation)

// defaults is served until the settings are saved once.
func defaults() Settings {
	return Settings{Currency: defaultCurrency, VATRate: decimal.RequireFromString("9.5")}
}

// Store is the persistence used by Service.
type Store interface {
	Get(ctx context.Context) (Settings, bool, error)
	Upsert(ctx context.Context, s Settings) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reads and saves the company settings.
type Service struct {
	store Store
	audit AuditPort
}

// NewService builds Service.
func NewService(store Store, audit AuditPort) *Service {
	return &Service{store: store, audit: audit}
}

// Get returns the saved settings, or defaults before the first save.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	settings, ok, err := s.store.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return defaults(), nil
	}
	return settings, nil
}

// Save creates or replaces the settings row.
func (s *Service) Save(ctx context.Context, in Input) (Settings, error) {
	if in.VATRate.IsNegative() || in.VATRate.GreaterThan(decimal.NewFromInt(100)) {
		return Settings{}, errVATRate
	}
	settings := Settings{
		Name:        in.Name,
		Address:     in.Address,
		Phone:       in.Phone,
		Email:       in.Email,
		TaxID:       in.TaxID,
		Currency:    in.Currency,
		VATRate:     in.VATRate,
		LogoPath:    in.LogoPath,
		Slogan:      in.Slogan,
		Website:     in.Website,
		BankAccount: in.BankAccount,
	}
	if settings.Currency == "" {
		settings.Currency = defaultCurrency
	}
	if err := s.store.Upsert(ctx, settings); err != nil {
		return Settings{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{Action: "company:update", Entity: "company", EntityID: "1"})
	}
	return s.Get(ctx)
}

// Repository persists the settings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the settings row; ok is false when none was saved yet.
func (r *Repository) Get(ctx context.Context) (Settings, bool, error) {
	const query = `SELECT name, address, phone, email, tax_id, currency, vat_rate, logo_path, slogan, website, bank_account, updated_at
FROM company_settings WHERE id = 1`
	var s Settings
	err := r.pool.QueryRow(ctx, query).Scan(&s.Name, &s.Address, &s.Phone, &s.Email, &s.TaxID, &s.Currency, &s.VATRate, &s.LogoPath,
		&s.Slogan, &s.Website, &s.BankAccount, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, false, nil
		}
		return Settings{}, false, err
	}
	return s, true, nil
}

// Upsert writes the settings row.
func (r *Repository) Upsert(ctx context.Context, s Settings) error {
	const query = `INSERT INTO company_settings (id, name, address, phone, email, tax_id, currency, vat_rate, logo_path, slogan, website, bank_account)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, phone = EXCLUDED.phone, email = EXCLUDED.email,
    tax_id = EXCLUDED.tax_id, currency = EXCLUDED.currency, vat_rate = EXCLUDED.vat_rate, logo_path = EXCLUDED.logo_path,
    slogan = EXCLUDED.slogan, website = EXCLUDED.website, bank_account = EXCLUDED.bank_account, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query, s.Name, s.Address, s.Phone, s.Email, s.TaxID, s.Currency, s.VATRate, s.LogoPath, s.Slogan, s.Website, s.BankAccount)
	return err
}
