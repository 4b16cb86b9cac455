package articles

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// Kind separates stocked products from services.
type Kind string

const (
	KindProduct Kind = "PRODUCT"
	KindService Kind = "SERVICE"
)

// Article is a sellable product or service.
type Article struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Designation    string          `json:"designation"`
	Description    string          `json:"description"`
	Kind           Kind            `json:"kind"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	Stock          int64           `json:"stock"`
	AlertThreshold int64           `json:"alert_threshold"`
	Unit           string          `json:"unit"`
	Category       string          `json:"category"`
	SupplierID     *int64          `json:"supplier_id"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Input carries the editable article fields.
type Input struct {
	Code           string          `json:"code" validate:"max=40"`
	Designation    string          `json:"designation" validate:"required,max=200"`
	Description    string          `json:"description" validate:"max=2000"`
	Kind           Kind            `json:"kind" validate:"omitempty,oneof=PRODUCT SERVICE"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	AlertThreshold int64           `json:"alert_threshold" validate:"gte=0"`
	Unit           string          `json:"unit" validate:"max=20"`
	Category       string          `json:"category" validate:"max=80"`
	SupplierID     *int64          `json:"supplier_id" validate:"omitempty,gt=0"`
}

// CreateInput adds the opening stock to Input.
type CreateInput struct {
	Input
	Stock int64 `json:"stock" validate:"gte=0"`
}

// ListFilter narrows article listings.
type ListFilter struct {
	Search          string
	Kind            Kind
	Category        string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// Popular is an article ranked by counter sales.
type Popular struct {
	ArticleID   int64           `json:"article_id"`
	Code        string          `json:"code"`
	Designation string          `json:"designation"`
	SalePrice   decimal.Decimal `json:"sale_price"`
	Stock       int64           `json:"stock"`
	Quantity    int64           `json:"quantity_sold"`
}

var (
	// ErrNotFound indicates a missing article.
	ErrNotFound = fmt.Errorf("%w: article not found", httpx.ErrNotFound)
	// ErrDuplicateCode indicates another article already uses the code.
	ErrDuplicateCode = fmt.Errorf("%w: article code already used", httpx.ErrDuplicate)
	// ErrKindChange rejects turning a stocked product into a service.
	ErrKindChange = fmt.Errorf("%w: cannot turn a stocked product into a service", httpx.ErrConflict)
	// ErrNegativePrice rejects prices below zero.
	ErrNegativePrice = fmt.Errorf("%w: prices must not be negative", httpx.ErrValidation)
)

func (in *Input) normalize() error {
	if in.Kind == "" {
		in.Kind = KindProduct
	}
	if in.Kind != KindProduct && in.Kind != KindService {
		return fmt.Errorf("%w: unknown article kind %q", httpx.ErrValidation, in.Kind)
	}
	if in.PurchasePrice.IsNegative() || in.SalePrice.IsNegative() {
		return ErrNegativePrice
	}
	if in.Kind == KindService {
		in.AlertThreshold = 0
	}
	return nil
}
