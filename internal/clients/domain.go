package clients

import (
	"fmt"
	"time"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// CounterCode is the reserved client that carries anonymous counter sales.
const CounterCode = "COMPTOIR"

// Client is a customer.
type Client struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	City      string    `json:"city"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	TaxID     string    `json:"tax_id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Detail adds document counts to a client.
type Detail struct {
	Client
	Invoices int `json:"invoices"`
	Quotes   int `json:"quotes"`
}

// Input carries the editable client fields.
type Input struct {
	Code    string `json:"code" validate:"max=40"`
	Name    string `json:"name" validate:"required,max=200"`
	Kind    string `json:"kind" validate:"omitempty,oneof=PARTICULIER ENTREPRISE ADMINISTRATION"`
	City    string `json:"city" validate:"max=120"`
	Phone   string `json:"phone" validate:"max=40"`
	Email   string `json:"email" validate:"omitempty,email,max=200"`
	TaxID   string `json:"tax_id" validate:"max=60"`
	Address string `json:"address" validate:"max=500"`
}

var (
	// ErrNotFound indicates a missing client.
	ErrNotFound = fmt.Errorf("%w: client not found", httpx.ErrNotFound)
	// ErrDuplicateCode indicates the code is taken.
	ErrDuplicateCode = fmt.Errorf("%w: client code already used", httpx.ErrDuplicate)
	// ErrHasDocuments blocks deleting a client referenced by documents.
	ErrHasDocuments = fmt.Errorf("%w: client has invoices or quotes", httpx.ErrConflict)
	// ErrReserved protects the counter client.
	ErrReserved = fmt.Errorf("%w: the counter client is reserved", httpx.ErrConflict)
)
