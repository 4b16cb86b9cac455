package quotes

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// Status of a quote. Accepting turns it into a NORMAL invoice.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusCancelled Status = "CANCELLED"
)

const (
	defaultValidityDays = 30
	// invoiceTerm is the payment term of invoices issued from a quote.
	invoiceTerm = 30
)

// Quote is a priced offer to a client.
type Quote struct {
	ID               int64           `json:"id"`
	Number           string          `json:"number"`
	ClientID         int64           `json:"client_id"`
	ClientName       string          `json:"client_name,omitempty"`
	CreatedBy        int64           `json:"created_by,omitempty"`
	Date             time.Time       `json:"date"`
	ValidUntil       time.Time       `json:"valid_until"`
	ValidityDays     int             `json:"validity_days"`
	Description      string          `json:"description"`
	TotalHT          decimal.Decimal `json:"total_ht"`
	TotalTax         decimal.Decimal `json:"total_tax"`
	TotalWithholding decimal.Decimal `json:"total_withholding"`
	TotalTTC         decimal.Decimal `json:"total_ttc"`
	Withholding      bool            `json:"withholding"`
	Status           Status          `json:"status"`
	InvoiceID        *int64          `json:"invoice_id"`
	CreatedAt        time.Time       `json:"created_at"`
	Lines            []Line          `json:"lines,omitempty"`
}

// Line is one article of a quote.
type Line struct {
	ID               int64           `json:"id"`
	QuoteID          int64           `json:"quote_id"`
	ArticleID        int64           `json:"article_id"`
	ArticleCode      string          `json:"article_code,omitempty"`
	Designation      string          `json:"designation,omitempty"`
	Service          bool            `json:"service"`
	Quantity         int64           `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	DiscountPercent  decimal.Decimal `json:"discount_percent"`
	TaxPercent       decimal.Decimal `json:"tax_percent"`
	TotalHT          decimal.Decimal `json:"total_ht"`
	TotalTax         decimal.Decimal `json:"total_tax"`
	TotalWithholding decimal.Decimal `json:"total_withholding"`
	TotalTTC         decimal.Decimal `json:"total_ttc"`
}

// Input creates or replaces a pending quote.
type Input struct {
	ClientID     int64                `json:"client_id" validate:"required,gt=0"`
	Date         string               `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ValidityDays int                  `json:"validity_days" validate:"omitempty,gt=0,lte=365"`
	Withholding  bool                 `json:"withholding"`
	Description  string               `json:"description" validate:"max=2000"`
	Lines        []invoices.LineInput `json:"lines" validate:"required,min=1,dive"`
}

// ListFilter narrows quote listings.
type ListFilter struct {
	Status   Status
	ClientID int64
	From     time.Time
	To       time.Time
	Search   string
	Limit    int
	Offset   int
}

// Accepted pairs an accepted quote with the invoice issued from it.
type Accepted struct {
	Quote   Quote            `json:"quote"`
	Invoice invoices.Invoice `json:"invoice"`
}

var (
	// ErrNotFound indicates a missing quote.
	ErrNotFound = fmt.Errorf("%w: quote not found", httpx.ErrNotFound)
	// ErrNotPending rejects changes to an accepted or cancelled quote.
	ErrNotPending = fmt.Errorf("%w: only pending quotes can be changed", httpx.ErrConflict)
	// ErrAccepted blocks deleting a quote that became an invoice.
	ErrAccepted = fmt.Errorf("%w: quote was accepted", httpx.ErrConflict)
)

func fromInvoiceLines(in []invoices.Line) []Line {
	out := make([]Line, len(in))
	for i, l := range in {
		out[i] = Line{
			ArticleID:        l.ArticleID,
			ArticleCode:      l.ArticleCode,
			Designation:      l.Designation,
			Service:          l.Service,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			DiscountPercent:  l.DiscountPercent,
			TaxPercent:       l.TaxPercent,
			TotalHT:          l.TotalHT,
			TotalTax:         l.TotalTax,
			TotalWithholding: l.TotalWithholding,
			TotalTTC:         l.TotalTTC,
		}
	}
	return out
}

func toInvoiceLines(in []Line) []invoices.Line {
	out := make([]invoices.Line, len(in))
	for i, l := range in {
		out[i] = invoices.Line{
			ArticleID:        l.ArticleID,
			ArticleCode:      l.ArticleCode,
			Designation:      l.Designation,
			Service:          l.Service,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			DiscountPercent:  l.DiscountPercent,
			TaxPercent:       l.TaxPercent,
			TotalHT:          l.TotalHT,
			TotalTax:         l.TotalTax,
			TotalWithholding: l.TotalWithholding,
			TotalTTC:         l.TotalTTC,
		}
	}
	return out
}
