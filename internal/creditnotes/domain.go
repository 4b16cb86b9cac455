package creditnotes

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// Status tracks the processing of a credit note. TRAITE and REFUSE are final.
type Status string

const (
	StatusPending   Status = "EN_ATTENTE"
	StatusProcessed Status = "TRAITE"
	StatusRefused   Status = "REFUSE"
)

// CreditNote refunds part of an invoice and may bring articles back in stock.
type CreditNote struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	ClientID      int64           `json:"client_id,omitempty"`
	ClientName    string          `json:"client_name,omitempty"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Status        Status          `json:"status"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []Line          `json:"lines,omitempty"`
}

// Line is one article credited.
type Line struct {
	ID           int64           `json:"id"`
	CreditNoteID int64           `json:"credit_note_id"`
	ArticleID    int64           `json:"article_id"`
	ArticleCode  string          `json:"article_code,omitempty"`
	Designation  string          `json:"designation,omitempty"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Total        decimal.Decimal `json:"total"`
}

// LineInput credits a quantity of an invoiced article. A nil UnitPrice uses
// the invoiced price.
type LineInput struct {
	ArticleID int64            `json:"article_id" validate:"required,gt=0"`
	Quantity  int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// Input creates or replaces a pending credit note. A zero Amount is the sum
// of the lines.
type Input struct {
	InvoiceID int64           `json:"invoice_id" validate:"required,gt=0"`
	Date      string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"max=2000"`
	Lines     []LineInput     `json:"lines" validate:"omitempty,dive"`
}

// ListFilter narrows credit note listings.
type ListFilter struct {
	Status    Status
	InvoiceID int64
	From      time.Time
	To        time.Time
	Search    string
	Limit     int
	Offset    int
}

// Credited sums what other credit notes already cover on an invoice.
type Credited struct {
	Quantities map[int64]int64
	Amount     decimal.Decimal
}

// Outcome is the result of validating a credit note.
type Outcome struct {
	CreditNote CreditNote       `json:"credit_note"`
	Invoice    invoices.Invoice `json:"invoice"`
	Restocked  int              `json:"restocked"`
}

var (
	// ErrNotFound indicates a missing credit note.
	ErrNotFound = fmt.Errorf("%w: credit note not found", httpx.ErrNotFound)
	// ErrAlreadyProcessed rejects a second validation.
	ErrAlreadyProcessed = fmt.Errorf("%w: credit note already processed", httpx.ErrConflict)
	// ErrRefused rejects validating a refused credit note.
	ErrRefused = fmt.Errorf("%w: credit note was refused", httpx.ErrConflict)
	// ErrNotEditable rejects changes once a credit note left EN_ATTENTE.
	ErrNotEditable = fmt.Errorf("%w: only pending credit notes can be changed", httpx.ErrConflict)
	// ErrInvalidAmount rejects an empty credit note.
	ErrInvalidAmount = fmt.Errorf("%w: credit note amount must be positive", httpx.ErrValidation)
	// ErrExceedsInvoice rejects credit beyond the invoice total.
	ErrExceedsInvoice = fmt.Errorf("%w: credit notes exceed the invoice total", httpx.ErrValidation)
	// ErrNotInvoiced rejects articles missing from the invoice.
	ErrNotInvoiced = fmt.Errorf("%w: article is not on the invoice", httpx.ErrValidation)
	// ErrQuantityUnavailable rejects quantities already credited.
	ErrQuantityUnavailable = fmt.Errorf("%w: quantity exceeds what remains to credit", httpx.ErrValidation)
	// ErrCounterInvoice rejects credit notes on counter documents, which are
	// taken back through counter returns.
	ErrCounterInvoice = fmt.Errorf("%w: counter documents cannot be credited, record a counter return", httpx.ErrValidation)
	// ErrRefundExceedsPaid rejects refunding more than the invoice collected.
	ErrRefundExceedsPaid = fmt.Errorf("%w: refund exceeds what was paid on the invoice", httpx.ErrValidation)
)
