package invoices

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// Type distinguishes regular invoices from counter documents.
type Type string

const (
	TypeNormal  Type = "NORMAL"
	TypeCounter Type = "COMPTOIR"
	TypeReturn  Type = "RETOUR"
)

// Status is derived from the amounts paid and due.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
)

// Payment methods. Refund and Reimbursement are system generated.
const (
	MethodCash          = "CASH"
	MethodCheque        = "CHEQUE"
	MethodTransfer      = "TRANSFER"
	MethodMobileMoney   = "MOBILE_MONEY"
	MethodCard          = "CARD"
	MethodRefund        = "REFUND"
	MethodReimbursement = "REMBOURSEMENT"
)

// Invoice is a sales document.
type Invoice struct {
	ID               int64           `json:"id"`
	Number           string          `json:"number"`
	Type             Type            `json:"type"`
	ClientID         int64           `json:"client_id"`
	ClientName       string          `json:"client_name,omitempty"`
	QuoteID          *int64          `json:"quote_id"`
	CreatedBy        int64           `json:"created_by,omitempty"`
	Date             time.Time       `json:"date"`
	DueDate          *time.Time      `json:"due_date"`
	TotalHT          decimal.Decimal `json:"total_ht"`
	TotalTax         decimal.Decimal `json:"total_tax"`
	TotalWithholding decimal.Decimal `json:"total_withholding"`
	TotalTTC         decimal.Decimal `json:"total_ttc"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	AmountDue        decimal.Decimal `json:"amount_due"`
	Withholding      bool            `json:"withholding"`
	Status           Status          `json:"status"`
	PaymentMethod    string          `json:"payment_method"`
	Description      string          `json:"description"`
	Notes            string          `json:"notes"`
	StockReleased    bool            `json:"stock_released"`
	CreatedAt        time.Time       `json:"created_at"`
	Lines            []Line          `json:"lines,omitempty"`
	Payments         []Payment       `json:"payments,omitempty"`
}

// Line is one article of an invoice.
type Line struct {
	ID               int64           `json:"id"`
	InvoiceID        int64           `json:"invoice_id"`
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

// Payment is a signed settlement. Negative amounts are refunds.
type Payment struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	ClientName    string          `json:"client_name,omitempty"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ArticleRef is the catalog data needed to price a line.
type ArticleRef struct {
	ID          int64
	Code        string
	Designation string
	Service     bool
	SalePrice   decimal.Decimal
	Active      bool
}

// LineInput requests one article on a document. A nil UnitPrice uses the
// article sale price.
type LineInput struct {
	ArticleID       int64            `json:"article_id" validate:"required,gt=0"`
	Quantity        int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TaxPercent      decimal.Decimal  `json:"tax_percent"`
}

// CreateInput creates a NORMAL invoice.
type CreateInput struct {
	ClientID       int64           `json:"client_id" validate:"required,gt=0"`
	Date           string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DueDate        string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Withholding    bool            `json:"withholding"`
	PaymentMethod  string          `json:"payment_method" validate:"omitempty,oneof=CASH CHEQUE TRANSFER MOBILE_MONEY CARD"`
	Description    string          `json:"description" validate:"max=2000"`
	Notes          string          `json:"notes" validate:"max=2000"`
	InitialPayment decimal.Decimal `json:"initial_payment"`
	Lines          []LineInput     `json:"lines" validate:"required,min=1,dive"`
}

// UpdateInput replaces the editable content of a pending invoice.
type UpdateInput struct {
	ClientID      int64       `json:"client_id" validate:"required,gt=0"`
	Date          string      `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DueDate       string      `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Withholding   bool        `json:"withholding"`
	PaymentMethod string      `json:"payment_method" validate:"omitempty,oneof=CASH CHEQUE TRANSFER MOBILE_MONEY CARD"`
	Description   string      `json:"description" validate:"max=2000"`
	Notes         string      `json:"notes" validate:"max=2000"`
	Lines         []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// PaymentInput records a payment against an invoice.
type PaymentInput struct {
	InvoiceID int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,oneof=CASH CHEQUE TRANSFER MOBILE_MONEY CARD"`
	Date      string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Reference string          `json:"reference" validate:"max=200"`
}

// ListFilter narrows invoice listings. Counter keeps only COMPTOIR and
// RETOUR documents.
type ListFilter struct {
	Type     Type
	Counter  bool
	Status   Status
	ClientID int64
	From     time.Time
	To       time.Time
	Search   string
	Limit    int
	Offset   int
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	InvoiceID int64
	Method    string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// AvailableArticle is what a credit note may still return for one article.
type AvailableArticle struct {
	ArticleID   int64           `json:"article_id"`
	Code        string          `json:"code"`
	Designation string          `json:"designation"`
	Service     bool            `json:"service"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Invoiced    int64           `json:"invoiced"`
	Credited    int64           `json:"credited"`
	Available   int64           `json:"available"`
}

var (
	// ErrNotFound indicates a missing invoice.
	ErrNotFound = fmt.Errorf("%w: invoice not found", httpx.ErrNotFound)
	// ErrPaymentNotFound indicates a missing payment.
	ErrPaymentNotFound = fmt.Errorf("%w: payment not found", httpx.ErrNotFound)
	// ErrClientNotFound indicates the referenced client does not exist.
	ErrClientNotFound = fmt.Errorf("%w: client not found", httpx.ErrValidation)
	// ErrArticleUnavailable rejects unknown or deactivated articles.
	ErrArticleUnavailable = fmt.Errorf("%w: article unavailable", httpx.ErrValidation)
	// ErrOverpayment rejects payments above the amount due.
	ErrOverpayment = fmt.Errorf("%w: payment exceeds amount due", httpx.ErrValidation)
	// ErrInvalidAmount rejects zero or negative payments.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	// ErrCancelled rejects changes to a cancelled invoice.
	ErrCancelled = fmt.Errorf("%w: invoice is cancelled", httpx.ErrConflict)
	// ErrNotEditable rejects edits once an invoice was paid or delivered.
	ErrNotEditable = fmt.Errorf("%w: only pending unpaid invoices can be edited", httpx.ErrConflict)
	// ErrCounterDocument rejects operations reserved to NORMAL invoices.
	ErrCounterDocument = fmt.Errorf("%w: counter documents are settled on creation", httpx.ErrConflict)
	// ErrHasCreditNotes blocks deleting or cancelling an invoice with credit notes.
	ErrHasCreditNotes = fmt.Errorf("%w: invoice has credit notes", httpx.ErrConflict)
	// ErrRefundPayment blocks deleting system refunds directly.
	ErrRefundPayment = fmt.Errorf("%w: refund payments are managed by their credit note", httpx.ErrConflict)
)

// ParseDate reads an optional YYYY-MM-DD value, falling back to def.
func ParseDate(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", httpx.ErrValidation, raw)
	}
	return t, nil
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
