package counter

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// LineInput is one article rung up at the counter. A nil UnitPrice uses the
// article sale price.
type LineInput struct {
	ArticleID int64            `json:"article_id" validate:"required,gt=0"`
	Quantity  int64            `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// SaleInput records a counter sale (COMPTOIR) or a same day return (RETOUR).
type SaleInput struct {
	Type           invoices.Type   `json:"type" validate:"required,oneof=COMPTOIR RETOUR"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	Notes          string          `json:"notes" validate:"max=2000"`
	Lines          []LineInput     `json:"lines" validate:"required,min=1,dive"`
}

// Receipt is returned once a counter document is settled.
type Receipt struct {
	Invoice        invoices.Invoice `json:"invoice"`
	AmountReceived decimal.Decimal  `json:"amount_received"`
	Change         decimal.Decimal  `json:"change"`
}

// Sold is what was sold and returned of one article on a given day.
type Sold struct {
	Sold     int64
	Returned int64
}

// Returnable is the quantity that may still be brought back.
func (s Sold) Returnable() int64 {
	return max(s.Sold-s.Returned, 0)
}

// DaySale is one counter document in the daily summary.
type DaySale struct {
	ID     int64           `json:"id"`
	Number string          `json:"number"`
	Type   invoices.Type   `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Time   string          `json:"time"`
}

// DaySummary is the net counter activity of one day. Returns count negative.
type DaySummary struct {
	Date  time.Time       `json:"date"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
	Sales []DaySale       `json:"sales"`
}

// SalesCheck tells whether any counter sale happened today.
type SalesCheck struct {
	HasSales bool `json:"has_sales"`
	Count    int  `json:"count"`
}

// TopArticle ranks articles by quantity sold at the counter.
type TopArticle struct {
	ArticleID   int64           `json:"article_id"`
	Code        string          `json:"code"`
	Designation string          `json:"designation"`
	Quantity    int64           `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// Stats feeds the counter dashboard.
type Stats struct {
	TodayTotal  decimal.Decimal `json:"today_total"`
	TodayCount  int             `json:"today_count"`
	TopArticles []TopArticle    `json:"top_articles"`
}

var (
	// ErrNotCounterDocument hides NORMAL invoices from counter endpoints.
	ErrNotCounterDocument = fmt.Errorf("%w: counter sale not found", httpx.ErrNotFound)
	// ErrReturnNotEligible rejects returns of articles not sold today.
	ErrReturnNotEligible = fmt.Errorf("%w: return exceeds what was sold today", httpx.ErrValidation)
	// ErrSaleReturned blocks deleting a sale that same-day returns rely on.
	ErrSaleReturned = fmt.Errorf("%w: today's returns rely on this sale, delete them first", httpx.ErrConflict)
	// ErrInsufficientCash rejects a sale paid with less than its total.
	ErrInsufficientCash = fmt.Errorf("%w: amount received is below the total", httpx.ErrValidation)
)
