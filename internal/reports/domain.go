// Package reports aggregates dashboard figures and period reports. Every
// figure excludes cancelled invoices. Revenue counts counter sales at their
// TTC, subtracts counter returns and counts normal invoices by what was
// actually paid on them.
package reports

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// Kind names a period report.
type Kind string

const (
	KindSales       Kind = "sales"
	KindClients     Kind = "clients"
	KindProducts    Kind = "products"
	KindPayments    Kind = "payments"
	KindUnpaid      Kind = "unpaid"
	KindTreasury    Kind = "treasury"
	KindCreditNotes Kind = "credit_notes"
)

// Valid reports whether k is a known report.
func (k Kind) Valid() bool {
	switch k {
	case KindSales, KindClients, KindProducts, KindPayments, KindUnpaid, KindTreasury, KindCreditNotes:
		return true
	}
	return false
}

// Period selects the window of a report, always ending today.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Range is a resolved period. To is exclusive.
type Range struct {
	Period Period    `json:"period"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// Dashboard carries the home screen counters.
type Dashboard struct {
	Clients      int64           `json:"clients"`
	Articles     int64           `json:"articles"`
	Invoices     int64           `json:"invoices"`
	CounterSales int64           `json:"counter_sales"`
	Quotes       int64           `json:"quotes"`
	Payments     int64           `json:"payments"`
	CreditNotes  int64           `json:"credit_notes"`
	Revenue      decimal.Decimal `json:"revenue"`
	Receivables  decimal.Decimal `json:"receivables"`
}

// Counts is the entity count block of the dashboard.
type Counts struct {
	Clients      int64
	Articles     int64
	Invoices     int64
	CounterSales int64
	Quotes       int64
	Payments     int64
	CreditNotes  int64
}

// MonthlySales holds one value per calendar month of Year.
type MonthlySales struct {
	Year    int               `json:"year"`
	Months  []string          `json:"months"`
	Counter []decimal.Decimal `json:"counter"`
	Normal  []decimal.Decimal `json:"normal"`
	Total   []decimal.Decimal `json:"total"`
}

// MonthRevenue is one month of the revenue series split by channel.
type MonthRevenue struct {
	Month   int
	Counter decimal.Decimal
	Normal  decimal.Decimal
	Total   decimal.Decimal
}

// Activity is an entry of the recent activity feed.
type Activity struct {
	Kind       string          `json:"kind"`
	Number     string          `json:"number"`
	ClientName string          `json:"client_name"`
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date"`
	Status     string          `json:"status"`
}

// DayRevenue is the net revenue of one calendar day.
type DayRevenue struct {
	Day    time.Time
	Amount decimal.Decimal
}

// Bucket is one point of an evolution chart.
type Bucket struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// SalesReport summarises sales over a period.
type SalesReport struct {
	Range
	Count         int64           `json:"count"`
	Revenue       decimal.Decimal `json:"revenue"`
	AverageTicket decimal.Decimal `json:"average_ticket"`
	Evolution     []Bucket        `json:"evolution"`
}

// ClientsReport counts clients.
type ClientsReport struct {
	Range
	Total int64 `json:"total"`
	New   int64 `json:"new"`
}

// ProductSales is the per-article line of the products report.
type ProductSales struct {
	ArticleID   int64           `json:"article_id"`
	Code        string          `json:"code"`
	Designation string          `json:"designation"`
	Kind        string          `json:"kind"`
	SalePrice   decimal.Decimal `json:"sale_price"`
	Stock       int64           `json:"stock"`
	Sales       int64           `json:"sales"`
	Quantity    int64           `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// StockValue summarises tracked articles at sale price.
type StockValue struct {
	Articles int64
	Value    decimal.Decimal
	Low      int64
}

// ProductsReport lists article sales over a period with the stock value.
type ProductsReport struct {
	Range
	Articles   int64           `json:"articles"`
	StockValue decimal.Decimal `json:"stock_value"`
	LowStock   int64           `json:"low_stock"`
	Products   []ProductSales  `json:"products"`
}

// Tally is a count with a sum.
type Tally struct {
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// PaymentsReport tallies payments received over a period.
type PaymentsReport struct {
	Range
	Tally
}

// UnpaidReport tallies open invoices.
type UnpaidReport struct {
	Range
	Count int64           `json:"count"`
	Due   decimal.Decimal `json:"due"`
}

// MethodTotal groups payments by method.
type MethodTotal struct {
	Method string          `json:"method"`
	Count  int64           `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

// Treasury is the cash position snapshot.
type Treasury struct {
	Collected    decimal.Decimal
	Receivables  decimal.Decimal
	CounterSales decimal.Decimal
}

// TreasuryReport is the all-time cash position with totals by method.
type TreasuryReport struct {
	Range
	Collected    decimal.Decimal `json:"collected"`
	Receivables  decimal.Decimal `json:"receivables"`
	CounterSales decimal.Decimal `json:"counter_sales"`
	TotalAssets  decimal.Decimal `json:"total_assets"`
	Methods      []MethodTotal   `json:"methods"`
}

// CreditNoteTotals counts credit notes by outcome.
type CreditNoteTotals struct {
	Count     int64           `json:"count"`
	Amount    decimal.Decimal `json:"amount"`
	Processed int64           `json:"processed"`
	Pending   int64           `json:"pending"`
}

// CreditNotesReport tallies credit notes dated in a period.
type CreditNotesReport struct {
	Range
	CreditNoteTotals
}

var (
	// ErrUnknownKind rejects an unsupported report name.
	ErrUnknownKind = fmt.Errorf("%w: unknown report", httpx.ErrNotFound)
	// ErrUnknownPeriod rejects an unsupported period.
	ErrUnknownPeriod = fmt.Errorf("%w: period must be today, week, month or year", httpx.ErrValidation)
)
