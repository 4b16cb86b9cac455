package reports

import (
	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
)

// The SQL fragments below aggregate in the database what the functions next
// to them compute for a single row. Keep each pair in step.

// Figures is the part of an invoice row the report rules read.
type Figures struct {
	Type       invoices.Type
	Status     invoices.Status
	TotalTTC   decimal.Decimal
	AmountPaid decimal.Decimal
	AmountDue  decimal.Decimal
}

const revenueExpr = `CASE type WHEN 'RETOUR' THEN -total_ttc WHEN 'COMPTOIR' THEN total_ttc ELSE amount_paid END`

const revenueFilter = `status <> 'CANCELLED' AND (type <> 'NORMAL' OR amount_paid > 0)`

// Revenue is what an invoice adds to net revenue. Counter sales count their
// TTC and returns subtract it. Normal invoices count what was paid, and only
// once something was. Cancelled invoices count for nothing. counted reports
// whether the invoice enters the revenue figures at all.
func Revenue(f Figures) (amount decimal.Decimal, counted bool) {
	if f.Status == invoices.StatusCancelled {
		return decimal.Zero, false
	}
	switch f.Type {
	case invoices.TypeReturn:
		return f.TotalTTC.Neg(), true
	case invoices.TypeCounter:
		return f.TotalTTC, true
	}
	if !f.AmountPaid.IsPositive() {
		return decimal.Zero, false
	}
	return f.AmountPaid, true
}

const receivableFilter = `status <> 'CANCELLED' AND amount_due > 0`

// Receivable is what a live invoice still owes.
func Receivable(f Figures) decimal.Decimal {
	if f.Status == invoices.StatusCancelled || !f.AmountDue.IsPositive() {
		return decimal.Zero
	}
	return f.AmountDue
}

const collectedExpr = `CASE type WHEN 'RETOUR' THEN -amount_paid ELSE amount_paid END`

// Collected is the cash a live invoice leaves in the till. A counter return
// is settled by paying the customer back, so it counts negative.
func Collected(f Figures) decimal.Decimal {
	if f.Status == invoices.StatusCancelled {
		return decimal.Zero
	}
	if f.Type == invoices.TypeReturn {
		return f.AmountPaid.Neg()
	}
	return f.AmountPaid
}

const signedAmountExpr = `CASE method WHEN 'REFUND' THEN -amount ELSE amount END`

// SignedPayment is a payment as cash received. Counter return refunds are
// stored positive against their RETOUR and count as money paid out; credit
// note reimbursements are already stored negative.
func SignedPayment(method string, amount decimal.Decimal) decimal.Decimal {
	if method == invoices.MethodRefund {
		return amount.Neg()
	}
	return amount
}
