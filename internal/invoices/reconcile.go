package invoices

import (
	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Balance is the derived settlement state of an invoice.
type Balance struct {
	Status Status
	Paid   decimal.Decimal
	Due    decimal.Decimal
}

// Reconcile derives status and amounts from the invoice total and the signed
// sum of its payments. When pinPaid is set, an invoice that was fully paid
// before a credit note refund stays PAID.
func Reconcile(totalTTC, payments decimal.Decimal, pinPaid bool) Balance {
	if pinPaid {
		return Balance{Status: StatusPaid, Paid: totalTTC, Due: decimal.Zero}
	}
	balance := shared.Round2(totalTTC.Sub(payments))
	var status Status
	switch {
	case !balance.IsPositive():
		status = StatusPaid
	case balance.LessThan(totalTTC):
		status = StatusPartiallyPaid
	default:
		status = StatusPending
	}
	due := shared.MaxZero(balance)
	return Balance{Status: status, Paid: totalTTC.Sub(due), Due: due}
}
