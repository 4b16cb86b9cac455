package shared

import "github.com/shopspring/decimal"

// WithholdingRate is the share of a service line retained at source (précompte).
var WithholdingRate = decimal.RequireFromString("0.095")

var hundred = decimal.NewFromInt(100)

// LineTotals holds the computed amounts for a document line.
type LineTotals struct {
	HT          decimal.Decimal
	Tax         decimal.Decimal
	Withholding decimal.Decimal
	TTC         decimal.Decimal
}

// CalculateLineTotals derives line amounts rounded to two decimals:
// HT = qty * price less discount, tax on HT, withholding on HT for service
// lines when applied, TTC = HT + tax - withholding.
func CalculateLineTotals(quantity int64, unitPrice, discountPercent, taxPercent decimal.Decimal, withhold bool) LineTotals {
	gross := unitPrice.Mul(decimal.NewFromInt(quantity))
	discount := gross.Mul(discountPercent).Div(hundred)
	ht := Round2(gross.Sub(discount))
	tax := Round2(ht.Mul(taxPercent).Div(hundred))
	var retained decimal.Decimal
	if withhold {
		retained = Round2(ht.Mul(WithholdingRate))
	}
	return LineTotals{
		HT:          ht,
		Tax:         tax,
		Withholding: retained,
		TTC:         ht.Add(tax).Sub(retained),
	}
}

// Add accumulates another line into the totals.
func (t LineTotals) Add(o LineTotals) LineTotals {
	return LineTotals{
		HT:          t.HT.Add(o.HT),
		Tax:         t.Tax.Add(o.Tax),
		Withholding: t.Withholding.Add(o.Withholding),
		TTC:         t.TTC.Add(o.TTC),
	}
}

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MaxZero clamps negative amounts to zero.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
