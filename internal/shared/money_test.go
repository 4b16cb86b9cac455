package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateLineTotals(t *testing.T) {
	totals := CalculateLineTotals(3, dec("1000"), dec("10"), dec("0"), false)
	require.True(t, dec("2700").Equal(totals.HT), totals.HT.String())
	require.True(t, totals.Tax.IsZero())
	require.True(t, dec("2700").Equal(totals.TTC))

	taxed := CalculateLineTotals(2, dec("50.00"), dec("0"), dec("18"), false)
	require.True(t, dec("100").Equal(taxed.HT))
	require.True(t, dec("18").Equal(taxed.Tax))
	require.True(t, dec("118").Equal(taxed.TTC))
}

func TestCalculateLineTotalsWithholding(t *testing.T) {
	totals := CalculateLineTotals(1, dec("10000"), dec("0"), dec("0"), true)
	require.True(t, dec("950").Equal(totals.Withholding), totals.Withholding.String())
	require.True(t, dec("9050").Equal(totals.TTC), totals.TTC.String())

	sum := totals.Add(CalculateLineTotals(1, dec("500"), dec("0"), dec("0"), false))
	require.True(t, dec("10500").Equal(sum.HT))
	require.True(t, dec("9550").Equal(sum.TTC))
}

func TestMaxZero(t *testing.T) {
	require.True(t, MaxZero(dec("-3")).IsZero())
	require.True(t, dec("4.5").Equal(MaxZero(dec("4.5"))))
}
