package invoices

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReconcile(t *testing.T) {
	d := decimal.RequireFromString
	cases := []struct {
		name   string
		ttc    string
		paid   string
		pin    bool
		status Status
		due    string
	}{
		{"unpaid", "1000", "0", false, StatusPending, "1000"},
		{"partial", "1000", "400", false, StatusPartiallyPaid, "600"},
		{"exact", "1000", "1000", false, StatusPaid, "0"},
		{"refund brings balance back", "1000", "700", false, StatusPartiallyPaid, "300"},
		{"over refunded stays pending", "1000", "-200", false, StatusPending, "1200"},
		{"pinned after credit note", "1000", "400", true, StatusPaid, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := Reconcile(d(tc.ttc), d(tc.paid), tc.pin)
			require.Equal(t, tc.status, b.Status)
			require.True(t, d(tc.due).Equal(b.Due), "due %s", b.Due)
			require.True(t, d(tc.ttc).Sub(b.Due).Equal(b.Paid), "paid %s", b.Paid)
		})
	}
}
