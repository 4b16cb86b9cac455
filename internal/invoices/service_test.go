package invoices_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/invoices/invoicestest"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

var march14 = time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

type fixture struct {
	mem     *invoicestest.Memory
	svc     *invoices.Service
	client  int64
	laptop  int64
	install int64
}

func newFixture(t *testing.T, opts ...invoices.Option) fixture {
	t.Helper()
	mem := invoicestest.New()
	f := fixture{mem: mem}
	f.client = mem.AddClient("Boulangerie du Centre")
	f.laptop = mem.AddProduct("ART-0001", 5000, 10)
	f.install = mem.AddService("ART-0002", 10000)
	opts = append([]invoices.Option{invoices.WithClock(func() time.Time { return march14 })}, opts...)
	f.svc = invoices.NewService(mem, stock.NewLedger(nil), nil, opts...)
	return f
}

func (f fixture) create(t *testing.T, qty int64, initial int64) invoices.Invoice {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), invoices.CreateInput{
		ClientID:       f.client,
		InitialPayment: decimal.NewFromInt(initial),
		Lines:          []invoices.LineInput{{ArticleID: f.laptop, Quantity: qty}},
	})
	require.NoError(t, err)
	return inv
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateWithInitialPaymentReleasesStock(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, 2, 4000)

	require.Equal(t, "FAC-2026-001", inv.Number)
	require.Equal(t, invoices.TypeNormal, inv.Type)
	require.Equal(t, invoices.StatusPartiallyPaid, inv.Status)
	require.True(t, dec(10000).Equal(inv.TotalTTC))
	require.True(t, dec(4000).Equal(inv.AmountPaid))
	require.True(t, dec(6000).Equal(inv.AmountDue))
	require.True(t, inv.StockReleased)
	require.Len(t, inv.Payments, 1)
	require.Equal(t, "REG-2026-001", inv.Payments[0].Number)

	require.Equal(t, int64(8), f.mem.Stock[f.laptop])
	moved := f.mem.MovementsFor("Facture FAC-2026-001")
	require.Len(t, moved, 1)
	require.Equal(t, stock.DirectionOut, moved[0].Direction)
}

func TestCreateWithoutPaymentKeepsStock(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, 2, 0)

	require.Equal(t, invoices.StatusPending, inv.Status)
	require.True(t, inv.AmountDue.Equal(inv.TotalTTC))
	require.False(t, inv.StockReleased)
	require.Equal(t, int64(10), f.mem.Stock[f.laptop])
	require.Empty(t, f.mem.Movements)
}

func TestCreateGuardsStockAndRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), invoices.CreateInput{
		ClientID: f.client,
		Lines:    []invoices.LineInput{{ArticleID: f.laptop, Quantity: 6}, {ArticleID: f.laptop, Quantity: 5}},
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.Empty(t, f.mem.Invoices)
	require.Empty(t, f.mem.Sequences)

	inv := f.create(t, 1, 0)
	require.Equal(t, "FAC-2026-001", inv.Number)
}

func TestCreateRejectsUnknownClientAndInactiveArticle(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), invoices.CreateInput{
		ClientID: 999,
		Lines:    []invoices.LineInput{{ArticleID: f.laptop, Quantity: 1}},
	})
	require.ErrorIs(t, err, invoices.ErrClientNotFound)

	ref := f.mem.Articles[f.laptop]
	ref.Active = false
	f.mem.Articles[f.laptop] = ref
	_, err = f.svc.Create(context.Background(), invoices.CreateInput{
		ClientID: f.client,
		Lines:    []invoices.LineInput{{ArticleID: f.laptop, Quantity: 1}},
	})
	require.ErrorIs(t, err, invoices.ErrArticleUnavailable)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateAppliesWithholdingToServicesOnly(t *testing.T) {
	f := newFixture(t)
	inv, err := f.svc.Create(context.Background(), invoices.CreateInput{
		ClientID:    f.client,
		Withholding: true,
		Lines: []invoices.LineInput{
			{ArticleID: f.install, Quantity: 1},
			{ArticleID: f.laptop, Quantity: 1, TaxPercent: dec(10)},
		},
	})
	require.NoError(t, err)
	require.True(t, dec(15000).Equal(inv.TotalHT))
	require.True(t, dec(500).Equal(inv.TotalTax))
	require.True(t, dec(950).Equal(inv.TotalWithholding))
	require.True(t, dec(14550).Equal(inv.TotalTTC))
}

func TestCreateRejectsInitialPaymentAboveTotal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), invoices.CreateInput{
		ClientID:       f.client,
		InitialPayment: dec(10001),
		Lines:          []invoices.LineInput{{ArticleID: f.laptop, Quantity: 2}},
	})
	require.ErrorIs(t, err, invoices.ErrOverpayment)
	require.Empty(t, f.mem.Invoices)
	require.Equal(t, int64(10), f.mem.Stock[f.laptop])
}

func TestAddPaymentSettlesAndReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, 2, 0)

	_, err := f.svc.AddPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(10001), Method: invoices.MethodCash}, "")
	require.ErrorIs(t, err, invoices.ErrOverpayment)
	_, err = f.svc.AddPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(0), Method: invoices.MethodCash}, "")
	require.ErrorIs(t, err, invoices.ErrInvalidAmount)

	p, err := f.svc.AddPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(3000), Method: invoices.MethodCheque, Date: "2026-03-15"}, "")
	require.NoError(t, err)
	require.Equal(t, inv.Number, p.InvoiceNumber)
	require.Equal(t, "2026-03-15", p.Date.Format(time.DateOnly))
	_, err = f.svc.AddPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(7000), Method: invoices.MethodTransfer}, "")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, got.Status)
	require.True(t, got.AmountDue.IsZero())
	require.Len(t, got.Payments, 2)
	require.Len(t, f.mem.Movements, 1)
	require.Equal(t, int64(8), f.mem.Stock[f.laptop])
}

func TestAddPaymentRejectsCounterDocuments(t *testing.T) {
	f := newFixture(t)
	id := f.mem.NextID()
	f.mem.Invoices[id] = invoices.Invoice{ID: id, Number: "CPT-20260314103000-001", Type: invoices.TypeCounter, ClientID: f.client, Status: invoices.StatusPending, TotalTTC: dec(100), AmountDue: dec(100)}

	_, err := f.svc.AddPayment(context.Background(), invoices.PaymentInput{InvoiceID: id, Amount: dec(10), Method: invoices.MethodCash}, "")
	require.ErrorIs(t, err, invoices.ErrCounterDocument)
}

type keyGuard struct{ seen map[string]bool }

func (g *keyGuard) Guard(ctx context.Context, key, module string, fn func() error) error {
	if g.seen[module+key] {
		return shared.ErrIdempotencyConflict
	}
	if err := fn(); err != nil {
		return err
	}
	g.seen[module+key] = true
	return nil
}

func TestAddPaymentIdempotencyKey(t *testing.T) {
	guard := &keyGuard{seen: map[string]bool{}}
	f := newFixture(t, invoices.WithIdempotency(guard))
	ctx := context.Background()
	inv := f.create(t, 1, 0)
	in := invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(1000), Method: invoices.MethodCash}

	_, err := f.svc.AddPayment(ctx, in, "retry-1")
	require.NoError(t, err)
	_, err = f.svc.AddPayment(ctx, in, "retry-1")
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Len(t, f.mem.Payments, 1)
}

func TestDeletePaymentRecomputesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, 2, 10000)
	require.Equal(t, invoices.StatusPaid, inv.Status)

	require.NoError(t, f.svc.DeletePayment(ctx, inv.Payments[0].ID))
	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPending, got.Status)
	require.True(t, got.StockReleased)
	require.Equal(t, int64(8), f.mem.Stock[f.laptop])

	err = f.svc.DeletePayment(ctx, inv.Payments[0].ID)
	require.ErrorIs(t, err, invoices.ErrPaymentNotFound)
}

func TestDeletePaymentRejectsRefunds(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, 2, 10000)
	id := f.mem.NextID()
	f.mem.Payments[id] = invoices.Payment{ID: id, InvoiceID: inv.ID, Amount: dec(-500), Method: invoices.MethodReimbursement}

	err := f.svc.DeletePayment(context.Background(), id)
	require.ErrorIs(t, err, invoices.ErrRefundPayment)
}

func TestUpdateOnlyWhilePendingAndUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, 2, 0)

	updated, err := f.svc.Update(ctx, inv.ID, invoices.UpdateInput{
		ClientID: f.client,
		Notes:    "livraison samedi",
		Lines:    []invoices.LineInput{{ArticleID: f.laptop, Quantity: 3}, {ArticleID: f.install, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	require.True(t, dec(25000).Equal(updated.TotalTTC))
	require.True(t, dec(25000).Equal(updated.AmountDue))
	require.Equal(t, inv.Number, updated.Number)

	_, err = f.svc.AddPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(100), Method: invoices.MethodCash}, "")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, inv.ID, invoices.UpdateInput{ClientID: f.client, Lines: []invoices.LineInput{{ArticleID: f.laptop, Quantity: 1}}})
	require.ErrorIs(t, err, invoices.ErrNotEditable)
}

func TestCancelRestoresReleasedStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, 3, 1000)
	require.Equal(t, int64(7), f.mem.Stock[f.laptop])

	cancelled, err := f.svc.Cancel(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusCancelled, cancelled.Status)
	require.False(t, cancelled.StockReleased)
	require.Equal(t, int64(10), f.mem.Stock[f.laptop])
	restored := f.mem.MovementsFor("Annulation " + inv.Number)
	require.Len(t, restored, 1)
	require.Equal(t, stock.DirectionIn, restored[0].Direction)

	_, err = f.svc.Cancel(ctx, inv.ID)
	require.ErrorIs(t, err, invoices.ErrCancelled)
	_, err = f.svc.AddPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(100), Method: invoices.MethodCash}, "")
	require.ErrorIs(t, err, invoices.ErrCancelled)

	require.NoError(t, f.svc.Delete(ctx, inv.ID))
	require.Equal(t, int64(10), f.mem.Stock[f.laptop])
}

func TestDeleteRestoresStockAndPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, 4, 2000)

	require.NoError(t, f.svc.Delete(ctx, inv.ID))
	require.Equal(t, int64(10), f.mem.Stock[f.laptop])
	require.Len(t, f.mem.MovementsFor("Suppression "+inv.Number), 1)
	require.Empty(t, f.mem.Payments)
	_, err := f.svc.Get(ctx, inv.ID)
	require.ErrorIs(t, err, invoices.ErrNotFound)
}

func TestDeleteBlockedByCreditNotes(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, 1, 5000)
	f.mem.CreditNotes[inv.ID] = 1

	err := f.svc.Delete(context.Background(), inv.ID)
	require.ErrorIs(t, err, invoices.ErrHasCreditNotes)
	require.Contains(t, f.mem.Invoices, inv.ID)
}

func TestCounterDocumentsLeaveThroughTheCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mem.NextID()
	f.mem.Invoices[id] = invoices.Invoice{
		ID: id, Number: "RET-20260314103000-001", Type: invoices.TypeReturn, ClientID: f.client,
		Status: invoices.StatusPaid, StockReleased: true,
		Lines: []invoices.Line{{ArticleID: f.laptop, Quantity: 2}, {ArticleID: f.install, Service: true, Quantity: 1}},
	}

	require.ErrorIs(t, f.svc.Delete(ctx, id), invoices.ErrCounterDocument)
	_, err := f.svc.Cancel(ctx, id)
	require.ErrorIs(t, err, invoices.ErrCounterDocument)
	require.Contains(t, f.mem.Invoices, id)
	require.Equal(t, invoices.StatusPaid, f.mem.Invoices[id].Status)
	require.Empty(t, f.mem.MovementsFor("Suppression RET-20260314103000-001"))
	require.Equal(t, int64(10), f.mem.Stock[f.laptop])
}

func TestCancelBlockedByCreditNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, 4, 2000)
	require.Equal(t, int64(6), f.mem.Stock[f.laptop])
	f.mem.CreditNotes[inv.ID] = 1

	_, err := f.svc.Cancel(ctx, inv.ID)
	require.ErrorIs(t, err, invoices.ErrHasCreditNotes)
	require.Equal(t, int64(6), f.mem.Stock[f.laptop])
	require.Empty(t, f.mem.MovementsFor("Annulation "+inv.Number))
	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.NotEqual(t, invoices.StatusCancelled, got.Status)
	require.True(t, got.StockReleased)
}

func TestAvailableArticlesSubtractsCredited(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, 3, 0)
	f.mem.Credited[inv.ID] = map[int64]int64{f.laptop: 1}

	items, err := f.svc.AvailableArticles(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(3), items[0].Invoiced)
	require.Equal(t, int64(2), items[0].Available)
}
