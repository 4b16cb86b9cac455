package counter

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/clients"
	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/invoices/invoicestest"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

var march14 = time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

type memoryRepo struct {
	*invoicestest.Memory
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.Atomically(func() error { return fn(ctx, m) })
}

func (m *memoryRepo) CounterClient(ctx context.Context) (int64, error) {
	for id, name := range m.Clients {
		if name == clients.CounterCode {
			return id, nil
		}
	}
	return m.AddClient(clients.CounterCode), nil
}

func (m *memoryRepo) LockReturns(ctx context.Context) error { return nil }

func (m *memoryRepo) SoldOn(ctx context.Context, day time.Time, ids []int64) (map[int64]Sold, error) {
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make(map[int64]Sold)
	for _, inv := range m.Invoices {
		if !inv.Date.Equal(day) || inv.Status == invoices.StatusCancelled {
			continue
		}
		for _, l := range inv.Lines {
			if !wanted[l.ArticleID] {
				continue
			}
			s := out[l.ArticleID]
			switch inv.Type {
			case invoices.TypeCounter:
				s.Sold += l.Quantity
			case invoices.TypeReturn:
				s.Returned += l.Quantity
			}
			out[l.ArticleID] = s
		}
	}
	return out, nil
}

func (m *memoryRepo) TopArticles(ctx context.Context, since time.Time, limit int) ([]TopArticle, error) {
	byID := make(map[int64]*TopArticle)
	for _, inv := range m.Invoices {
		if inv.Type != invoices.TypeCounter || inv.Date.Before(since) {
			continue
		}
		for _, l := range inv.Lines {
			a, ok := byID[l.ArticleID]
			if !ok {
				a = &TopArticle{ArticleID: l.ArticleID, Code: l.ArticleCode, Designation: l.Designation}
				byID[l.ArticleID] = a
			}
			a.Quantity += l.Quantity
			a.Amount = a.Amount.Add(l.TotalTTC)
		}
	}
	var out []TopArticle
	for _, a := range byID {
		out = append(out, *a)
	}
	return out, nil
}

type fixture struct {
	repo   *memoryRepo
	svc    *Service
	cable  int64
	repair int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := &memoryRepo{Memory: invoicestest.New()}
	cable := repo.AddProduct("ART-0001", 5000, 10)
	repair := repo.AddService("ART-0002", 10000)
	docs := invoices.NewService(repo.Memory, stock.NewLedger(nil), nil, invoices.WithClock(func() time.Time { return march14 }))
	return fixture{repo: repo, svc: NewService(repo, docs, nil), cable: cable, repair: repair}
}

func (f fixture) sell(t *testing.T, typ invoices.Type, qty int64) Receipt {
	t.Helper()
	r, err := f.svc.Create(context.Background(), SaleInput{Type: typ, Lines: []LineInput{{ArticleID: f.cable, Quantity: qty}}}, "")
	require.NoError(t, err)
	return r
}

func TestCounterSaleIsSettledAndReleased(t *testing.T) {
	f := newFixture(t)
	r, err := f.svc.Create(context.Background(), SaleInput{
		Type:           invoices.TypeCounter,
		AmountReceived: decimal.NewFromInt(25000),
		Lines:          []LineInput{{ArticleID: f.cable, Quantity: 2}, {ArticleID: f.repair, Quantity: 1}},
	}, "")
	require.NoError(t, err)

	inv := r.Invoice
	require.Equal(t, "CPT-20260314103000-001", inv.Number)
	require.Equal(t, invoices.TypeCounter, inv.Type)
	require.Equal(t, invoices.StatusPaid, inv.Status)
	require.True(t, decimal.NewFromInt(20000).Equal(inv.TotalTTC))
	require.True(t, inv.AmountPaid.Equal(inv.TotalTTC))
	require.True(t, inv.AmountDue.IsZero())
	require.True(t, decimal.NewFromInt(5000).Equal(r.Change))
	require.Len(t, inv.Payments, 1)
	require.Equal(t, invoices.MethodCash, inv.Payments[0].Method)
	require.Equal(t, clients.CounterCode, inv.ClientName)

	require.Equal(t, int64(8), f.repo.Stock[f.cable])
	moved := f.repo.MovementsFor("Vente comptoir " + inv.Number)
	require.Len(t, moved, 1)
	require.Equal(t, stock.DirectionOut, moved[0].Direction)

	second := f.sell(t, invoices.TypeCounter, 1)
	require.Equal(t, inv.ClientID, second.Invoice.ClientID)
	require.Len(t, f.repo.Clients, 1)
}

func TestCounterSaleRejectsShortStockWithoutWrites(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), SaleInput{Type: invoices.TypeCounter, Lines: []LineInput{{ArticleID: f.cable, Quantity: 11}}}, "")
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.Empty(t, f.repo.Invoices)
	require.Empty(t, f.repo.Clients)
	require.Equal(t, int64(10), f.repo.Stock[f.cable])
}

func TestCounterSaleRejectsInsufficientCash(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), SaleInput{
		Type:           invoices.TypeCounter,
		AmountReceived: decimal.NewFromInt(4000),
		Lines:          []LineInput{{ArticleID: f.cable, Quantity: 1}},
	}, "")
	require.ErrorIs(t, err, ErrInsufficientCash)
	require.Empty(t, f.repo.Invoices)
}

func TestReturnLimitedToTodaysSales(t *testing.T) {
	f := newFixture(t)
	f.sell(t, invoices.TypeCounter, 3)
	require.Equal(t, int64(7), f.repo.Stock[f.cable])

	ret := f.sell(t, invoices.TypeReturn, 2)
	require.Equal(t, "RET-20260314103000-001", ret.Invoice.Number)
	require.Equal(t, invoices.StatusPaid, ret.Invoice.Status)
	require.Equal(t, invoices.MethodRefund, ret.Invoice.Payments[0].Method)
	require.Equal(t, int64(9), f.repo.Stock[f.cable])
	moved := f.repo.MovementsFor("Retour comptoir " + ret.Invoice.Number)
	require.Len(t, moved, 1)
	require.Equal(t, stock.DirectionIn, moved[0].Direction)

	_, err := f.svc.Create(context.Background(), SaleInput{Type: invoices.TypeReturn, Lines: []LineInput{{ArticleID: f.cable, Quantity: 2}}}, "")
	require.ErrorIs(t, err, ErrReturnNotEligible)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Equal(t, int64(9), f.repo.Stock[f.cable])
}

func TestReturnIgnoresOtherDaysAndRejectsWholeRequest(t *testing.T) {
	f := newFixture(t)
	client := f.repo.AddClient(clients.CounterCode)
	id := f.repo.NextID()
	f.repo.Invoices[id] = invoices.Invoice{
		ID: id, Number: "CPT-20260313090000-001", Type: invoices.TypeCounter, ClientID: client,
		Date: march14.AddDate(0, 0, -1).Truncate(24 * time.Hour), Status: invoices.StatusPaid,
		Lines: []invoices.Line{{ArticleID: f.cable, Quantity: 5}},
	}
	f.sell(t, invoices.TypeCounter, 1)

	_, err := f.svc.Create(context.Background(), SaleInput{Type: invoices.TypeReturn, Lines: []LineInput{
		{ArticleID: f.cable, Quantity: 1},
		{ArticleID: f.repair, Quantity: 1},
	}}, "")
	require.ErrorIs(t, err, ErrReturnNotEligible)
	require.Contains(t, err.Error(), "ART-0002")
	require.Equal(t, int64(9), f.repo.Stock[f.cable])
}

func TestTodaySummaryNetsReturns(t *testing.T) {
	f := newFixture(t)
	f.sell(t, invoices.TypeCounter, 4)
	f.sell(t, invoices.TypeReturn, 1)

	summary, err := f.svc.Today(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Count)
	require.True(t, decimal.NewFromInt(15000).Equal(summary.Total), summary.Total.String())

	check, err := f.svc.CheckToday(context.Background())
	require.NoError(t, err)
	require.True(t, check.HasSales)
	require.Equal(t, 1, check.Count)

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Total.Equal(stats.TodayTotal))
	require.Len(t, stats.TopArticles, 1)
	require.Equal(t, int64(4), stats.TopArticles[0].Quantity)
}

func TestDeleteCounterDocumentRestoresStock(t *testing.T) {
	f := newFixture(t)
	sale := f.sell(t, invoices.TypeCounter, 3)
	ret := f.sell(t, invoices.TypeReturn, 1)
	require.Equal(t, int64(8), f.repo.Stock[f.cable])

	require.NoError(t, f.svc.Delete(context.Background(), ret.Invoice.ID))
	require.Equal(t, int64(7), f.repo.Stock[f.cable])
	require.NoError(t, f.svc.Delete(context.Background(), sale.Invoice.ID))
	require.Equal(t, int64(10), f.repo.Stock[f.cable])
	require.Len(t, f.repo.MovementsFor("Suppression "+sale.Invoice.Number), 1)
	require.Empty(t, f.repo.Payments)
}

func TestDeleteSaleKeptWhileItsReturnsStand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.sell(t, invoices.TypeCounter, 3)
	ret := f.sell(t, invoices.TypeReturn, 3)
	require.Equal(t, int64(10), f.repo.Stock[f.cable])

	err := f.svc.Delete(ctx, sale.Invoice.ID)
	require.ErrorIs(t, err, ErrSaleReturned)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, int64(10), f.repo.Stock[f.cable])
	require.Contains(t, f.repo.Invoices, sale.Invoice.ID)
	require.Empty(t, f.repo.MovementsFor("Suppression "+sale.Invoice.Number))

	// another sale of the day covers the return
	other := f.sell(t, invoices.TypeCounter, 3)
	require.NoError(t, f.svc.Delete(ctx, sale.Invoice.ID))
	require.Equal(t, int64(10), f.repo.Stock[f.cable])
	require.ErrorIs(t, f.svc.Delete(ctx, other.Invoice.ID), ErrSaleReturned)

	require.NoError(t, f.svc.Delete(ctx, ret.Invoice.ID))
	require.NoError(t, f.svc.Delete(ctx, other.Invoice.ID))
	require.Equal(t, int64(10), f.repo.Stock[f.cable])
}

func TestNormalInvoicesAreHiddenFromCounter(t *testing.T) {
	f := newFixture(t)
	client := f.repo.AddClient("Garage Moderne")
	id := f.repo.NextID()
	f.repo.Invoices[id] = invoices.Invoice{ID: id, Number: "FAC-2026-001", Type: invoices.TypeNormal, ClientID: client, Status: invoices.StatusPending}

	_, err := f.svc.Get(context.Background(), id)
	require.ErrorIs(t, err, ErrNotCounterDocument)
	require.ErrorIs(t, f.svc.Delete(context.Background(), id), ErrNotCounterDocument)
	require.Contains(t, f.repo.Invoices, id)

	items, total, err := f.svc.List(context.Background(), invoices.ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, items)
}
