package reports

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/platform/cache"
	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

var fixedNow = time.Date(2026, 3, 18, 15, 4, 0, 0, time.UTC)

type mockStore struct {
	countsCalls  int32
	revenueCalls int32
	monthly      []MonthRevenue
	days         []DayRevenue
	salesCount   int64
	revenue      decimal.Decimal
	failCounts   error
	sinceSeen    time.Time
}

func (m *mockStore) Counts(ctx context.Context) (Counts, error) {
	atomic.AddInt32(&m.countsCalls, 1)
	if m.failCounts != nil {
		return Counts{}, m.failCounts
	}
	return Counts{Clients: 12, Articles: 40, Invoices: 7, CounterSales: 30, Quotes: 5, Payments: 9, CreditNotes: 1}, nil
}

func (m *mockStore) Revenue(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	atomic.AddInt32(&m.revenueCalls, 1)
	return m.revenue, nil
}

func (m *mockStore) Receivables(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(45000), nil
}

func (m *mockStore) MonthlyRevenue(ctx context.Context, year int) ([]MonthRevenue, error) {
	return m.monthly, nil
}

func (m *mockStore) RecentActivity(ctx context.Context, since time.Time, limit int) ([]Activity, error) {
	m.sinceSeen = since
	return nil, nil
}

func (m *mockStore) SalesCount(ctx context.Context, from, to time.Time) (int64, error) {
	return m.salesCount, nil
}

func (m *mockStore) RevenueByDay(ctx context.Context, from, to time.Time) ([]DayRevenue, error) {
	return m.days, nil
}

func (m *mockStore) ClientCounts(ctx context.Context, since time.Time) (int64, int64, error) {
	return 12, 2, nil
}

func (m *mockStore) ProductSales(ctx context.Context, from, to time.Time) ([]ProductSales, error) {
	return nil, nil
}

func (m *mockStore) StockValue(ctx context.Context) (StockValue, error) {
	return StockValue{Articles: 40, Value: decimal.NewFromInt(1250000), Low: 3}, nil
}

func (m *mockStore) PaymentTotals(ctx context.Context, from, to time.Time) (Tally, error) {
	return Tally{Count: 4, Total: decimal.NewFromInt(80000)}, nil
}

func (m *mockStore) Unpaid(ctx context.Context) (Tally, error) {
	return Tally{Count: 2, Total: decimal.NewFromInt(45000)}, nil
}

func (m *mockStore) Treasury(ctx context.Context) (Treasury, error) {
	return Treasury{Collected: decimal.NewFromInt(300000), Receivables: decimal.NewFromInt(45000), CounterSales: decimal.NewFromInt(120000)}, nil
}

func (m *mockStore) PaymentMethods(ctx context.Context) ([]MethodTotal, error) {
	return []MethodTotal{{Method: "CASH", Count: 3, Total: decimal.NewFromInt(60000)}}, nil
}

func (m *mockStore) CreditNoteTotals(ctx context.Context, from, to time.Time) (CreditNoteTotals, error) {
	return CreditNoteTotals{Count: 1, Amount: decimal.NewFromInt(15000), Processed: 1}, nil
}

func newCache(t *testing.T) *cache.Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewVersioned(client, "tip:reports", time.Minute)
}

func clock() time.Time { return fixedNow }

func TestDashboardIsCachedUntilBump(t *testing.T) {
	store := &mockStore{revenue: decimal.NewFromInt(150000)}
	c := newCache(t)
	svc := NewService(store, c, WithClock(clock))
	ctx := context.Background()

	first, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 12, first.Clients)
	require.EqualValues(t, 30, first.CounterSales)
	require.True(t, decimal.NewFromInt(150000).Equal(first.Revenue))
	require.True(t, decimal.NewFromInt(45000).Equal(first.Receivables))

	_, err = svc.Dashboard(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&store.countsCalls))

	require.NoError(t, c.Bump(ctx))
	_, err = svc.Dashboard(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&store.countsCalls))
}

func TestDashboardWithoutCacheHitsStore(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, nil, WithClock(clock))
	for i := 0; i < 2; i++ {
		_, err := svc.Dashboard(context.Background())
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, atomic.LoadInt32(&store.countsCalls))
}

func TestDashboardPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(&mockStore{failCounts: boom}, newCache(t), WithClock(clock))
	_, err := svc.Dashboard(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestMonthlySalesFillsYearAndFloorsNegatives(t *testing.T) {
	store := &mockStore{monthly: []MonthRevenue{
		{Month: 1, Counter: decimal.NewFromInt(10000), Normal: decimal.NewFromInt(5000), Total: decimal.NewFromInt(15000)},
		{Month: 3, Counter: decimal.NewFromInt(-2000), Normal: decimal.Zero, Total: decimal.NewFromInt(-2000)},
	}}
	svc := NewService(store, nil, WithClock(clock))

	got, err := svc.MonthlySales(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2026, got.Year)
	require.Len(t, got.Months, 12)
	require.Len(t, got.Total, 12)
	require.True(t, decimal.NewFromInt(15000).Equal(got.Total[0]))
	require.True(t, decimal.NewFromInt(5000).Equal(got.Normal[0]))
	require.True(t, got.Counter[2].IsZero())
	require.True(t, got.Total[2].IsZero())
	require.True(t, got.Total[11].IsZero())
}

func TestRecentActivityCoversLastWeek(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, nil, WithClock(clock))
	items, err := svc.RecentActivity(context.Background())
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), store.sinceSeen)
}

func TestResolvePeriod(t *testing.T) {
	to := time.Date(2026, 3, 19, 0, 0, 0, 0, time.UTC)
	cases := map[Period]time.Time{
		PeriodToday: time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC),
		PeriodWeek:  time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		PeriodMonth: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodYear:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"":          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for period, from := range cases {
		rng, err := ResolvePeriod(period, fixedNow)
		require.NoError(t, err, period)
		require.Equal(t, from, rng.From, period)
		require.Equal(t, to, rng.To, period)
	}

	_, err := ResolvePeriod("decade", fixedNow)
	require.ErrorIs(t, err, ErrUnknownPeriod)
}

func TestEvolutionBuckets(t *testing.T) {
	days := []DayRevenue{
		{Day: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(1000)},
		{Day: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(500)},
		{Day: time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(-300)},
	}

	month, _ := ResolvePeriod(PeriodMonth, fixedNow)
	buckets := Evolution(month, days)
	require.Len(t, buckets, 31)
	require.Equal(t, "2", buckets[1].Label)
	require.True(t, decimal.NewFromInt(1500).Equal(buckets[1].Amount))
	require.True(t, buckets[16].Amount.IsZero())

	year, _ := ResolvePeriod(PeriodYear, fixedNow)
	buckets = Evolution(year, days)
	require.Len(t, buckets, 12)
	require.True(t, decimal.NewFromInt(1200).Equal(buckets[2].Amount))

	week, _ := ResolvePeriod(PeriodWeek, fixedNow)
	buckets = Evolution(week, days)
	require.Len(t, buckets, 1)
	require.Equal(t, "Sem 12", buckets[0].Label)
	require.True(t, buckets[0].Amount.IsZero())
}

func TestSalesReportAverageTicket(t *testing.T) {
	store := &mockStore{salesCount: 3, revenue: decimal.NewFromInt(100000)}
	svc := NewService(store, newCache(t), WithClock(clock))

	out, err := svc.Report(context.Background(), KindSales, PeriodMonth)
	require.NoError(t, err)
	sales, ok := out.(SalesReport)
	require.True(t, ok)
	require.EqualValues(t, 3, sales.Count)
	require.True(t, decimal.RequireFromString("33333.33").Equal(sales.AverageTicket))
	require.Len(t, sales.Evolution, 31)
	require.Equal(t, PeriodMonth, sales.Period)
}

func TestTreasuryReportTotalsAssets(t *testing.T) {
	svc := NewService(&mockStore{}, nil, WithClock(clock))
	out, err := svc.Report(context.Background(), KindTreasury, PeriodYear)
	require.NoError(t, err)
	treasury := out.(TreasuryReport)
	require.True(t, decimal.NewFromInt(345000).Equal(treasury.TotalAssets))
	require.Len(t, treasury.Methods, 1)
}

func TestReportRejectsUnknownKind(t *testing.T) {
	svc := NewService(&mockStore{}, nil, WithClock(clock))
	_, err := svc.Report(context.Background(), "inventory", PeriodMonth)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func newRouter(svc *Service, p shared.Principal) http.Handler {
	h := NewHandler(nil, svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithPrincipal(req.Context(), p)))
		})
	})
	r.Route("/api/reports", h.MountRoutes)
	return r
}

func TestHandlerRoutes(t *testing.T) {
	svc := NewService(&mockStore{}, nil, WithClock(clock))
	reporter := shared.Principal{UserID: 2, Role: "user", Rights: map[string]bool{shared.PermReports: true}}
	r := newRouter(svc, reporter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/credit_notes?period=week", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var notes CreditNotesReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notes))
	require.EqualValues(t, 1, notes.Processed)
	require.Equal(t, PeriodWeek, notes.Period)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/inventory", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/sales?period=decade", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	clerk := shared.Principal{UserID: 3, Role: "user", Rights: map[string]bool{shared.PermInvoices: true}}
	rec = httptest.NewRecorder()
	newRouter(svc, clerk).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/dashboard", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
