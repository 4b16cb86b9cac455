package reports

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/techinfoplus/tip-erp/internal/platform/cache"
)

const (
	activityWindow = 7 * 24 * time.Hour
	activityLimit  = 10
)

// Store exposes the aggregate queries.
type Store interface {
	Counts(ctx context.Context) (Counts, error)
	Revenue(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	Receivables(ctx context.Context) (decimal.Decimal, error)
	MonthlyRevenue(ctx context.Context, year int) ([]MonthRevenue, error)
	RecentActivity(ctx context.Context, since time.Time, limit int) ([]Activity, error)
	SalesCount(ctx context.Context, from, to time.Time) (int64, error)
	RevenueByDay(ctx context.Context, from, to time.Time) ([]DayRevenue, error)
	ClientCounts(ctx context.Context, since time.Time) (int64, int64, error)
	ProductSales(ctx context.Context, from, to time.Time) ([]ProductSales, error)
	StockValue(ctx context.Context) (StockValue, error)
	PaymentTotals(ctx context.Context, from, to time.Time) (Tally, error)
	Unpaid(ctx context.Context) (Tally, error)
	Treasury(ctx context.Context) (Treasury, error)
	PaymentMethods(ctx context.Context) ([]MethodTotal, error)
	CreditNoteTotals(ctx context.Context, from, to time.Time) (CreditNoteTotals, error)
}

// Service computes dashboard figures and reports behind a versioned cache.
type Service struct {
	store Store
	cache *cache.Versioned
	now   func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds Service. A nil cache disables caching.
func NewService(store Store, c *cache.Versioned, opts ...Option) *Service {
	s := &Service{store: store, cache: c, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// cached serves parts from the cache, loading on a miss. When the cache
// cannot produce a key the figures are computed directly.
func cached[T any](ctx context.Context, s *Service, load func(context.Context) (T, error), parts ...string) (T, error) {
	var out T
	key, err := s.cache.Key(ctx, parts...)
	if err != nil {
		return load(ctx)
	}
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	return out, err
}

// Dashboard returns the home screen counters.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	return cached(ctx, s, s.loadDashboard, "dashboard")
}

func (s *Service) loadDashboard(ctx context.Context) (Dashboard, error) {
	var (
		counts      Counts
		revenue     decimal.Decimal
		receivables decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.store.Counts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		revenue, err = s.store.Revenue(gctx, time.Time{}, time.Time{})
		return err
	})
	g.Go(func() error {
		var err error
		receivables, err = s.store.Receivables(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return Dashboard{
		Clients:      counts.Clients,
		Articles:     counts.Articles,
		Invoices:     counts.Invoices,
		CounterSales: counts.CounterSales,
		Quotes:       counts.Quotes,
		Payments:     counts.Payments,
		CreditNotes:  counts.CreditNotes,
		Revenue:      revenue,
		Receivables:  receivables,
	}, nil
}

// MonthlySales returns the current year's revenue per month split into
// counter sales, paid normal invoices and their total.
func (s *Service) MonthlySales(ctx context.Context) (MonthlySales, error) {
	year := s.today().Year()
	return cached(ctx, s, func(ctx context.Context) (MonthlySales, error) {
		rows, err := s.store.MonthlyRevenue(ctx, year)
		if err != nil {
			return MonthlySales{}, err
		}
		return FillMonths(year, rows), nil
	}, "monthly", strconv.Itoa(year))
}

// RecentActivity lists the latest invoices and quotes of the past week.
func (s *Service) RecentActivity(ctx context.Context) ([]Activity, error) {
	today := s.today()
	return cached(ctx, s, func(ctx context.Context) ([]Activity, error) {
		items, err := s.store.RecentActivity(ctx, today.Add(-activityWindow), activityLimit)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []Activity{}
		}
		return items, nil
	}, "activity", today.Format(time.DateOnly))
}

// Report builds the named report over period.
func (s *Service) Report(ctx context.Context, kind Kind, period Period) (any, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	rng, err := ResolvePeriod(period, s.now())
	if err != nil {
		return nil, err
	}
	parts := []string{"report", string(kind), string(rng.Period), rng.From.Format(time.DateOnly), rng.To.Format(time.DateOnly)}
	switch kind {
	case KindSales:
		return cached(ctx, s, func(ctx context.Context) (SalesReport, error) { return s.sales(ctx, rng) }, parts...)
	case KindClients:
		return cached(ctx, s, func(ctx context.Context) (ClientsReport, error) {
			total, created, err := s.store.ClientCounts(ctx, rng.From)
			return ClientsReport{Range: rng, Total: total, New: created}, err
		}, parts...)
	case KindProducts:
		return cached(ctx, s, func(ctx context.Context) (ProductsReport, error) { return s.products(ctx, rng) }, parts...)
	case KindPayments:
		return cached(ctx, s, func(ctx context.Context) (PaymentsReport, error) {
			t, err := s.store.PaymentTotals(ctx, rng.From, rng.To)
			return PaymentsReport{Range: rng, Tally: t}, err
		}, parts...)
	case KindUnpaid:
		return cached(ctx, s, func(ctx context.Context) (UnpaidReport, error) {
			t, err := s.store.Unpaid(ctx)
			return UnpaidReport{Range: rng, Count: t.Count, Due: t.Total}, err
		}, parts...)
	case KindTreasury:
		return cached(ctx, s, func(ctx context.Context) (TreasuryReport, error) { return s.treasury(ctx, rng) }, parts...)
	default:
		return cached(ctx, s, func(ctx context.Context) (CreditNotesReport, error) {
			t, err := s.store.CreditNoteTotals(ctx, rng.From, rng.To)
			return CreditNotesReport{Range: rng, CreditNoteTotals: t}, err
		}, parts...)
	}
}

func (s *Service) sales(ctx context.Context, rng Range) (SalesReport, error) {
	out := SalesReport{Range: rng}
	var days []DayRevenue
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Count, err = s.store.SalesCount(gctx, rng.From, rng.To)
		return err
	})
	g.Go(func() error {
		var err error
		out.Revenue, err = s.store.Revenue(gctx, rng.From, rng.To)
		return err
	})
	g.Go(func() error {
		var err error
		days, err = s.store.RevenueByDay(gctx, rng.From, rng.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return SalesReport{}, err
	}
	out.AverageTicket = decimal.Zero
	if out.Count > 0 {
		out.AverageTicket = out.Revenue.Div(decimal.NewFromInt(out.Count)).Round(2)
	}
	out.Evolution = Evolution(rng, days)
	return out, nil
}

func (s *Service) products(ctx context.Context, rng Range) (ProductsReport, error) {
	var (
		lines []ProductSales
		value StockValue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lines, err = s.store.ProductSales(gctx, rng.From, rng.To)
		return err
	})
	g.Go(func() error {
		var err error
		value, err = s.store.StockValue(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return ProductsReport{}, err
	}
	if lines == nil {
		lines = []ProductSales{}
	}
	return ProductsReport{Range: rng, Articles: value.Articles, StockValue: value.Value, LowStock: value.Low, Products: lines}, nil
}

func (s *Service) treasury(ctx context.Context, rng Range) (TreasuryReport, error) {
	var (
		position Treasury
		methods  []MethodTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		position, err = s.store.Treasury(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		methods, err = s.store.PaymentMethods(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return TreasuryReport{}, err
	}
	if methods == nil {
		methods = []MethodTotal{}
	}
	return TreasuryReport{
		Range:        rng,
		Collected:    position.Collected,
		Receivables:  position.Receivables,
		CounterSales: position.CounterSales,
		TotalAssets:  position.Collected.Add(position.Receivables),
		Methods:      methods,
	}, nil
}

// Warm fills the cache with the dashboard views.
func (s *Service) Warm(ctx context.Context) error {
	if _, err := s.Dashboard(ctx); err != nil {
		return err
	}
	if _, err := s.MonthlySales(ctx); err != nil {
		return err
	}
	_, err := s.RecentActivity(ctx)
	return err
}
