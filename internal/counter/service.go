package counter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

// topArticleWindow bounds the counter ranking to recent sales.
const topArticleWindow = 30 * 24 * time.Hour

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	TopArticles(ctx context.Context, since time.Time, limit int) ([]TopArticle, error)
}

// Service runs counter sales and returns on top of the invoice lifecycle.
type Service struct {
	repo RepositoryPort
	docs *invoices.Service
	idem invoices.IdempotencyPort
}

// NewService builds Service. idem may be nil.
func NewService(repo RepositoryPort, docs *invoices.Service, idem invoices.IdempotencyPort) *Service {
	return &Service{repo: repo, docs: docs, idem: idem}
}

// Create records a COMPTOIR sale or a RETOUR and settles it immediately.
// A sale must be in stock; a return may only bring back what the counter
// sold today, less what was already returned.
func (s *Service) Create(ctx context.Context, in SaleInput, idempotencyKey string) (Receipt, error) {
	if in.Type != invoices.TypeCounter && in.Type != invoices.TypeReturn {
		return Receipt{}, fmt.Errorf("%w: type must be COMPTOIR or RETOUR", httpx.ErrValidation)
	}
	if len(in.Lines) == 0 {
		return Receipt{}, fmt.Errorf("%w: at least one line required", httpx.ErrValidation)
	}
	day := invoices.Day(s.docs.Now())
	var inv invoices.Invoice
	var moved []stock.Movement
	run := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			clientID, err := tx.CounterClient(ctx)
			if err != nil {
				return err
			}
			lines, totals, err := s.docs.PriceLines(ctx, tx, priceInputs(in.Lines), false)
			if err != nil {
				return err
			}
			scope, method, label := shared.ScopeCounter, invoices.MethodCash, "Vente comptoir"
			if in.Type == invoices.TypeReturn {
				scope, method, label = shared.ScopeReturn, invoices.MethodRefund, "Retour comptoir"
				if err := s.checkReturnable(ctx, tx, day, lines); err != nil {
					return err
				}
			} else if err := s.docs.CheckStock(ctx, tx, lines); err != nil {
				return err
			}
			number, err := s.docs.StampedNumber(ctx, tx, scope)
			if err != nil {
				return err
			}
			inv = invoices.Invoice{
				Number:        number,
				Type:          in.Type,
				ClientID:      clientID,
				CreatedBy:     shared.ActorID(ctx),
				Date:          day,
				PaymentMethod: method,
				Notes:         in.Notes,
				Lines:         lines,
			}
			invoices.ApplyTotals(&inv, totals)
			if in.Type == invoices.TypeCounter && in.AmountReceived.IsPositive() && in.AmountReceived.LessThan(inv.TotalTTC) {
				return fmt.Errorf("%w: total %s, received %s", ErrInsufficientCash, inv.TotalTTC.StringFixed(2), in.AmountReceived.StringFixed(2))
			}
			if inv.ID, err = tx.InsertInvoice(ctx, inv); err != nil {
				return err
			}
			if _, err := s.docs.InsertPayment(ctx, tx, &inv, inv.TotalTTC, method, "", day); err != nil {
				return err
			}
			if err := s.docs.Rebalance(ctx, tx, &inv, false); err != nil {
				return err
			}
			moved, err = s.docs.Release(ctx, tx, &inv, label+" "+inv.Number)
			return err
		})
	}
	var err error
	if s.idem != nil {
		err = s.idem.Guard(ctx, idempotencyKey, "counter", run)
	} else {
		err = run()
	}
	if err != nil {
		return Receipt{}, err
	}
	s.docs.Committed(ctx, moved)
	s.docs.Audit(ctx, "counter:"+strings.ToLower(string(in.Type)), "invoice", inv.ID, map[string]any{"number": inv.Number, "total_ttc": inv.TotalTTC.String()})

	full, err := s.docs.Get(ctx, inv.ID)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{Invoice: full, AmountReceived: in.AmountReceived, Change: decimal.Zero}
	if in.Type == invoices.TypeCounter && in.AmountReceived.IsPositive() {
		receipt.Change = in.AmountReceived.Sub(full.TotalTTC)
	}
	return receipt, nil
}

func (s *Service) checkReturnable(ctx context.Context, tx TxRepository, day time.Time, lines []invoices.Line) error {
	requested := make(map[int64]int64)
	names := make(map[int64]string)
	for _, l := range lines {
		requested[l.ArticleID] += l.Quantity
		names[l.ArticleID] = l.Designation
	}
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := tx.LockReturns(ctx); err != nil {
		return err
	}
	sold, err := tx.SoldOn(ctx, day, ids)
	if err != nil {
		return err
	}
	var problems []string
	for _, id := range ids {
		if left := sold[id].Returnable(); requested[id] > left {
			problems = append(problems, fmt.Sprintf("%s requested %d, returnable %d", names[id], requested[id], left))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrReturnNotEligible, strings.Join(problems, "; "))
	}
	return nil
}

// checkUnreturned fails when removing sale would leave its day with more
// returned than sold for any of its articles.
func (s *Service) checkUnreturned(ctx context.Context, tx TxRepository, sale invoices.Invoice) error {
	lines, err := tx.InvoiceLines(ctx, sale.ID)
	if err != nil {
		return err
	}
	quantities := make(map[int64]int64)
	names := make(map[int64]string)
	for _, l := range lines {
		if l.Service {
			continue
		}
		quantities[l.ArticleID] += l.Quantity
		names[l.ArticleID] = l.Designation
	}
	if len(quantities) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := tx.LockReturns(ctx); err != nil {
		return err
	}
	sold, err := tx.SoldOn(ctx, invoices.Day(sale.Date), ids)
	if err != nil {
		return err
	}
	var problems []string
	for _, id := range ids {
		day := sold[id]
		if left := day.Sold - quantities[id]; day.Returned > left {
			problems = append(problems, fmt.Sprintf("%s returned %d, sold without this sale %d", names[id], day.Returned, max(left, 0)))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSaleReturned, strings.Join(problems, "; "))
	}
	return nil
}

// Today summarises today's counter documents. Returns count against the total.
func (s *Service) Today(ctx context.Context) (DaySummary, error) {
	day := invoices.Day(s.docs.Now())
	docs, err := s.day(ctx, day)
	if err != nil {
		return DaySummary{}, err
	}
	summary := DaySummary{Date: day, Total: decimal.Zero, Sales: make([]DaySale, 0, len(docs))}
	for _, inv := range docs {
		summary.Total = summary.Total.Add(signed(inv))
		summary.Sales = append(summary.Sales, DaySale{
			ID:     inv.ID,
			Number: inv.Number,
			Type:   inv.Type,
			Amount: inv.TotalTTC,
			Time:   inv.CreatedAt.Format("15:04"),
		})
	}
	summary.Count = len(summary.Sales)
	return summary, nil
}

// CheckToday reports whether the counter sold anything today.
func (s *Service) CheckToday(ctx context.Context) (SalesCheck, error) {
	docs, err := s.day(ctx, invoices.Day(s.docs.Now()))
	if err != nil {
		return SalesCheck{}, err
	}
	var check SalesCheck
	for _, inv := range docs {
		if inv.Type == invoices.TypeCounter {
			check.Count++
		}
	}
	check.HasSales = check.Count > 0
	return check, nil
}

// List returns counter documents newest first.
func (s *Service) List(ctx context.Context, f invoices.ListFilter) ([]invoices.Invoice, int, error) {
	f.Counter = true
	if f.Type == invoices.TypeNormal {
		f.Type = ""
	}
	return s.docs.List(ctx, f)
}

// Get returns one counter document.
func (s *Service) Get(ctx context.Context, id int64) (invoices.Invoice, error) {
	inv, err := s.docs.Get(ctx, id)
	if err != nil {
		return invoices.Invoice{}, err
	}
	if inv.Type == invoices.TypeNormal {
		return invoices.Invoice{}, ErrNotCounterDocument
	}
	return inv, nil
}

// Delete removes a counter document and undoes its stock effect. A sale
// cannot go while the returns of its day would exceed what remains sold.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var inv invoices.Invoice
	var moved []stock.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if inv, err = tx.LockInvoice(ctx, id); err != nil {
			return err
		}
		if inv.Type == invoices.TypeNormal {
			return ErrNotCounterDocument
		}
		if inv.Type == invoices.TypeCounter {
			if err := s.checkUnreturned(ctx, tx, inv); err != nil {
				return err
			}
		}
		moved, err = s.docs.DeleteLocked(ctx, tx, &inv)
		return err
	})
	if err != nil {
		return err
	}
	s.docs.Committed(ctx, moved)
	s.docs.Audit(ctx, "counter:delete", "invoice", id, map[string]any{"number": inv.Number, "restocked": len(moved)})
	return nil
}

// Stats returns today's net counter total and the best sellers of the last
// thirty days.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.docs.Now()
	today, err := s.Today(ctx)
	if err != nil {
		return Stats{}, err
	}
	top, err := s.repo.TopArticles(ctx, invoices.Day(now.Add(-topArticleWindow)), 10)
	if err != nil {
		return Stats{}, err
	}
	if top == nil {
		top = []TopArticle{}
	}
	return Stats{TodayTotal: today.Total, TodayCount: today.Count, TopArticles: top}, nil
}

func (s *Service) day(ctx context.Context, day time.Time) ([]invoices.Invoice, error) {
	docs, _, err := s.docs.List(ctx, invoices.ListFilter{Counter: true, From: day, To: day.AddDate(0, 0, 1), Limit: 1000})
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, inv := range docs {
		if inv.Status != invoices.StatusCancelled {
			out = append(out, inv)
		}
	}
	return out, nil
}

func signed(inv invoices.Invoice) decimal.Decimal {
	if inv.Type == invoices.TypeReturn {
		return inv.TotalTTC.Neg()
	}
	return inv.TotalTTC
}

func priceInputs(lines []LineInput) []invoices.LineInput {
	out := make([]invoices.LineInput, len(lines))
	for i, l := range lines {
		out[i] = invoices.LineInput{ArticleID: l.ArticleID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return out
}
