package invoices

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, f ListFilter) ([]Invoice, int, error)
	Get(ctx context.Context, id int64) (Invoice, error)
	Lines(ctx context.Context, id int64) ([]Line, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, int, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	AvailableArticles(ctx context.Context, invoiceID int64) ([]AvailableArticle, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort runs a write at most once per client supplied key.
type IdempotencyPort interface {
	Guard(ctx context.Context, key, module string, fn func() error) error
}

// ChangeNotifier is told when committed writes change reported figures.
type ChangeNotifier interface {
	Bump(ctx context.Context) error
}

// Service manages the invoice lifecycle. Its transaction level helpers are
// shared by the counter, credit note and quote services.
type Service struct {
	repo     RepositoryPort
	ledger   *stock.Ledger
	audit    AuditPort
	idem     IdempotencyPort
	notifier ChangeNotifier
	now      func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithIdempotency guards payment creation with client keys.
func WithIdempotency(idem IdempotencyPort) Option {
	return func(s *Service) { s.idem = idem }
}

// WithNotifier registers a change notifier such as the dashboard cache.
func WithNotifier(n ChangeNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *stock.Ledger, audit AuditPort, opts ...Option) *Service {
	if ledger == nil {
		ledger = stock.NewLedger(nil)
	}
	s := &Service{repo: repo, ledger: ledger, audit: audit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a page of invoices.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Invoice, int, error) {
	return s.repo.List(ctx, f)
}

// Get returns an invoice with lines and payments.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.Get(ctx, id)
}

// Lines returns the lines of an invoice.
func (s *Service) Lines(ctx context.Context, id int64) ([]Line, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Lines(ctx, id)
}

// AvailableArticles lists what a credit note on the invoice may still return.
func (s *Service) AvailableArticles(ctx context.Context, id int64) ([]AvailableArticle, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusCancelled {
		return nil, ErrCancelled
	}
	return s.repo.AvailableArticles(ctx, id)
}

// ListPayments returns a page of payments.
func (s *Service) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, int, error) {
	return s.repo.ListPayments(ctx, f)
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// Create issues a NORMAL invoice. Product lines must be in stock. An initial
// payment is recorded in the same transaction and releases the stock.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invoice, error) {
	today := Day(s.now())
	date, err := ParseDate(in.Date, today)
	if err != nil {
		return Invoice{}, err
	}
	due, err := optionalDate(in.DueDate)
	if err != nil {
		return Invoice{}, err
	}
	if in.InitialPayment.IsNegative() {
		return Invoice{}, ErrInvalidAmount
	}
	actor := shared.ActorID(ctx)
	var inv Invoice
	var moved []stock.Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.RequireClient(ctx, tx, in.ClientID); err != nil {
			return err
		}
		lines, totals, err := s.PriceLines(ctx, tx, in.Lines, in.Withholding)
		if err != nil {
			return err
		}
		if err := s.CheckStock(ctx, tx, lines); err != nil {
			return err
		}
		number, err := s.YearlyNumber(ctx, tx, shared.ScopeInvoice, date)
		if err != nil {
			return err
		}
		inv = Invoice{
			Number:        number,
			Type:          TypeNormal,
			ClientID:      in.ClientID,
			CreatedBy:     actor,
			Date:          date,
			DueDate:       due,
			Withholding:   in.Withholding,
			PaymentMethod: in.PaymentMethod,
			Description:   in.Description,
			Notes:         in.Notes,
			Lines:         lines,
		}
		ApplyTotals(&inv, totals)
		if in.InitialPayment.GreaterThan(inv.TotalTTC) {
			return fmt.Errorf("%w: total %s, offered %s", ErrOverpayment, inv.TotalTTC.StringFixed(2), in.InitialPayment.StringFixed(2))
		}
		if inv.ID, err = tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		if !in.InitialPayment.IsPositive() {
			return nil
		}
		method := in.PaymentMethod
		if method == "" {
			method = MethodCash
		}
		moved, _, err = s.settle(ctx, tx, &inv, in.InitialPayment, method, "Acompte à la création", date)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.Committed(ctx, moved)
	s.Audit(ctx, "invoice:create", "invoice", inv.ID, map[string]any{"number": inv.Number, "total_ttc": inv.TotalTTC.String()})
	return s.repo.Get(ctx, inv.ID)
}

// Update replaces the content of a NORMAL invoice that is still pending,
// unpaid and undelivered.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if inv, err = tx.LockInvoice(ctx, id); err != nil {
			return err
		}
		if inv.Type != TypeNormal {
			return ErrCounterDocument
		}
		if inv.Status == StatusCancelled {
			return ErrCancelled
		}
		n, err := tx.CountPayments(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusPending || inv.StockReleased || n > 0 {
			return ErrNotEditable
		}
		if inv.Date, err = ParseDate(in.Date, inv.Date); err != nil {
			return err
		}
		if inv.DueDate, err = optionalDate(in.DueDate); err != nil {
			return err
		}
		if err := s.RequireClient(ctx, tx, in.ClientID); err != nil {
			return err
		}
		lines, totals, err := s.PriceLines(ctx, tx, in.Lines, in.Withholding)
		if err != nil {
			return err
		}
		if err := s.CheckStock(ctx, tx, lines); err != nil {
			return err
		}
		inv.ClientID = in.ClientID
		inv.Withholding = in.Withholding
		inv.PaymentMethod = in.PaymentMethod
		inv.Description = in.Description
		inv.Notes = in.Notes
		inv.Lines = lines
		ApplyTotals(&inv, totals)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.ReplaceLines(ctx, id, lines)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.notify(ctx)
	s.Audit(ctx, "invoice:update", "invoice", id, map[string]any{"number": inv.Number, "total_ttc": inv.TotalTTC.String()})
	return s.repo.Get(ctx, id)
}

// Cancel flags an invoice CANCELLED, returning released stock first. An
// invoice carrying credit notes cannot be cancelled: their returns already
// restocked part of it.
func (s *Service) Cancel(ctx context.Context, id int64) (Invoice, error) {
	var inv Invoice
	var moved []stock.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if inv, err = tx.LockInvoice(ctx, id); err != nil {
			return err
		}
		if inv.Type != TypeNormal {
			return fmt.Errorf("%w: cancel it from the counter", ErrCounterDocument)
		}
		if inv.Status == StatusCancelled {
			return ErrCancelled
		}
		if err := requireNoCreditNotes(ctx, tx, inv.ID); err != nil {
			return err
		}
		if moved, err = s.Restore(ctx, tx, &inv, "Annulation"); err != nil {
			return err
		}
		return tx.SetStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.Committed(ctx, moved)
	s.Audit(ctx, "invoice:cancel", "invoice", id, map[string]any{"number": inv.Number, "restocked": len(moved)})
	return s.repo.Get(ctx, id)
}

// Delete removes an invoice and its payments, returning released stock first.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var inv Invoice
	var moved []stock.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if inv, err = tx.LockInvoice(ctx, id); err != nil {
			return err
		}
		if inv.Type != TypeNormal {
			return fmt.Errorf("%w: delete it from the counter", ErrCounterDocument)
		}
		if moved, err = s.DeleteLocked(ctx, tx, &inv); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Committed(ctx, moved)
	s.Audit(ctx, "invoice:delete", "invoice", id, map[string]any{"number": inv.Number, "type": string(inv.Type)})
	return nil
}

// DeleteLocked deletes an invoice already locked by the caller.
func (s *Service) DeleteLocked(ctx context.Context, tx TxRepository, inv *Invoice) ([]stock.Movement, error) {
	if err := requireNoCreditNotes(ctx, tx, inv.ID); err != nil {
		return nil, err
	}
	moved, err := s.Restore(ctx, tx, inv, "Suppression")
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteInvoice(ctx, inv.ID); err != nil {
		return nil, err
	}
	return moved, nil
}

func requireNoCreditNotes(ctx context.Context, tx TxRepository, invoiceID int64) error {
	n, err := tx.CountCreditNotes(ctx, invoiceID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrHasCreditNotes
	}
	return nil
}

// AddPayment records a payment on a NORMAL invoice. The amount may not
// exceed what is due. The first payment releases the stock.
func (s *Service) AddPayment(ctx context.Context, in PaymentInput, idempotencyKey string) (Payment, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	date, err := ParseDate(in.Date, Day(s.now()))
	if err != nil {
		return Payment{}, err
	}
	var p Payment
	var inv Invoice
	var moved []stock.Movement
	run := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			if inv, err = tx.LockInvoice(ctx, in.InvoiceID); err != nil {
				return err
			}
			if inv.Type != TypeNormal {
				return ErrCounterDocument
			}
			if inv.Status == StatusCancelled {
				return ErrCancelled
			}
			if in.Amount.GreaterThan(inv.AmountDue) {
				return fmt.Errorf("%w: due %s, offered %s", ErrOverpayment, inv.AmountDue.StringFixed(2), in.Amount.StringFixed(2))
			}
			moved, p, err = s.settle(ctx, tx, &inv, in.Amount, in.Method, in.Reference, date)
			return err
		})
	}
	if s.idem != nil {
		err = s.idem.Guard(ctx, idempotencyKey, "payments", run)
	} else {
		err = run()
	}
	if err != nil {
		return Payment{}, err
	}
	s.Committed(ctx, moved)
	s.Audit(ctx, "payment:create", "payment", p.ID, map[string]any{"invoice": inv.Number, "amount": p.Amount.String(), "method": p.Method})
	return s.repo.GetPayment(ctx, p.ID)
}

// DeletePayment removes a positive payment from a NORMAL invoice and derives
// the invoice status again. Released stock stays released.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	var p Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if p, err = tx.LockPayment(ctx, id); err != nil {
			return err
		}
		if p.Amount.IsNegative() {
			return ErrRefundPayment
		}
		inv, err := tx.LockInvoice(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Type != TypeNormal {
			return ErrCounterDocument
		}
		if inv.Status == StatusCancelled {
			return ErrCancelled
		}
		if err := tx.DeletePayment(ctx, id); err != nil {
			return err
		}
		return s.Rebalance(ctx, tx, &inv, false)
	})
	if err != nil {
		return err
	}
	s.notify(ctx)
	s.Audit(ctx, "payment:delete", "payment", id, map[string]any{"invoice": p.InvoiceNumber, "amount": p.Amount.String()})
	return nil
}

// settle inserts a payment, re-derives the balance and releases stock on the
// first payment.
func (s *Service) settle(ctx context.Context, tx TxRepository, inv *Invoice, amount decimal.Decimal, method, reference string, date time.Time) ([]stock.Movement, Payment, error) {
	p, err := s.InsertPayment(ctx, tx, inv, amount, method, reference, date)
	if err != nil {
		return nil, Payment{}, err
	}
	if err := s.Rebalance(ctx, tx, inv, false); err != nil {
		return nil, Payment{}, err
	}
	if inv.StockReleased {
		return nil, p, nil
	}
	moved, err := s.Release(ctx, tx, inv, "Facture "+inv.Number)
	return moved, p, err
}

// RequireClient fails with Validation when the client does not exist.
func (s *Service) RequireClient(ctx context.Context, tx TxRepository, id int64) error {
	ok, err := tx.ClientExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %d", ErrClientNotFound, id)
	}
	return nil
}

// PriceLines resolves articles and computes line amounts. Withholding applies
// to service lines only, and only when the document opts in.
func (s *Service) PriceLines(ctx context.Context, tx TxRepository, inputs []LineInput, withholding bool) ([]Line, shared.LineTotals, error) {
	var totals shared.LineTotals
	if len(inputs) == 0 {
		return nil, totals, fmt.Errorf("%w: at least one line required", httpx.ErrValidation)
	}
	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ArticleID)
	}
	refs, err := tx.LookupArticles(ctx, ids)
	if err != nil {
		return nil, totals, err
	}
	hundred := decimal.NewFromInt(100)
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		ref, ok := refs[in.ArticleID]
		if !ok || !ref.Active {
			return nil, totals, fmt.Errorf("%w: line %d article %d", ErrArticleUnavailable, i+1, in.ArticleID)
		}
		if in.Quantity <= 0 {
			return nil, totals, fmt.Errorf("%w: line %d", stock.ErrInvalidQuantity, i+1)
		}
		price := ref.SalePrice
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		if price.IsNegative() {
			return nil, totals, fmt.Errorf("%w: line %d unit price is negative", httpx.ErrValidation, i+1)
		}
		if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) || in.TaxPercent.IsNegative() || in.TaxPercent.GreaterThan(hundred) {
			return nil, totals, fmt.Errorf("%w: line %d percentages must be between 0 and 100", httpx.ErrValidation, i+1)
		}
		t := shared.CalculateLineTotals(in.Quantity, price, in.DiscountPercent, in.TaxPercent, withholding && ref.Service)
		lines = append(lines, Line{
			ArticleID:        ref.ID,
			ArticleCode:      ref.Code,
			Designation:      ref.Designation,
			Service:          ref.Service,
			Quantity:         in.Quantity,
			UnitPrice:        price,
			DiscountPercent:  in.DiscountPercent,
			TaxPercent:       in.TaxPercent,
			TotalHT:          t.HT,
			TotalTax:         t.Tax,
			TotalWithholding: t.Withholding,
			TotalTTC:         t.TTC,
		})
		totals = totals.Add(t)
	}
	return lines, totals, nil
}

// CheckStock verifies, under row locks, that every product line can be
// delivered. Quantities of the same article are summed first.
func (s *Service) CheckStock(ctx context.Context, tx TxRepository, lines []Line) error {
	totals := make(map[int64]int64)
	for _, l := range lines {
		if !l.Service {
			totals[l.ArticleID] += l.Quantity
		}
	}
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		item, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		if err := stock.CheckAvailable(item, totals[id]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTotals copies totals onto a new invoice, which starts fully due.
func ApplyTotals(inv *Invoice, t shared.LineTotals) {
	inv.TotalHT = t.HT
	inv.TotalTax = t.Tax
	inv.TotalWithholding = t.Withholding
	inv.TotalTTC = t.TTC
	b := Reconcile(t.TTC, decimal.Zero, false)
	inv.AmountPaid, inv.AmountDue, inv.Status = b.Paid, b.Due, b.Status
}

// YearlyNumber draws PREFIX-YYYY-NNN from the sequence of the document year.
func (s *Service) YearlyNumber(ctx context.Context, tx TxRepository, scope string, date time.Time) (string, error) {
	seq, err := tx.NextSequence(ctx, scope, date.Year())
	if err != nil {
		return "", err
	}
	return shared.YearlyNumber(scope, date.Year(), seq), nil
}

// StampedNumber draws PREFIX-YYYYMMDDHHMMSS-NNN for counter documents.
func (s *Service) StampedNumber(ctx context.Context, tx TxRepository, scope string) (string, error) {
	at := s.now()
	seq, err := tx.NextSequence(ctx, scope, at.Year())
	if err != nil {
		return "", err
	}
	return shared.StampedNumber(scope, at, seq), nil
}

// InsertPayment numbers and stores a signed payment on inv.
func (s *Service) InsertPayment(ctx context.Context, tx TxRepository, inv *Invoice, amount decimal.Decimal, method, reference string, date time.Time) (Payment, error) {
	number, err := s.YearlyNumber(ctx, tx, shared.ScopePayment, date)
	if err != nil {
		return Payment{}, err
	}
	p := Payment{
		Number:        number,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		Date:          date,
		Amount:        shared.Round2(amount),
		Method:        method,
		Reference:     reference,
		CreatedBy:     shared.ActorID(ctx),
	}
	if p.ID, err = tx.InsertPayment(ctx, p); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// Rebalance derives and stores the invoice balance from its payments.
func (s *Service) Rebalance(ctx context.Context, tx TxRepository, inv *Invoice, pinPaid bool) error {
	sum, err := tx.SumPayments(ctx, inv.ID)
	if err != nil {
		return err
	}
	b := Reconcile(inv.TotalTTC, sum, pinPaid)
	if err := tx.SaveBalance(ctx, inv.ID, b); err != nil {
		return err
	}
	inv.AmountPaid, inv.AmountDue, inv.Status = b.Paid, b.Due, b.Status
	return nil
}

// Release applies the stock effect of an invoice once: sales go out, a
// counter return comes back in.
func (s *Service) Release(ctx context.Context, tx TxRepository, inv *Invoice, reference string) ([]stock.Movement, error) {
	if inv.StockReleased {
		return nil, nil
	}
	direction := stock.DirectionOut
	if inv.Type == TypeReturn {
		direction = stock.DirectionIn
	}
	moved, err := s.post(ctx, tx, inv, direction, reference)
	if err != nil {
		return nil, err
	}
	if err := tx.SetStockReleased(ctx, inv.ID, true); err != nil {
		return nil, err
	}
	inv.StockReleased = true
	return moved, nil
}

// Restore undoes the stock effect of an invoice before it is cancelled or
// deleted. Sales come back in; a counter return goes back out, guarded.
// Nothing happens when the stock was never released or already restored.
func (s *Service) Restore(ctx context.Context, tx TxRepository, inv *Invoice, label string) ([]stock.Movement, error) {
	if !inv.StockReleased || inv.Status == StatusCancelled {
		return nil, nil
	}
	direction := stock.DirectionIn
	if inv.Type == TypeReturn {
		direction = stock.DirectionOut
	}
	moved, err := s.post(ctx, tx, inv, direction, label+" "+inv.Number)
	if err != nil {
		return nil, err
	}
	if err := tx.SetStockReleased(ctx, inv.ID, false); err != nil {
		return nil, err
	}
	inv.StockReleased = false
	return moved, nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, inv *Invoice, direction stock.Direction, reference string) ([]stock.Movement, error) {
	lines := inv.Lines
	if lines == nil {
		var err error
		if lines, err = tx.InvoiceLines(ctx, inv.ID); err != nil {
			return nil, err
		}
	}
	posting := stock.Posting{Direction: direction, Reference: reference, ActorID: shared.ActorID(ctx)}
	for _, l := range lines {
		if l.Service {
			continue
		}
		posting.Lines = append(posting.Lines, stock.Line{ArticleID: l.ArticleID, Quantity: l.Quantity})
	}
	if len(posting.Lines) == 0 {
		return nil, nil
	}
	return s.ledger.Post(ctx, tx, posting)
}

// Restock brings arbitrary lines back into stock, such as the articles
// returned with a credit note. Services are skipped by the ledger.
func (s *Service) Restock(ctx context.Context, tx TxRepository, reference string, lines []stock.Line) ([]stock.Movement, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	return s.ledger.Post(ctx, tx, stock.Posting{Direction: stock.DirectionIn, Reference: reference, ActorID: shared.ActorID(ctx), Lines: lines})
}

// Committed publishes movements and invalidates reported figures once a
// transaction has committed.
func (s *Service) Committed(ctx context.Context, moved []stock.Movement) {
	s.ledger.Committed(moved)
	s.notify(ctx)
}

// Audit writes an audit record, ignoring failures.
func (s *Service) Audit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta})
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) notify(ctx context.Context) {
	if s.notifier != nil {
		_ = s.notifier.Bump(context.WithoutCancel(ctx))
	}
}

func optionalDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := ParseDate(raw, time.Time{})
	if err != nil {
		return nil, err
	}
	return &t, nil
}
