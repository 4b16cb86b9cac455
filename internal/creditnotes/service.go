package creditnotes

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, f ListFilter) ([]CreditNote, int, error)
	Get(ctx context.Context, id int64) (CreditNote, error)
	Lines(ctx context.Context, id int64) ([]Line, error)
	PeekSequence(ctx context.Context, year int) (int64, error)
}

// Service manages credit notes. Refunds and restocking go through the
// invoice service helpers so balances and stock follow the same rules.
type Service struct {
	repo RepositoryPort
	docs *invoices.Service
}

// NewService builds Service.
func NewService(repo RepositoryPort, docs *invoices.Service) *Service {
	return &Service{repo: repo, docs: docs}
}

// List returns credit notes matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]CreditNote, int, error) {
	return s.repo.List(ctx, f)
}

// Get loads a credit note with its lines.
func (s *Service) Get(ctx context.Context, id int64) (CreditNote, error) {
	return s.repo.Get(ctx, id)
}

// Lines returns the lines of a credit note.
func (s *Service) Lines(ctx context.Context, id int64) ([]Line, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Lines(ctx, id)
}

// NextNumber previews the number the next credit note of the year gets.
func (s *Service) NextNumber(ctx context.Context) (string, error) {
	year := s.docs.Now().Year()
	seq, err := s.repo.PeekSequence(ctx, year)
	if err != nil {
		return "", err
	}
	return shared.YearlyNumber(shared.ScopeCreditNote, year, seq), nil
}

// Create records a pending credit note against an invoice.
func (s *Service) Create(ctx context.Context, in Input) (CreditNote, error) {
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := s.prepare(ctx, tx, in, 0)
		if err != nil {
			return err
		}
		if note.Number, err = s.docs.YearlyNumber(ctx, tx, shared.ScopeCreditNote, note.Date); err != nil {
			return err
		}
		note.Status = StatusPending
		note.CreatedBy = shared.ActorID(ctx)
		if id, err = tx.InsertNote(ctx, note); err != nil {
			return err
		}
		return tx.ReplaceNoteLines(ctx, id, note.Lines)
	})
	if err != nil {
		return CreditNote{}, err
	}
	s.docs.Audit(ctx, "credit_note:create", "credit_note", id, map[string]any{"invoice_id": in.InvoiceID})
	return s.repo.Get(ctx, id)
}

// Update replaces the content of a pending credit note.
func (s *Service) Update(ctx context.Context, id int64, in Input) (CreditNote, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockNote(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return ErrNotEditable
		}
		if in.InvoiceID != current.InvoiceID {
			return fmt.Errorf("%w: a credit note cannot move to another invoice", httpx.ErrValidation)
		}
		note, err := s.prepare(ctx, tx, in, id)
		if err != nil {
			return err
		}
		note.ID = id
		if err := tx.UpdateNote(ctx, note); err != nil {
			return err
		}
		return tx.ReplaceNoteLines(ctx, id, note.Lines)
	})
	if err != nil {
		return CreditNote{}, err
	}
	s.docs.Audit(ctx, "credit_note:update", "credit_note", id, nil)
	return s.repo.Get(ctx, id)
}

// Delete removes a pending credit note.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.LockNote(ctx, id)
		if err != nil {
			return err
		}
		if note.Status != StatusPending {
			return ErrNotEditable
		}
		return tx.DeleteNote(ctx, id)
	})
	if err != nil {
		return err
	}
	s.docs.Audit(ctx, "credit_note:delete", "credit_note", id, nil)
	return nil
}

// Validate processes a pending credit note: the refund is booked as a
// negative payment, the invoice balance is re-derived (a paid invoice stays
// paid) and returned articles come back in stock when the invoice had
// released them. All of it commits together. The refund may not exceed
// what the invoice collected so far.
func (s *Service) Validate(ctx context.Context, id int64) (Outcome, error) {
	var moved []stock.Movement
	var invoiceID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.LockNote(ctx, id)
		if err != nil {
			return err
		}
		switch note.Status {
		case StatusProcessed:
			return ErrAlreadyProcessed
		case StatusRefused:
			return ErrRefused
		}
		inv, err := tx.LockInvoice(ctx, note.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoices.StatusCancelled {
			return invoices.ErrCancelled
		}
		if inv.Type != invoices.TypeNormal {
			return ErrCounterInvoice
		}
		invoiceID = inv.ID
		wasPaid := inv.Status == invoices.StatusPaid

		reference := "Remboursement avoir " + note.Number
		refund := shared.Round2(note.Amount).Neg()
		booked, err := tx.HasPayment(ctx, inv.ID, reference, refund)
		if err != nil {
			return err
		}
		if !booked {
			paid, err := tx.SumPayments(ctx, inv.ID)
			if err != nil {
				return err
			}
			if refund.Neg().GreaterThan(paid) {
				return fmt.Errorf("%w: refund %s, paid %s", ErrRefundExceedsPaid, refund.Neg().StringFixed(2), paid.StringFixed(2))
			}
			if _, err := s.docs.InsertPayment(ctx, tx, &inv, refund, invoices.MethodReimbursement, reference, invoices.Day(s.docs.Now())); err != nil {
				return err
			}
		}
		if err := s.docs.Rebalance(ctx, tx, &inv, wasPaid); err != nil {
			return err
		}
		if inv.StockReleased {
			lines, err := s.returnedLines(ctx, tx, note)
			if err != nil {
				return err
			}
			if moved, err = s.docs.Restock(ctx, tx, "Retour avoir "+note.Number, lines); err != nil {
				return err
			}
		}
		processedAt := s.docs.Now()
		return tx.SetNoteStatus(ctx, note.ID, StatusProcessed, &processedAt)
	})
	if err != nil {
		return Outcome{}, err
	}
	s.docs.Committed(ctx, moved)
	s.docs.Audit(ctx, "credit_note:validate", "credit_note", id, map[string]any{"invoice_id": invoiceID, "restocked": len(moved)})
	note, err := s.repo.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	inv, err := s.docs.Get(ctx, invoiceID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{CreditNote: note, Invoice: inv, Restocked: len(moved)}, nil
}

// Refuse closes a pending credit note without any effect on the invoice.
func (s *Service) Refuse(ctx context.Context, id int64) (CreditNote, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.LockNote(ctx, id)
		if err != nil {
			return err
		}
		switch note.Status {
		case StatusProcessed:
			return ErrAlreadyProcessed
		case StatusRefused:
			return ErrNotEditable
		}
		processedAt := s.docs.Now()
		return tx.SetNoteStatus(ctx, id, StatusRefused, &processedAt)
	})
	if err != nil {
		return CreditNote{}, err
	}
	s.docs.Audit(ctx, "credit_note:refuse", "credit_note", id, nil)
	return s.repo.Get(ctx, id)
}

// returnedLines lists what a validated note brings back: its own lines, or
// the invoice lines when the note was issued on the amount alone.
func (s *Service) returnedLines(ctx context.Context, tx TxRepository, note CreditNote) ([]stock.Line, error) {
	noteLines, err := tx.NoteLines(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	var out []stock.Line
	if len(noteLines) > 0 {
		for _, l := range noteLines {
			out = append(out, stock.Line{ArticleID: l.ArticleID, Quantity: l.Quantity})
		}
		return out, nil
	}
	invLines, err := tx.InvoiceLines(ctx, note.InvoiceID)
	if err != nil {
		return nil, err
	}
	for _, l := range invLines {
		if !l.Service {
			out = append(out, stock.Line{ArticleID: l.ArticleID, Quantity: l.Quantity})
		}
	}
	return out, nil
}

type invoiced struct {
	quantity  int64
	unitPrice decimal.Decimal
}

// prepare checks a credit note request against its invoice and what other
// notes already credit, and prices its lines. excludeID is the note being
// edited, zero on creation.
func (s *Service) prepare(ctx context.Context, tx TxRepository, in Input, excludeID int64) (CreditNote, error) {
	date, err := invoices.ParseDate(in.Date, invoices.Day(s.docs.Now()))
	if err != nil {
		return CreditNote{}, err
	}
	if in.Amount.IsNegative() {
		return CreditNote{}, ErrInvalidAmount
	}
	inv, err := tx.LockInvoice(ctx, in.InvoiceID)
	if err != nil {
		return CreditNote{}, err
	}
	if inv.Status == invoices.StatusCancelled {
		return CreditNote{}, invoices.ErrCancelled
	}
	if inv.Type != invoices.TypeNormal {
		return CreditNote{}, ErrCounterInvoice
	}
	invLines, err := tx.InvoiceLines(ctx, inv.ID)
	if err != nil {
		return CreditNote{}, err
	}
	onInvoice := make(map[int64]invoiced, len(invLines))
	for _, l := range invLines {
		cur := onInvoice[l.ArticleID]
		cur.quantity += l.Quantity
		if l.UnitPrice.GreaterThan(cur.unitPrice) {
			cur.unitPrice = l.UnitPrice
		}
		onInvoice[l.ArticleID] = cur
	}
	credited, err := tx.Credited(ctx, inv.ID, excludeID)
	if err != nil {
		return CreditNote{}, err
	}

	requested := make(map[int64]int64, len(in.Lines))
	lines := make([]Line, 0, len(in.Lines))
	sum := decimal.Zero
	for _, li := range in.Lines {
		if li.Quantity <= 0 {
			return CreditNote{}, fmt.Errorf("%w: article %d", stock.ErrInvalidQuantity, li.ArticleID)
		}
		ref, ok := onInvoice[li.ArticleID]
		if !ok {
			return CreditNote{}, fmt.Errorf("%w: article %d", ErrNotInvoiced, li.ArticleID)
		}
		price := ref.unitPrice
		if li.UnitPrice != nil {
			if li.UnitPrice.IsNegative() {
				return CreditNote{}, fmt.Errorf("%w: negative unit price", httpx.ErrValidation)
			}
			price = *li.UnitPrice
		}
		requested[li.ArticleID] += li.Quantity
		total := shared.Round2(price.Mul(decimal.NewFromInt(li.Quantity)))
		sum = sum.Add(total)
		lines = append(lines, Line{ArticleID: li.ArticleID, Quantity: li.Quantity, UnitPrice: price, Total: total})
	}
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		left := onInvoice[id].quantity - credited.Quantities[id]
		if requested[id] > left {
			return CreditNote{}, fmt.Errorf("%w: article %d requested %d, %d left", ErrQuantityUnavailable, id, requested[id], max(left, 0))
		}
	}

	amount := shared.Round2(in.Amount)
	if amount.IsZero() {
		amount = sum
	}
	if !amount.IsPositive() {
		return CreditNote{}, ErrInvalidAmount
	}
	if credited.Amount.Add(amount).GreaterThan(inv.TotalTTC) {
		return CreditNote{}, fmt.Errorf("%w: %s already credited of %s", ErrExceedsInvoice, credited.Amount.StringFixed(2), inv.TotalTTC.StringFixed(2))
	}
	return CreditNote{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		ClientID:      inv.ClientID,
		ClientName:    inv.ClientName,
		Date:          date,
		Amount:        amount,
		Reason:        in.Reason,
		Lines:         lines,
	}, nil
}
