package quotes

import (
	"context"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, f ListFilter) ([]Quote, int, error)
	Get(ctx context.Context, id int64) (Quote, error)
	Lines(ctx context.Context, id int64) ([]Line, error)
	PeekSequence(ctx context.Context, year int) (int64, error)
}

// Service manages quotes and their conversion into invoices.
type Service struct {
	repo RepositoryPort
	docs *invoices.Service
}

// NewService builds Service.
func NewService(repo RepositoryPort, docs *invoices.Service) *Service {
	return &Service{repo: repo, docs: docs}
}

// List returns quotes matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Quote, int, error) {
	return s.repo.List(ctx, f)
}

// Get loads a quote with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Quote, error) {
	return s.repo.Get(ctx, id)
}

// Lines returns the lines of a quote.
func (s *Service) Lines(ctx context.Context, id int64) ([]Line, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Lines(ctx, id)
}

// NextNumber previews the number of the next quote of the year.
func (s *Service) NextNumber(ctx context.Context) (string, error) {
	year := s.docs.Now().Year()
	seq, err := s.repo.PeekSequence(ctx, year)
	if err != nil {
		return "", err
	}
	return shared.YearlyNumber(shared.ScopeQuote, year, seq), nil
}

// Create prices and stores a pending quote.
func (s *Service) Create(ctx context.Context, in Input) (Quote, error) {
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := s.build(ctx, tx, in)
		if err != nil {
			return err
		}
		if q.Number, err = s.docs.YearlyNumber(ctx, tx, shared.ScopeQuote, q.Date); err != nil {
			return err
		}
		q.Status = StatusPending
		q.CreatedBy = shared.ActorID(ctx)
		if id, err = tx.InsertQuote(ctx, q); err != nil {
			return err
		}
		return tx.ReplaceQuoteLines(ctx, id, q.Lines)
	})
	if err != nil {
		return Quote{}, err
	}
	s.docs.Audit(ctx, "quote:create", "quote", id, map[string]any{"client_id": in.ClientID})
	return s.repo.Get(ctx, id)
}

// Update reprices a pending quote.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Quote, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockQuote(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return ErrNotPending
		}
		q, err := s.build(ctx, tx, in)
		if err != nil {
			return err
		}
		q.ID = id
		if err := tx.UpdateQuote(ctx, q); err != nil {
			return err
		}
		return tx.ReplaceQuoteLines(ctx, id, q.Lines)
	})
	if err != nil {
		return Quote{}, err
	}
	s.docs.Audit(ctx, "quote:update", "quote", id, nil)
	return s.repo.Get(ctx, id)
}

// Cancel marks a pending quote as cancelled. The row is kept.
func (s *Service) Cancel(ctx context.Context, id int64) (Quote, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.LockQuote(ctx, id)
		if err != nil {
			return err
		}
		if q.Status != StatusPending {
			return ErrNotPending
		}
		return tx.SetQuoteStatus(ctx, id, StatusCancelled, nil)
	})
	if err != nil {
		return Quote{}, err
	}
	s.docs.Audit(ctx, "quote:cancel", "quote", id, nil)
	return s.repo.Get(ctx, id)
}

// Delete removes a quote that never became an invoice.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.LockQuote(ctx, id)
		if err != nil {
			return err
		}
		if q.Status == StatusAccepted {
			return ErrAccepted
		}
		return tx.DeleteQuote(ctx, id)
	})
	if err != nil {
		return err
	}
	s.docs.Audit(ctx, "quote:delete", "quote", id, nil)
	return nil
}

// Accept issues an unpaid NORMAL invoice carrying the quote lines and
// totals, due invoiceTerm days later, and marks the quote accepted.
func (s *Service) Accept(ctx context.Context, id int64) (Accepted, error) {
	var invoiceID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.LockQuote(ctx, id)
		if err != nil {
			return err
		}
		if q.Status != StatusPending {
			return ErrNotPending
		}
		lines, err := tx.QuoteLines(ctx, id)
		if err != nil {
			return err
		}
		today := invoices.Day(s.docs.Now())
		due := today.AddDate(0, 0, invoiceTerm)
		number, err := s.docs.YearlyNumber(ctx, tx, shared.ScopeInvoice, today)
		if err != nil {
			return err
		}
		createdBy := q.CreatedBy
		if createdBy == 0 {
			createdBy = shared.ActorID(ctx)
		}
		description := q.Description
		if description == "" {
			description = "Facture issue du devis " + q.Number
		}
		quoteID := q.ID
		inv := invoices.Invoice{
			Number:      number,
			Type:        invoices.TypeNormal,
			ClientID:    q.ClientID,
			QuoteID:     &quoteID,
			CreatedBy:   createdBy,
			Date:        today,
			DueDate:     &due,
			Withholding: q.Withholding,
			Description: description,
			Lines:       toInvoiceLines(lines),
		}
		invoices.ApplyTotals(&inv, shared.LineTotals{HT: q.TotalHT, Tax: q.TotalTax, Withholding: q.TotalWithholding, TTC: q.TotalTTC})
		if invoiceID, err = tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.SetQuoteStatus(ctx, id, StatusAccepted, &invoiceID)
	})
	if err != nil {
		return Accepted{}, err
	}
	s.docs.Committed(ctx, nil)
	s.docs.Audit(ctx, "quote:accept", "quote", id, map[string]any{"invoice_id": invoiceID})
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return Accepted{}, err
	}
	inv, err := s.docs.Get(ctx, invoiceID)
	if err != nil {
		return Accepted{}, err
	}
	return Accepted{Quote: q, Invoice: inv}, nil
}

func (s *Service) build(ctx context.Context, tx TxRepository, in Input) (Quote, error) {
	date, err := invoices.ParseDate(in.Date, invoices.Day(s.docs.Now()))
	if err != nil {
		return Quote{}, err
	}
	if err := s.docs.RequireClient(ctx, tx, in.ClientID); err != nil {
		return Quote{}, err
	}
	lines, totals, err := s.docs.PriceLines(ctx, tx, in.Lines, in.Withholding)
	if err != nil {
		return Quote{}, err
	}
	days := in.ValidityDays
	if days <= 0 {
		days = defaultValidityDays
	}
	return Quote{
		ClientID:         in.ClientID,
		Date:             date,
		ValidUntil:       date.AddDate(0, 0, days),
		ValidityDays:     days,
		Description:      in.Description,
		TotalHT:          totals.HT,
		TotalTax:         totals.Tax,
		TotalWithholding: totals.Withholding,
		TotalTTC:         totals.TTC,
		Withholding:      in.Withholding,
		Lines:            fromInvoiceLines(lines),
	}, nil
}
