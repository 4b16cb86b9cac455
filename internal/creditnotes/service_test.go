package creditnotes

import (
	"context"
	"fmt"
	"sort"
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

type memoryRepo struct {
	*invoicestest.Memory
	notes map[int64]CreditNote
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{Memory: invoicestest.New(), notes: make(map[int64]CreditNote)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := make(map[int64]CreditNote, len(m.notes))
	for k, v := range m.notes {
		saved[k] = v
	}
	err := m.Atomically(func() error { return fn(ctx, m) })
	if err != nil {
		m.notes = saved
	}
	return err
}

func (m *memoryRepo) InsertNote(ctx context.Context, n CreditNote) (int64, error) {
	n.ID = m.NextID()
	n.CreatedAt = march14
	m.notes[n.ID] = n
	m.CreditNotes[n.InvoiceID]++
	return n.ID, nil
}

func (m *memoryRepo) UpdateNote(ctx context.Context, n CreditNote) error {
	cur := m.notes[n.ID]
	cur.Date, cur.Amount, cur.Reason = n.Date, n.Amount, n.Reason
	m.notes[n.ID] = cur
	return nil
}

func (m *memoryRepo) ReplaceNoteLines(ctx context.Context, noteID int64, lines []Line) error {
	n := m.notes[noteID]
	n.Lines = make([]Line, len(lines))
	for i, l := range lines {
		l.ID = m.NextID()
		l.CreditNoteID = noteID
		n.Lines[i] = l
	}
	m.notes[noteID] = n
	return nil
}

func (m *memoryRepo) LockNote(ctx context.Context, id int64) (CreditNote, error) {
	n, ok := m.notes[id]
	if !ok {
		return CreditNote{}, ErrNotFound
	}
	n.Lines = nil
	return n, nil
}

func (m *memoryRepo) NoteLines(ctx context.Context, id int64) ([]Line, error) {
	return append([]Line(nil), m.notes[id].Lines...), nil
}

func (m *memoryRepo) SetNoteStatus(ctx context.Context, id int64, status Status, processedAt *time.Time) error {
	n := m.notes[id]
	n.Status, n.ProcessedAt = status, processedAt
	m.notes[id] = n
	return nil
}

func (m *memoryRepo) DeleteNote(ctx context.Context, id int64) error {
	m.CreditNotes[m.notes[id].InvoiceID]--
	delete(m.notes, id)
	return nil
}

func (m *memoryRepo) Credited(ctx context.Context, invoiceID, excludeID int64) (Credited, error) {
	out := Credited{Quantities: map[int64]int64{}, Amount: decimal.Zero}
	for _, n := range m.notes {
		if n.InvoiceID != invoiceID || n.ID == excludeID || n.Status == StatusRefused {
			continue
		}
		out.Amount = out.Amount.Add(n.Amount)
		for _, l := range n.Lines {
			out.Quantities[l.ArticleID] += l.Quantity
		}
	}
	return out, nil
}

func (m *memoryRepo) List(ctx context.Context, f ListFilter) ([]CreditNote, int, error) {
	var out []CreditNote
	for _, n := range m.notes {
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if f.InvoiceID > 0 && n.InvoiceID != f.InvoiceID {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (CreditNote, error) {
	n, ok := m.notes[id]
	if !ok {
		return CreditNote{}, ErrNotFound
	}
	return n, nil
}

func (m *memoryRepo) Lines(ctx context.Context, id int64) ([]Line, error) {
	return m.NoteLines(ctx, id)
}

func (m *memoryRepo) PeekSequence(ctx context.Context, year int) (int64, error) {
	return m.Sequences[fmt.Sprintf("%s/%d", shared.ScopeCreditNote, year)] + 1, nil
}

var (
	_ RepositoryPort = (*memoryRepo)(nil)
	_ TxRepository   = (*memoryRepo)(nil)
)

type fixture struct {
	repo    *memoryRepo
	docs    *invoices.Service
	svc     *Service
	client  int64
	laptop  int64
	install int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryRepo()
	f := fixture{repo: repo}
	f.client = repo.AddClient("Garage Moderne")
	f.laptop = repo.AddProduct("ART-0001", 5000, 10)
	f.install = repo.AddService("ART-0002", 10000)
	f.docs = invoices.NewService(repo.Memory, stock.NewLedger(nil), nil, invoices.WithClock(func() time.Time { return march14 }))
	f.svc = NewService(repo, f.docs)
	return f
}

// invoice sells 4 laptops and one installation (TTC 30000).
func (f fixture) invoice(t *testing.T, initial int64) invoices.Invoice {
	t.Helper()
	inv, err := f.docs.Create(context.Background(), invoices.CreateInput{
		ClientID:       f.client,
		InitialPayment: decimal.NewFromInt(initial),
		Lines: []invoices.LineInput{
			{ArticleID: f.laptop, Quantity: 4},
			{ArticleID: f.install, Quantity: 1},
		},
	})
	require.NoError(t, err)
	return inv
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateNumbersAndPricesFromInvoice(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 0)

	next, err := f.svc.NextNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AVO-2026-001", next)

	note, err := f.svc.Create(context.Background(), Input{
		InvoiceID: inv.ID,
		Reason:    "Écran défectueux",
		Lines:     []LineInput{{ArticleID: f.laptop, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, "AVO-2026-001", note.Number)
	require.Equal(t, StatusPending, note.Status)
	require.True(t, dec(10000).Equal(note.Amount))
	require.Len(t, note.Lines, 1)
	require.True(t, dec(5000).Equal(note.Lines[0].UnitPrice))
	require.Equal(t, 1, f.repo.CreditNotes[inv.ID])
}

func TestCreateRejectsWhatCannotBeCredited(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 0)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 3}}})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 2}}})
	require.ErrorIs(t, err, ErrQuantityUnavailable)

	other := f.repo.AddProduct("ART-0003", 100, 5)
	_, err = f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: other, Quantity: 1}}})
	require.ErrorIs(t, err, ErrNotInvoiced)

	_, err = f.svc.Create(ctx, Input{InvoiceID: inv.ID, Amount: dec(20000)})
	require.ErrorIs(t, err, ErrExceedsInvoice)

	_, err = f.svc.Create(ctx, Input{InvoiceID: inv.ID})
	require.ErrorIs(t, err, ErrInvalidAmount)

	require.Len(t, f.repo.notes, 1)
}

func TestValidatePaidInvoiceStaysPaid(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 30000)
	require.Equal(t, invoices.StatusPaid, inv.Status)
	require.Equal(t, int64(6), f.repo.Stock[f.laptop])
	ctx := context.Background()

	note, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Amount: dec(15000), Lines: []LineInput{{ArticleID: f.laptop, Quantity: 2}}})
	require.NoError(t, err)

	out, err := f.svc.Validate(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, out.CreditNote.Status)
	require.NotNil(t, out.CreditNote.ProcessedAt)
	require.Equal(t, invoices.StatusPaid, out.Invoice.Status)
	require.True(t, dec(30000).Equal(out.Invoice.AmountPaid))
	require.True(t, out.Invoice.AmountDue.IsZero())
	require.Equal(t, 1, out.Restocked)

	var refunds []invoices.Payment
	for _, p := range f.repo.Payments {
		if p.Method == invoices.MethodReimbursement {
			refunds = append(refunds, p)
		}
	}
	require.Len(t, refunds, 1)
	require.True(t, dec(-15000).Equal(refunds[0].Amount))
	require.Equal(t, "Remboursement avoir "+note.Number, refunds[0].Reference)

	require.Equal(t, int64(8), f.repo.Stock[f.laptop])
	moved := f.repo.MovementsFor("Retour avoir " + note.Number)
	require.Len(t, moved, 1)
	require.Equal(t, stock.DirectionIn, moved[0].Direction)

	_, err = f.svc.Validate(ctx, note.ID)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Equal(t, int64(8), f.repo.Stock[f.laptop])
}

func TestValidatePartiallyPaidInvoiceReopensBalance(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 20000)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 1}}})
	require.NoError(t, err)
	out, err := f.svc.Validate(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPartiallyPaid, out.Invoice.Status)
	require.True(t, dec(15000).Equal(out.Invoice.AmountPaid))
	require.True(t, dec(15000).Equal(out.Invoice.AmountDue))
}

func TestValidateRejectsRefundBeyondPaid(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 0)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, note.ID)
	require.ErrorIs(t, err, ErrRefundExceedsPaid)
	require.ErrorIs(t, err, httpx.ErrValidation)

	pending, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, pending.Status)
	got, err := f.docs.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPending, got.Status)
	require.True(t, got.AmountPaid.IsZero())
	require.True(t, dec(30000).Equal(got.AmountDue))
	require.Empty(t, f.repo.Payments)
	require.Equal(t, int64(10), f.repo.Stock[f.laptop])

	_, err = f.docs.AddPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Amount: dec(5000), Method: invoices.MethodCash}, "")
	require.NoError(t, err)
	require.Equal(t, int64(6), f.repo.Stock[f.laptop])

	out, err := f.svc.Validate(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPending, out.Invoice.Status)
	require.True(t, out.Invoice.AmountPaid.IsZero())
	require.True(t, dec(30000).Equal(out.Invoice.AmountDue))
	require.Equal(t, 1, out.Restocked)
	require.Equal(t, int64(7), f.repo.Stock[f.laptop])
}

func TestValidateWithoutLinesRestocksInvoiceProducts(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 30000)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Amount: dec(30000)})
	require.NoError(t, err)
	out, err := f.svc.Validate(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, 1, out.Restocked)
	require.Equal(t, int64(10), f.repo.Stock[f.laptop])
}

func TestRefuseAndPendingOnlyChanges(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 0)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 4}}})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, note.ID, Input{InvoiceID: inv.ID, Reason: "Deux seulement", Lines: []LineInput{{ArticleID: f.laptop, Quantity: 2}}})
	require.NoError(t, err)
	require.True(t, dec(10000).Equal(updated.Amount))
	require.Equal(t, "Deux seulement", updated.Reason)

	refused, err := f.svc.Refuse(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefused, refused.Status)

	_, err = f.svc.Validate(ctx, note.ID)
	require.ErrorIs(t, err, ErrRefused)
	_, err = f.svc.Update(ctx, note.ID, Input{InvoiceID: inv.ID, Amount: dec(100)})
	require.ErrorIs(t, err, ErrNotEditable)
	require.ErrorIs(t, f.svc.Delete(ctx, note.ID), ErrNotEditable)

	// a refused note no longer holds quantities
	_, err = f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 4}}})
	require.NoError(t, err)
}

func TestDeletePendingNote(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 0)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Amount: dec(500)})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, note.ID))
	_, err = f.svc.Get(ctx, note.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, f.repo.CreditNotes[inv.ID])
}

func TestCreditNotesBlockInvoiceDeletion(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 0)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Amount: dec(500)})
	require.NoError(t, err)
	require.ErrorIs(t, f.docs.Delete(ctx, inv.ID), invoices.ErrHasCreditNotes)
}

func TestCancelledInvoiceCannotBeCredited(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 0)
	ctx := context.Background()

	_, err := f.docs.Cancel(ctx, inv.ID)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, Input{InvoiceID: inv.ID, Amount: dec(500)})
	require.ErrorIs(t, err, invoices.ErrCancelled)
}

func TestValidatedNoteBlocksInvoiceCancel(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 30000)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, Input{InvoiceID: inv.ID, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 2}}})
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8), f.repo.Stock[f.laptop])

	_, err = f.docs.Cancel(ctx, inv.ID)
	require.ErrorIs(t, err, invoices.ErrHasCreditNotes)
	require.Equal(t, int64(8), f.repo.Stock[f.laptop])
	require.Empty(t, f.repo.MovementsFor("Annulation "+inv.Number))
	got, err := f.docs.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, got.Status)
}

func TestCounterDocumentsCannotBeCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, typ := range []invoices.Type{invoices.TypeCounter, invoices.TypeReturn} {
		id := f.repo.NextID()
		f.repo.Invoices[id] = invoices.Invoice{
			ID: id, Number: string(typ) + "-20260314103000-001", Type: typ, ClientID: f.client,
			Date: invoices.Day(march14), Status: invoices.StatusPaid, StockReleased: true,
			TotalTTC: dec(15000), AmountPaid: dec(15000),
			Lines: []invoices.Line{{ArticleID: f.laptop, Quantity: 3, UnitPrice: dec(5000)}},
		}

		_, err := f.svc.Create(ctx, Input{InvoiceID: id, Lines: []LineInput{{ArticleID: f.laptop, Quantity: 3}}})
		require.ErrorIs(t, err, ErrCounterInvoice, typ)
		_, err = f.svc.Create(ctx, Input{InvoiceID: id, Amount: dec(1000)})
		require.ErrorIs(t, err, ErrCounterInvoice, typ)
	}
	require.Empty(t, f.repo.notes)
	require.Empty(t, f.repo.Payments)
	require.Equal(t, int64(10), f.repo.Stock[f.laptop])
}
