// Package invoicestest provides an in-memory invoice store for service tests
// of the sales modules.
package invoicestest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

// Memory implements invoices.RepositoryPort and invoices.TxRepository.
type Memory struct {
	Articles  map[int64]invoices.ArticleRef
	Stock     map[int64]int64
	Clients   map[int64]string
	Invoices  map[int64]invoices.Invoice
	Payments  map[int64]invoices.Payment
	Movements []stock.Movement
	// CreditNotes counts credit notes per invoice id.
	CreditNotes map[int64]int
	// Credited holds credited quantities per invoice then article.
	Credited  map[int64]map[int64]int64
	Sequences map[string]int64

	lastID int64
}

// New returns an empty store.
func New() *Memory {
	return &Memory{
		Articles:    make(map[int64]invoices.ArticleRef),
		Stock:       make(map[int64]int64),
		Clients:     make(map[int64]string),
		Invoices:    make(map[int64]invoices.Invoice),
		Payments:    make(map[int64]invoices.Payment),
		CreditNotes: make(map[int64]int),
		Credited:    make(map[int64]map[int64]int64),
		Sequences:   make(map[string]int64),
	}
}

// NextID hands out ids shared by every kind of row.
func (m *Memory) NextID() int64 {
	m.lastID++
	return m.lastID
}

// AddClient registers a client and returns its id.
func (m *Memory) AddClient(name string) int64 {
	id := m.NextID()
	m.Clients[id] = name
	return id
}

// AddProduct registers an active stocked article.
func (m *Memory) AddProduct(code string, price int64, qty int64) int64 {
	id := m.NextID()
	m.Articles[id] = invoices.ArticleRef{ID: id, Code: code, Designation: code, SalePrice: decimal.NewFromInt(price), Active: true}
	m.Stock[id] = qty
	return id
}

// AddService registers an active service article.
func (m *Memory) AddService(code string, price int64) int64 {
	id := m.NextID()
	m.Articles[id] = invoices.ArticleRef{ID: id, Code: code, Designation: code, Service: true, SalePrice: decimal.NewFromInt(price), Active: true}
	return id
}

// Atomically runs fn and restores the previous state when it fails.
func (m *Memory) Atomically(fn func() error) error {
	saved := m.clone()
	if err := fn(); err != nil {
		*m = saved
		return err
	}
	return nil
}

func (m *Memory) clone() Memory {
	c := *m
	c.Articles = copyMap(m.Articles)
	c.Stock = copyMap(m.Stock)
	c.Clients = copyMap(m.Clients)
	c.Invoices = copyMap(m.Invoices)
	c.Payments = copyMap(m.Payments)
	c.CreditNotes = copyMap(m.CreditNotes)
	c.Sequences = copyMap(m.Sequences)
	c.Credited = make(map[int64]map[int64]int64, len(m.Credited))
	for k, v := range m.Credited {
		c.Credited[k] = copyMap(v)
	}
	c.Movements = append([]stock.Movement(nil), m.Movements...)
	return c
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// WithTx runs fn against the store itself.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, invoices.TxRepository) error) error {
	return m.Atomically(func() error { return fn(ctx, m) })
}

// MovementsFor returns movements whose reference matches ref.
func (m *Memory) MovementsFor(ref string) []stock.Movement {
	var out []stock.Movement
	for _, mv := range m.Movements {
		if mv.Reference == ref {
			out = append(out, mv)
		}
	}
	return out
}

func (m *Memory) LockItem(ctx context.Context, id int64) (stock.Item, error) {
	a, ok := m.Articles[id]
	if !ok {
		return stock.Item{}, stock.ErrArticleNotFound
	}
	return stock.Item{ArticleID: id, Code: a.Code, Designation: a.Designation, Tracked: !a.Service, Active: a.Active, Stock: m.Stock[id]}, nil
}

func (m *Memory) SetStock(ctx context.Context, id, qty int64) error {
	m.Stock[id] = qty
	return nil
}

func (m *Memory) InsertMovement(ctx context.Context, mv stock.Movement) (int64, error) {
	mv.ID = m.NextID()
	m.Movements = append(m.Movements, mv)
	return mv.ID, nil
}

func (m *Memory) NextSequence(ctx context.Context, scope string, year int) (int64, error) {
	key := fmt.Sprintf("%s/%d", scope, year)
	m.Sequences[key]++
	return m.Sequences[key], nil
}

func (m *Memory) ClientExists(ctx context.Context, id int64) (bool, error) {
	_, ok := m.Clients[id]
	return ok, nil
}

func (m *Memory) LookupArticles(ctx context.Context, ids []int64) (map[int64]invoices.ArticleRef, error) {
	out := make(map[int64]invoices.ArticleRef, len(ids))
	for _, id := range ids {
		if a, ok := m.Articles[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (m *Memory) InsertInvoice(ctx context.Context, inv invoices.Invoice) (int64, error) {
	for _, existing := range m.Invoices {
		if existing.Number == inv.Number {
			return 0, fmt.Errorf("duplicate invoice number %s", inv.Number)
		}
	}
	inv.ID = m.NextID()
	inv.ClientName = m.Clients[inv.ClientID]
	m.Invoices[inv.ID] = inv
	return inv.ID, m.ReplaceLines(ctx, inv.ID, inv.Lines)
}

func (m *Memory) UpdateInvoice(ctx context.Context, inv invoices.Invoice) error {
	cur, ok := m.Invoices[inv.ID]
	if !ok {
		return invoices.ErrNotFound
	}
	cur.ClientID, cur.ClientName = inv.ClientID, m.Clients[inv.ClientID]
	cur.Date, cur.DueDate = inv.Date, inv.DueDate
	cur.TotalHT, cur.TotalTax, cur.TotalWithholding, cur.TotalTTC = inv.TotalHT, inv.TotalTax, inv.TotalWithholding, inv.TotalTTC
	cur.AmountPaid, cur.AmountDue = inv.AmountPaid, inv.AmountDue
	cur.Withholding, cur.PaymentMethod, cur.Description, cur.Notes = inv.Withholding, inv.PaymentMethod, inv.Description, inv.Notes
	m.Invoices[inv.ID] = cur
	return nil
}

func (m *Memory) ReplaceLines(ctx context.Context, invoiceID int64, lines []invoices.Line) error {
	inv := m.Invoices[invoiceID]
	inv.Lines = make([]invoices.Line, len(lines))
	for i, l := range lines {
		l.ID = m.NextID()
		l.InvoiceID = invoiceID
		inv.Lines[i] = l
	}
	m.Invoices[invoiceID] = inv
	return nil
}

func (m *Memory) LockInvoice(ctx context.Context, id int64) (invoices.Invoice, error) {
	inv, ok := m.Invoices[id]
	if !ok {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	inv.Lines, inv.Payments = nil, nil
	return inv, nil
}

func (m *Memory) InvoiceLines(ctx context.Context, id int64) ([]invoices.Line, error) {
	return append([]invoices.Line(nil), m.Invoices[id].Lines...), nil
}

func (m *Memory) SaveBalance(ctx context.Context, id int64, b invoices.Balance) error {
	inv := m.Invoices[id]
	inv.AmountPaid, inv.AmountDue, inv.Status = b.Paid, b.Due, b.Status
	m.Invoices[id] = inv
	return nil
}

func (m *Memory) SetStockReleased(ctx context.Context, id int64, released bool) error {
	inv := m.Invoices[id]
	inv.StockReleased = released
	m.Invoices[id] = inv
	return nil
}

func (m *Memory) SetStatus(ctx context.Context, id int64, status invoices.Status) error {
	inv := m.Invoices[id]
	inv.Status = status
	m.Invoices[id] = inv
	return nil
}

func (m *Memory) DeleteInvoice(ctx context.Context, id int64) error {
	delete(m.Invoices, id)
	for pid, p := range m.Payments {
		if p.InvoiceID == id {
			delete(m.Payments, pid)
		}
	}
	return nil
}

func (m *Memory) CountCreditNotes(ctx context.Context, invoiceID int64) (int, error) {
	return m.CreditNotes[invoiceID], nil
}

func (m *Memory) InsertPayment(ctx context.Context, p invoices.Payment) (int64, error) {
	inv, ok := m.Invoices[p.InvoiceID]
	if !ok {
		return 0, invoices.ErrNotFound
	}
	p.ID = m.NextID()
	p.InvoiceNumber, p.ClientName = inv.Number, inv.ClientName
	m.Payments[p.ID] = p
	return p.ID, nil
}

func (m *Memory) LockPayment(ctx context.Context, id int64) (invoices.Payment, error) {
	p, ok := m.Payments[id]
	if !ok {
		return invoices.Payment{}, invoices.ErrPaymentNotFound
	}
	return p, nil
}

func (m *Memory) DeletePayment(ctx context.Context, id int64) error {
	delete(m.Payments, id)
	return nil
}

func (m *Memory) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range m.Payments {
		if p.InvoiceID == invoiceID {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	n := 0
	for _, p := range m.Payments {
		if p.InvoiceID == invoiceID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) HasPayment(ctx context.Context, invoiceID int64, reference string, amount decimal.Decimal) (bool, error) {
	for _, p := range m.Payments {
		if p.InvoiceID == invoiceID && p.Reference == reference && p.Amount.Equal(amount) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) List(ctx context.Context, f invoices.ListFilter) ([]invoices.Invoice, int, error) {
	var out []invoices.Invoice
	for _, inv := range m.Invoices {
		if f.Type != "" && inv.Type != f.Type {
			continue
		}
		if f.Counter && inv.Type == invoices.TypeNormal {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.ClientID > 0 && inv.ClientID != f.ClientID {
			continue
		}
		if !f.From.IsZero() && inv.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !inv.Date.Before(f.To) {
			continue
		}
		if f.Search != "" && !strings.Contains(inv.Number, f.Search) {
			continue
		}
		inv.Lines = nil
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *Memory) Get(ctx context.Context, id int64) (invoices.Invoice, error) {
	inv, ok := m.Invoices[id]
	if !ok {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	inv.Lines = append([]invoices.Line(nil), inv.Lines...)
	inv.Payments, _, _ = m.ListPayments(ctx, invoices.PaymentFilter{InvoiceID: id})
	return inv, nil
}

func (m *Memory) Lines(ctx context.Context, id int64) ([]invoices.Line, error) {
	return m.InvoiceLines(ctx, id)
}

func (m *Memory) ListPayments(ctx context.Context, f invoices.PaymentFilter) ([]invoices.Payment, int, error) {
	var out []invoices.Payment
	for _, p := range m.Payments {
		if f.InvoiceID > 0 && p.InvoiceID != f.InvoiceID {
			continue
		}
		if f.Method != "" && p.Method != f.Method {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *Memory) GetPayment(ctx context.Context, id int64) (invoices.Payment, error) {
	return m.LockPayment(ctx, id)
}

func (m *Memory) AvailableArticles(ctx context.Context, invoiceID int64) ([]invoices.AvailableArticle, error) {
	byArticle := make(map[int64]*invoices.AvailableArticle)
	var order []int64
	for _, l := range m.Invoices[invoiceID].Lines {
		a, ok := byArticle[l.ArticleID]
		if !ok {
			ref := m.Articles[l.ArticleID]
			a = &invoices.AvailableArticle{ArticleID: l.ArticleID, Code: ref.Code, Designation: ref.Designation, Service: ref.Service, UnitPrice: l.UnitPrice}
			byArticle[l.ArticleID] = a
			order = append(order, l.ArticleID)
		}
		a.Invoiced += l.Quantity
	}
	out := make([]invoices.AvailableArticle, 0, len(order))
	for _, id := range order {
		a := byArticle[id]
		a.Credited = m.Credited[invoiceID][id]
		a.Available = max(a.Invoiced-a.Credited, 0)
		out = append(out, *a)
	}
	return out, nil
}

var (
	_ invoices.RepositoryPort = (*Memory)(nil)
	_ invoices.TxRepository   = (*Memory)(nil)
)
