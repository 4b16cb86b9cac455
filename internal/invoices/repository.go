package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/platform/db"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

// TxRepository exposes invoice statements bound to one transaction. Other
// sales modules embed it to write invoices atomically with their own rows.
type TxRepository interface {
	stock.TxStore
	NextSequence(ctx context.Context, scope string, year int) (int64, error)
	ClientExists(ctx context.Context, id int64) (bool, error)
	LookupArticles(ctx context.Context, ids []int64) (map[int64]ArticleRef, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	ReplaceLines(ctx context.Context, invoiceID int64, lines []Line) error
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	InvoiceLines(ctx context.Context, id int64) ([]Line, error)
	SaveBalance(ctx context.Context, id int64, b Balance) error
	SetStockReleased(ctx context.Context, id int64, released bool) error
	SetStatus(ctx context.Context, id int64, status Status) error
	DeleteInvoice(ctx context.Context, id int64) error
	CountCreditNotes(ctx context.Context, invoiceID int64) (int, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	LockPayment(ctx context.Context, id int64) (Payment, error)
	DeletePayment(ctx context.Context, id int64) error
	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	CountPayments(ctx context.Context, invoiceID int64) (int, error)
	HasPayment(ctx context.Context, invoiceID int64, reference string, amount decimal.Decimal) (bool, error)
}

// Repository persists invoices and payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds the invoice and stock statements to tx.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &pgTx{TxStore: stock.NewTxStore(tx), tx: tx}
}

type pgTx struct {
	stock.TxStore
	tx pgx.Tx
}

func (t *pgTx) NextSequence(ctx context.Context, scope string, year int) (int64, error) {
	return db.NextSequence(ctx, t.tx, scope, year)
}

func (t *pgTx) ClientExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (t *pgTx) LookupArticles(ctx context.Context, ids []int64) (map[int64]ArticleRef, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, code, designation, kind = 'SERVICE', sale_price, active FROM articles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]ArticleRef, len(ids))
	for rows.Next() {
		var a ArticleRef
		if err := rows.Scan(&a.ID, &a.Code, &a.Designation, &a.Service, &a.SalePrice, &a.Active); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	const query = `INSERT INTO invoices (number, type, client_id, quote_id, created_by, invoice_date, due_date, total_ht, total_tax, total_withholding,
total_ttc, amount_paid, amount_due, withholding, status, payment_method, description, notes, stock_released)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, inv.Number, string(inv.Type), inv.ClientID, inv.QuoteID, nullableID(inv.CreatedBy), inv.Date, inv.DueDate,
		inv.TotalHT, inv.TotalTax, inv.TotalWithholding, inv.TotalTTC, inv.AmountPaid, inv.AmountDue, inv.Withholding, string(inv.Status),
		inv.PaymentMethod, inv.Description, inv.Notes, inv.StockReleased).Scan(&id)
	if err != nil {
		return 0, err
	}
	if err := t.ReplaceLines(ctx, id, inv.Lines); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *pgTx) UpdateInvoice(ctx context.Context, inv Invoice) error {
	const query = `UPDATE invoices SET client_id = $2, invoice_date = $3, due_date = $4, total_ht = $5, total_tax = $6, total_withholding = $7,
total_ttc = $8, amount_paid = $9, amount_due = $10, withholding = $11, payment_method = $12, description = $13, notes = $14, updated_at = NOW()
WHERE id = $1`
	_, err := t.tx.Exec(ctx, query, inv.ID, inv.ClientID, inv.Date, inv.DueDate, inv.TotalHT, inv.TotalTax, inv.TotalWithholding, inv.TotalTTC,
		inv.AmountPaid, inv.AmountDue, inv.Withholding, inv.PaymentMethod, inv.Description, inv.Notes)
	return err
}

func (t *pgTx) ReplaceLines(ctx context.Context, invoiceID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return err
	}
	const query = `INSERT INTO invoice_lines (invoice_id, article_id, quantity, unit_price, discount_percent, tax_percent, total_ht, total_tax, total_withholding, total_ttc)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(query, invoiceID, l.ArticleID, l.Quantity, l.UnitPrice, l.DiscountPercent, l.TaxPercent, l.TotalHT, l.TotalTax, l.TotalWithholding, l.TotalTTC)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices i JOIN clients c ON c.id = i.client_id WHERE i.id = $1 FOR UPDATE OF i`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (t *pgTx) InvoiceLines(ctx context.Context, id int64) ([]Line, error) {
	return queryLines(ctx, t.tx, id)
}

func (t *pgTx) SaveBalance(ctx context.Context, id int64, b Balance) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET amount_paid = $2, amount_due = $3, status = $4, updated_at = NOW() WHERE id = $1`, id, b.Paid, b.Due, string(b.Status))
	return err
}

func (t *pgTx) SetStockReleased(ctx context.Context, id int64, released bool) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET stock_released = $2, updated_at = NOW() WHERE id = $1`, id, released)
	return err
}

func (t *pgTx) SetStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

func (t *pgTx) DeleteInvoice(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	return err
}

func (t *pgTx) CountCreditNotes(ctx context.Context, invoiceID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM credit_notes WHERE invoice_id = $1`, invoiceID).Scan(&n)
	return n, err
}

func (t *pgTx) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	const query = `INSERT INTO payments (number, invoice_id, payment_date, amount, method, reference, created_by) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, p.Number, p.InvoiceID, p.Date, p.Amount, p.Method, p.Reference, nullableID(p.CreatedBy)).Scan(&id)
	return id, err
}

func (t *pgTx) LockPayment(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p JOIN invoices i ON i.id = p.invoice_id JOIN clients c ON c.id = i.client_id
WHERE p.id = $1 FOR UPDATE OF p`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (t *pgTx) DeletePayment(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	return err
}

func (t *pgTx) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	return sum, err
}

func (t *pgTx) CountPayments(ctx context.Context, invoiceID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&n)
	return n, err
}

func (t *pgTx) HasPayment(ctx context.Context, invoiceID int64, reference string, amount decimal.Decimal) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE invoice_id = $1 AND reference = $2 AND amount = $3)`, invoiceID, reference, amount).Scan(&ok)
	return ok, err
}

const invoiceColumns = `i.id, i.number, i.type, i.client_id, c.name, i.quote_id, COALESCE(i.created_by, 0), i.invoice_date, i.due_date,
i.total_ht, i.total_tax, i.total_withholding, i.total_ttc, i.amount_paid, i.amount_due, i.withholding, i.status, i.payment_method,
i.description, i.notes, i.stock_released, i.created_at`

const paymentColumns = `p.id, p.number, p.invoice_id, i.number, c.name, p.payment_date, p.amount, p.method, p.reference, COALESCE(p.created_by, 0), p.created_at`

// List returns invoices newest first with the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Invoice, int, error) {
	where, args := invoiceWhere(f)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices i JOIN clients c ON c.id = i.client_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM invoices i JOIN clients c ON c.id = i.client_id%s ORDER BY i.invoice_date DESC, i.id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// Get loads an invoice with its lines and payments.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices i JOIN clients c ON c.id = i.client_id WHERE i.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	if inv.Lines, err = queryLines(ctx, r.pool, id); err != nil {
		return Invoice{}, err
	}
	inv.Payments, _, err = r.ListPayments(ctx, PaymentFilter{InvoiceID: id, Limit: 500})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// Lines returns the lines of an invoice.
func (r *Repository) Lines(ctx context.Context, id int64) ([]Line, error) {
	return queryLines(ctx, r.pool, id)
}

// ListPayments returns payments newest first with the total match count.
func (r *Repository) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, int, error) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.InvoiceID > 0 {
		add("p.invoice_id = $%d", f.InvoiceID)
	}
	if f.Method != "" {
		add("p.method = $%d", f.Method)
	}
	if !f.From.IsZero() {
		add("p.payment_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("p.payment_date < $%d", f.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	const from = ` FROM payments p JOIN invoices i ON i.id = p.invoice_id JOIN clients c ON c.id = i.client_id`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY p.payment_date DESC, p.id DESC LIMIT $%d OFFSET $%d`, paymentColumns, from, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// GetPayment loads one payment.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p JOIN invoices i ON i.id = p.invoice_id
JOIN clients c ON c.id = i.client_id WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

// AvailableArticles lists, per article of the invoice, the quantity not yet
// covered by a pending or processed credit note.
func (r *Repository) AvailableArticles(ctx context.Context, invoiceID int64) ([]AvailableArticle, error) {
	const query = `WITH invoiced AS (
    SELECT l.article_id, SUM(l.quantity) AS qty, MAX(l.unit_price) AS unit_price
    FROM invoice_lines l WHERE l.invoice_id = $1 GROUP BY l.article_id
), credited AS (
    SELECT cl.article_id, SUM(cl.quantity) AS qty
    FROM credit_note_lines cl JOIN credit_notes cn ON cn.id = cl.credit_note_id
    WHERE cn.invoice_id = $1 AND cn.status <> 'REFUSE' GROUP BY cl.article_id
)
SELECT a.id, a.code, a.designation, a.kind = 'SERVICE', inv.unit_price, inv.qty, COALESCE(cr.qty, 0)
FROM invoiced inv JOIN articles a ON a.id = inv.article_id LEFT JOIN credited cr ON cr.article_id = inv.article_id
ORDER BY a.designation`
	rows, err := r.pool.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AvailableArticle
	for rows.Next() {
		var a AvailableArticle
		if err := rows.Scan(&a.ArticleID, &a.Code, &a.Designation, &a.Service, &a.UnitPrice, &a.Invoiced, &a.Credited); err != nil {
			return nil, err
		}
		a.Available = a.Invoiced - a.Credited
		if a.Available < 0 {
			a.Available = 0
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q rowQuerier, invoiceID int64) ([]Line, error) {
	const query = `SELECT l.id, l.invoice_id, l.article_id, a.code, a.designation, a.kind = 'SERVICE', l.quantity, l.unit_price, l.discount_percent,
l.tax_percent, l.total_ht, l.total_tax, l.total_withholding, l.total_ttc
FROM invoice_lines l JOIN articles a ON a.id = l.article_id WHERE l.invoice_id = $1 ORDER BY l.id`
	rows, err := q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ArticleID, &l.ArticleCode, &l.Designation, &l.Service, &l.Quantity, &l.UnitPrice,
			&l.DiscountPercent, &l.TaxPercent, &l.TotalHT, &l.TotalTax, &l.TotalWithholding, &l.TotalTTC); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func invoiceWhere(f ListFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Type != "" {
		add("i.type = $%d", string(f.Type))
	}
	if f.Counter {
		clauses = append(clauses, "i.type IN ('COMPTOIR', 'RETOUR')")
	}
	if f.Status != "" {
		add("i.status = $%d", string(f.Status))
	}
	if f.ClientID > 0 {
		add("i.client_id = $%d", f.ClientID)
	}
	if !f.From.IsZero() {
		add("i.invoice_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("i.invoice_date < $%d", f.To)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		args = append(args, shared.LikePattern(term))
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(LOWER(i.number) LIKE $%d OR c.search_key LIKE $%d)", n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var typ, status string
	err := row.Scan(&inv.ID, &inv.Number, &typ, &inv.ClientID, &inv.ClientName, &inv.QuoteID, &inv.CreatedBy, &inv.Date, &inv.DueDate,
		&inv.TotalHT, &inv.TotalTax, &inv.TotalWithholding, &inv.TotalTTC, &inv.AmountPaid, &inv.AmountDue, &inv.Withholding, &status,
		&inv.PaymentMethod, &inv.Description, &inv.Notes, &inv.StockReleased, &inv.CreatedAt)
	inv.Type = Type(typ)
	inv.Status = Status(status)
	return inv, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.Number, &p.InvoiceID, &p.InvoiceNumber, &p.ClientName, &p.Date, &p.Amount, &p.Method, &p.Reference, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
