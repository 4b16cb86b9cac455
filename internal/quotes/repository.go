package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/db"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// TxRepository adds the quote statements to the invoice ones so accepting a
// quote and issuing its invoice share one transaction.
type TxRepository interface {
	invoices.TxRepository
	InsertQuote(ctx context.Context, q Quote) (int64, error)
	UpdateQuote(ctx context.Context, q Quote) error
	ReplaceQuoteLines(ctx context.Context, quoteID int64, lines []Line) error
	LockQuote(ctx context.Context, id int64) (Quote, error)
	QuoteLines(ctx context.Context, id int64) ([]Line, error)
	SetQuoteStatus(ctx context.Context, id int64, status Status, invoiceID *int64) error
	DeleteQuote(ctx context.Context, id int64) error
}

// Repository persists quotes in PostgreSQL.
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
		return fn(ctx, &pgTx{TxRepository: invoices.NewTxRepository(tx), tx: tx})
	})
}

type pgTx struct {
	invoices.TxRepository
	tx pgx.Tx
}

func (t *pgTx) InsertQuote(ctx context.Context, q Quote) (int64, error) {
	const query = `INSERT INTO quotes (number, client_id, created_by, quote_date, valid_until, validity_days, description, total_ht, total_tax,
total_withholding, total_ttc, withholding, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, q.Number, q.ClientID, nullableID(q.CreatedBy), q.Date, q.ValidUntil, q.ValidityDays, q.Description,
		q.TotalHT, q.TotalTax, q.TotalWithholding, q.TotalTTC, q.Withholding, string(q.Status)).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateQuote(ctx context.Context, q Quote) error {
	const query = `UPDATE quotes SET client_id = $2, quote_date = $3, valid_until = $4, validity_days = $5, description = $6, total_ht = $7,
total_tax = $8, total_withholding = $9, total_ttc = $10, withholding = $11, updated_at = NOW() WHERE id = $1`
	_, err := t.tx.Exec(ctx, query, q.ID, q.ClientID, q.Date, q.ValidUntil, q.ValidityDays, q.Description, q.TotalHT, q.TotalTax,
		q.TotalWithholding, q.TotalTTC, q.Withholding)
	return err
}

func (t *pgTx) ReplaceQuoteLines(ctx context.Context, quoteID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM quote_lines WHERE quote_id = $1`, quoteID); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	const query = `INSERT INTO quote_lines (quote_id, article_id, quantity, unit_price, discount_percent, tax_percent, total_ht, total_tax,
total_withholding, total_ttc) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(query, quoteID, l.ArticleID, l.Quantity, l.UnitPrice, l.DiscountPercent, l.TaxPercent, l.TotalHT, l.TotalTax, l.TotalWithholding, l.TotalTTC)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) LockQuote(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(t.tx.QueryRow(ctx, `SELECT `+quoteColumns+quoteJoins+` WHERE q.id = $1 FOR UPDATE OF q`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	return q, nil
}

func (t *pgTx) QuoteLines(ctx context.Context, id int64) ([]Line, error) {
	return queryLines(ctx, t.tx, id)
}

func (t *pgTx) SetQuoteStatus(ctx context.Context, id int64, status Status, invoiceID *int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotes SET status = $2, invoice_id = COALESCE($3, invoice_id), updated_at = NOW() WHERE id = $1`,
		id, string(status), invoiceID)
	return err
}

func (t *pgTx) DeleteQuote(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id)
	return err
}

const quoteColumns = `q.id, q.number, q.client_id, c.name, COALESCE(q.created_by, 0), q.quote_date, q.valid_until, q.validity_days, q.description,
q.total_ht, q.total_tax, q.total_withholding, q.total_ttc, q.withholding, q.status, q.invoice_id, q.created_at`

const quoteJoins = ` FROM quotes q JOIN clients c ON c.id = q.client_id`

// List returns quotes newest first with the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Quote, int, error) {
	where, args := quoteWhere(f)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+quoteJoins+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY q.quote_date DESC, q.id DESC LIMIT $%d OFFSET $%d`, quoteColumns, quoteJoins, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, q)
	}
	return out, total, rows.Err()
}

// Get loads one quote with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `SELECT `+quoteColumns+quoteJoins+` WHERE q.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	if q.Lines, err = queryLines(ctx, r.pool, id); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// Lines returns the lines of one quote.
func (r *Repository) Lines(ctx context.Context, id int64) ([]Line, error) {
	return queryLines(ctx, r.pool, id)
}

// PeekSequence previews the next quote sequence for year.
func (r *Repository) PeekSequence(ctx context.Context, year int) (int64, error) {
	return db.PeekSequence(ctx, r.pool, shared.ScopeQuote, year)
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q rowQuerier, quoteID int64) ([]Line, error) {
	const query = `SELECT l.id, l.quote_id, l.article_id, a.code, a.designation, a.kind = 'SERVICE', l.quantity, l.unit_price, l.discount_percent,
l.tax_percent, l.total_ht, l.total_tax, l.total_withholding, l.total_ttc
FROM quote_lines l JOIN articles a ON a.id = l.article_id WHERE l.quote_id = $1 ORDER BY l.id`
	rows, err := q.Query(ctx, query, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.ArticleID, &l.ArticleCode, &l.Designation, &l.Service, &l.Quantity, &l.UnitPrice,
			&l.DiscountPercent, &l.TaxPercent, &l.TotalHT, &l.TotalTax, &l.TotalWithholding, &l.TotalTTC); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func quoteWhere(f ListFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("q.status = $%d", string(f.Status))
	}
	if f.ClientID > 0 {
		add("q.client_id = $%d", f.ClientID)
	}
	if !f.From.IsZero() {
		add("q.quote_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("q.quote_date < $%d", f.To)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		args = append(args, shared.LikePattern(term))
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(LOWER(q.number) LIKE $%d OR c.search_key LIKE $%d)", n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	var status string
	err := row.Scan(&q.ID, &q.Number, &q.ClientID, &q.ClientName, &q.CreatedBy, &q.Date, &q.ValidUntil, &q.ValidityDays, &q.Description,
		&q.TotalHT, &q.TotalTax, &q.TotalWithholding, &q.TotalTTC, &q.Withholding, &status, &q.InvoiceID, &q.CreatedAt)
	q.Status = Status(status)
	return q, err
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
