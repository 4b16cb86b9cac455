package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository runs the read-only aggregate queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Counts returns the entity counters of the dashboard.
func (r *Repository) Counts(ctx context.Context) (Counts, error) {
	const query = `SELECT
    (SELECT COUNT(*) FROM clients),
    (SELECT COUNT(*) FROM articles),
    (SELECT COUNT(*) FROM invoices WHERE type = 'NORMAL'),
    (SELECT COUNT(*) FROM invoices WHERE type = 'COMPTOIR'),
    (SELECT COUNT(*) FROM quotes),
    (SELECT COUNT(*) FROM payments),
    (SELECT COUNT(*) FROM credit_notes)`
	var c Counts
	err := r.pool.QueryRow(ctx, query).Scan(&c.Clients, &c.Articles, &c.Invoices, &c.CounterSales, &c.Quotes, &c.Payments, &c.CreditNotes)
	return c, err
}

// Revenue sums net revenue of invoices dated in [from, to). Zero bounds are open.
func (r *Repository) Revenue(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	where, args := dateWhere("invoice_date", from, to)
	query := `SELECT COALESCE(SUM(` + revenueExpr + `), 0) FROM invoices WHERE ` + revenueFilter + where
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, query, args...).Scan(&total)
	return total, err
}

// Receivables sums what remains due on live invoices.
func (r *Repository) Receivables(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount_due), 0) FROM invoices WHERE `+receivableFilter).Scan(&total)
	return total, err
}

// MonthlyRevenue returns the revenue of year grouped by month and channel.
func (r *Repository) MonthlyRevenue(ctx context.Context, year int) ([]MonthRevenue, error) {
	const query = `SELECT EXTRACT(MONTH FROM invoice_date)::int AS month,
    COALESCE(SUM(` + revenueExpr + `) FILTER (WHERE type <> 'NORMAL'), 0),
    COALESCE(SUM(` + revenueExpr + `) FILTER (WHERE type = 'NORMAL'), 0),
    COALESCE(SUM(` + revenueExpr + `), 0)
FROM invoices
WHERE ` + revenueFilter + ` AND invoice_date >= $1 AND invoice_date < $2
GROUP BY month ORDER BY month`
	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	rows, err := r.pool.Query(ctx, query, from, from.AddDate(1, 0, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthRevenue
	for rows.Next() {
		var m MonthRevenue
		if err := rows.Scan(&m.Month, &m.Counter, &m.Normal, &m.Total); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentActivity merges invoices and quotes dated since, newest first.
func (r *Repository) RecentActivity(ctx context.Context, since time.Time, limit int) ([]Activity, error) {
	const query = `SELECT kind, number, client_name, amount, day, status FROM (
    SELECT 'invoice' AS kind, i.number, COALESCE(c.name, '') AS client_name, i.total_ttc AS amount, i.invoice_date AS day, i.status, i.id
    FROM invoices i LEFT JOIN clients c ON c.id = i.client_id WHERE i.invoice_date >= $1
    UNION ALL
    SELECT 'quote', q.number, COALESCE(c.name, ''), q.total_ttc, q.quote_date, q.status, q.id
    FROM quotes q LEFT JOIN clients c ON c.id = q.client_id WHERE q.quote_date >= $1
) feed ORDER BY day DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.Kind, &a.Number, &a.ClientName, &a.Amount, &a.Date, &a.Status); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SalesCount counts live invoices dated in [from, to).
func (r *Repository) SalesCount(ctx context.Context, from, to time.Time) (int64, error) {
	where, args := dateWhere("invoice_date", from, to)
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE status <> 'CANCELLED'`+where, args...).Scan(&n)
	return n, err
}

// RevenueByDay returns net revenue per invoice day in [from, to).
func (r *Repository) RevenueByDay(ctx context.Context, from, to time.Time) ([]DayRevenue, error) {
	where, args := dateWhere("invoice_date", from, to)
	query := `SELECT invoice_date, COALESCE(SUM(` + revenueExpr + `), 0) FROM invoices WHERE ` + revenueFilter + where +
		` GROUP BY invoice_date ORDER BY invoice_date`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DayRevenue
	for rows.Next() {
		var d DayRevenue
		if err := rows.Scan(&d.Day, &d.Amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClientCounts returns the client total and how many were created since.
func (r *Repository) ClientCounts(ctx context.Context, since time.Time) (total, created int64, err error) {
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $1) FROM clients`, since).Scan(&total, &created)
	return total, created, err
}

// ProductSales lists every article with what it sold on live invoices dated
// in [from, to), best sellers first.
func (r *Repository) ProductSales(ctx context.Context, from, to time.Time) ([]ProductSales, error) {
	const query = `SELECT a.id, a.code, a.designation, a.kind, a.sale_price, a.stock,
    COUNT(s.id), COALESCE(SUM(s.quantity), 0), COALESCE(SUM(s.total_ht), 0)
FROM articles a
LEFT JOIN (
    SELECT l.id, l.article_id, l.quantity, l.total_ht FROM invoice_lines l
    JOIN invoices i ON i.id = l.invoice_id
    WHERE i.status <> 'CANCELLED' AND i.type <> 'RETOUR' AND i.invoice_date >= $1 AND i.invoice_date < $2
) s ON s.article_id = a.id
GROUP BY a.id
ORDER BY COALESCE(SUM(s.total_ht), 0) DESC, a.designation`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProductSales
	for rows.Next() {
		var p ProductSales
		if err := rows.Scan(&p.ArticleID, &p.Code, &p.Designation, &p.Kind, &p.SalePrice, &p.Stock, &p.Sales, &p.Quantity, &p.Amount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StockValue values tracked stock at sale price and counts articles running low.
func (r *Repository) StockValue(ctx context.Context) (StockValue, error) {
	const query = `SELECT
    (SELECT COUNT(*) FROM articles),
    COALESCE(SUM(stock * sale_price), 0),
    COUNT(*) FILTER (WHERE stock > 0 AND stock < alert_threshold)
FROM articles WHERE kind = 'PRODUCT'`
	var v StockValue
	err := r.pool.QueryRow(ctx, query).Scan(&v.Articles, &v.Value, &v.Low)
	return v, err
}

// PaymentTotals tallies payments dated in [from, to), refunds netted out.
func (r *Repository) PaymentTotals(ctx context.Context, from, to time.Time) (Tally, error) {
	where, args := dateWhere("payment_date", from, to)
	var t Tally
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(`+signedAmountExpr+`), 0) FROM payments WHERE TRUE`+where, args...).Scan(&t.Count, &t.Total)
	return t, err
}

// Unpaid tallies live invoices with an amount due.
func (r *Repository) Unpaid(ctx context.Context) (Tally, error) {
	var t Tally
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(amount_due), 0) FROM invoices WHERE `+receivableFilter).Scan(&t.Count, &t.Total)
	return t, err
}

// Treasury returns the current cash position over live invoices.
func (r *Repository) Treasury(ctx context.Context) (Treasury, error) {
	const query = `SELECT
    COALESCE(SUM(` + collectedExpr + `), 0),
    COALESCE(SUM(amount_due) FILTER (WHERE amount_due > 0), 0),
    COALESCE(SUM(amount_paid) FILTER (WHERE type = 'COMPTOIR'), 0)
FROM invoices WHERE status <> 'CANCELLED'`
	var t Treasury
	err := r.pool.QueryRow(ctx, query).Scan(&t.Collected, &t.Receivables, &t.CounterSales)
	return t, err
}

// PaymentMethods groups all payments by method, largest total first. Counter
// refunds show as a negative total.
func (r *Repository) PaymentMethods(ctx context.Context) ([]MethodTotal, error) {
	const query = `SELECT COALESCE(NULLIF(method, ''), 'N/A'), COUNT(*), COALESCE(SUM(` + signedAmountExpr + `), 0)
FROM payments GROUP BY 1 ORDER BY 3 DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MethodTotal
	for rows.Next() {
		var m MethodTotal
		if err := rows.Scan(&m.Method, &m.Count, &m.Total); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreditNoteTotals tallies credit notes dated in [from, to).
func (r *Repository) CreditNoteTotals(ctx context.Context, from, to time.Time) (CreditNoteTotals, error) {
	where, args := dateWhere("note_date", from, to)
	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0),
    COUNT(*) FILTER (WHERE status = 'TRAITE'),
    COUNT(*) FILTER (WHERE status = 'EN_ATTENTE')
FROM credit_notes WHERE TRUE` + where
	var t CreditNoteTotals
	err := r.pool.QueryRow(ctx, query, args...).Scan(&t.Count, &t.Amount, &t.Processed, &t.Pending)
	return t, err
}

func dateWhere(column string, from, to time.Time) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, column, len(args)))
	}
	if !from.IsZero() {
		add("%s >= $%d", from)
	}
	if !to.IsZero() {
		add("%s < $%d", to)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}
