package counter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techinfoplus/tip-erp/internal/clients"
	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/db"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// returnLockKey serialises return eligibility checks across transactions.
const returnLockKey = 7420001

// TxRepository adds the counter statements to the invoice ones.
type TxRepository interface {
	invoices.TxRepository
	// CounterClient returns the reserved walk-in client, creating it on first use.
	CounterClient(ctx context.Context) (int64, error)
	LockReturns(ctx context.Context) error
	SoldOn(ctx context.Context, day time.Time, articleIDs []int64) (map[int64]Sold, error)
}

// Repository persists counter documents in PostgreSQL.
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

func (t *pgTx) CounterClient(ctx context.Context) (int64, error) {
	const insert = `INSERT INTO clients (code, name, kind, search_key) VALUES ($1, $2, 'PARTICULIER', $3) ON CONFLICT (code) DO NOTHING`
	name := "Client comptoir"
	if _, err := t.tx.Exec(ctx, insert, clients.CounterCode, name, shared.SearchKey(clients.CounterCode, name)); err != nil {
		return 0, err
	}
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM clients WHERE code = $1`, clients.CounterCode).Scan(&id)
	return id, err
}

func (t *pgTx) LockReturns(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, returnLockKey)
	return err
}

func (t *pgTx) SoldOn(ctx context.Context, day time.Time, articleIDs []int64) (map[int64]Sold, error) {
	const query = `SELECT l.article_id,
    COALESCE(SUM(l.quantity) FILTER (WHERE i.type = 'COMPTOIR'), 0),
    COALESCE(SUM(l.quantity) FILTER (WHERE i.type = 'RETOUR'), 0)
FROM invoice_lines l JOIN invoices i ON i.id = l.invoice_id
WHERE i.invoice_date = $1 AND i.status <> 'CANCELLED' AND i.type IN ('COMPTOIR', 'RETOUR') AND l.article_id = ANY($2)
GROUP BY l.article_id`
	rows, err := t.tx.Query(ctx, query, day, articleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Sold, len(articleIDs))
	for rows.Next() {
		var id int64
		var s Sold
		if err := rows.Scan(&id, &s.Sold, &s.Returned); err != nil {
			return nil, err
		}
		out[id] = s
	}
	return out, rows.Err()
}

// TopArticles ranks articles by quantity sold at the counter since a date.
func (r *Repository) TopArticles(ctx context.Context, since time.Time, limit int) ([]TopArticle, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT a.id, a.code, a.designation, SUM(l.quantity), SUM(l.total_ttc)
FROM invoice_lines l JOIN invoices i ON i.id = l.invoice_id JOIN articles a ON a.id = l.article_id
WHERE i.type = 'COMPTOIR' AND i.status <> 'CANCELLED' AND i.invoice_date >= $1
GROUP BY a.id, a.code, a.designation
ORDER BY SUM(l.quantity) DESC, a.designation
LIMIT $2`
	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TopArticle
	for rows.Next() {
		var a TopArticle
		if err := rows.Scan(&a.ArticleID, &a.Code, &a.Designation, &a.Quantity, &a.Amount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
