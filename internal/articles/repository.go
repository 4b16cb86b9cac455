package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techinfoplus/tip-erp/internal/platform/db"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

// TxRepository exposes article statements bound to a transaction.
type TxRepository interface {
	stock.TxStore
	NextCode(ctx context.Context) (string, error)
	Insert(ctx context.Context, a Article) (int64, error)
	Update(ctx context.Context, id int64, in Input) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// Repository persists articles in PostgreSQL.
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
		return fn(ctx, &txRepo{TxStore: stock.NewTxStore(tx), tx: tx})
	})
}

type txRepo struct {
	stock.TxStore
	tx pgx.Tx
}

func (t *txRepo) NextCode(ctx context.Context) (string, error) {
	seq, err := db.NextSequence(ctx, t.tx, shared.ScopeArticle, 0)
	if err != nil {
		return "", err
	}
	return shared.CodeNumber(shared.ScopeArticle, seq), nil
}

func (t *txRepo) Insert(ctx context.Context, a Article) (int64, error) {
	const query = `INSERT INTO articles (code, designation, description, kind, purchase_price, sale_price, stock, alert_threshold, unit, category, supplier_id, active, search_key)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, TRUE, $11) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, a.Code, a.Designation, a.Description, string(a.Kind), a.PurchasePrice, a.SalePrice,
		a.AlertThreshold, a.Unit, a.Category, a.SupplierID, searchKey(a.Code, a.Designation, a.Category)).Scan(&id)
	if err != nil {
		if httpx.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateCode, a.Code)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) Update(ctx context.Context, id int64, in Input) error {
	const query = `UPDATE articles SET code = $2, designation = $3, description = $4, kind = $5, purchase_price = $6, sale_price = $7,
alert_threshold = $8, unit = $9, category = $10, supplier_id = $11, search_key = $12, updated_at = NOW() WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query, id, in.Code, in.Designation, in.Description, string(in.Kind), in.PurchasePrice, in.SalePrice,
		in.AlertThreshold, in.Unit, in.Category, in.SupplierID, searchKey(in.Code, in.Designation, in.Category))
	if err != nil {
		if httpx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE articles SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const articleColumns = `id, code, designation, description, kind, purchase_price, sale_price, stock, alert_threshold, unit, category, supplier_id, active, created_at, updated_at`

// List returns articles ordered by designation with the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Article, int, error) {
	where, args := listWhere(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM articles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM articles%s ORDER BY designation ASC, id ASC LIMIT $%d OFFSET $%d`, articleColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// Get loads one article.
func (r *Repository) Get(ctx context.Context, id int64) (Article, error) {
	a, err := scanArticle(r.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Article{}, ErrNotFound
		}
		return Article{}, err
	}
	return a, nil
}

// PeekCode previews the next generated code without consuming it.
func (r *Repository) PeekCode(ctx context.Context) (string, error) {
	next, err := db.PeekSequence(ctx, r.pool, shared.ScopeArticle, 0)
	if err != nil {
		return "", err
	}
	return shared.CodeNumber(shared.ScopeArticle, next), nil
}

// Popular ranks active articles by quantity sold at the counter.
func (r *Repository) Popular(ctx context.Context, limit int) ([]Popular, error) {
	const query = `SELECT a.id, a.code, a.designation, a.sale_price, a.stock, COALESCE(SUM(l.quantity), 0) AS sold
FROM articles a
JOIN invoice_lines l ON l.article_id = a.id
JOIN invoices i ON i.id = l.invoice_id AND i.type = 'COMPTOIR' AND i.status <> 'CANCELLED'
WHERE a.active
GROUP BY a.id
ORDER BY sold DESC, a.designation ASC
LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Popular
	for rows.Next() {
		var p Popular
		if err := rows.Scan(&p.ArticleID, &p.Code, &p.Designation, &p.SalePrice, &p.Stock, &p.Quantity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func listWhere(f ListFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !f.IncludeInactive {
		clauses = append(clauses, "active")
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		add(`search_key LIKE $%d`, shared.LikePattern(term))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanArticle(row pgx.Row) (Article, error) {
	var a Article
	var kind string
	err := row.Scan(&a.ID, &a.Code, &a.Designation, &a.Description, &kind, &a.PurchasePrice, &a.SalePrice, &a.Stock,
		&a.AlertThreshold, &a.Unit, &a.Category, &a.SupplierID, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	a.Kind = Kind(kind)
	return a, err
}

func searchKey(code, designation, category string) string {
	return shared.SearchKey(code, designation, category)
}
