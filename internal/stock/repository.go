package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techinfoplus/tip-erp/internal/platform/db"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

type pgTxStore struct {
	tx pgx.Tx
}

// NewTxStore exposes the stock statements bound to an open transaction so
// other modules can move stock atomically with their own writes.
func NewTxStore(tx pgx.Tx) TxStore {
	return &pgTxStore{tx: tx}
}

func (s *pgTxStore) LockItem(ctx context.Context, articleID int64) (Item, error) {
	const query = `SELECT id, code, designation, kind = 'PRODUCT', active, stock FROM articles WHERE id = $1 FOR UPDATE`
	var item Item
	err := s.tx.QueryRow(ctx, query, articleID).Scan(&item.ArticleID, &item.Code, &item.Designation, &item.Tracked, &item.Active, &item.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("%w: id %d", ErrArticleNotFound, articleID)
		}
		return Item{}, err
	}
	return item, nil
}

func (s *pgTxStore) SetStock(ctx context.Context, articleID, stock int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE articles SET stock = $2, updated_at = NOW() WHERE id = $1`, articleID, stock)
	return err
}

func (s *pgTxStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	const query = `INSERT INTO stock_movements (article_id, direction, quantity, stock_before, stock_after, reference, reason, created_by, moved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	var id int64
	err := s.tx.QueryRow(ctx, query, m.ArticleID, string(m.Direction), m.Quantity, m.StockBefore, m.StockAfter, m.Reference, m.Reason, nullableID(m.CreatedBy), m.MovedAt).Scan(&id)
	return id, err
}

const movementColumns = `m.id, m.article_id, a.code, a.designation, m.direction, m.quantity, m.stock_before, m.stock_after, m.reference, m.reason, COALESCE(m.created_by, 0), m.moved_at`

// ListMovements returns movements newest first with the total match count.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	where, args := movementWhere(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements m`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM stock_movements m JOIN articles a ON a.id = m.article_id%s ORDER BY m.moved_at DESC, m.id DESC LIMIT $%d OFFSET $%d`,
		movementColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// GetMovement loads one movement.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements m JOIN articles a ON a.id = m.article_id WHERE m.id = $1`, id)
	m, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

// Stats aggregates active tracked articles.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	const query = `SELECT
    COUNT(*),
    COUNT(*) FILTER (WHERE stock > 0 AND stock <= alert_threshold),
    COUNT(*) FILTER (WHERE stock = 0),
    COALESCE(SUM(stock * purchase_price), 0)
FROM articles WHERE kind = 'PRODUCT' AND active`
	var s Stats
	err := r.pool.QueryRow(ctx, query).Scan(&s.Products, &s.Low, &s.Critical, &s.Valuation)
	return s, err
}

// LowStock lists active tracked articles at or below their alert threshold.
func (r *Repository) LowStock(ctx context.Context, limit int) ([]LowStockItem, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, code, designation, stock, alert_threshold FROM articles
WHERE kind = 'PRODUCT' AND active AND stock <= alert_threshold
ORDER BY stock ASC, designation ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LowStockItem
	for rows.Next() {
		var it LowStockItem
		if err := rows.Scan(&it.ArticleID, &it.Code, &it.Designation, &it.Stock, &it.AlertThreshold); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func movementWhere(f MovementFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ArticleID > 0 {
		add("m.article_id = $%d", f.ArticleID)
	}
	if f.Direction != "" {
		add("m.direction = $%d", string(f.Direction))
	}
	if !f.From.IsZero() {
		add("m.moved_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("m.moved_at < $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var direction string
	err := row.Scan(&m.ID, &m.ArticleID, &m.ArticleCode, &m.Designation, &direction, &m.Quantity, &m.StockBefore, &m.StockAfter, &m.Reference, &m.Reason, &m.CreatedBy, &m.MovedAt)
	m.Direction = Direction(direction)
	return m, err
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
