package clients

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
)

// TxRepository exposes client statements bound to a transaction.
type TxRepository interface {
	NextCode(ctx context.Context) (string, error)
	Insert(ctx context.Context, in Input) (int64, error)
	Update(ctx context.Context, id int64, in Input) error
	Lock(ctx context.Context, id int64) (Client, error)
	CountDocuments(ctx context.Context, id int64) (int, error)
	Delete(ctx context.Context, id int64) error
}

// Repository persists clients in PostgreSQL.
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
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) NextCode(ctx context.Context) (string, error) {
	seq, err := db.NextSequence(ctx, t.tx, shared.ScopeClient, 0)
	if err != nil {
		return "", err
	}
	return shared.CodeNumber(shared.ScopeClient, seq), nil
}

func (t *txRepo) Insert(ctx context.Context, in Input) (int64, error) {
	const query = `INSERT INTO clients (code, name, kind, city, phone, email, tax_id, address, search_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, in.Code, in.Name, in.Kind, in.City, in.Phone, in.Email, in.TaxID, in.Address, searchKey(in)).Scan(&id)
	if err != nil {
		if httpx.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) Update(ctx context.Context, id int64, in Input) error {
	const query = `UPDATE clients SET code = $2, name = $3, kind = $4, city = $5, phone = $6, email = $7, tax_id = $8, address = $9,
search_key = $10, updated_at = NOW() WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query, id, in.Code, in.Name, in.Kind, in.City, in.Phone, in.Email, in.TaxID, in.Address, searchKey(in))
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

func (t *txRepo) Lock(ctx context.Context, id int64) (Client, error) {
	c, err := scanClient(t.tx.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, err
	}
	return c, nil
}

func (t *txRepo) CountDocuments(ctx context.Context, id int64) (int, error) {
	const query = `SELECT (SELECT COUNT(*) FROM invoices WHERE client_id = $1) + (SELECT COUNT(*) FROM quotes WHERE client_id = $1)`
	var n int
	err := t.tx.QueryRow(ctx, query, id).Scan(&n)
	return n, err
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const clientColumns = `id, code, name, kind, city, phone, email, tax_id, address, created_at, updated_at`

// List returns clients ordered by name. The counter client is hidden.
func (r *Repository) List(ctx context.Context, search string, limit, offset int) ([]Client, int, error) {
	where := ` WHERE code <> '` + CounterCode + `'`
	var args []any
	if term := strings.TrimSpace(search); term != "" {
		args = append(args, shared.LikePattern(term))
		where += ` AND search_key LIKE $1`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM clients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM clients%s ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d`, clientColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Get loads one client with its document counts.
func (r *Repository) Get(ctx context.Context, id int64) (Detail, error) {
	const query = `SELECT ` + clientColumns + `,
    (SELECT COUNT(*) FROM invoices WHERE client_id = clients.id),
    (SELECT COUNT(*) FROM quotes WHERE client_id = clients.id)
FROM clients WHERE id = $1`
	var d Detail
	c := &d.Client
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Code, &c.Name, &c.Kind, &c.City, &c.Phone, &c.Email, &c.TaxID, &c.Address,
		&c.CreatedAt, &c.UpdatedAt, &d.Invoices, &d.Quotes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, err
	}
	return d, nil
}

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Kind, &c.City, &c.Phone, &c.Email, &c.TaxID, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func searchKey(in Input) string {
	return shared.SearchKey(in.Code, in.Name, in.City, in.Phone, in.Email)
}
