package creditnotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/platform/db"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// TxRepository adds the credit note statements to the invoice ones.
type TxRepository interface {
	invoices.TxRepository
	InsertNote(ctx context.Context, n CreditNote) (int64, error)
	UpdateNote(ctx context.Context, n CreditNote) error
	ReplaceNoteLines(ctx context.Context, noteID int64, lines []Line) error
	LockNote(ctx context.Context, id int64) (CreditNote, error)
	NoteLines(ctx context.Context, id int64) ([]Line, error)
	SetNoteStatus(ctx context.Context, id int64, status Status, processedAt *time.Time) error
	DeleteNote(ctx context.Context, id int64) error
	// Credited sums the lines and amounts of the invoice's credit notes that
	// were not refused, leaving out excludeID.
	Credited(ctx context.Context, invoiceID, excludeID int64) (Credited, error)
}

// Repository persists credit notes in PostgreSQL.
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

func (t *pgTx) InsertNote(ctx context.Context, n CreditNote) (int64, error) {
	const query = `INSERT INTO credit_notes (number, invoice_id, note_date, amount, reason, status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, n.Number, n.InvoiceID, n.Date, n.Amount, n.Reason, string(n.Status), nullableID(n.CreatedBy)).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateNote(ctx context.Context, n CreditNote) error {
	_, err := t.tx.Exec(ctx, `UPDATE credit_notes SET note_date = $2, amount = $3, reason = $4, updated_at = NOW() WHERE id = $1`,
		n.ID, n.Date, n.Amount, n.Reason)
	return err
}

func (t *pgTx) ReplaceNoteLines(ctx context.Context, noteID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM credit_note_lines WHERE credit_note_id = $1`, noteID); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	const query = `INSERT INTO credit_note_lines (credit_note_id, article_id, quantity, unit_price, total) VALUES ($1, $2, $3, $4, $5)`
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(query, noteID, l.ArticleID, l.Quantity, l.UnitPrice, l.Total)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) LockNote(ctx context.Context, id int64) (CreditNote, error) {
	n, err := scanNote(t.tx.QueryRow(ctx, `SELECT `+noteColumns+noteJoins+` WHERE n.id = $1 FOR UPDATE OF n`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditNote{}, ErrNotFound
		}
		return CreditNote{}, err
	}
	return n, nil
}

func (t *pgTx) NoteLines(ctx context.Context, id int64) ([]Line, error) {
	return queryLines(ctx, t.tx, id)
}

func (t *pgTx) SetNoteStatus(ctx context.Context, id int64, status Status, processedAt *time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE credit_notes SET status = $2, processed_at = $3, updated_at = NOW() WHERE id = $1`, id, string(status), processedAt)
	return err
}

func (t *pgTx) DeleteNote(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM credit_notes WHERE id = $1`, id)
	return err
}

func (t *pgTx) Credited(ctx context.Context, invoiceID, excludeID int64) (Credited, error) {
	out := Credited{Quantities: map[int64]int64{}, Amount: decimal.Zero}
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM credit_notes WHERE invoice_id = $1 AND id <> $2 AND status <> 'REFUSE'`,
		invoiceID, excludeID).Scan(&out.Amount)
	if err != nil {
		return Credited{}, err
	}
	const query = `SELECT l.article_id, SUM(l.quantity) FROM credit_note_lines l JOIN credit_notes n ON n.id = l.credit_note_id
WHERE n.invoice_id = $1 AND n.id <> $2 AND n.status <> 'REFUSE' GROUP BY l.article_id`
	rows, err := t.tx.Query(ctx, query, invoiceID, excludeID)
	if err != nil {
		return Credited{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return Credited{}, err
		}
		out.Quantities[id] = qty
	}
	return out, rows.Err()
}

const noteColumns = `n.id, n.number, n.invoice_id, i.number, i.client_id, c.name, n.note_date, n.amount, n.reason, n.status,
COALESCE(n.created_by, 0), n.processed_at, n.created_at`

const noteJoins = ` FROM credit_notes n JOIN invoices i ON i.id = n.invoice_id JOIN clients c ON c.id = i.client_id`

// List returns credit notes newest first with the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]CreditNote, int, error) {
	where, args := noteWhere(f)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+noteJoins+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY n.note_date DESC, n.id DESC LIMIT $%d OFFSET $%d`, noteColumns, noteJoins, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []CreditNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// Get loads one credit note with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (CreditNote, error) {
	n, err := scanNote(r.pool.QueryRow(ctx, `SELECT `+noteColumns+noteJoins+` WHERE n.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditNote{}, ErrNotFound
		}
		return CreditNote{}, err
	}
	if n.Lines, err = queryLines(ctx, r.pool, id); err != nil {
		return CreditNote{}, err
	}
	return n, nil
}

// Lines returns the lines of one credit note.
func (r *Repository) Lines(ctx context.Context, id int64) ([]Line, error) {
	return queryLines(ctx, r.pool, id)
}

// PeekSequence previews the next credit note sequence for year.
func (r *Repository) PeekSequence(ctx context.Context, year int) (int64, error) {
	return db.PeekSequence(ctx, r.pool, shared.ScopeCreditNote, year)
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q rowQuerier, noteID int64) ([]Line, error) {
	const query = `SELECT l.id, l.credit_note_id, l.article_id, a.code, a.designation, l.quantity, l.unit_price, l.total
FROM credit_note_lines l JOIN articles a ON a.id = l.article_id WHERE l.credit_note_id = $1 ORDER BY l.id`
	rows, err := q.Query(ctx, query, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.CreditNoteID, &l.ArticleID, &l.ArticleCode, &l.Designation, &l.Quantity, &l.UnitPrice, &l.Total); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func noteWhere(f ListFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("n.status = $%d", string(f.Status))
	}
	if f.InvoiceID > 0 {
		add("n.invoice_id = $%d", f.InvoiceID)
	}
	if !f.From.IsZero() {
		add("n.note_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("n.note_date < $%d", f.To)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		args = append(args, shared.LikePattern(term))
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(LOWER(n.number) LIKE $%d OR LOWER(i.number) LIKE $%d OR c.search_key LIKE $%d)", n, n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanNote(row pgx.Row) (CreditNote, error) {
	var n CreditNote
	var status string
	err := row.Scan(&n.ID, &n.Number, &n.InvoiceID, &n.InvoiceNumber, &n.ClientID, &n.ClientName, &n.Date, &n.Amount, &n.Reason, &status,
		&n.CreatedBy, &n.ProcessedAt, &n.CreatedAt)
	n.Status = Status(status)
	return n, err
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
