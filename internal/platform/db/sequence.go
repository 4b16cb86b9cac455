package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx.Tx and *pgxpool.Pool used by helpers here.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NextSequence atomically increments the counter for scope/year and returns
// the new value. Callers run it inside the transaction that consumes the number
// so a rollback does not burn a value.
func NextSequence(ctx context.Context, q Querier, scope string, year int) (int64, error) {
	const query = `INSERT INTO document_sequences (scope, year, last_value) VALUES ($1, $2, 1)
ON CONFLICT (scope, year) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`
	var next int64
	if err := q.QueryRow(ctx, query, scope, year).Scan(&next); err != nil {
		return 0, fmt.Errorf("platform/db: next sequence %s/%d: %w", scope, year, err)
	}
	return next, nil
}

// PeekSequence returns the value NextSequence would hand out, without
// consuming it. Concurrent writers may take it first.
func PeekSequence(ctx context.Context, q Querier, scope string, year int) (int64, error) {
	const query = `SELECT COALESCE(MAX(last_value), 0) + 1 FROM document_sequences WHERE scope = $1 AND year = $2`
	var next int64
	if err := q.QueryRow(ctx, query, scope, year).Scan(&next); err != nil {
		return 0, fmt.Errorf("platform/db: peek sequence %s/%d: %w", scope, year, err)
	}
	return next, nil
}
