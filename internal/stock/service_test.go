package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestRecordMovementManualExitIsGuarded(t *testing.T) {
	store := newMemoryStore(Item{ArticleID: 1, Designation: "Ram", Tracked: true, Stock: 2})
	audit := &recordingAudit{}
	svc := NewService(store, nil, audit)
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 9})

	_, err := svc.RecordMovement(ctx, ManualMovementInput{ArticleID: 1, Direction: DirectionOut, Quantity: 3})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(2), store.stockOf(1))

	m, err := svc.RecordMovement(ctx, ManualMovementInput{ArticleID: 1, Direction: DirectionIn, Quantity: 4, Reason: "réception"})
	require.NoError(t, err)
	require.Equal(t, int64(6), m.StockAfter)
	require.Equal(t, int64(9), m.CreatedBy)
	require.Equal(t, "Mouvement manuel", m.Reference)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "stock:ENTREE", audit.logs[0].Action)
}

func TestRecordMovementRejectsServicesAndAdjust(t *testing.T) {
	store := newMemoryStore(Item{ArticleID: 3, Tracked: false})
	svc := NewService(store, nil, nil)

	_, err := svc.RecordMovement(context.Background(), ManualMovementInput{ArticleID: 3, Direction: DirectionIn, Quantity: 1})
	require.ErrorIs(t, err, ErrUntracked)

	_, err = svc.RecordMovement(context.Background(), ManualMovementInput{ArticleID: 3, Direction: DirectionAdjust, Quantity: 1})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestValidateCountAdjustsOnlyGaps(t *testing.T) {
	store := newMemoryStore(
		Item{ArticleID: 1, Tracked: true, Stock: 10},
		Item{ArticleID: 2, Tracked: true, Stock: 4},
		Item{ArticleID: 3, Tracked: true, Stock: 1},
		Item{ArticleID: 4, Tracked: false},
	)
	svc := NewService(store, nil, nil)
	res, err := svc.ValidateCount(context.Background(), CountInput{Date: "2026-03-14", Lines: []CountLine{
		{ArticleID: 1, Counted: 8},
		{ArticleID: 2, Counted: 4},
		{ArticleID: 3, Counted: 6},
		{ArticleID: 4, Counted: 2},
	}})
	require.NoError(t, err)
	require.Equal(t, "Inventaire du 14/03/2026", res.Reference)
	require.Len(t, res.Adjusted, 2)
	require.Equal(t, 2, res.Unchanged)
	require.Equal(t, DirectionAdjust, res.Adjusted[0].Direction)
	require.Equal(t, int64(2), res.Adjusted[0].Quantity)
	require.Equal(t, "écart -2", res.Adjusted[0].Reason)
	require.Equal(t, int64(5), res.Adjusted[1].Quantity)
	require.Equal(t, int64(8), store.stockOf(1))
	require.Equal(t, int64(6), store.stockOf(3))
}

func TestValidateCountRejectsDuplicatesAtomically(t *testing.T) {
	store := newMemoryStore(Item{ArticleID: 1, Tracked: true, Stock: 10})
	svc := NewService(store, nil, nil)

	_, err := svc.ValidateCount(context.Background(), CountInput{Lines: []CountLine{
		{ArticleID: 1, Counted: 3},
		{ArticleID: 1, Counted: 4},
	}})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Equal(t, int64(10), store.stockOf(1))
	require.Empty(t, store.movements)
}
