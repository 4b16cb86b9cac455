package stock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// TxStore is the transactional persistence needed to move stock.
type TxStore interface {
	// LockItem reads the article row with SELECT ... FOR UPDATE.
	LockItem(ctx context.Context, articleID int64) (Item, error)
	SetStock(ctx context.Context, articleID, stock int64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

// MovementObserver is notified of committed movements.
type MovementObserver interface {
	ObserveStockMovement(direction string, quantity int64)
}

// Ledger applies stock changes together with their movement rows.
type Ledger struct {
	observer MovementObserver
	clock    func() time.Time
}

// NewLedger builds a Ledger. observer may be nil.
func NewLedger(observer MovementObserver) *Ledger {
	return &Ledger{observer: observer, clock: func() time.Time { return time.Now().UTC() }}
}

// Post applies every line of p inside the caller's transaction. Quantities
// are summed per article before the outbound guard runs, and rows are locked
// in article id order. Services are skipped.
func (l *Ledger) Post(ctx context.Context, tx TxStore, p Posting) ([]Movement, error) {
	if p.Direction != DirectionIn && p.Direction != DirectionOut {
		return nil, fmt.Errorf("stock: unsupported posting direction %q", p.Direction)
	}
	totals, err := aggregate(p.Lines)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := l.now()
	movements := make([]Movement, 0, len(ids))
	for _, id := range ids {
		qty := totals[id]
		item, err := tx.LockItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if !item.Tracked {
			continue
		}
		after := item.Stock + qty
		if p.Direction == DirectionOut {
			if err := CheckAvailable(item, qty); err != nil {
				return nil, err
			}
			after = item.Stock - qty
		}
		if err := tx.SetStock(ctx, id, after); err != nil {
			return nil, err
		}
		m := Movement{
			ArticleID:   id,
			ArticleCode: item.Code,
			Designation: item.Designation,
			Direction:   p.Direction,
			Quantity:    qty,
			StockBefore: item.Stock,
			StockAfter:  after,
			Reference:   p.Reference,
			Reason:      p.Reason,
			CreatedBy:   p.ActorID,
			MovedAt:     now,
		}
		m.ID, err = tx.InsertMovement(ctx, m)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// Count sets the article to the counted quantity. It returns false when the
// article is a service or no correction was needed.
func (l *Ledger) Count(ctx context.Context, tx TxStore, line CountLine, reference string, actorID int64) (Movement, bool, error) {
	if line.Counted < 0 {
		return Movement{}, false, ErrInvalidQuantity
	}
	item, err := tx.LockItem(ctx, line.ArticleID)
	if err != nil {
		return Movement{}, false, err
	}
	if !item.Tracked {
		return Movement{}, false, nil
	}
	gap := line.Counted - item.Stock
	if gap == 0 {
		return Movement{}, false, nil
	}
	if err := tx.SetStock(ctx, item.ArticleID, line.Counted); err != nil {
		return Movement{}, false, err
	}
	qty := gap
	if qty < 0 {
		qty = -qty
	}
	m := Movement{
		ArticleID:   item.ArticleID,
		ArticleCode: item.Code,
		Designation: item.Designation,
		Direction:   DirectionAdjust,
		Quantity:    qty,
		StockBefore: item.Stock,
		StockAfter:  line.Counted,
		Reference:   reference,
		Reason:      fmt.Sprintf("écart %+d", gap),
		CreatedBy:   actorID,
		MovedAt:     l.now(),
	}
	m.ID, err = tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, false, err
	}
	return m, true, nil
}

// Committed reports movements once their transaction has committed.
func (l *Ledger) Committed(movements []Movement) {
	if l == nil || l.observer == nil {
		return
	}
	for _, m := range movements {
		l.observer.ObserveStockMovement(string(m.Direction), m.Quantity)
	}
}

// CheckAvailable guards an outbound quantity against current stock.
func CheckAvailable(item Item, qty int64) error {
	if !item.Tracked {
		return nil
	}
	if item.Stock <= 0 {
		return fmt.Errorf("%w: %s is out of stock", ErrInsufficientStock, item.Designation)
	}
	if qty > item.Stock {
		return fmt.Errorf("%w: %s requested %d, available %d", ErrInsufficientStock, item.Designation, qty, item.Stock)
	}
	return nil
}

func (l *Ledger) now() time.Time {
	if l != nil && l.clock != nil {
		return l.clock()
	}
	return time.Now().UTC()
}

func aggregate(lines []Line) (map[int64]int64, error) {
	totals := make(map[int64]int64, len(lines))
	for _, line := range lines {
		if line.ArticleID <= 0 {
			return nil, fmt.Errorf("%w: article required", httpx.ErrValidation)
		}
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		totals[line.ArticleID] += line.Quantity
	}
	return totals, nil
}
