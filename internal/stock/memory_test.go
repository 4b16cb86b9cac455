package stock

import (
	"context"
	"errors"
	"fmt"
)

type memoryStore struct {
	items     map[int64]Item
	movements []Movement
	nextID    int64
	failAfter int
	writes    int
}

func newMemoryStore(items ...Item) *memoryStore {
	s := &memoryStore{items: make(map[int64]Item)}
	for _, it := range items {
		s.items[it.ArticleID] = it
	}
	return s
}

func (s *memoryStore) clone() *memoryStore {
	c := &memoryStore{items: make(map[int64]Item, len(s.items)), nextID: s.nextID, failAfter: s.failAfter}
	for k, v := range s.items {
		c.items[k] = v
	}
	c.movements = append(c.movements, s.movements...)
	return c
}

// WithTx applies fn on a copy and keeps it only on success.
func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	work := s.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.items, s.movements, s.nextID = work.items, work.movements, work.nextID
	return nil
}

func (s *memoryStore) LockItem(ctx context.Context, articleID int64) (Item, error) {
	it, ok := s.items[articleID]
	if !ok {
		return Item{}, fmt.Errorf("%w: id %d", ErrArticleNotFound, articleID)
	}
	return it, nil
}

func (s *memoryStore) SetStock(ctx context.Context, articleID, stock int64) error {
	s.writes++
	if s.failAfter > 0 && s.writes >= s.failAfter {
		return errors.New("disk full")
	}
	it := s.items[articleID]
	it.Stock = stock
	s.items[articleID] = it
	return nil
}

func (s *memoryStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	s.nextID++
	m.ID = s.nextID
	s.movements = append(s.movements, m)
	return m.ID, nil
}

func (s *memoryStore) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	var out []Movement
	for _, m := range s.movements {
		if filter.ArticleID > 0 && m.ArticleID != filter.ArticleID {
			continue
		}
		if filter.Direction != "" && m.Direction != filter.Direction {
			continue
		}
		out = append(out, m)
	}
	return out, len(out), nil
}

func (s *memoryStore) GetMovement(ctx context.Context, id int64) (Movement, error) {
	for _, m := range s.movements {
		if m.ID == id {
			return m, nil
		}
	}
	return Movement{}, ErrMovementNotFound
}

func (s *memoryStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, it := range s.items {
		if !it.Tracked {
			continue
		}
		st.Products++
		if it.Stock == 0 {
			st.Critical++
		}
	}
	return st, nil
}

func (s *memoryStore) LowStock(ctx context.Context, limit int) ([]LowStockItem, error) {
	return nil, nil
}

func (s *memoryStore) stockOf(id int64) int64 {
	return s.items[id].Stock
}
