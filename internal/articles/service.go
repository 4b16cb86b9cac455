package articles

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Article, int, error)
	Get(ctx context.Context, id int64) (Article, error)
	PeekCode(ctx context.Context) (string, error)
	Popular(ctx context.Context, limit int) ([]Popular, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the article catalog.
type Service struct {
	repo   RepositoryPort
	ledger *stock.Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *stock.Ledger, audit AuditPort) *Service {
	if ledger == nil {
		ledger = stock.NewLedger(nil)
	}
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// List returns a page of articles.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Article, int, error) {
	return s.repo.List(ctx, filter)
}

// Search returns active articles matching term, accents ignored.
func (s *Service) Search(ctx context.Context, term string, limit int) ([]Article, error) {
	if strings.TrimSpace(term) == "" {
		return []Article{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	items, _, err := s.repo.List(ctx, ListFilter{Search: term, Limit: limit})
	return items, err
}

// Get returns one article.
func (s *Service) Get(ctx context.Context, id int64) (Article, error) {
	return s.repo.Get(ctx, id)
}

// NextCode previews the code the next article would receive.
func (s *Service) NextCode(ctx context.Context) (string, error) {
	return s.repo.PeekCode(ctx)
}

// Popular lists the articles most sold at the counter.
func (s *Service) Popular(ctx context.Context, limit int) ([]Popular, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.repo.Popular(ctx, limit)
}

// Create inserts an article. Opening stock of a product is booked as an
// ENTREE movement so the ledger explains every unit.
func (s *Service) Create(ctx context.Context, input CreateInput) (Article, error) {
	in := input.Input
	if err := in.normalize(); err != nil {
		return Article{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	in.Designation = strings.TrimSpace(in.Designation)
	opening := input.Stock
	if in.Kind == KindService {
		opening = 0
	}
	var id int64
	var moved []stock.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.Code == "" {
			code, err := tx.NextCode(ctx)
			if err != nil {
				return err
			}
			in.Code = code
		}
		var err error
		id, err = tx.Insert(ctx, Article{
			Code:           in.Code,
			Designation:    in.Designation,
			Description:    in.Description,
			Kind:           in.Kind,
			PurchasePrice:  in.PurchasePrice,
			SalePrice:      in.SalePrice,
			AlertThreshold: in.AlertThreshold,
			Unit:           in.Unit,
			Category:       in.Category,
			SupplierID:     in.SupplierID,
		})
		if err != nil {
			return err
		}
		if opening == 0 {
			return nil
		}
		moved, err = s.ledger.Post(ctx, tx, stock.Posting{
			Direction: stock.DirectionIn,
			Reference: "Stock initial",
			ActorID:   shared.ActorID(ctx),
			Lines:     []stock.Line{{ArticleID: id, Quantity: opening}},
		})
		return err
	})
	if err != nil {
		return Article{}, err
	}
	s.ledger.Committed(moved)
	s.record(ctx, "article:create", id, map[string]any{"code": in.Code, "stock": opening})
	return s.repo.Get(ctx, id)
}

// Update edits descriptive fields and prices. Stock is not editable here;
// it only moves through the ledger.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Article, error) {
	if err := in.normalize(); err != nil {
		return Article{}, err
	}
	in.Designation = strings.TrimSpace(in.Designation)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		in.Code = strings.TrimSpace(in.Code)
		if in.Code == "" {
			in.Code = item.Code
		}
		if in.Kind == KindService && item.Tracked && item.Stock > 0 {
			return fmt.Errorf("%w: article still holds %d units", ErrKindChange, item.Stock)
		}
		return tx.Update(ctx, id, in)
	})
	if err != nil {
		return Article{}, err
	}
	s.record(ctx, "article:update", id, map[string]any{"code": in.Code})
	return s.repo.Get(ctx, id)
}

// Deactivate hides the article from catalogs. Historical documents keep it.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetActive(ctx, id, false)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "article:deactivate", id, nil)
	return nil
}

// Reactivate restores a deactivated article.
func (s *Service) Reactivate(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetActive(ctx, id, true)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "article:reactivate", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "article",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
