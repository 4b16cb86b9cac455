package stock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)
	Stats(ctx context.Context) (Stats, error)
	LowStock(ctx context.Context, limit int) ([]LowStockItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates manual stock operations.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort) *Service {
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// RecordMovement posts a manual entry or exit. Exits are guarded like sales:
// they never drive stock below zero.
func (s *Service) RecordMovement(ctx context.Context, input ManualMovementInput) (Movement, error) {
	if input.Direction != DirectionIn && input.Direction != DirectionOut {
		return Movement{}, fmt.Errorf("%w: direction must be ENTREE or SORTIE", httpx.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	reference := input.Reference
	if reference == "" {
		reference = "Mouvement manuel"
	}
	actor := shared.ActorID(ctx)
	var moved []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		out, err := s.ledger.Post(ctx, tx, Posting{
			Direction: input.Direction,
			Reference: reference,
			Reason:    input.Reason,
			ActorID:   actor,
			Lines:     []Line{{ArticleID: input.ArticleID, Quantity: input.Quantity}},
		})
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return ErrUntracked
		}
		moved = out
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.ledger.Committed(moved)
	s.record(ctx, "stock:"+string(input.Direction), moved[0])
	return moved[0], nil
}

// ValidateCount applies a physical inventory count. Each article with a gap is
// set to the counted quantity with one AJUSTEMENT movement.
func (s *Service) ValidateCount(ctx context.Context, input CountInput) (CountResult, error) {
	if len(input.Lines) == 0 {
		return CountResult{}, fmt.Errorf("%w: no counted lines", httpx.ErrValidation)
	}
	date := time.Now()
	if input.Date != "" {
		parsed, err := time.Parse(time.DateOnly, input.Date)
		if err != nil {
			return CountResult{}, fmt.Errorf("%w: invalid count date", httpx.ErrValidation)
		}
		date = parsed
	}
	result := CountResult{Reference: "Inventaire du " + date.Format("02/01/2006")}
	actor := shared.ActorID(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		result.Adjusted = result.Adjusted[:0]
		result.Unchanged = 0
		seen := make(map[int64]struct{}, len(input.Lines))
		for _, line := range input.Lines {
			if _, dup := seen[line.ArticleID]; dup {
				return fmt.Errorf("%w: article %d counted twice", httpx.ErrValidation, line.ArticleID)
			}
			seen[line.ArticleID] = struct{}{}
			m, changed, err := s.ledger.Count(ctx, tx, line, result.Reference, actor)
			if err != nil {
				return err
			}
			if !changed {
				result.Unchanged++
				continue
			}
			result.Adjusted = append(result.Adjusted, m)
		}
		return nil
	})
	if err != nil {
		return CountResult{}, err
	}
	s.ledger.Committed(result.Adjusted)
	for _, m := range result.Adjusted {
		s.record(ctx, "stock:count", m)
	}
	return result, nil
}

// ListMovements lists ledger rows.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown direction %q", httpx.ErrValidation, filter.Direction)
	}
	return s.repo.ListMovements(ctx, filter)
}

// GetMovement returns one ledger row.
func (s *Service) GetMovement(ctx context.Context, id int64) (Movement, error) {
	return s.repo.GetMovement(ctx, id)
}

// Stats returns the stock dashboard figures.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// LowStock lists articles needing replenishment.
func (s *Service) LowStock(ctx context.Context, limit int) ([]LowStockItem, error) {
	return s.repo.LowStock(ctx, limit)
}

func (s *Service) record(ctx context.Context, action string, m Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "stock_movement",
		EntityID: strconv.FormatInt(m.ID, 10),
		Meta: map[string]any{
			"article_id": m.ArticleID,
			"quantity":   m.Quantity,
			"before":     m.StockBefore,
			"after":      m.StockAfter,
			"reference":  m.Reference,
		},
	})
}
