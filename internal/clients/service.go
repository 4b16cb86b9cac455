package clients

import (
	"context"
	"strconv"
	"strings"

	"github.com/techinfoplus/tip-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, search string, limit, offset int) ([]Client, int, error)
	Get(ctx context.Context, id int64) (Detail, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages clients.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// List returns a page of clients.
func (s *Service) List(ctx context.Context, search string, page shared.PageRequest) ([]Client, int, error) {
	return s.repo.List(ctx, search, page.Limit(), page.Offset())
}

// Search returns up to limit clients matching term.
func (s *Service) Search(ctx context.Context, term string, limit int) ([]Client, error) {
	if strings.TrimSpace(term) == "" {
		return []Client{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	items, _, err := s.repo.List(ctx, term, limit, 0)
	return items, err
}

// Get returns a client with document counts.
func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	return s.repo.Get(ctx, id)
}

// Create inserts a client, generating its code when absent.
func (s *Service) Create(ctx context.Context, in Input) (Detail, error) {
	normalize(&in)
	if strings.EqualFold(in.Code, CounterCode) {
		return Detail{}, ErrReserved
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.Code == "" {
			code, err := tx.NextCode(ctx)
			if err != nil {
				return err
			}
			in.Code = code
		}
		var err error
		id, err = tx.Insert(ctx, in)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.record(ctx, "client:create", id, in.Code)
	return s.repo.Get(ctx, id)
}

// Update edits a client.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Detail, error) {
	normalize(&in)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if current.Code == CounterCode || strings.EqualFold(in.Code, CounterCode) {
			return ErrReserved
		}
		if in.Code == "" {
			in.Code = current.Code
		}
		return tx.Update(ctx, id, in)
	})
	if err != nil {
		return Detail{}, err
	}
	s.record(ctx, "client:update", id, in.Code)
	return s.repo.Get(ctx, id)
}

// Delete removes a client that no document references.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var code string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if current.Code == CounterCode {
			return ErrReserved
		}
		n, err := tx.CountDocuments(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrHasDocuments
		}
		code = current.Code
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "client:delete", id, code)
	return nil
}

func (s *Service) record(ctx context.Context, action string, id int64, code string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "client",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"code": code},
	})
}

func normalize(in *Input) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Kind == "" {
		in.Kind = "PARTICULIER"
	}
}
