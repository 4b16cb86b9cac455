package suppliers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

type memoryStore struct {
	rows map[int64]Supplier
	next int64
}

func (m *memoryStore) Create(ctx context.Context, in Input) (int64, error) {
	m.next++
	if in.Code == "" {
		in.Code = shared.CodeNumber(shared.ScopeSupplier, m.next)
	}
	m.rows[m.next] = Supplier{ID: m.next, Code: in.Code, Name: in.Name, City: in.City}
	return m.next, nil
}

func (m *memoryStore) Update(ctx context.Context, id int64, in Input) error {
	s, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	s.Code, s.Name, s.City = in.Code, in.Name, in.City
	m.rows[id] = s
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryStore) List(ctx context.Context, search string, limit, offset int) ([]Supplier, int, error) {
	var out []Supplier
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *memoryStore) Get(ctx context.Context, id int64) (Supplier, error) {
	s, ok := m.rows[id]
	if !ok {
		return Supplier{}, ErrNotFound
	}
	return s, nil
}

type auditSpy struct{ actions []string }

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func TestSupplierLifecycle(t *testing.T) {
	audit := &auditSpy{}
	svc := NewService(&memoryStore{rows: map[int64]Supplier{}}, audit)
	ctx := context.Background()

	s, err := svc.Create(ctx, Input{Name: " Distri Tech "})
	require.NoError(t, err)
	require.Equal(t, "FRS-0001", s.Code)
	require.Equal(t, "Distri Tech", s.Name)

	s, err = svc.Update(ctx, s.ID, Input{Name: "Distri Tech SA", City: "Douala"})
	require.NoError(t, err)
	require.Equal(t, "FRS-0001", s.Code)
	require.Equal(t, "Douala", s.City)

	require.NoError(t, svc.Delete(ctx, s.ID))
	require.ErrorIs(t, svc.Delete(ctx, s.ID), httpx.ErrNotFound)
	require.Equal(t, []string{"supplier:create", "supplier:update", "supplier:delete"}, audit.actions)
}
