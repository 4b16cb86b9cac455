package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

type memoryRepo struct {
	clients map[int64]Client
	docs    map[int64]int
	seq     int64
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{clients: map[int64]Client{}, docs: map[int64]int{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) NextCode(ctx context.Context) (string, error) {
	m.seq++
	return shared.CodeNumber(shared.ScopeClient, m.seq), nil
}

func (m *memoryRepo) Insert(ctx context.Context, in Input) (int64, error) {
	for _, c := range m.clients {
		if c.Code == in.Code {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}
	}
	m.nextID++
	m.clients[m.nextID] = Client{ID: m.nextID, Code: in.Code, Name: in.Name, Kind: in.Kind, City: in.City}
	return m.nextID, nil
}

func (m *memoryRepo) Update(ctx context.Context, id int64, in Input) error {
	c, ok := m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.Code, c.Name, c.City = in.Code, in.Name, in.City
	m.clients[id] = c
	return nil
}

func (m *memoryRepo) Lock(ctx context.Context, id int64) (Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return Client{}, ErrNotFound
	}
	return c, nil
}

func (m *memoryRepo) CountDocuments(ctx context.Context, id int64) (int, error) {
	return m.docs[id], nil
}

func (m *memoryRepo) Delete(ctx context.Context, id int64) error {
	delete(m.clients, id)
	return nil
}

func (m *memoryRepo) List(ctx context.Context, search string, limit, offset int) ([]Client, int, error) {
	var out []Client
	for id := int64(1); id <= m.nextID; id++ {
		c, ok := m.clients[id]
		if !ok || c.Code == CounterCode {
			continue
		}
		if search != "" && !strings.Contains(shared.SearchKey(c.Code, c.Name, c.City), shared.FoldSearch(search)) {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Detail, error) {
	c, ok := m.clients[id]
	if !ok {
		return Detail{}, ErrNotFound
	}
	return Detail{Client: c, Invoices: m.docs[id]}, nil
}

func TestCreateGeneratesCodeAndDefaults(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	c, err := svc.Create(context.Background(), Input{Name: "  Société Ngoa  ", City: "Yaoundé"})
	require.NoError(t, err)
	require.Equal(t, "CLI-0001", c.Code)
	require.Equal(t, "Société Ngoa", c.Name)
	require.Equal(t, "PARTICULIER", c.Kind)

	_, err = svc.Create(context.Background(), Input{Name: "Comptoir", Code: "comptoir"})
	require.ErrorIs(t, err, ErrReserved)

	found, err := svc.Search(context.Background(), "SOCIETE", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestDeleteRefusesClientsWithDocuments(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	c, err := svc.Create(context.Background(), Input{Name: "Alpha"})
	require.NoError(t, err)

	repo.docs[c.ID] = 2
	err = svc.Delete(context.Background(), c.ID)
	require.ErrorIs(t, err, ErrHasDocuments)
	require.ErrorIs(t, err, httpx.ErrConflict)

	repo.docs[c.ID] = 0
	require.NoError(t, svc.Delete(context.Background(), c.ID))
	_, err = svc.Get(context.Background(), c.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestUpdateKeepsCodeWhenBlank(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	c, err := svc.Create(context.Background(), Input{Name: "Beta"})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), c.ID, Input{Name: "Beta SARL", City: "Douala"})
	require.NoError(t, err)
	require.Equal(t, c.Code, updated.Code)
	require.Equal(t, "Beta SARL", updated.Name)
}

func TestHandlerCreateAndGuard(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Route("/api/clients", h.MountRoutes)

	clerk := shared.Principal{UserID: 3, Rights: map[string]bool{shared.PermInvoices: true}}
	manager := shared.Principal{UserID: 4, Rights: map[string]bool{shared.PermClients: true}}

	do := func(p shared.Principal, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(clerk, http.MethodPost, "/api/clients/", `{"name":"Gamma"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(manager, http.MethodPost, "/api/clients/", `{"name":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "name")

	rec = do(manager, http.MethodPost, "/api/clients/", `{"name":"Gamma","email":"contact@gamma.cm"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "CLI-0001", created.Code)

	rec = do(clerk, http.MethodGet, "/api/clients/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(clerk, http.MethodGet, "/api/clients/?q=gam", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page shared.Page[Client]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, 1, page.Pagination.Total)

	rec = do(manager, http.MethodGet, "/api/clients/42", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
