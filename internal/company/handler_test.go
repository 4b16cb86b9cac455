package company

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

type memoryStore struct {
	saved *Settings
}

func (m *memoryStore) Get(ctx context.Context) (Settings, bool, error) {
	if m.saved == nil {
		return Settings{}, false, nil
	}
	return *m.saved, true, nil
}

func (m *memoryStore) Upsert(ctx context.Context, s Settings) error {
	m.saved = &s
	return nil
}

func newRouter(store Store, p *shared.Principal) http.Handler {
	h := NewHandler(nil, NewService(store, nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/company", h.MountRoutes)
	return r
}

func TestGetServesDefaultsBeforeFirstSave(t *testing.T) {
	r := newRouter(&memoryStore{}, &shared.Principal{UserID: 1, Role: "user"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/company", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "FCFA", got.Currency)
	require.True(t, decimal.RequireFromString("9.5").Equal(got.VATRate))
}

func TestSaveNeedsUsersRight(t *testing.T) {
	store := &memoryStore{}
	body := `{"name":"TECH INFO PLUS","currency":"","vat_rate":"19.25","email":"contact@techinfoplus.cm"}`

	clerk := newRouter(store, &shared.Principal{UserID: 2, Role: "user", Rights: map[string]bool{shared.PermCounter: true}})
	rec := httptest.NewRecorder()
	clerk.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/company", strings.NewReader(body)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Nil(t, store.saved)

	admin := newRouter(store, &shared.Principal{UserID: 1, Role: shared.RoleAdmin})
	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/company", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.saved)
	require.Equal(t, "TECH INFO PLUS", store.saved.Name)
	require.Equal(t, "FCFA", store.saved.Currency)
}

func TestSaveValidatesInput(t *testing.T) {
	admin := newRouter(&memoryStore{}, &shared.Principal{UserID: 1, Role: shared.RoleAdmin})

	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/company", strings.NewReader(`{"name":""}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/company", strings.NewReader(`{"name":"X","vat_rate":"120"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
