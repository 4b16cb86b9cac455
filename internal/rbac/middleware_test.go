package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/shared"
)

type stubSource struct {
	grants Grants
	err    error
	calls  int
}

func (s *stubSource) Grants(ctx context.Context, userID int64) (Grants, error) {
	s.calls++
	return s.grants, s.err
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, p *shared.Principal) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAnyUsesPrincipalRights(t *testing.T) {
	m := Middleware{}
	clerk := &shared.Principal{UserID: 5, Role: "user", Rights: map[string]bool{shared.PermCounter: true}}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermCounter, shared.PermInvoices), clerk))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(shared.PermStock), clerk))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(shared.PermCounter, shared.PermStock), clerk))
	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireAny(shared.PermStock), nil))
}

func TestRequireRefreshesGrants(t *testing.T) {
	src := &stubSource{grants: Grants{Role: "user", Active: true, Rights: map[string]bool{shared.PermStock: true}}}
	m := Middleware{Source: src}
	stale := &shared.Principal{UserID: 5, Role: "user"}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermStock), stale))
	require.Equal(t, 1, src.calls)

	src.grants.Active = false
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(shared.PermStock), stale))

	src.err = errors.New("db down")
	require.Equal(t, http.StatusInternalServerError, serve(t, m.RequireAny(shared.PermStock), stale))
}

func TestRequireAdmin(t *testing.T) {
	m := Middleware{}
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAdmin(), &shared.Principal{UserID: 1, Role: shared.RoleAdmin}))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAdmin(), &shared.Principal{UserID: 2, Role: "user"}))
}

func TestPermissionsCatalog(t *testing.T) {
	perms := Permissions()
	require.Len(t, perms, len(shared.CoreScopes()))
	for _, p := range perms {
		require.NotEmpty(t, p.Description, p.Name)
		require.True(t, Known(p.Name))
	}
}
