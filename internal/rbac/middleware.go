package rbac

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Source GrantSource
	Logger *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, hasAnyPermission, "rbac require any")
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, hasAllPermissions, "rbac require all")
}

// RequireAdmin restricts a route to administrators.
func (m Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := m.currentPrincipal(w, r, "rbac require admin")
			if !ok {
				return
			}
			if !p.IsAdmin() {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "administrator role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) require(required []string, check func(shared.Principal, []string) bool, op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := m.currentPrincipal(w, r, op)
			if !ok {
				return
			}
			if check(p, required) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing right: "+strings.Join(required, ", "))
		})
	}
}

// currentPrincipal resolves the request principal, refreshed from the grant
// source when one is configured. It writes the error response itself.
func (m Middleware) currentPrincipal(w http.ResponseWriter, r *http.Request, op string) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return shared.Principal{}, false
	}
	if m.Source == nil {
		return p, true
	}
	grants, err := m.Source.Grants(r.Context(), p.UserID)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error(op, slog.Int64("user_id", p.UserID), slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return shared.Principal{}, false
	}
	if !grants.Active {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "account disabled")
		return shared.Principal{}, false
	}
	p.Role = grants.Role
	p.Rights = grants.Rights
	return p, true
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(p shared.Principal, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if p.Can(r) {
			return true
		}
	}
	return false
}

func hasAllPermissions(p shared.Principal, required []string) bool {
	for _, r := range required {
		if !p.Can(r) {
			return false
		}
	}
	return true
}
