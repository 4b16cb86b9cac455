package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// PermissionsHandler exposes the rights catalog.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, Permissions())
}
