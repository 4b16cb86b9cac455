package company

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Handler wires HTTP endpoints for company settings.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the company handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers the settings routes. Any signed-in user reads them;
// changing them needs the users right.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.get)
	r.With(h.rbac.RequireAll(shared.PermUsers)).Put("/", h.save)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Get(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	var input Input
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	settings, err := h.service.Save(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}
