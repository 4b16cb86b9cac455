package articles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// Handler wires HTTP endpoints for articles.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the article handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers article routes. Sales roles may read the catalog.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProducts, shared.PermInvoices, shared.PermCounter, shared.PermQuotes, shared.PermStock, shared.PermCreditNotes))
		r.Get("/", h.list)
		r.Get("/search", h.search)
		r.Get("/popular", h.popular)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProducts))
		r.Get("/next-code", h.nextCode)
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.deactivate)
		r.Post("/{id}/activate", h.reactivate)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	inactive, _ := strconv.ParseBool(q.Get("include_inactive"))
	items, total, err := h.service.List(r.Context(), ListFilter{
		Search:          q.Get("q"),
		Kind:            Kind(q.Get("kind")),
		Category:        q.Get("category"),
		IncludeInactive: inactive,
		Limit:           page.Limit(),
		Offset:          page.Offset(),
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(items, page, total))
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []Article{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) popular(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.Popular(r.Context(), limit)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []Popular{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) nextCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.NextCode(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"code": code})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	a, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input Input
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	a, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Reactivate(r.Context(), id); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
