package stock

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

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStock, shared.PermProducts, shared.PermReports))
		r.Get("/movements", h.listMovements)
		r.Get("/movements/{id}", h.getMovement)
		r.Get("/stats", h.stats)
		r.Get("/low", h.lowStock)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStock))
		r.Post("/movements", h.createMovement)
		r.Post("/inventory/validate", h.validateCount)
	})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	articleID, err := httpx.QueryInt64(r, "article_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	page := shared.PageFromQuery(r.URL.Query())
	items, total, err := h.service.ListMovements(r.Context(), MovementFilter{
		ArticleID: articleID,
		Direction: Direction(r.URL.Query().Get("direction")),
		From:      from,
		To:        to,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(items, page, total))
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	var input ManualMovementInput
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	m, err := h.service.RecordMovement(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) validateCount(w http.ResponseWriter, r *http.Request) {
	var input CountInput
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	result, err := h.service.ValidateCount(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.LowStock(r.Context(), limit)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []LowStockItem{}
	}
	httpx.JSON(w, http.StatusOK, items)
}
