package invoices

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/shared"
)

// IdempotencyHeader carries the client key that deduplicates payment posts.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for invoices and payments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs the invoice handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInvoices, shared.PermPayments, shared.PermCreditNotes, shared.PermReports))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/lines", h.lines)
		r.Get("/{id}/available-articles", h.availableArticles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInvoices))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/{id}/cancel", h.cancel)
		r.Delete("/{id}", h.delete)
	})
}

// MountPaymentRoutes registers payment routes.
func (h *Handler) MountPaymentRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPayments, shared.PermInvoices, shared.PermReports))
		r.Get("/", h.listPayments)
		r.Get("/{id}", h.getPayment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPayments))
		r.Post("/", h.addPayment)
		r.Delete("/{id}", h.deletePayment)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	clientID, err := httpx.QueryInt64(r, "client_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, to, err := httpx.QueryPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	items, total, err := h.service.List(r.Context(), ListFilter{
		Type:     Type(q.Get("type")),
		Status:   Status(q.Get("status")),
		ClientID: clientID,
		From:     from,
		To:       to,
		Search:   q.Get("q"),
		Limit:    page.Limit(),
		Offset:   page.Offset(),
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(items, page, total))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) lines(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.Lines(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) availableArticles(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.AvailableArticles(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	inv, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input UpdateInput
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	inv, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := httpx.QueryInt64(r, "invoice_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, to, err := httpx.QueryPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	items, total, err := h.service.ListPayments(r.Context(), PaymentFilter{
		InvoiceID: invoiceID,
		Method:    q.Get("method"),
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

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	var input PaymentInput
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	p, err := h.service.AddPayment(r.Context(), input, r.Header.Get(IdempotencyHeader))
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
