package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/techinfoplus/tip-erp/internal/articles"
	"github.com/techinfoplus/tip-erp/internal/auth"
	"github.com/techinfoplus/tip-erp/internal/clients"
	"github.com/techinfoplus/tip-erp/internal/company"
	"github.com/techinfoplus/tip-erp/internal/counter"
	"github.com/techinfoplus/tip-erp/internal/creditnotes"
	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/observability"
	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
	"github.com/techinfoplus/tip-erp/internal/quotes"
	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/reports"
	"github.com/techinfoplus/tip-erp/internal/stock"
	"github.com/techinfoplus/tip-erp/internal/suppliers"
	"github.com/techinfoplus/tip-erp/internal/users"
	"github.com/techinfoplus/tip-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	// Authenticate resolves the bearer token into a principal.
	Authenticate   func(http.Handler) http.Handler
	RBACMiddleware rbac.Middleware

	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *rbac.PermissionsHandler
	ClientsHandler     *clients.Handler
	ArticlesHandler    *articles.Handler
	SuppliersHandler   *suppliers.Handler
	StockHandler       *stock.Handler
	InvoicesHandler    *invoices.Handler
	CounterHandler     *counter.Handler
	CreditNotesHandler *creditnotes.Handler
	QuotesHandler      *quotes.Handler
	CompanyHandler     *company.Handler
	ReportsHandler     *reports.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router serving the JSON API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Logger != nil {
		r.Use(requestLogger(params.Logger))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	authenticate := params.Authenticate
	if authenticate == nil {
		authenticate = denyAll
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(LoginLimiter(params.Config)).Group(params.AuthHandler.MountPublic)
			r.With(authenticate).Group(params.AuthHandler.MountRoutes)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			if params.ClientsHandler != nil {
				r.Route("/clients", params.ClientsHandler.MountRoutes)
			}
			if params.ArticlesHandler != nil {
				r.Route("/articles", params.ArticlesHandler.MountRoutes)
			}
			if params.SuppliersHandler != nil {
				r.Route("/suppliers", params.SuppliersHandler.MountRoutes)
			}
			if params.StockHandler != nil {
				r.Route("/stock", params.StockHandler.MountRoutes)
			}
			if params.InvoicesHandler != nil {
				r.Route("/invoices", params.InvoicesHandler.MountRoutes)
				r.Route("/payments", params.InvoicesHandler.MountPaymentRoutes)
			}
			if params.CounterHandler != nil {
				r.Route("/counter", params.CounterHandler.MountRoutes)
			}
			if params.CreditNotesHandler != nil {
				r.Route("/credit-notes", params.CreditNotesHandler.MountRoutes)
			}
			if params.QuotesHandler != nil {
				r.Route("/quotes", params.QuotesHandler.MountRoutes)
			}
			if params.CompanyHandler != nil {
				r.Route("/company", params.CompanyHandler.MountRoutes)
			}
			if params.ReportsHandler != nil {
				r.Route("/reports", params.ReportsHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.With(params.RBACMiddleware.RequireAdmin()).Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	})
}
