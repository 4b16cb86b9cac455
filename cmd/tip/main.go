package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/cmd/tip/cli"
	"github.com/techinfoplus/tip-erp/internal/app"
	"github.com/techinfoplus/tip-erp/internal/articles"
	"github.com/techinfoplus/tip-erp/internal/auth"
	"github.com/techinfoplus/tip-erp/internal/clients"
	"github.com/techinfoplus/tip-erp/internal/company"
	"github.com/techinfoplus/tip-erp/internal/counter"
	"github.com/techinfoplus/tip-erp/internal/creditnotes"
	"github.com/techinfoplus/tip-erp/internal/invoices"
	"github.com/techinfoplus/tip-erp/internal/observability"
	"github.com/techinfoplus/tip-erp/internal/platform/cache"
	"github.com/techinfoplus/tip-erp/internal/platform/db"
	"github.com/techinfoplus/tip-erp/internal/quotes"
	"github.com/techinfoplus/tip-erp/internal/rbac"
	"github.com/techinfoplus/tip-erp/internal/reports"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/stock"
	"github.com/techinfoplus/tip-erp/internal/suppliers"
	"github.com/techinfoplus/tip-erp/internal/users"
	"github.com/techinfoplus/tip-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	// Amounts travel as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command := "serve"
	var args []string
	if len(os.Args) > 1 {
		command, args = os.Args[1], os.Args[2:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "migrate":
		os.Exit(cli.MigrateCommand(cli.MigrateOptions{DSN: cfg.PGDSN, Args: args}))
	case "jobs":
		jobsCLI := cli.NewJobsCLI(redisOpts(cfg))
		code := jobsCLI.Command(ctx, cli.JobsOptions{Args: args})
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("close jobs cli", slog.Any("error", err))
		}
		os.Exit(code)
	default:
		logger.Error("unknown command", slog.String("command", command))
		os.Exit(2)
	}
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	if cfg.DBAutoMigrate {
		if err := db.Migrate(cfg.PGDSN, "up", 0); err != nil {
			return err
		}
		logger.Info("database migrated")
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	ledger := stock.NewLedger(metrics)

	reportsCache := cache.NewVersioned(redisClient, "tip:reports", cfg.DashboardCacheTTL)
	go reportsCache.Listen(ctx)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, auditLogger)
	rbacMiddleware := rbac.Middleware{Source: usersRepo, Logger: logger}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}
	authService := auth.NewService(usersService, issuer, shared.NewTokenStore(redisClient, "tip:revoked"))

	invoiceService := invoices.NewService(invoices.NewRepository(pool), ledger, auditLogger,
		invoices.WithIdempotency(idempotency),
		invoices.WithNotifier(reportsCache),
	)
	counterService := counter.NewService(counter.NewRepository(pool), invoiceService, idempotency)
	creditNoteService := creditnotes.NewService(creditnotes.NewRepository(pool), invoiceService)
	quoteService := quotes.NewService(quotes.NewRepository(pool), invoiceService)
	reportService := reports.NewService(reports.NewRepository(pool), reportsCache)

	inspector := asynq.NewInspector(redisOpts(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		Authenticate:       auth.Authenticate(authService, logger),
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(),
		ClientsHandler:     clients.NewHandler(logger, clients.NewService(clients.NewRepository(pool), auditLogger), rbacMiddleware),
		ArticlesHandler:    articles.NewHandler(logger, articles.NewService(articles.NewRepository(pool), ledger, auditLogger), rbacMiddleware),
		SuppliersHandler:   suppliers.NewHandler(logger, suppliers.NewService(suppliers.NewRepository(pool), auditLogger), rbacMiddleware),
		StockHandler:       stock.NewHandler(logger, stock.NewService(stock.NewRepository(pool), ledger, auditLogger), rbacMiddleware),
		InvoicesHandler:    invoices.NewHandler(logger, invoiceService, rbacMiddleware),
		CounterHandler:     counter.NewHandler(logger, counterService, rbacMiddleware),
		CreditNotesHandler: creditnotes.NewHandler(logger, creditNoteService, rbacMiddleware),
		QuotesHandler:      quotes.NewHandler(logger, quoteService, rbacMiddleware),
		CompanyHandler:     company.NewHandler(logger, company.NewService(company.NewRepository(pool), auditLogger), rbacMiddleware),
		ReportsHandler:     reports.NewHandler(logger, reportService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
