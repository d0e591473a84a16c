package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/soundloft/internal"
	"github.com/DukeRupert/soundloft/internal/auth"
	"github.com/DukeRupert/soundloft/internal/billing"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/handler"
	"github.com/DukeRupert/soundloft/internal/ledger"
	"github.com/DukeRupert/soundloft/internal/metrics"
	"github.com/DukeRupert/soundloft/internal/middleware"
	"github.com/DukeRupert/soundloft/internal/repository"
	"github.com/DukeRupert/soundloft/internal/service"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := internal.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	repo := repository.New(db)

	// ==========================================================================
	// Services
	// ==========================================================================

	storageService := service.NewStorageQuotaService(repo, service.StorageQuotaConfig{
		LookupTimeout: cfg.LookupTimeout,
		CacheTTL:      cfg.QuotaCacheTTL,
		FailClosed:    cfg.AccountingFailClosed,
	}, logger)

	ledgerClient := ledger.NewClient(cfg.LedgerBaseURL, cfg.LookupTimeout)

	billingService := billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
		PremiumMonthlyPriceID:   cfg.StripePremiumMonthlyPrice,
		PremiumYearlyPriceID:    cfg.StripePremiumYearlyPrice,
		UnlimitedMonthlyPriceID: cfg.StripeUnlimitedMonthPrice,
		UnlimitedYearlyPriceID:  cfg.StripeUnlimitedYearPrice,
	})
	if !cfg.BillingEnabled() {
		logger.Warn("STRIPE_SECRET_KEY not set, paid tiers resolve through the ledger only")
	}

	uploadService := service.NewUploadQuotaService(storageService, ledgerClient, billingService, service.UploadQuotaConfig{
		LookupTimeout: cfg.LookupTimeout,
		CacheTTL:      cfg.QuotaCacheTTL,
	}, logger)

	userService := service.NewUserService(repo, storageService, time.Duration(cfg.GracePeriodDays)*24*time.Hour, logger)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(auth.NewTokenVerifier(cfg.JWTSecret), userService, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	apiLimiter := middleware.NewRateLimiter(cfg.APIRatePerMinute, time.Minute, logger)
	defer apiLimiter.Stop()
	refreshLimiter := middleware.NewRateLimiter(cfg.RefreshRatePerMinute, time.Minute, logger)
	defer refreshLimiter.Stop()

	rateMw := middleware.NewRateLimitMiddleware(apiLimiter, logger)
	requireSession := middleware.Stack(rateMw.Limit, authMw.RequireSession)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			handler.ErrorResponse(w, r, logger, domain.Unavailable(err, "health", "database"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewQuotaHandler(uploadService, storageService, refreshLimiter, logger).RegisterRoutes(mux, requireSession)
	handler.NewWebhookHandler(billingService, userService, logger).RegisterRoutes(mux)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           middleware.Stack(loggingMw.Handler, metrics.Middleware, securityMw.Handler)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
