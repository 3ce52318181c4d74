package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/copperline/advisory/internal"
	"github.com/copperline/advisory/internal/auth"
	"github.com/copperline/advisory/internal/billing"
	"github.com/copperline/advisory/internal/handler"
	"github.com/copperline/advisory/internal/metrics"
	"github.com/copperline/advisory/internal/middleware"
	"github.com/copperline/advisory/internal/pricing"
	"github.com/copperline/advisory/internal/repository"
	"github.com/copperline/advisory/internal/service"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
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

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Initialize billing. Without a Stripe key the checkout and webhook
	// handlers respond as unconfigured instead of crashing, which keeps
	// local development possible without Stripe credentials.
	var billingSvc billing.Service
	if cfg.StripeSecretKey != "" {
		billingSvc = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing disabled")
	}

	// Initialize services
	calc := pricing.NewCalculator(cfg.PerBlockCents)
	userService := service.NewUserService(repo, logger)
	bookingService := service.NewBookingService(db, repo, billingSvc, calc, logger, cfg.BookingRetryAttempts, cfg.BookingRetryBase)
	entitlementService := service.NewEntitlementService(db, repo, logger)

	// Initialize middleware
	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(userService, logger, isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	authLimiter := middleware.NewAuthRateLimiter(logger)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(userService, logger, isSecure)
	bookingHandler := handler.NewBookingHandler(bookingService, logger)
	checkoutHandler := handler.NewCheckoutHandler(
		billingSvc, userService, calc,
		cfg.BaseURL, cfg.StripeRetainerPriceID, cfg.StripeChatPriceID,
		logger,
	)
	webhookHandler := handler.NewWebhookHandler(
		billingSvc, userService, bookingService, entitlementService,
		cfg.StripeRetainerPriceID, cfg.StripeChatPriceID,
		logger,
	)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics, behind basic auth when configured
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Middleware stacks
	requireUser := middleware.Stack(authMw.WithUser, authMw.RequireUser)
	requireChat := middleware.Stack(authMw.WithUser, authMw.RequireUser, authMw.RequireChatAccess)

	authHandler.RegisterRoutes(mux, requireUser, authLimiter.LimitLogin, authLimiter.LimitRegister)
	bookingHandler.RegisterRoutes(mux, requireUser)
	checkoutHandler.RegisterRoutes(mux, requireUser)
	webhookHandler.RegisterRoutes(mux)

	// Chat frontends probe this before opening a conversation. The chat
	// transport itself lives elsewhere; this server only answers whether
	// the subscription is paid up.
	mux.Handle("GET /api/chat/access", requireChat(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.GetUser(r.Context())
		logger.Debug("chat access check", "user_id", user.ID)
		w.WriteHeader(http.StatusNoContent)
	})))

	// Outer middleware applied to every route
	root := middleware.Stack(
		securityMw.Handler,
		metrics.Middleware,
		loggingMw.Handler,
	)(mux)

	// ==========================================================================
	// Background maintenance
	// ==========================================================================

	go runMaintenance(ctx, logger, userService, entitlementService)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// runMaintenance periodically clears expired sessions and prunes old
// processed webhook events until ctx is cancelled.
func runMaintenance(ctx context.Context, logger *slog.Logger, users service.UserService, entitlements service.EntitlementService) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := users.DeleteExpiredSessions(ctx); err != nil {
				logger.Error("session cleanup failed", "error", err)
			}
			if err := entitlements.PruneProcessedEvents(ctx); err != nil {
				logger.Error("webhook event pruning failed", "error", err)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
