package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/config"
	"github.com/georgemunganga/storefront-backend/internal/database"
	"github.com/georgemunganga/storefront-backend/internal/events"
	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/georgemunganga/storefront-backend/internal/metrics"
	"github.com/georgemunganga/storefront-backend/internal/modules/auth"
	"github.com/georgemunganga/storefront-backend/internal/modules/catalog"
	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/georgemunganga/storefront-backend/internal/modules/order"
	"github.com/georgemunganga/storefront-backend/internal/modules/payment"
	"github.com/georgemunganga/storefront-backend/internal/modules/user"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger("storefront-api", cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Datastore ───────────────────────────────────────────
	db, err := database.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer publisher.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// ── Payments (fail fast on rejected credentials) ────────
	gateway := payment.NewHTTPGateway(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret,
		&http.Client{Timeout: cfg.Payment.Timeout})
	paymentService := payment.NewService(payment.NewPostgresRepository(db), gateway, payment.Options{
		KeyID:         cfg.Payment.KeyID,
		KeySecret:     cfg.Payment.KeySecret,
		WebhookSecret: cfg.Payment.WebhookSecret,
		StoreName:     cfg.StoreName,
		Timeout:       cfg.Payment.Timeout,
	}, m)
	if err := paymentService.VerifyCredentialsAtStartup(ctx); err != nil {
		return err
	}
	logger.Info("payment credentials verified")

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(requestTimeout))
	router.Use(logging.Middleware(logger))
	router.Use(m.Middleware)

	router.Handle("/metrics", metrics.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// ── Identity ────────────────────────────────────────────
	userRepo := user.NewPostgresRepository(db)
	authService := auth.NewService(userRepo, []byte(cfg.JWTSecret), cfg.JWTTTL)
	authMiddleware := auth.NewMiddleware(authService, userRepo)

	user.NewHandler(user.NewService(userRepo)).RegisterRoutes(router, authMiddleware.Authenticate)
	auth.NewHandler(authService).RegisterRoutes(router)

	// ── Catalog & Inventory ─────────────────────────────────
	catalogService := catalog.NewService(catalog.NewPostgresRepository(db))
	catalog.NewHandler(catalogService).RegisterRoutes(router, authMiddleware.Authenticate, authMiddleware.RequireAdmin)

	inventoryService := inventory.NewService(inventory.NewPostgresRepository(db), m)
	inventory.NewHandler(inventoryService).RegisterRoutes(router, authMiddleware.Authenticate, authMiddleware.RequireAdmin)

	// ── Checkout ────────────────────────────────────────────
	orderService := order.NewService(order.Deps{
		Repo:     order.NewPostgresRepository(db),
		Catalog:  catalogService,
		Ledger:   inventoryService,
		Payments: paymentService,
		Events:   publisher,
		Metrics:  m,
		Currency: cfg.Payment.Currency,
	})
	order.NewHandler(orderService).RegisterRoutes(router, authMiddleware.Authenticate, authMiddleware.RequireAdmin)
	payment.NewHandler(paymentService, orderService).RegisterRoutes(router)

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		order.NewSweeper(orderService, cfg.PendingOrderTTL, cfg.SweepInterval, logger).Run(ctx)
	}()

	// ── Server ──────────────────────────────────────────────
	srv := newServer(cfg.Address, router)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("storefront API listening", zap.String("address", cfg.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-sweeperDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", zap.Error(err))
	}
	<-sweeperDone
	return nil
}
