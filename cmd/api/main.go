package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subtitle-credit-ledger/config"
	httpHandler "subtitle-credit-ledger/internal/adapter/http/handler"
	pgStorage "subtitle-credit-ledger/internal/adapter/storage/postgres"
	redisStorage "subtitle-credit-ledger/internal/adapter/storage/redis"
	"subtitle-credit-ledger/internal/core/ports"
	"subtitle-credit-ledger/internal/service"
	"subtitle-credit-ledger/internal/worker"
	"subtitle-credit-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Subtitle Credit Ledger")

	ctx := context.Background()

	// Run schema migrations before opening the pool for traffic
	if cfg.Database.MigrationsPath != "" {
		if err := pgStorage.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Msg("Migrations applied")
	}

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	accountRepo := pgStorage.NewAccountRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	voucherRepo := pgStorage.NewVoucherRepo(pool)
	holdRepo := pgStorage.NewHoldRepo(pool)
	regRepo := pgStorage.NewRegistrationRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize business services
	ledgerSvc := service.NewLedgerService(accountRepo, ledgerRepo, idempotencyCache, transactor, log)
	stripeSvc := service.NewStripeReconciler(ledgerSvc, cfg.Stripe.WebhookSecret, log)
	openNodeSvc := service.NewOpenNodeReconciler(ledgerSvc, cfg.OpenNode.APIKey, log)
	voucherSvc := service.NewVoucherService(voucherRepo, ledgerSvc, transactor, log)
	bonusSvc, err := service.NewBonusService(ledgerSvc, regRepo, cfg.Billing, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bonus service")
	}
	usageSvc, err := service.NewUsageService(ledgerSvc, accountRepo, holdRepo, transactor, cfg.Billing, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize usage service")
	}
	adminSvc := service.NewAdminService(ledgerSvc, log)
	reportingSvc := service.NewReportingService(accountRepo, ledgerRepo, regRepo)
	tokenSvc := service.NewJWTTokenService(cfg.Admin.JWTSecret, cfg.Admin.JWTExpiry, cfg.Admin.JWTIssuer)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Background sweeper: expired hold release + balance reconciliation scan
	var sweeper *worker.Sweeper
	if cfg.Sweep.Enabled {
		sweeper, err = worker.NewSweeper(usageSvc, reportingSvc, holdRepo, accountRepo, worker.SweeperConfig{
			Interval:  cfg.Sweep.Interval,
			PoolSize:  cfg.Sweep.PoolSize,
			BatchSize: cfg.Sweep.BatchSize,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize sweeper")
		}
		sweeper.Start(ctx)
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		StripeSvc:      stripeSvc,
		OpenNodeSvc:    openNodeSvc,
		VoucherSvc:     voucherSvc,
		UsageSvc:       usageSvc,
		BonusSvc:       bonusSvc,
		AdminSvc:       adminSvc,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if sweeper != nil {
		sweeper.Stop()
	}

	log.Info().Msg("Server exited")
}
