package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"despacho/internal/app"
	"despacho/internal/config"
	"despacho/internal/handler"
	internalRedis "despacho/internal/redis"
	"despacho/internal/repository/postgres"
	"despacho/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	// Wire dependencies.
	server := wireServer(db, redisClient, nrApp, cfg)

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) *http.Server {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	// Initialize repositories.
	ledgerRepo := postgres.NewLedgerRepository(db)
	allocRepo := postgres.NewAllocationRepository(db)
	appliedRepo := postgres.NewAppliedOperationRepository(db)
	evidenceRepo := postgres.NewEvidenceRepository(db)
	tripRepo := postgres.NewTripRepository(db)
	dispatchRepo := postgres.NewDispatchRepository(db)
	directoryRepo := postgres.NewDirectoryRepository(db)

	// Initialize services.
	notificationService := service.NewNotificationService()
	ledgerService := service.NewLedgerService(db, ledgerRepo, allocRepo, evidenceRepo, directoryRepo, cacheStore)
	reconciliationService := service.NewReconciliationService(
		db, ledgerRepo, allocRepo, appliedRepo,
		lockStore, locationStore, cacheStore,
		notificationService, cfg.Sync.Epsilon,
	)
	tripService := service.NewTripService(tripRepo, ledgerRepo, allocRepo)
	dispatchService := service.NewDispatchService(dispatchRepo, directoryRepo)

	// Initialize handlers.
	ledgerHandler := handler.NewLedgerHandler(ledgerService)
	allocationHandler := handler.NewAllocationHandler(reconciliationService, ledgerService)
	driverHandler := handler.NewDriverHandler(reconciliationService, tripService, ledgerService, locationStore)
	tripHandler := handler.NewTripHandler(tripService)
	dispatchHandler := handler.NewDispatchHandler(dispatchService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		LedgerHandler:     ledgerHandler,
		AllocationHandler: allocationHandler,
		DriverHandler:     driverHandler,
		TripHandler:       tripHandler,
		DispatchHandler:   dispatchHandler,
		RedisClient:       redisClient,
		NewRelicApp:       nrApp,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
