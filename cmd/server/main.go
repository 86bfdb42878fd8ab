package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/commerce-sync/internal/api"
	"github.com/Kamar-Folarin/commerce-sync/internal/config"
	"github.com/Kamar-Folarin/commerce-sync/internal/connector"
	"github.com/Kamar-Folarin/commerce-sync/internal/connector/rest"
	"github.com/Kamar-Folarin/commerce-sync/internal/db"
	"github.com/Kamar-Folarin/commerce-sync/internal/engine"
	"github.com/Kamar-Folarin/commerce-sync/internal/events"
	"github.com/Kamar-Folarin/commerce-sync/internal/manager"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	store, closeStore := openStore(cfg, logger)
	defer closeStore()

	registry := connector.NewRegistry()
	registry.Register(rest.Platform, rest.NewFactory(cfg.Connector, logger))

	bus := events.NewBus()
	bus.Subscribe(events.MetricsListener{})
	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to event broker: %v", err)
		}
		defer publisher.Close()
		bus.Subscribe(publisher)
	}

	syncEngine := engine.New(store, registry, bus, cfg.Engine, logger)
	jobManager := manager.New(store, syncEngine, cfg.Manager, logger)

	router := api.SetupRouter(api.NewHandler(syncEngine, jobManager, logger))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobManager.Start(ctx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.WithField("signal", sig.String()).Info("Shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Manager.ForceKillAfter+30*time.Second)
	defer stopCancel()
	if err := jobManager.Stop(stopCtx, cfg.Manager.GracefulShutdown, cfg.Manager.ForceKillAfter); err != nil {
		logger.WithError(err).Error("Job manager shutdown reported errors")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server exited properly")
}

// openStore selects the job store named by STORE_DRIVER
func openStore(cfg *config.Config, logger *logrus.Logger) (db.Store, func()) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("Using in-memory job store; jobs are lost on restart and cannot be shared between workers")
		return db.NewMemoryStore(), func() {}
	}

	if cfg.DBConnectionString == "" {
		logger.Fatal("Missing required configuration (DB_CONNECTION_STRING must be set)")
	}

	store, err := db.NewPostgresStore(cfg.DBConnectionString)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	if err := retry(3, 5*time.Second, store.Migrate); err != nil {
		logger.Fatalf("Failed to run migrations after retries: %v", err)
	}

	return store, func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("Failed to close database")
		}
	}
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}
