package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcade-sync/internal/achievement"
	"github.com/arcade-sync/internal/auth"
	"github.com/arcade-sync/internal/bridge"
	"github.com/arcade-sync/internal/cache"
	"github.com/arcade-sync/internal/config"
	"github.com/arcade-sync/internal/handler"
	"github.com/arcade-sync/internal/kafka"
	"github.com/arcade-sync/internal/postgres"
	"github.com/arcade-sync/internal/service"
	"github.com/arcade-sync/internal/storage"
	"github.com/arcade-sync/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize the view cache
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	views, err := cache.NewViews(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer views.Close()
	logger.Info("connected to Redis")

	// Initialize the object store for save snapshots
	logger.Info("connecting to object store", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
	blobs, err := storage.NewStore(&cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to connect to object store", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to object store")

	// Initialize services
	engine := achievement.NewEngine(repo, logger)
	saveService := service.NewSaveService(blobs, repo, engine, views, logger)
	telemetryService := service.NewTelemetryService(repo, engine, views, logger)

	// Initialize the sandbox bridge hub
	hub := bridge.NewHub(saveService, telemetryService, bridge.Options{
		AutoRestoreDelay: cfg.Session.AutoRestoreDelay,
		MaxSnapshotBytes: cfg.Session.MaxSnapshotBytes,
		NotifyInterval:   cfg.Notify.StaggerInterval,
		NotifyVisible:    cfg.Notify.VisibleDuration,
	}, logger)
	go hub.Run()
	logger.Info("sandbox bridge hub initialized")

	// Initialize the orphan sweep worker
	cleanupWorker := worker.NewCleanupWorker(blobs, repo, &cfg.Cleanup, logger)
	if cfg.Cleanup.Enabled {
		if err := cleanupWorker.Start(ctx); err != nil {
			logger.Error("failed to start cleanup worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for high-volume telemetry ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, telemetryService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler
	jwtAuth := auth.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	httpHandler := handler.NewHandler(saveService, telemetryService, hub, jwtAuth, cfg.Session.MaxSnapshotBytes, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("sandbox bridge available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the bridge hub
	hub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop cleanup worker
	if err := cleanupWorker.Stop(); err != nil {
		logger.Error("failed to stop cleanup worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
