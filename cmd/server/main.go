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

	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/handler"
	"github.com/grip-leaderboard/internal/kafka"
	"github.com/grip-leaderboard/internal/leaderboard"
	"github.com/grip-leaderboard/internal/metrics"
	"github.com/grip-leaderboard/internal/oracle"
	"github.com/grip-leaderboard/internal/postgres"
	"github.com/grip-leaderboard/internal/redis"
	"github.com/grip-leaderboard/internal/service"
	"github.com/grip-leaderboard/internal/submission"
	"github.com/grip-leaderboard/internal/websocket"
	"github.com/grip-leaderboard/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
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

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registry, "grip")

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)

	queryID := cfg.Oracle.QueryID
	leaderboardService := service.NewLeaderboardService(
		queryID,
		leaderboard.NewLog(cfg.Leaderboard.MaxEntries),
		&cfg.Leaderboard,
		wsHub,
		appMetrics,
		logger,
	)
	wsHub.SetSnapshotSource(leaderboardService)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	builder, err := submission.NewBuilder(&cfg.Submission)
	if err != nil {
		logger.Error("invalid submission config", "error", err)
		os.Exit(1)
	}

	oracleClient := oracle.NewClient(&cfg.Oracle, appMetrics, logger)
	pollWorker := worker.NewPollWorker(oracleClient, leaderboardService, queryID, cfg.Oracle.PollInterval, cfg.Oracle.PollTimeout, logger)

	httpHandler := handler.NewHandler(leaderboardService, builder, pollWorker, wsHub, registry, logger)

	// Initialize Redis
	var mirror *redis.Mirror
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		mirror, err = redis.NewMirror(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without Redis", "error", err)
			mirror = nil
		} else {
			defer mirror.Close()
			leaderboardService.AddSink(mirror)
			httpHandler.SetRanking(mirror)
			httpHandler.AddReadinessCheck(mirror)
			httpHandler.AddCounter(mirror)
			logger.Info("connected to Redis")
		}
	}

	// Initialize PostgreSQL
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()

		// Run database migrations
		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		if cfg.Postgres.WarmStart {
			if _, err := leaderboardService.WarmStart(ctx, postgresRepo); err != nil {
				logger.Warn("failed to restore leaderboard from database", "error", err)
			}
		}

		leaderboardService.AddSink(postgresRepo)
		httpHandler.AddReadinessCheck(postgresRepo)
		httpHandler.AddCounter(postgresRepo)
		logger.Info("connected to PostgreSQL")
	}

	// Initialize Kafka publisher for downstream consumers
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka publisher",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		publisher, err := kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without Kafka", "error", err)
		} else {
			defer func() {
				if err := publisher.Close(); err != nil {
					logger.Error("failed to close Kafka publisher", "error", err)
				}
			}()
			leaderboardService.AddSink(publisher)
		}
	}

	// Start polling
	if err := pollWorker.Start(ctx); err != nil {
		logger.Error("failed to start poll worker", "error", err)
		os.Exit(1)
	}
	logger.Info("polling oracle",
		"query_id", queryID,
		"source", cfg.Oracle.Source,
		"primary", cfg.Oracle.PrimaryURL,
		"fallback", cfg.Oracle.FallbackURL,
		"interval", cfg.Oracle.PollInterval,
	)

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

	// Stop polling before the sinks close
	cancel()
	if err := pollWorker.Stop(); err != nil {
		logger.Error("failed to stop poll worker", "error", err)
	}

	// Stop WebSocket hub
	wsHub.Stop()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
