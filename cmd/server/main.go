package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/beatmart/chatsync/internal/api"
	"github.com/beatmart/chatsync/internal/bus"
	"github.com/beatmart/chatsync/internal/config"
	"github.com/beatmart/chatsync/internal/handlers"
	"github.com/beatmart/chatsync/internal/notify"
	"github.com/beatmart/chatsync/internal/realtime"
	"github.com/beatmart/chatsync/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the data store: PostgreSQL when configured, SQLite otherwise
	var data store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		data = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		data = sqliteStore
		logger.Info().Msg("using SQLite")
	}
	defer data.Close()

	// Initialize Redis (read watermarks)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Initialize the event bus: NATS when configured, in-process otherwise
	var eventBus bus.Bus
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection failed")
		}
		eventBus = natsBus
		logger.Info().Msg("connected to NATS")
	} else {
		eventBus = bus.NewMemoryBus()
		logger.Info().Msg("using in-process event bus")
	}
	defer eventBus.Close()

	// Realtime hub
	hub := realtime.NewHub(data, eventBus, logger)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("hub start failed")
	}
	defer hub.Close()

	// Notification dispatch
	var notifier *notify.Dispatcher
	if cfg.NotifyURL != "" {
		notifyClient := notify.NewClient(cfg.NotifyURL)
		var err error
		notifier, err = notify.NewDispatcher(cfg.RedisURL, notifyClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("notification dispatcher failed")
		}
		defer notifier.Close()

		// Run the delivery worker in-process when a queue is configured
		if cfg.RedisURL != "" {
			worker, err := notify.NewWorker(cfg.RedisURL, notifyClient, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("notification worker failed")
			}
			workerCtx, stopWorker := context.WithCancel(ctx)
			defer stopWorker()
			go func() {
				if err := worker.Run(workerCtx); err != nil {
					logger.Error().Err(err).Msg("notification worker stopped")
				}
			}()
		}
	}

	// Create handler and router
	h := handlers.NewHandler(data, redisStore, eventBus, hub, notifier, cfg.SignSecret, logger)
	var redisClient *redis.Client
	if redisStore != nil {
		redisClient = redisStore.Client()
	}
	router := api.NewRouter(logger, data, redisClient, h)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat gateway")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
