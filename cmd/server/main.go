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

	"github.com/eldtechnologies/chatroom/internal/api"
	"github.com/eldtechnologies/chatroom/internal/api/middleware"
	"github.com/eldtechnologies/chatroom/internal/chat"
	"github.com/eldtechnologies/chatroom/internal/config"
	"github.com/eldtechnologies/chatroom/internal/handlers"
	"github.com/eldtechnologies/chatroom/internal/notify"
	"github.com/eldtechnologies/chatroom/internal/store"
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

	// Open the room store
	backend, redisClient, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("store connection failed")
	}
	defer backend.Close()
	roomStore := store.NewInstrumented(backend, cfg.StoreBackend, cfg.StoreTimeout, logger)

	opts := []handlers.Option{
		handlers.WithPollInterval(chat.ClampPollInterval(cfg.PollInterval)),
	}

	// Notifications across instances
	if cfg.NATSURL != "" {
		notifier, err := notify.NewNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection failed")
		}
		defer notifier.Close()
		opts = append(opts, handlers.WithNotifier(notifier))
		logger.Info().Msg("connected to NATS")
	}

	// Rate limiting needs Redis; reuse the store's client when it has one
	var limiter *middleware.RateLimiter
	if cfg.RedisURL != "" && redisClient == nil {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(options)
		defer redisClient.Close()
		opts = append(opts, handlers.WithHealthCheck("redis", redisPinger{redisClient}))
	}
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient, logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
	} else {
		logger.Warn().Msg("REDIS_URL not set, rate limiting disabled")
	}

	h := handlers.NewHandler(roomStore, cfg.StoreBackend, logger, opts...)

	// Create router
	router := api.NewRouter(logger, h, limiter)

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
			Str("backend", cfg.StoreBackend).
			Msg("starting chatroom server")

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

// openStore connects the configured backend. The Redis client is returned
// when the backend has one, for sharing with the rate limiter.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.RoomStore, *redis.Client, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		s, err := store.NewRedisStore(ctx, cfg.RedisURL, store.WithMessageTTL(cfg.MessageTTL))
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Dur("message_ttl", cfg.MessageTTL).Msg("connected to Redis")
		return s, s.Client(), nil

	case config.BackendPostgres:
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("migrations completed")

		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("connected to PostgreSQL")
		return s, nil, nil

	case config.BackendSQLite:
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite database")
		return s, nil, nil

	default:
		logger.Warn().Msg("using in-memory store, rooms are lost on restart")
		return store.NewMemoryStore(), nil, nil
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
