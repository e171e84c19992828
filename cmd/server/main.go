package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/httpserver"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/memory"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	mongoadapter "github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/mongo"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/postgres"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/redis"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/sqlite"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/app"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/auth"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/broadcast"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/config"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/logging"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// storeHandle bundles the selected backend with its cleanup.
type storeHandle struct {
	store domain.Store
	close func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(cfg *config.Config, m *metrics.StoreMetrics) (*storeHandle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(m))
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &storeHandle{store: postgres.NewStore(pool), close: pool.Close}, nil

	case config.StoreDriverMongo:
		client, err := mongoadapter.Connect(ctx, cfg.MongoURI, m)
		if err != nil {
			return nil, err
		}
		store := mongoadapter.NewStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		return &storeHandle{store: store, close: func() { _ = client.Disconnect(context.Background()) }}, nil

	case config.StoreDriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storeHandle{store: sqlite.NewStore(db, m), close: func() { _ = db.Close() }}, nil

	case config.StoreDriverMemory:
		slog.Warn("Using in-memory store, data is lost on restart")
		return &storeHandle{store: memory.NewStore(), close: func() {}}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// setupRedis connects the shared rate limiter. Redis is optional: without
// REDIS_URL each instance limits in memory.
func setupRedis(cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) (*goredis.Client, *redis.RateLimiter, error) {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, rate limits are per instance")
		return nil, nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	m := metrics.NewRedisMetrics(reg)
	breaker := redis.NewCircuitBreakerHook(redis.DefaultBreakerSettings, m)
	client, err := redis.NewClient(ctx, cfg.RedisURL, m, breaker)
	if err != nil {
		return nil, nil, err
	}

	limiter := redis.NewRateLimiter(client, clock, cfg.PublicRateBurst, cfg.PublicRatePerMinute, m)
	return client, limiter, nil
}

func runGracefulShutdown(srv *httpserver.Server, broadcaster *broadcast.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		broadcaster.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "store", cfg.StoreDriver)

	reg := metrics.NewRegistry()

	handle, err := setupStore(cfg, metrics.NewStoreMetrics(reg))
	if err != nil {
		slog.Error("Failed to set up store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer handle.close()

	redisClient, limiter, err := setupRedis(cfg, clock, reg)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	broadcastMetrics := metrics.NewBroadcastMetrics(reg)
	broadcaster := broadcast.NewBroadcaster(clock, broadcastMetrics, broadcast.Limits{
		MaxRoomsPerConnection: cfg.MaxRoomsPerConnection,
		MaxClientsPerRoom:     cfg.MaxClientsPerRoom,
	})

	appSvc := app.NewService(handle.store, broadcaster, clock, metrics.NewMutationMetrics(reg))

	tokens, err := auth.NewTokenService(cfg.TokenSecret, cfg.AdminUsername, cfg.AdminPassword, cfg.TokenTTL, clock)
	if err != nil {
		slog.Error("Failed to create token service", "error", err)
		os.Exit(1)
	}

	healthChecks := []httpserver.HealthCheck{{Name: "store", Check: appSvc.Ping}}
	opts := []httpserver.Option{
		httpserver.WithMetrics(metrics.NewHTTPMetrics(reg), broadcastMetrics, metrics.Handler(reg)),
		httpserver.WithClock(clock),
	}
	if limiter != nil {
		// Pass the limiter only when set to avoid a typed-nil interface.
		opts = append(opts, httpserver.WithRateLimitStore(limiter))
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	opts = append(opts, httpserver.WithHealthChecks(healthChecks...))

	srv := httpserver.NewServer(cfg, appSvc, tokens, broadcaster, opts...)

	done := runGracefulShutdown(srv, broadcaster)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
