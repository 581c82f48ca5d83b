package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/promora/beacon/internal/app"
	"github.com/promora/beacon/internal/config"
	"github.com/promora/beacon/internal/database"
	"github.com/promora/beacon/internal/domain"
	"github.com/promora/beacon/internal/metrics"
	"github.com/promora/beacon/internal/platform/logging"
	"github.com/promora/beacon/internal/platform/version"
	"github.com/promora/beacon/internal/realtime"
	"github.com/promora/beacon/internal/redis"
	"github.com/promora/beacon/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, appSvc *app.Service, hub *realtime.Hub, relay *redis.Relay) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Stop accepting new connections first, then close live ones.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		relay.Stop()
		appSvc.Stop()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	build := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "build", build.String())
	metrics.BuildInfo.WithLabelValues(build.Version, build.Commit, build.BuildTime, build.GoVersion).Set(1)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	ticketRepo := database.NewTicketRepo(pool)

	hub := realtime.NewHub(realtime.Options{
		AuthRequired:    cfg.AuthRequired,
		AuthGracePeriod: cfg.AuthGracePeriod,
		ClientTimeout:   cfg.ClientTimeout,
		PingInterval:    cfg.PingInterval,
		SweepInterval:   cfg.SweepInterval,
		SendBufferSize:  cfg.SendBufferSize,
	}, ticketRepo, clock)

	relay := redis.NewRelay(redisClient)
	relay.Start(context.Background(), func(event domain.JobProgressEvent) {
		hub.PublishJobProgress(context.Background(), event)
	})

	appSvc := app.NewService(hub, relay, ticketRepo, ticketRepo, clock)

	srv := server.NewServer(cfg, hub, appSvc, pool, redisClient)

	done := runGracefulShutdown(srv, appSvc, hub, relay)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
