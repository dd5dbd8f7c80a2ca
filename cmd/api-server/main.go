package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-session-scheduling/internal/api"
	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
	"github.com/hackgods/clinic-session-scheduling/internal/config"
	"github.com/hackgods/clinic-session-scheduling/internal/db"
	"github.com/hackgods/clinic-session-scheduling/internal/dispatch"
	"github.com/hackgods/clinic-session-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-session-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("api-server", "dev").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("api-server", cfg.Env)
	logger.Info().Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "api-server")
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}
	logger.Info().Msg("connected to Postgres")

	repo := appointment.NewPgRepository(pgPool)
	checks := []api.Check{{Name: "postgres", Critical: true, Ping: pgPool.Ping}}

	// Notifications go to the log always, and to Redis Pub/Sub when it is
	// reachable at startup.
	sink := dispatch.NewLogSink(logger)
	notifiers := dispatch.FanoutNotifier{sink}

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, notifications are logged only")
	} else {
		defer closeRedis(rdb, logger)
		notifiers = append(notifiers, redisclient.NewPublisher(rdb, cfg.NotifyChannel))
		checks = append(checks, api.Check{Name: "redis", Ping: redisclient.Ping(rdb)})
		logger.Info().Str("channel", cfg.NotifyChannel).Msg("connected to Redis")
	}

	dispatcher := dispatch.New(notifiers, dispatch.FanoutAuditor{repo, sink}, dispatch.Options{
		Buffer:     cfg.DispatchBuffer,
		Workers:    cfg.DispatchWorkers,
		MaxRetries: cfg.DispatchMaxRetries,
	}, logger)

	svc := appointment.NewService(repo, appointment.Settings{
		DefaultCapacity: cfg.DefaultSessionCapacity,
		BookingFee:      cfg.BookingFeeAmount(),
		AdmitMaxRetries: int(cfg.AdmitMaxRetries),
	},
		appointment.WithRates(repo),
		appointment.WithNotifier(dispatcher),
		appointment.WithAuditor(dispatcher),
		appointment.WithLogger(logger),
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: svc,
			Checks:  checks,
			Logger:  logger,
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher did not drain")
	}

	stats := dispatcher.Stats()
	logger.Info().
		Int64("delivered", stats.Delivered).
		Int64("failed", stats.Failed).
		Int64("dropped", stats.Dropped).
		Msg("api-server stopped")
}

func closeRedis(rdb *redis.Client, logger zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing redis")
	}
}
