package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
	"github.com/hackgods/clinic-session-scheduling/internal/config"
	"github.com/hackgods/clinic-session-scheduling/internal/db"
	"github.com/hackgods/clinic-session-scheduling/internal/dispatch"
	"github.com/hackgods/clinic-session-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-session-scheduling/internal/redis"
)

const lockName = "expiry-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("expiry-worker", "dev").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("expiry-worker", cfg.Env)
	logger.Info().
		Dur("interval", cfg.WorkerInterval).
		Dur("payment_deadline", cfg.PaymentDeadline).
		Dur("unpaid_grace", cfg.UnpaidGrace).
		Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "expiry-worker")
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Redis is required here: the lock keeps concurrent replicas from
	// sweeping the same rows.
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	sink := dispatch.NewLogSink(logger)
	dispatcher := dispatch.New(
		dispatch.FanoutNotifier{sink, redisclient.NewPublisher(rdb, cfg.NotifyChannel)},
		dispatch.FanoutAuditor{repo, sink},
		dispatch.Options{Buffer: cfg.DispatchBuffer, Workers: cfg.DispatchWorkers, MaxRetries: cfg.DispatchMaxRetries},
		logger,
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("dispatcher did not drain")
		}
	}()

	svc := appointment.NewService(repo, appointment.DefaultSettings(),
		appointment.WithNotifier(dispatcher),
		appointment.WithAuditor(dispatcher),
		appointment.WithLogger(logger),
	)
	sweeper := appointment.NewExpirySweeper(svc, cfg.PaymentDeadline, cfg.UnpaidGrace)
	locker := redisclient.NewLocker(rdb, cfg.LockTTL)

	ctx := appointment.WithActor(rootCtx, "expiry-worker")

	// Run once at startup
	runOnce(ctx, locker, sweeper, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(ctx, locker, sweeper, logger)
		}
	}
}

func runOnce(ctx context.Context, locker redisclient.Locker, sweeper *appointment.ExpirySweeper, logger zerolog.Logger) {
	start := time.Now()

	var res appointment.SweepResult
	err := locker.WithLock(ctx, lockName, func(ctx context.Context) error {
		var err error
		res, err = sweeper.Run(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Debug().Msg("another replica holds the expiry lock, skipping")
		return
	case err != nil:
		logger.Error().Err(err).Msg("expiry run error")
		return
	}

	logger.Info().
		Int("marked_unpaid", res.MarkedUnpaid).
		Int("cancelled", res.Cancelled).
		Dur("took", time.Since(start)).
		Msg("expiry run complete")
}
