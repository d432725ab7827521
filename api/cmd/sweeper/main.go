package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"riverpulse/api/internal/repos"
	"riverpulse/shared/cachex"
	"riverpulse/shared/config"
	"riverpulse/shared/dbx"
	"riverpulse/shared/lockx"
	"riverpulse/shared/logx"
	"riverpulse/shared/metricsx"
	"riverpulse/shared/observability"
	"riverpulse/shared/workflow"
)

const taskLivenessSweep = "registry.liveness_sweep"

const sweepLockKey = "riverpulse:locks:liveness-sweep"

func main() {
	cfg, problems := config.Load("liveness-sweeper", 8084)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	cache, err := cachex.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "cache_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer cache.Close()

	devicesRepo := repos.NewDevicesRepo(dbPool)
	offlineAfter := time.Duration(cfg.OfflineAfterSec) * time.Second

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskLivenessSweep, func(ctx context.Context, t *asynq.Task) error {
		// Only one sweeper instance may flip devices at a time.
		lock, acquired, err := lockx.Acquire(ctx, cache.Client(), sweepLockKey, offlineAfter)
		if err != nil {
			return err
		}
		if !acquired {
			logger.Debug(ctx, "sweep_skipped", "another sweeper holds the lock")
			return nil
		}
		defer func() { _ = lockx.Release(ctx, cache.Client(), lock) }()

		cutoff := time.Now().UTC().Add(-offlineAfter)
		flipped, err := devicesRepo.MarkOfflineStale(ctx, cutoff)
		if err != nil {
			return err
		}
		for i := int64(0); i < flipped; i++ {
			metricsx.IncDeviceMarkedOffline()
		}
		if flipped > 0 {
			logger.Info(ctx, workflow.EventTypeForTransition(workflow.DeviceStatusOnline, workflow.DeviceStatusOffline),
				"marked stale devices offline",
				slog.Int64("count", flipped),
				slog.String("cutoff", cutoff.Format(time.RFC3339)),
			)
		}
		return nil
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.SweepIntervalSec)+"s", asynq.NewTask(taskLivenessSweep, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "sweeper_start", "liveness sweeper started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("sweep_interval_sec", cfg.SweepIntervalSec),
			slog.Int("offline_after_sec", cfg.OfflineAfterSec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "sweeper_failed", "sweeper failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "sweeper_stop", "liveness sweeper stopped")
}
