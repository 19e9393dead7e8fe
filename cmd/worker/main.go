package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/ctc-stipend/stipend/internal/app"
	"github.com/ctc-stipend/stipend/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// run processes signing and reporting tasks until ctx is cancelled. Metrics are
// served on WORKER_METRICS_ADDR alongside the asynq server.
func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	services, err := app.NewServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer services.Close()

	redisOpts, err := services.RedisOpts(cfg)
	if err != nil {
		return fmt.Errorf("worker needs redis: %w", err)
	}

	sweepTask, err := jobs.NewReportingSweepTask(time.Time{})
	if err != nil {
		return fmt.Errorf("build sweep task: %w", err)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSigningDispatch, Handler: services.DispatchJob.Handle},
			{Type: jobs.TaskSigningEvent, Handler: services.EventJob.Handle},
			{Type: jobs.TaskReportingSweep, Handler: services.SweepJob.Handle},
			{Type: jobs.TaskIdempotencyPrune, Handler: services.PruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReportingSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyPruneCron, Task: jobs.NewIdempotencyPruneTask()},
		},
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", services.Metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("worker starting",
		slog.String("backends", services.String()),
		slog.String("metrics_addr", cfg.WorkerMetricsAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
