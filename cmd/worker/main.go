package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/electrokart/electrokart/internal/app"
	jobmetrics "github.com/electrokart/electrokart/internal/jobs"
	"github.com/electrokart/electrokart/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open stores", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := stores.Close(context.Background()); err != nil {
			logger.Warn("close stores", slog.Any("error", err))
		}
	}()

	workerCfg := jobs.WorkerConfig{
		RedisOpts: cfg.RedisOpt(),
		Logger:    logger,
	}
	if stores.Sweeper != nil {
		workerCfg.Handlers = append(workerCfg.Handlers, jobs.TaskHandler{
			Type: jobs.TaskPasscodeSweep,
			Handler: jobs.NewPasscodeSweepHandler(jobs.PasscodeSweepConfig{
				Sweeper: stores.Sweeper,
				Store:   cfg.PasscodeStore,
				Metrics: jobmetrics.NewMetrics(nil),
				Logger:  logger,
			}),
		})
		workerCfg.Cron = append(workerCfg.Cron, jobs.CronRegistration{
			Spec: cfg.SweepCron,
			Task: jobs.NewPasscodeSweepTask(),
		})
	} else {
		logger.Info("passcode store expires records natively, sweep disabled", slog.String("store", cfg.PasscodeStore))
	}

	worker, err := jobs.NewWorker(workerCfg)
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: cfg.AppReadTimeout}

	if err := app.Serve(ctx, metricsServer, logger, worker.Run); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
