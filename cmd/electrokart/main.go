package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/electrokart/electrokart/internal/app"
	"github.com/electrokart/electrokart/internal/auth"
	"github.com/electrokart/electrokart/internal/mail"
	"github.com/electrokart/electrokart/internal/observability"
	"github.com/electrokart/electrokart/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	metrics := observability.NewMetrics()

	sender := mail.NewSender(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
	})

	authService := auth.NewService(auth.ServiceConfig{
		Users:     stores.Users,
		Passcodes: stores.Passcodes,
		Notifier:  sender,
		Tokens:    auth.NewTokenService([]byte(cfg.JWTSecret), cfg.JWTTTL, nil),
		Hasher:    auth.NewBcryptHasher(cfg.BcryptCost),
		Logger:    logger.With(slog.String("component", "auth")),
		Recorder:  metrics,
	})
	authHandler := auth.NewHandler(logger, authService, auth.WithPasscodeRateLimit(cfg.OTPRateLimit))

	inspector := asynq.NewInspector(cfg.RedisOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		AuthHandler: authHandler,
		JobHandler:  jobHandler,
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	if err := app.Serve(ctx, server, logger); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
