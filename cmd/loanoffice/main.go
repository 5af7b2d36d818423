// Package main запускает HTTP-сервер и планировщик бэк-офиса микрозаймов.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loan-backoffice/internal/config"
	"github.com/mmeshcher/loan-backoffice/internal/handler"
	"github.com/mmeshcher/loan-backoffice/internal/metrics"
	"github.com/mmeshcher/loan-backoffice/internal/middleware"
	"github.com/mmeshcher/loan-backoffice/internal/notify"
	"github.com/mmeshcher/loan-backoffice/internal/repository"
	"github.com/mmeshcher/loan-backoffice/internal/scheduler"
	"github.com/mmeshcher/loan-backoffice/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer pg.Close()
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is not set, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	var sender notify.Sender
	if cfg.NotifyGatewayAddress != "" {
		sender = notify.NewClient(cfg.NotifyGatewayAddress)
	} else {
		sugar.Warn("NOTIFY_GATEWAY_ADDRESS is not set, notifications are only logged")
		sender = notify.NewLogSender(logger)
	}

	collector := metrics.NewCollector()

	svc := service.NewService(repo, sender, service.Options{
		Logger:        logger,
		Metrics:       collector,
		AdminEmail:    cfg.AdminEmail,
		EffectTimeout: cfg.EffectTimeout,
	})

	jobs := scheduler.New(svc, scheduler.Options{
		Logger:  logger,
		Metrics: collector,
		Budget:  cfg.JobBudget,
	})

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, issued tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, jobs, logger, authMiddleware, collector.Handler())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск заданий эскалации по таймеру
	g.Go(func() error {
		if cfg.SchedulerInterval <= 0 {
			sugar.Info("scheduler disabled")
			return nil
		}
		sugar.Infow("starting scheduler", "interval", cfg.SchedulerInterval.String())
		jobs.Start(ctx, cfg.SchedulerInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting loan back office server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
