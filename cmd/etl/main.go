package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/europanel/panel-etl/internal/adapter/http"
	"github.com/europanel/panel-etl/internal/boundary"
	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/cordex"
	"github.com/europanel/panel-etl/internal/eea"
	"github.com/europanel/panel-etl/internal/eurostat"
	"github.com/europanel/panel-etl/internal/fetch"
	"github.com/europanel/panel-etl/internal/observability"
	"github.com/europanel/panel-etl/internal/pipeline"
	"github.com/europanel/panel-etl/internal/scheduler"
	"github.com/europanel/panel-etl/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	db, err := store.Open(cfg.StorePath())
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	boundaryClient := fetch.NewClient("boundary", cfg.BoundaryTimeout, cfg, metrics, logger)
	eurostatClient := fetch.NewClient("eurostat", cfg.FetchTimeout, cfg, metrics, logger)
	eeaClient := fetch.NewClient("eea", cfg.FetchTimeout, cfg, metrics, logger)

	p := pipeline.New(
		boundary.NewBuilder(boundaryClient, cfg, logger),
		eurostat.NewService(eurostatClient, cfg.EurostatBaseURL, logger),
		eea.NewClient(eeaClient, cfg.EEABaseURL, cfg.EEAContactEmail, logger),
		cordex.NewService(cfg, logger),
		db,
		eurostat.MergePopulation,
		cfg, logger, metrics,
	)

	srv := httpadapter.NewServer(cfg.HTTPAddr, db, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := p.Run(ctx); err != nil {
		logger.Error("panel build failed", "error", err)
		if cfg.RebuildInterval <= 0 {
			shutdown(srv, cfg, logger)
			os.Exit(1)
		}
	}

	if cfg.RebuildInterval > 0 {
		sched := scheduler.New(p, cfg.RebuildInterval, logger)
		if err := sched.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			shutdown(srv, cfg, logger)
			os.Exit(1)
		}
		defer sched.Stop()
		logger.Info("rebuild scheduler started", "interval", cfg.RebuildInterval)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdown(srv, cfg, logger)
	logger.Info("shutdown complete")
}

func shutdown(srv *httpadapter.Server, cfg *config.Config, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
