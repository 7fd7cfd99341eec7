// Command server serves the query API from previously built artifacts (the
// SQLite store and the boundary GeoJSON) without running the ETL.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/europanel/panel-etl/internal/adapter/http"
	"github.com/europanel/panel-etl/internal/boundary"
	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/observability"
	"github.com/europanel/panel-etl/internal/store"
)

// staticArtifacts serves boundaries loaded at startup and reports ready as
// long as the panel store holds data.
type staticArtifacts struct {
	regions []domain.Region
	store   *store.Store
}

func (a *staticArtifacts) Boundaries() []domain.Region { return a.regions }

func (a *staticArtifacts) CheckReadiness(ctx context.Context) error {
	metrics, err := a.store.Metrics(ctx)
	if err != nil {
		return err
	}
	if len(metrics) == 0 {
		return errors.New("panel store is empty, run the etl first")
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	observability.NewMetrics()

	db, err := store.Open(cfg.StorePath())
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	f, err := os.Open(cfg.BoundaryPath())
	if err != nil {
		logger.Error("failed to open boundaries", "path", cfg.BoundaryPath(), "error", err)
		os.Exit(1)
	}
	regions, err := boundary.ReadGeoJSON(f)
	f.Close()
	if err != nil {
		logger.Error("failed to parse boundaries", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded boundaries", "regions", len(regions))

	artifacts := &staticArtifacts{regions: regions, store: db}
	srv := httpadapter.NewServer(cfg.HTTPAddr, db, artifacts, artifacts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
