// Package scheduler runs periodic panel rebuilds.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Runner is the rebuild entry point, satisfied by the pipeline.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler triggers a rebuild on a fixed interval. Rebuilds never overlap:
// a tick that fires while the previous build is still running waits.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the periodic rebuild and starts the underlying
// scheduler. ctx bounds each individual run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.scheduler.SingletonModeAll()

	_, err := s.scheduler.Every(s.interval).Do(func() {
		s.logger.Info("scheduled rebuild starting", "interval", s.interval)
		if err := s.runner.Run(ctx); err != nil {
			s.logger.Error("scheduled rebuild failed", "error", err)
			return
		}
		s.logger.Info("scheduled rebuild finished")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
