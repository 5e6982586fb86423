package usecase

import (
	"context"
	"fmt"
	"time"

	"ProactiveInsights/internal/ports"
)

const (
	DefaultBatchWindow   = 5 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
)

// SchedulerConfig sets the periodic job cadence.
type SchedulerConfig struct {
	BatchWindow   time.Duration
	SweepInterval time.Duration
	// DigestCron additionally drains the batch on a cron expression, e.g. a morning digest.
	DigestCron    string
}

// Scheduler wires the periodic driver with the engine's housekeeping jobs.
type Scheduler struct {
	driver ports.Scheduler
	engine *Engine
	cfg    SchedulerConfig
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, engine *Engine, cfg SchedulerConfig) *Scheduler {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Scheduler{driver: driver, engine: engine, cfg: cfg}
}

// Start registers the batch drain, the feedback sweep and the optional digest,
// then starts the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.engine == nil {
		return nil
	}

	if err := s.driver.Every(s.cfg.BatchWindow, func() {
		s.engine.DrainBatch(ctx)
	}); err != nil {
		return fmt.Errorf("schedule batch drain: %w", err)
	}
	if err := s.driver.Every(s.cfg.SweepInterval, func() {
		s.engine.SweepFeedback(ctx)
	}); err != nil {
		return fmt.Errorf("schedule feedback sweep: %w", err)
	}
	if s.cfg.DigestCron != "" {
		if err := s.driver.Spec(s.cfg.DigestCron, func() {
			s.engine.DrainBatch(ctx)
		}); err != nil {
			return fmt.Errorf("schedule digest: %w", err)
		}
	}

	return s.driver.Start(ctx)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
