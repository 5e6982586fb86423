package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ProactiveInsights/internal/ports"
)

// CronScheduler runs periodic jobs on a robfig/cron runner. Overlapping runs
// of the same job are skipped.
type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds an idle scheduler.
func NewCronScheduler(logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &CronScheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Every registers job at a fixed interval (rounded down to whole seconds, minimum one second).
func (c *CronScheduler) Every(interval time.Duration, job func()) error {
	if job == nil {
		return fmt.Errorf("schedule: nil job")
	}
	if interval <= 0 {
		return fmt.Errorf("schedule: non-positive interval %s", interval)
	}
	c.cron.Schedule(cron.Every(interval), cron.FuncJob(job))
	return nil
}

// Spec registers job on a standard five-field cron expression.
func (c *CronScheduler) Spec(spec string, job func()) error {
	if _, err := c.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Start launches the runner; calling it twice is a no-op.
func (c *CronScheduler) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.cron.Start()
	c.started = true
	return nil
}

// Stop halts the runner and waits for running jobs or ctx, whichever ends first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	done := c.cron.Stop()
	c.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
