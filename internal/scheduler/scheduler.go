// Package scheduler runs background maintenance on a cron schedule: a
// stale-run sweep that surfaces runs stuck waiting on the engine, and a
// periodic database vacuum. The sweep only logs and publishes events;
// runs are never retried or transitioned automatically.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/forja-io/forja/internal/store"
	"github.com/forja-io/forja/internal/streaming"
	"github.com/forja-io/forja/pkg/schema"
)

const tickInterval = 60 * time.Second

// Config holds the cron expressions and the staleness threshold.
type Config struct {
	SweepSpec      string        // cron expression for the stale-run sweep
	VacuumSpec     string        // cron expression for the store vacuum
	StaleThreshold time.Duration // how long a triggered run may sit without progress
}

// DefaultConfig sweeps every 10 minutes and vacuums daily at 03:00.
func DefaultConfig() Config {
	return Config{
		SweepSpec:      "*/10 * * * *",
		VacuumSpec:     "0 3 * * *",
		StaleThreshold: 30 * time.Minute,
	}
}

// Scheduler drives the maintenance jobs.
type Scheduler struct {
	store  store.Store
	hub    streaming.EventHub
	logger *slog.Logger
	config Config
	parser cron.Parser

	sweepSchedule  cron.Schedule
	vacuumSchedule cron.Schedule
	nextSweep      time.Time
	nextVacuum     time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. The cron expressions are parsed
// eagerly so a bad configuration fails at startup, not at 03:00.
func NewScheduler(s store.Store, hub streaming.EventHub, logger *slog.Logger, cfg Config) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	sweep, err := parser.Parse(cfg.SweepSpec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep cron expression %q: %w", cfg.SweepSpec, err)
	}
	vacuum, err := parser.Parse(cfg.VacuumSpec)
	if err != nil {
		return nil, fmt.Errorf("parse vacuum cron expression %q: %w", cfg.VacuumSpec, err)
	}

	now := time.Now().UTC()
	return &Scheduler{
		store:          s,
		hub:            hub,
		logger:         logger,
		config:         cfg,
		parser:         parser,
		sweepSchedule:  sweep,
		vacuumSchedule: vacuum,
		nextSweep:      sweep.Next(now),
		nextVacuum:     vacuum.Next(now),
	}, nil
}

// Start launches the background loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started",
		slog.String("sweep", s.config.SweepSpec),
		slog.String("vacuum", s.config.VacuumSpec))
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

// tick runs whichever jobs are due at the given instant.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if !now.Before(s.nextSweep) {
		if err := s.SweepStaleRuns(ctx, now); err != nil {
			s.logger.Error("stale-run sweep failed", slog.String("error", err.Error()))
		}
		s.nextSweep = s.sweepSchedule.Next(now)
	}
	if !now.Before(s.nextVacuum) {
		if err := s.store.Vacuum(ctx); err != nil {
			s.logger.Error("store vacuum failed", slog.String("error", err.Error()))
		} else {
			s.logger.Info("store vacuum completed")
		}
		s.nextVacuum = s.vacuumSchedule.Next(now)
	}
}

// SweepStaleRuns finds runs stuck in_progress or retrying past the
// threshold and publishes a run_stale event for each. The run itself is
// left untouched; an operator decides what to do.
func (s *Scheduler) SweepStaleRuns(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.config.StaleThreshold)

	stale := 0
	for _, status := range []schema.RunStatus{schema.RunStatusInProgress, schema.RunStatusRetrying} {
		runs, err := s.store.ListRuns(ctx, store.RunFilter{Status: status, StaleBefore: &cutoff})
		if err != nil {
			return fmt.Errorf("list %s runs: %w", status, err)
		}
		for _, run := range runs {
			stale++
			s.logger.Warn("run is stale",
				slog.String("run_id", run.ID),
				slog.Int("step", run.CurrentStep),
				slog.String("status", string(run.Status)),
				slog.Time("updated_at", run.UpdatedAt))
			if s.hub != nil {
				_ = s.hub.Publish(ctx, streaming.StreamEvent{
					RunID:     run.ID,
					Step:      run.CurrentStep,
					EventType: schema.EventRunStale,
					Payload: map[string]any{
						"status":     string(run.Status),
						"updated_at": run.UpdatedAt,
					},
				})
			}
		}
	}
	if stale > 0 {
		s.logger.Info("stale-run sweep finished", slog.Int("stale", stale))
	}
	return nil
}

// NextRuns reports the next scheduled times, for the health surface.
func (s *Scheduler) NextRuns() (sweep, vacuum time.Time) {
	return s.nextSweep, s.nextVacuum
}
