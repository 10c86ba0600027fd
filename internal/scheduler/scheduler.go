// Package scheduler launches dialogs from cron-scheduled template entries
// persisted in the store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/colloquy/internal/store"
)

// DialogStarter is the interface the scheduler uses to launch dialogs.
// Satisfied by the engine (avoids an import cycle).
type DialogStarter interface {
	Start(ctx context.Context, templateName string, inputs map[string]any) (*store.Dialog, error)
}

// Scheduler polls the store for due scheduled dialogs and starts them.
type Scheduler struct {
	store   store.Store
	starter DialogStarter
	parser  cron.Parser
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)

	interval time.Duration
}

// NewScheduler creates a Scheduler with a standard 5-field cron parser.
func NewScheduler(s store.Store, starter DialogStarter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
		interval: 60 * time.Second,
	}
}

// Schedule validates the cron expression, computes the first run time, and
// persists the entry.
func (s *Scheduler) Schedule(ctx context.Context, sd *store.ScheduledDialog) error {
	next, err := s.CalculateNextRun(sd.CronExpression, time.Now().UTC())
	if err != nil {
		return err
	}
	sd.NextRunAt = &next
	return s.store.SaveScheduledDialog(ctx, sd)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks all enabled schedules and starts those that are due.
func (s *Scheduler) Tick(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListScheduledDialogs(ctx, store.ScheduledDialogFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled dialogs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sd := range schedules {
		if sd.NextRunAt != nil && sd.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sd.ID) {
			continue // already running (dedup)
		}
		if err := s.runSchedule(ctx, sd, now); err != nil {
			s.logger.Error("failed to run scheduled dialog",
				slog.String("schedule_id", sd.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(sd.ID)
	}
}

// runSchedule starts one dialog and updates the schedule's run state.
func (s *Scheduler) runSchedule(ctx context.Context, sd *store.ScheduledDialog, now time.Time) error {
	s.logger.Info("running scheduled dialog",
		slog.String("schedule_id", sd.ID),
		slog.String("template", sd.TemplateName),
	)

	status := "success"
	d, err := s.starter.Start(ctx, sd.TemplateName, sd.Inputs)
	if err != nil {
		status = "error"
		s.logger.Error("scheduled dialog failed",
			slog.String("schedule_id", sd.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled dialog started",
			slog.String("schedule_id", sd.ID),
			slog.String("dialog_id", d.ID),
		)
	}

	return s.updateRunState(ctx, sd, now, status)
}

func (s *Scheduler) updateRunState(ctx context.Context, sd *store.ScheduledDialog, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(sd.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sd.ID, err)
	}

	return s.store.UpdateScheduledDialog(ctx, sd.ID, store.ScheduledDialogUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
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

// RecoverMissed starts schedules whose next_run_at passed while the process
// was down, once each.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	schedules, err := s.store.ListScheduledDialogs(ctx, store.ScheduledDialogFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, sd := range schedules {
		if sd.NextRunAt == nil || !sd.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(sd.ID) {
			continue
		}
		if err := s.runSchedule(ctx, sd, now); err != nil {
			s.logger.Error("failed to recover missed schedule",
				slog.String("schedule_id", sd.ID),
				slog.String("error", err.Error()),
			)
			s.release(sd.ID)
			continue
		}
		s.release(sd.ID)
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return nil
}
