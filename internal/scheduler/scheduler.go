// Package scheduler fires stored scheduled runs. It polls the database for
// due schedules and submits each as a regular run through the coordinator.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"conclave/internal/config"
	"conclave/internal/engine"
	"conclave/internal/schedule"
	"conclave/internal/store"
)

// Submitter is the slice of the coordinator the scheduler needs.
type Submitter interface {
	Submit(sub engine.Submission) (*engine.Run, error)
}

type Scheduler struct {
	store        *store.Store
	coord        Submitter
	pollInterval time.Duration
}

func New(s *store.Store, coord Submitter, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		coord:        coord,
		pollInterval: cfg.PollInterval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Scheduler) poll() {
	due, err := s.store.GetDueScheduledRuns(time.Now())
	if err != nil {
		slog.Error("failed to get due scheduled runs", "error", err)
		return
	}
	for _, sr := range due {
		s.fire(sr)
	}
}

// fire submits one due schedule and records the outcome plus its next due
// time. Submission failures (say, a roster that shrank below the protocol's
// minimum) are recorded on the schedule, not retried immediately.
func (s *Scheduler) fire(sr store.ScheduledRun) {
	slog.Info("firing scheduled run", "id", sr.ID, "name", sr.Name, "protocol", sr.ProtocolID)

	run, err := s.coord.Submit(engine.Submission{
		ProtocolID: sr.ProtocolID,
		Question:   sr.Question,
		Workers:    sr.Workers,
		Rounds:     sr.Rounds,
	})

	lastStatus := "submitted"
	lastError := ""
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled run submission failed", "id", sr.ID, "error", err)
	} else {
		slog.Info("scheduled run submitted", "id", sr.ID, "run", run.ID)
	}

	nextRun := schedule.NextRun(sr.Schedule)
	if err := s.store.UpdateScheduledRunFired(sr.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled run", "id", sr.ID, "error", err)
	}
	if nextRun == nil {
		slog.Info("schedule retired", "id", sr.ID, "name", sr.Name)
	}
}
