package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/unitmon/internal/logfields"
)

// Scheduler wraps gocron for driving the periodic reconciliation poll.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// SchedulePoll registers the poll trigger at the given interval. Singleton
// mode ensures a slow trigger never stacks up behind itself; the engine
// additionally drops triggers while a poll is in flight.
func (s *Scheduler) SchedulePoll(interval time.Duration, trigger func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(trigger),
		gocron.WithName("unit-poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create poll job: %w", err)
	}
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.Info("Stopping scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		return err
	}
	return nil
}
