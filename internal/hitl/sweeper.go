package hitl

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the approval expiry cleanup on a cron schedule.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSweeper creates a sweeper with the given cron schedule
// (e.g. "@every 5m").
func NewSweeper(manager *Manager, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		manager: manager,
		cron:    cron.New(),
		logger:  logger.With("component", "hitl-sweeper"),
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.manager.CleanupExpired(context.Background(), ""); err != nil {
			s.logger.Error("approval expiry sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduled sweeps.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
