// Package scheduler refreshes active profiles in the background on a cron
// schedule, keeping the cache warm without spending AI quota.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feedpulse/feedpulse/internal/aggregator"
	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/models"
)

// refreshBudget bounds one full refresh sweep across all profiles.
const refreshBudget = 10 * time.Minute

// Scheduler drives periodic background aggregation runs.
type Scheduler struct {
	aggregator *aggregator.Aggregator
	loader     *config.Loader
	logger     *slog.Logger
	cron       *cron.Cron
}

// New creates a scheduler with the given cron spec. The spec uses the standard
// five-field format.
func New(spec string, agg *aggregator.Aggregator, loader *config.Loader, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		aggregator: agg,
		loader:     loader,
		logger:     logger,
		cron:       cron.New(),
	}

	if _, err := s.cron.AddFunc(spec, s.refreshAll); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started")
	s.cron.Start()
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// refreshAll re-aggregates every active profile without AI and without forcing
// a refresh, so profiles whose cache is still live cost nothing.
func (s *Scheduler) refreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshBudget)
	defer cancel()

	profiles := s.loader.ActiveProfiles()
	s.logger.Info("background refresh starting", "profiles", len(profiles))

	for _, profile := range profiles {
		s.refreshProfile(ctx, profile)
		if ctx.Err() != nil {
			s.logger.Warn("background refresh budget exhausted")
			return
		}
	}
}

func (s *Scheduler) refreshProfile(ctx context.Context, profile models.Profile) {
	_, err := s.aggregator.Run(ctx, profile.ID, aggregator.Options{
		AIEnabled:    false,
		ForceRefresh: false,
		IncludeItems: false,
	})
	if err != nil {
		s.logger.Error("background refresh failed",
			"profile", profile.ID,
			"error", err,
		)
	}
}
