/**
 * @description
 * Cron scheduler setup for the background loops: the auto top-up sweep, the
 * vendor call reconciler, and the pending-funding janitor.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/vendapay/wallet-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	pool    *Pool
	logger  *slog.Logger
	config  config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:    c,
		service: service,
		pool:    NewPool(cfg.WorkerPoolSize),
		logger:  logger,
		config:  cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	sweepSpec := fmt.Sprintf("@every %ds", s.config.SweepIntervalSeconds)
	if _, err := s.cron.AddFunc(sweepSpec, s.sweepDueSchedules); err != nil {
		s.logger.Error("failed to schedule top-up sweep", "error", err)
	} else {
		s.logger.Info("scheduled top-up sweep", "schedule", sweepSpec)
	}

	if _, err := s.cron.AddFunc("@every 30s", s.reconcileVendorCalls); err != nil {
		s.logger.Error("failed to schedule vendor reconciliation", "error", err)
	} else {
		s.logger.Info("scheduled vendor reconciliation", "schedule", "@every 30s")
	}

	if _, err := s.cron.AddFunc("@daily", s.expireFundings); err != nil {
		s.logger.Error("failed to schedule funding janitor", "error", err)
	} else {
		s.logger.Info("scheduled funding janitor", "schedule", "@daily")
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler and drains the worker pool.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.pool.Stop()
	return ctx
}

// sweepDueSchedules fans due schedule runs out to the worker pool. Each run
// re-verifies its own due-ness under a row lock, so overlapping sweeps are
// harmless.
func (s *Scheduler) sweepDueSchedules() {
	ctx := context.Background()
	ids, err := s.service.DueScheduleIDs(ctx, 200)
	if err != nil {
		s.logger.Error("top-up sweep failed to list due schedules", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	s.logger.Info("top-up sweep dispatching runs", "due", len(ids))
	for _, id := range ids {
		scheduleID := id
		s.pool.Submit(func() {
			s.service.ExecuteScheduleRun(ctx, scheduleID)
		})
	}
}

func (s *Scheduler) reconcileVendorCalls() {
	s.service.ReconcileIndeterminateCalls(context.Background())
}

func (s *Scheduler) expireFundings() {
	s.service.ExpireAbandonedFundings(context.Background())
}
