/**
 * @description
 * Cron scheduler for the periodic reconciliation job.
 */
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/disbursement-service/internal/app"
	"go.uber.org/zap"
)

// DefaultSchedule runs reconciliation every minute.
const DefaultSchedule = "@every 1m"

// Reconciler is the job the scheduler drives.
type Reconciler interface {
	Run(ctx context.Context) (app.ReconcileReport, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	schedule   string
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewScheduler creates a new scheduler instance. Runs never overlap; a run that is
// still going when the next tick fires causes that tick to be skipped.
func NewScheduler(reconciler Reconciler, schedule string, runTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger = logger.Named("scheduler")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		schedule:   schedule,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunReconciliation); err != nil {
		s.logger.Error("failed to schedule reconciliation job", zap.String("schedule", s.schedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled reconciliation job", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// RunReconciliation performs one reconciliation pass.
func (s *Scheduler) RunReconciliation() {
	s.logger.Info("starting reconciliation job")
	ctx := context.Background()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	report, err := s.reconciler.Run(ctx)
	if err != nil {
		s.logger.Error("reconciliation job failed", zap.Int("examined", report.Examined), zap.Error(err))
		return
	}
	s.logger.Info("reconciliation job finished",
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("campaigns_frozen", report.CampaignsFrozen),
	)
}

// Stop gracefully stops the cron scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
