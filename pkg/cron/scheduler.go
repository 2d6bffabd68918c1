// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/categorization"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
	"github.com/ledgerpipe/ledgerpipe/pkg/config"
)

// Scheduler manages background scheduled jobs.
type Scheduler struct {
	cron   *cron.Cron
	catSvc *categorization.Service
	txRepo *transaction.Repository
	cfg    config.PipelineConfig
	logger *slog.Logger
}

func NewScheduler(catSvc *categorization.Service, txRepo *transaction.Repository, cfg config.PipelineConfig, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:   c,
		catSvc: catSvc,
		txRepo: txRepo,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the jobs and begins the scheduler.
func (s *Scheduler) Start() error {
	// Reclassification sweep: nightly at 3:00 AM, when new rules and
	// corrections from the day can improve old low-confidence rows.
	if _, err := s.cron.AddFunc("0 3 * * *", s.reclassifySweep); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow manually triggers the sweep (for testing/admin).
func (s *Scheduler) RunNow() {
	go s.reclassifySweep()
}

// reclassifySweep re-runs classification for every user who has
// low-confidence rows.
func (s *Scheduler) reclassifySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	s.logger.Info("starting nightly reclassification sweep")

	users, err := s.txRepo.UsersWithLowConfidence(ctx, s.cfg.ReclassifyThreshold)
	if err != nil {
		s.logger.Error("failed to list users for reclassification", slog.Any("error", err))
		return
	}

	swept := 0
	failed := 0
	for _, uid := range users {
		changed, err := s.catSvc.ReclassifyLowConfidence(ctx, uid)
		if err != nil {
			s.logger.Warn("reclassification failed for user",
				slog.String("user_id", uid.String()),
				slog.Any("error", err),
			)
			failed++
			continue
		}
		s.logger.Debug("reclassified user rows",
			slog.String("user_id", uid.String()),
			slog.Int("changed", changed),
		)
		swept++
	}

	s.logger.Info("nightly reclassification sweep completed",
		slog.Int("users_swept", swept),
		slog.Int("users_failed", failed),
	)
}
