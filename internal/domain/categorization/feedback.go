package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
	"github.com/ledgerpipe/ledgerpipe/internal/metrics"
	"github.com/ledgerpipe/ledgerpipe/pkg/config"
)

// FeedbackService records user corrections and turns repeated ones into
// rule proposals.
type FeedbackService struct {
	repo   *Repository
	txRepo *transaction.Repository
	cfg    config.PipelineConfig
	logger *slog.Logger
}

func NewFeedbackService(repo *Repository, txRepo *transaction.Repository, cfg config.PipelineConfig, logger *slog.Logger) *FeedbackService {
	return &FeedbackService{repo: repo, txRepo: txRepo, cfg: cfg, logger: logger}
}

// RecordCorrection applies a user's category decision: the correction
// is appended to the feedback log, the transaction becomes manually
// classified with full confidence, and repeated corrections for the
// same merchant may yield a rule proposal.
func (s *FeedbackService) RecordCorrection(ctx context.Context, userID, txID, categoryID uuid.UUID) error {
	tx, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	if tx == nil || tx.UserID != userID {
		return fmt.Errorf("transaction %s not found", txID)
	}

	category, err := s.repo.GetCategory(ctx, userID, categoryID)
	if err != nil {
		return err
	}
	if category == nil {
		return fmt.Errorf("category %s not found", categoryID)
	}

	fb := &Feedback{
		UserID:        userID,
		TransactionID: txID,
		Merchant:      tx.Merchant,
		PriorCategory: tx.CategoryID,
		NewCategory:   categoryID,
	}
	if err := s.repo.InsertFeedback(ctx, fb); err != nil {
		return err
	}
	if err := s.txRepo.SetManualCategory(ctx, txID, categoryID); err != nil {
		return err
	}
	metrics.ClassifiedBySource.WithLabelValues(string(transaction.SourceManual)).Inc()

	if tx.Merchant != "" {
		if err := s.maybeProposeRule(ctx, userID, tx.Merchant, categoryID); err != nil {
			// A failed proposal must not undo the recorded correction.
			s.logger.Warn("rule proposal failed",
				slog.String("merchant", tx.Merchant), slog.Any("error", err))
		}
	}
	return nil
}

// maybeProposeRule creates a disabled proposed rule once the same
// merchant has been corrected to the same category often enough inside
// the window. Proposals never auto-enable; the user approves them.
func (s *FeedbackService) maybeProposeRule(ctx context.Context, userID uuid.UUID, merchant string, categoryID uuid.UUID) error {
	since := time.Now().UTC().AddDate(0, 0, -s.cfg.RuleProposalWindowDays)
	count, err := s.repo.CountRecentCorrections(ctx, userID, merchant, categoryID, since)
	if err != nil {
		return err
	}
	if count < s.cfg.RuleProposalMinCount {
		return nil
	}

	existing, err := s.repo.FindRuleByPattern(ctx, userID, merchant, FieldMerchant)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	rule := &Rule{
		UserID:     userID,
		Pattern:    merchant,
		MatchType:  MatchEquals,
		Field:      FieldMerchant,
		CategoryID: categoryID,
		Enabled:    false,
		Proposed:   true,
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return err
	}
	s.logger.Info("rule proposed from repeated corrections",
		slog.String("merchant", merchant),
		slog.String("rule_id", rule.ID.String()),
		slog.Int("corrections", count))
	return nil
}
