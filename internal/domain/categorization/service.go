package categorization

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
	"github.com/ledgerpipe/ledgerpipe/internal/metrics"
	"github.com/ledgerpipe/ledgerpipe/pkg/config"
)

// reclassifyBatchSize bounds one reclassification sweep.
const reclassifyBatchSize = 500

// Service is the categorization entry point for ingest, handlers and
// scheduled jobs.
type Service struct {
	repo   *Repository
	txRepo *transaction.Repository
	aiCli  ai.CategorizationClient
	cfg    config.PipelineConfig
	logger *slog.Logger
}

func NewService(repo *Repository, txRepo *transaction.Repository, aiCli ai.CategorizationClient, cfg config.PipelineConfig, logger *slog.Logger) *Service {
	return &Service{repo: repo, txRepo: txRepo, aiCli: aiCli, cfg: cfg, logger: logger}
}

// BuildClassifier loads the user's rules, categories and recent
// corrections into a ready classifier. Ingest builds one per statement
// so every row of a batch sees the same rule set.
func (s *Service) BuildClassifier(ctx context.Context, userID uuid.UUID) (*Classifier, error) {
	rules, err := s.repo.ListEnabledRules(ctx, userID)
	if err != nil {
		return nil, err
	}
	categories, err := s.repo.ListCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.RecentHistory(ctx, userID, s.cfg.HistorySampleSize)
	if err != nil {
		return nil, err
	}
	return NewClassifier(NewEngine(rules), s.aiCli, categories, history, s.logger), nil
}

// CreateRule adds a user-authored rule, enabled immediately.
func (s *Service) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.Pattern == "" {
		return fmt.Errorf("rule pattern is required")
	}
	switch rule.MatchType {
	case MatchContains, MatchRegex, MatchEquals:
	default:
		return fmt.Errorf("unknown match type %q", rule.MatchType)
	}
	category, err := s.repo.GetCategory(ctx, rule.UserID, rule.CategoryID)
	if err != nil {
		return err
	}
	if category == nil {
		return fmt.Errorf("category %s not found", rule.CategoryID)
	}
	rule.Enabled = true
	rule.Proposed = false
	return s.repo.CreateRule(ctx, rule)
}

// ApproveRule enables a proposed rule.
func (s *Service) ApproveRule(ctx context.Context, userID, ruleID uuid.UUID) error {
	ok, err := s.repo.ApproveRule(ctx, userID, ruleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proposed rule %s not found", ruleID)
	}
	return nil
}

// ReclassifyLowConfidence re-runs classification over automatically
// classified rows below the confidence threshold. Manual rows are never
// touched. The sweep honors cancellation between rows and reports how
// many rows changed.
func (s *Service) ReclassifyLowConfidence(ctx context.Context, userID uuid.UUID) (int, error) {
	classifier, err := s.BuildClassifier(ctx, userID)
	if err != nil {
		return 0, err
	}

	txs, err := s.txRepo.ListReclassifiable(ctx, userID, s.cfg.ReclassifyThreshold, reclassifyBatchSize)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		decision, err := classifier.Classify(ctx, tx.Description, tx.Merchant)
		if err != nil {
			return changed, err
		}
		if decision.Degraded {
			metrics.AIDegraded.Inc()
		}
		if decision.CategoryID == nil {
			continue
		}
		if tx.CategoryID != nil && *tx.CategoryID == *decision.CategoryID &&
			decision.Confidence <= tx.Confidence {
			continue
		}

		updated, err := s.txRepo.UpdateClassification(ctx, tx.ID, decision.CategoryID, decision.Source, decision.Confidence)
		if err != nil {
			return changed, err
		}
		if updated {
			metrics.ClassifiedBySource.WithLabelValues(string(decision.Source)).Inc()
			changed++
		}
	}

	s.logger.Info("reclassification sweep finished",
		slog.String("user_id", userID.String()),
		slog.Int("examined", len(txs)),
		slog.Int("changed", changed))
	return changed, nil
}
