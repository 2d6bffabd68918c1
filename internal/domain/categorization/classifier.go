package categorization

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
)

// Decision is the classifier outcome for one row.
type Decision struct {
	CategoryID *uuid.UUID
	Source     transaction.Source
	Confidence float64
	RuleID     *uuid.UUID
	Degraded   bool // AI was unavailable when it was needed
}

// Classifier runs rules first and falls back to AI suggestion. When the
// AI capability is down the row stays unclassified rather than guessed.
type Classifier struct {
	engine  *Engine
	aiCli   ai.CategorizationClient
	history []ai.HistoricalExample
	byName  map[string]uuid.UUID
	logger  *slog.Logger
}

// NewClassifier binds an engine and the user's category set. history is
// the bounded few-shot context; categories anchor AI answers to names
// that actually exist.
func NewClassifier(engine *Engine, aiCli ai.CategorizationClient, categories []Category, history []HistoryEntry, logger *slog.Logger) *Classifier {
	byName := make(map[string]uuid.UUID, len(categories))
	for _, c := range categories {
		byName[strings.ToLower(c.Name)] = c.ID
	}
	examples := make([]ai.HistoricalExample, len(history))
	for i, h := range history {
		examples[i] = ai.HistoricalExample{
			Description: h.Description, Merchant: h.Merchant, Category: h.Category,
		}
	}
	return &Classifier{
		engine: engine, aiCli: aiCli, history: examples, byName: byName, logger: logger,
	}
}

// Classify assigns a category to one row. Evaluation only moves
// forward: rules, then AI, then unclassified. A manual assignment never
// reaches this path; the repository refuses to overwrite it.
func (c *Classifier) Classify(ctx context.Context, description, merchant string) (Decision, error) {
	// Rules are the first authority; a match is definitive.
	if match := c.engine.Match(description, merchant); match != nil {
		id := match.Rule.CategoryID
		ruleID := match.Rule.ID
		return Decision{
			CategoryID: &id,
			Source:     transaction.SourceRule,
			Confidence: 1,
			RuleID:     &ruleID,
		}, nil
	}

	suggestion, err := c.aiCli.Suggest(ctx, description, merchant, c.history)
	if err != nil {
		if errors.Is(err, ai.ErrUnavailable) {
			c.logger.Warn("ai categorization unavailable, leaving row unclassified",
				slog.String("merchant", merchant))
			return Decision{Source: transaction.SourceUnclassified, Degraded: true}, nil
		}
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return Decision{Source: transaction.SourceUnclassified, Degraded: true}, nil
	}

	// An AI answer naming a category the user does not have is treated
	// as no answer.
	id, ok := c.byName[strings.ToLower(strings.TrimSpace(suggestion.Category))]
	if !ok {
		return Decision{Source: transaction.SourceUnclassified}, nil
	}

	return Decision{
		CategoryID: &id,
		Source:     transaction.SourceAI,
		Confidence: suggestion.Confidence,
	}, nil
}
