package categorization

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
)

type stubSuggester struct {
	suggestion *ai.Suggestion
	err        error
	calls      int
	history    []ai.HistoricalExample
}

func (s *stubSuggester) Suggest(_ context.Context, _, _ string, history []ai.HistoricalExample) (*ai.Suggestion, error) {
	s.calls++
	s.history = history
	return s.suggestion, s.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifierRuleWins(t *testing.T) {
	groceries := Category{ID: uuid.New(), Name: "Groceries"}
	r := rule("LIDL", MatchContains, FieldDescription, 0, time.Now())
	r.CategoryID = groceries.ID

	sug := &stubSuggester{suggestion: &ai.Suggestion{Category: "Dining", Confidence: 0.9}}
	c := NewClassifier(NewEngine([]Rule{r}), sug, []Category{groceries}, nil, discard())

	d, err := c.Classify(context.Background(), "COMPRA LIDL", "Lidl")
	require.NoError(t, err)

	require.NotNil(t, d.CategoryID)
	assert.Equal(t, groceries.ID, *d.CategoryID)
	assert.Equal(t, transaction.SourceRule, d.Source)
	assert.Equal(t, 1.0, d.Confidence)
	require.NotNil(t, d.RuleID)
	assert.Equal(t, r.ID, *d.RuleID)
	assert.Zero(t, sug.calls, "a rule match never consults the model")
}

func TestClassifierAIFallback(t *testing.T) {
	dining := Category{ID: uuid.New(), Name: "Dining"}
	history := []HistoryEntry{{Description: "STARBUCKS", Merchant: "Starbucks", Category: "Dining"}}

	sug := &stubSuggester{suggestion: &ai.Suggestion{Category: "dining", Confidence: 0.82}}
	c := NewClassifier(NewEngine(nil), sug, []Category{dining}, history, discard())

	d, err := c.Classify(context.Background(), "COFFEE CORNER", "Coffee Corner")
	require.NoError(t, err)

	require.NotNil(t, d.CategoryID)
	assert.Equal(t, dining.ID, *d.CategoryID, "category names match case insensitively")
	assert.Equal(t, transaction.SourceAI, d.Source)
	assert.Equal(t, 0.82, d.Confidence)
	assert.False(t, d.Degraded)

	require.Len(t, sug.history, 1)
	assert.Equal(t, "Dining", sug.history[0].Category)
}

func TestClassifierUnknownCategoryName(t *testing.T) {
	dining := Category{ID: uuid.New(), Name: "Dining"}
	sug := &stubSuggester{suggestion: &ai.Suggestion{Category: "Fine Wines", Confidence: 0.95}}
	c := NewClassifier(NewEngine(nil), sug, []Category{dining}, nil, discard())

	d, err := c.Classify(context.Background(), "WINE BAR", "Wine Bar")
	require.NoError(t, err)

	assert.Nil(t, d.CategoryID, "a name the user does not have is no answer")
	assert.Equal(t, transaction.SourceUnclassified, d.Source)
}

func TestClassifierDegradedWhenUnavailable(t *testing.T) {
	sug := &stubSuggester{err: ai.ErrUnavailable}
	c := NewClassifier(NewEngine(nil), sug, nil, nil, discard())

	d, err := c.Classify(context.Background(), "MYSTERY SHOP", "Mystery Shop")
	require.NoError(t, err, "degradation is not an error")

	assert.Nil(t, d.CategoryID)
	assert.Equal(t, transaction.SourceUnclassified, d.Source)
	assert.True(t, d.Degraded)
}

func TestClassifierContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sug := &stubSuggester{err: errors.New("request aborted")}
	c := NewClassifier(NewEngine(nil), sug, nil, nil, discard())

	_, err := c.Classify(ctx, "SHOP", "Shop")
	assert.ErrorIs(t, err, context.Canceled)
}
