// Package categorization assigns categories to transactions. Authority
// is ordered: user rules, then AI suggestion, then unclassified. A user
// correction is final and feeds rule proposals.
package categorization

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerpipe/ledgerpipe/pkg/db"
)

// MatchType selects how a rule pattern is applied.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
	MatchEquals   MatchType = "equals"
)

// Field selects which transaction field a rule inspects.
type Field string

const (
	FieldDescription Field = "description"
	FieldMerchant    Field = "merchant"
)

// Rule is one user-defined categorization rule.
type Rule struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Pattern    string
	MatchType  MatchType
	Field      Field
	CategoryID uuid.UUID
	Priority   int
	Enabled    bool
	Proposed   bool
	CreatedAt  time.Time
}

// Category is a user's category.
type Category struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
	Group  string
}

// Feedback is one recorded user correction.
type Feedback struct {
	ID            int64
	UserID        uuid.UUID
	TransactionID uuid.UUID
	Merchant      string
	PriorCategory *uuid.UUID
	NewCategory   uuid.UUID
	CreatedAt     time.Time
}

// Repository handles rule, category and feedback persistence.
type Repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// ListEnabledRules returns a user's active rules in evaluation order:
// priority descending, then creation time, then id, so evaluation is
// deterministic even between equal-priority rules.
func (r *Repository) ListEnabledRules(ctx context.Context, userID uuid.UUID) ([]Rule, error) {
	query := `
		SELECT id, user_id, pattern, match_type, field, category_id,
		       priority, enabled, proposed, created_at
		FROM category_rules
		WHERE user_id = $1 AND enabled = true
		ORDER BY priority DESC, created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// CreateRule inserts a rule; proposals start disabled.
func (r *Repository) CreateRule(ctx context.Context, rule *Rule) error {
	query := `
		INSERT INTO category_rules
			(user_id, pattern, match_type, field, category_id, priority, enabled, proposed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		rule.UserID, rule.Pattern, rule.MatchType, rule.Field, rule.CategoryID,
		rule.Priority, rule.Enabled, rule.Proposed,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// ApproveRule enables a proposed rule; it reports whether one matched.
func (r *Repository) ApproveRule(ctx context.Context, userID, ruleID uuid.UUID) (bool, error) {
	query := `
		UPDATE category_rules
		SET enabled = true, proposed = false
		WHERE id = $1 AND user_id = $2 AND proposed = true
	`
	tag, err := r.db.Exec(ctx, query, ruleID, userID)
	if err != nil {
		return false, fmt.Errorf("approve rule: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindRuleByPattern checks for an existing rule on the same pattern and
// field, proposed or not, to avoid duplicate proposals.
func (r *Repository) FindRuleByPattern(ctx context.Context, userID uuid.UUID, pattern string, field Field) (*Rule, error) {
	query := `
		SELECT id, user_id, pattern, match_type, field, category_id,
		       priority, enabled, proposed, created_at
		FROM category_rules
		WHERE user_id = $1 AND pattern = $2 AND field = $3
		LIMIT 1
	`
	rows, err := r.db.Query(ctx, query, userID, pattern, field)
	if err != nil {
		return nil, fmt.Errorf("find rule: %w", err)
	}
	defer rows.Close()
	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return &rules[0], nil
}

// ListCategories returns a user's categories.
func (r *Repository) ListCategories(ctx context.Context, userID uuid.UUID) ([]Category, error) {
	query := `
		SELECT id, user_id, name, grp
		FROM categories
		WHERE user_id = $1
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Group); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCategory fetches one category of the user.
func (r *Repository) GetCategory(ctx context.Context, userID, id uuid.UUID) (*Category, error) {
	query := `SELECT id, user_id, name, grp FROM categories WHERE id = $1 AND user_id = $2`
	var c Category
	err := r.db.QueryRow(ctx, query, id, userID).Scan(&c.ID, &c.UserID, &c.Name, &c.Group)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// InsertFeedback appends one correction to the log.
func (r *Repository) InsertFeedback(ctx context.Context, f *Feedback) error {
	query := `
		INSERT INTO category_feedback
			(user_id, transaction_id, merchant, prior_category, new_category)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		f.UserID, f.TransactionID, f.Merchant, f.PriorCategory, f.NewCategory,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// CountRecentCorrections counts corrections mapping one merchant to one
// category inside the proposal window.
func (r *Repository) CountRecentCorrections(ctx context.Context, userID uuid.UUID, merchant string, categoryID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT count(*)
		FROM category_feedback
		WHERE user_id = $1 AND merchant = $2 AND new_category = $3 AND created_at >= $4
	`
	var n int
	if err := r.db.QueryRow(ctx, query, userID, merchant, categoryID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count corrections: %w", err)
	}
	return n, nil
}

// RecentHistory returns the user's latest corrections joined with their
// category names, newest first, bounded by limit. Used as few-shot
// context for AI suggestions.
func (r *Repository) RecentHistory(ctx context.Context, userID uuid.UUID, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT t.description, f.merchant, c.name
		FROM category_feedback f
		JOIN transactions t ON t.id = f.transaction_id
		JOIN categories c ON c.id = f.new_category
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Description, &h.Merchant, &h.Category); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HistoryEntry is one prior categorization used for few-shot context.
type HistoryEntry struct {
	Description string
	Merchant    string
	Category    string
}

func scanRules(rows pgx.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.Pattern, &r.MatchType, &r.Field, &r.CategoryID,
			&r.Priority, &r.Enabled, &r.Proposed, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
