package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerpipe/ledgerpipe/pkg/db"
)

const selectColumns = `
	id, user_id, account_id, statement_id, tx_date, amount, currency_code,
	description, description_norm, merchant, category_id, class_source,
	confidence, created_at, updated_at, deleted_at`

// Repository persists ledger rows with pgx.
type Repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// InsertBatch inserts rows, relying on the natural-key unique index to
// absorb races: a row that lost the race is silently skipped, so the
// returned count is the number actually inserted.
func (r *Repository) InsertBatch(ctx context.Context, txs []*Transaction) (int, error) {
	query := `
		INSERT INTO transactions
			(user_id, account_id, statement_id, tx_date, amount, currency_code,
			 description, description_norm, merchant, category_id, class_source,
			 confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, tx_date, amount, currency_code, description_norm)
			WHERE deleted_at IS NULL
		DO NOTHING
		RETURNING id
	`
	inserted := 0
	for _, t := range txs {
		err := r.db.QueryRow(ctx, query,
			t.UserID, t.AccountID, t.StatementID, t.Date, t.Amount, t.CurrencyCode,
			t.Description, t.DescriptionNorm, t.Merchant, t.CategoryID, t.ClassSource,
			t.Confidence,
		).Scan(&t.ID)
		if err == pgx.ErrNoRows {
			continue // natural key already present
		}
		if err != nil {
			return inserted, fmt.Errorf("insert transaction: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// AccountSnapshot returns the live rows of one account in a date range,
// ordered by id for deterministic downstream matching.
func (r *Repository) AccountSnapshot(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]Transaction, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM transactions
		WHERE account_id = $1 AND tx_date BETWEEN $2 AND $3 AND deleted_at IS NULL
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// GetByID fetches one live transaction.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM transactions
		WHERE id = $1 AND deleted_at IS NULL
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	defer rows.Close()
	all, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

// UpdateClassification assigns a category from an automatic source. A
// manual assignment is never overwritten; the method reports whether
// the row was updated.
func (r *Repository) UpdateClassification(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, source Source, confidence float64) (bool, error) {
	query := `
		UPDATE transactions
		SET category_id = $2, class_source = $3, confidence = $4, updated_at = now()
		WHERE id = $1 AND class_source <> 'manual' AND deleted_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, categoryID, source, confidence)
	if err != nil {
		return false, fmt.Errorf("update classification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetManualCategory records a user decision; it always wins.
func (r *Repository) SetManualCategory(ctx context.Context, id uuid.UUID, categoryID uuid.UUID) error {
	query := `
		UPDATE transactions
		SET category_id = $2, class_source = 'manual', confidence = 1, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, categoryID)
	if err != nil {
		return fmt.Errorf("set manual category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

// ListReclassifiable returns automatically classified rows below the
// confidence threshold. Manually categorized rows are excluded.
func (r *Repository) ListReclassifiable(ctx context.Context, userID uuid.UUID, threshold float64, limit int) ([]Transaction, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM transactions
		WHERE user_id = $1
		  AND class_source IN ('rule', 'ai', 'unclassified')
		  AND confidence < $2
		  AND deleted_at IS NULL
		ORDER BY confidence ASC, id
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, userID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list reclassifiable: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// UsersWithLowConfidence lists users holding automatically classified
// rows below the threshold, for the scheduled reclassification sweep.
func (r *Repository) UsersWithLowConfidence(ctx context.Context, threshold float64) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM transactions
		WHERE class_source IN ('rule', 'ai', 'unclassified')
		  AND confidence < $1
		  AND deleted_at IS NULL
	`
	rows, err := r.db.Query(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("users with low confidence: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListForExport returns live rows in [from, to] for a user, restricted
// to the given accounts when any are named. Rows already exported under
// the profile are skipped unless reExport is set.
func (r *Repository) ListForExport(ctx context.Context, userID, profileID uuid.UUID, accountIDs []uuid.UUID, from, to time.Time, reExport bool) ([]Transaction, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM transactions t
		WHERE t.user_id = $1 AND t.tx_date BETWEEN $2 AND $3 AND t.deleted_at IS NULL
		  AND ($5 OR NOT EXISTS (
			SELECT 1 FROM transaction_exports e
			WHERE e.transaction_id = t.id AND e.profile_id = $4
		  ))
		  AND ($6::uuid[] IS NULL OR t.account_id = ANY($6::uuid[]))
		ORDER BY t.tx_date, t.id
	`
	var accounts []uuid.UUID
	if len(accountIDs) > 0 {
		accounts = accountIDs
	}
	rows, err := r.db.Query(ctx, query, userID, from, to, profileID, reExport, accounts)
	if err != nil {
		return nil, fmt.Errorf("list for export: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// MarkExported flips the per-profile exported marker. The upsert keeps
// re-export idempotent.
func (r *Repository) MarkExported(ctx context.Context, profileID uuid.UUID, txIDs []uuid.UUID) error {
	query := `
		INSERT INTO transaction_exports (transaction_id, profile_id)
		VALUES ($1, $2)
		ON CONFLICT (transaction_id, profile_id) DO UPDATE SET exported_at = now()
	`
	for _, id := range txIDs {
		if _, err := r.db.Exec(ctx, query, id, profileID); err != nil {
			return fmt.Errorf("mark exported %s: %w", id, err)
		}
	}
	return nil
}

// SoftDelete hides a row; the partial unique index then permits a
// deliberate re-import of the same natural key.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE transactions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

func scanAll(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.AccountID, &t.StatementID, &t.Date, &t.Amount,
			&t.CurrencyCode, &t.Description, &t.DescriptionNorm, &t.Merchant,
			&t.CategoryID, &t.ClassSource, &t.Confidence,
			&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
