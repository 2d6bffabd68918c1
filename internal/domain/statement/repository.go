package statement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerpipe/ledgerpipe/pkg/db"
)

// Repository handles statement, account and mapping persistence.
type Repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// Create records an uploaded file in pending_parsing state.
func (r *Repository) Create(ctx context.Context, st *Statement) error {
	query := `
		INSERT INTO statements (user_id, account_id, file_name, format, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	st.Status = StatusPendingParsing
	err := r.db.QueryRow(ctx, query,
		st.UserID, st.AccountID, st.FileName, st.Format, st.Status,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return fmt.Errorf("create statement: %w", err)
	}
	return nil
}

// SetStatus moves a statement to an intermediate state.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	query := `UPDATE statements SET status = $2 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("set statement status: %w", err)
	}
	return nil
}

// Finish records the terminal state and row counts.
func (r *Repository) Finish(ctx context.Context, id uuid.UUID, status Status, rowsTotal, rowsFailed int) error {
	query := `
		UPDATE statements
		SET status = $2, rows_total = $3, rows_failed = $4, finished_at = $5
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, status, rowsTotal, rowsFailed, time.Now().UTC()); err != nil {
		return fmt.Errorf("finish statement: %w", err)
	}
	return nil
}

// GetByID fetches one statement.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Statement, error) {
	query := `
		SELECT id, user_id, account_id, file_name, format, status,
		       rows_total, rows_failed, created_at, finished_at
		FROM statements
		WHERE id = $1
	`
	var st Statement
	err := r.db.QueryRow(ctx, query, id).Scan(
		&st.ID, &st.UserID, &st.AccountID, &st.FileName, &st.Format, &st.Status,
		&st.RowsTotal, &st.RowsFailed, &st.CreatedAt, &st.FinishedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get statement: %w", err)
	}
	return &st, nil
}

// GetAccount fetches the owning account, including its default currency.
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, user_id, name, currency_code, created_at
		FROM accounts
		WHERE id = $1
	`
	var a Account
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.UserID, &a.Name, &a.CurrencyCode, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// InsertRawRows stores the audit copy of extracted lines.
func (r *Repository) InsertRawRows(ctx context.Context, rows []RawRow) error {
	query := `
		INSERT INTO statement_raw_rows
			(statement_id, line_number, date_text, description, amount_text,
			 currency_hint, balance_hint, adapter, needs_review, failure)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, row := range rows {
		_, err := r.db.Exec(ctx, query,
			row.StatementID, row.LineNumber, row.DateText, row.Description,
			row.AmountText, row.CurrencyHint, row.BalanceHint, row.Adapter,
			row.NeedsReview, row.Failure,
		)
		if err != nil {
			return fmt.Errorf("insert raw row %d: %w", row.LineNumber, err)
		}
	}
	return nil
}

// LinkDuplicateRows records on the audit rows which transaction each
// discarded duplicate line duplicates.
func (r *Repository) LinkDuplicateRows(ctx context.Context, statementID uuid.UUID, links []RowDuplicate) error {
	query := `
		UPDATE statement_raw_rows
		SET duplicate_of = $3
		WHERE statement_id = $1 AND line_number = $2
	`
	for _, l := range links {
		if _, err := r.db.Exec(ctx, query, statementID, l.Line, l.RetainedID); err != nil {
			return fmt.Errorf("link duplicate row %d: %w", l.Line, err)
		}
	}
	return nil
}

// GetMapping looks up a remembered column mapping for a fingerprint,
// preferring the user's own over a shared one.
func (r *Repository) GetMapping(ctx context.Context, userID uuid.UUID, fingerprint string) (*Mapping, error) {
	query := `
		SELECT id, user_id, fingerprint, COALESCE(bank_name, ''), mapping, created_at
		FROM statement_mappings
		WHERE fingerprint = $1 AND (user_id = $2 OR user_id IS NULL)
		ORDER BY user_id NULLS LAST
		LIMIT 1
	`
	var m Mapping
	err := r.db.QueryRow(ctx, query, fingerprint, userID).Scan(
		&m.ID, &m.UserID, &m.Fingerprint, &m.BankName, &m.MappingJSON, &m.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

// SaveMapping upserts the mapping for a fingerprint.
func (r *Repository) SaveMapping(ctx context.Context, m *Mapping) error {
	query := `
		INSERT INTO statement_mappings (user_id, fingerprint, bank_name, mapping)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (fingerprint, user_id)
		DO UPDATE SET mapping = EXCLUDED.mapping, bank_name = EXCLUDED.bank_name
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, m.UserID, m.Fingerprint, m.BankName, m.MappingJSON).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	return nil
}
