package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func sampleTx() *Transaction {
	return &Transaction{
		UserID:          uuid.New(),
		AccountID:       uuid.New(),
		Date:            time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.RequireFromString("-12.50"),
		CurrencyCode:    "EUR",
		Description:     "COMPRA PINGO DOCE",
		DescriptionNorm: "COMPRA PINGO DOCE",
		Merchant:        "Pingo Doce",
		ClassSource:     SourceUnclassified,
	}
}

func insertArgs(t *Transaction) []any {
	return []any{
		t.UserID, t.AccountID, t.StatementID, t.Date, t.Amount, t.CurrencyCode,
		t.Description, t.DescriptionNorm, t.Merchant, t.CategoryID, t.ClassSource,
		t.Confidence,
	}
}

func TestInsertBatchCountsOnlyInserted(t *testing.T) {
	repo, mock := newMockRepo(t)

	first := sampleTx()
	second := sampleTx()
	newID := uuid.New()

	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(insertArgs(first)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(newID))
	// The second row loses the natural-key race: ON CONFLICT DO NOTHING
	// returns no row, which must be skipped, not treated as an error.
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(insertArgs(second)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	inserted, err := repo.InsertBatch(context.Background(), []*Transaction{first, second})
	require.NoError(t, err)

	assert.Equal(t, 1, inserted)
	assert.Equal(t, newID, first.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateClassificationRespectsManual(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	catID := uuid.New()

	// Zero rows affected means the guard held: the row is manual.
	mock.ExpectExec("UPDATE transactions").
		WithArgs(id, &catID, SourceAI, 0.9).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	updated, err := repo.UpdateClassification(context.Background(), id, &catID, SourceAI, 0.9)
	require.NoError(t, err)
	assert.False(t, updated)

	mock.ExpectExec("UPDATE transactions").
		WithArgs(id, &catID, SourceAI, 0.9).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	updated, err = repo.UpdateClassification(context.Background(), id, &catID, SourceAI, 0.9)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetManualCategoryNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	catID := uuid.New()

	mock.ExpectExec("UPDATE transactions").
		WithArgs(id, catID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetManualCategory(context.Background(), id, catID)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountSnapshotScansRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	accountID := uuid.New()
	rowID := uuid.New()
	now := time.Now()
	from := now.AddDate(0, 0, -1)
	to := now.AddDate(0, 0, 1)

	mock.ExpectQuery("SELECT(.|\n)+FROM transactions").
		WithArgs(accountID, from, to).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "account_id", "statement_id", "tx_date", "amount",
			"currency_code", "description", "description_norm", "merchant",
			"category_id", "class_source", "confidence",
			"created_at", "updated_at", "deleted_at",
		}).AddRow(
			rowID, uuid.New(), accountID, nil, now, decimal.RequireFromString("-4.50"),
			"EUR", "STARBUCKS", "STARBUCKS", "Starbucks",
			nil, SourceUnclassified, 0.0,
			now, now, nil,
		))

	txs, err := repo.AccountSnapshot(context.Background(), accountID, from, to)
	require.NoError(t, err)

	require.Len(t, txs, 1)
	assert.Equal(t, rowID, txs[0].ID)
	assert.Equal(t, "STARBUCKS", txs[0].DescriptionNorm)
	assert.Nil(t, txs[0].CategoryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForExportAccountFilter(t *testing.T) {
	repo, mock := newMockRepo(t)

	userID := uuid.New()
	profileID := uuid.New()
	accounts := []uuid.UUID{uuid.New(), uuid.New()}
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	emptyRows := func() *pgxmock.Rows {
		return pgxmock.NewRows([]string{
			"id", "user_id", "account_id", "statement_id", "tx_date", "amount",
			"currency_code", "description", "description_norm", "merchant",
			"category_id", "class_source", "confidence",
			"created_at", "updated_at", "deleted_at",
		})
	}

	mock.ExpectQuery("SELECT(.|\n)+FROM transactions").
		WithArgs(userID, from, to, profileID, false, accounts).
		WillReturnRows(emptyRows())
	_, err := repo.ListForExport(context.Background(), userID, profileID, accounts, from, to, false)
	require.NoError(t, err)

	// No account restriction binds NULL, not an empty array.
	mock.ExpectQuery("SELECT(.|\n)+FROM transactions").
		WithArgs(userID, from, to, profileID, true, []uuid.UUID(nil)).
		WillReturnRows(emptyRows())
	_, err = repo.ListForExport(context.Background(), userID, profileID, nil, from, to, true)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDelete(t *testing.T) {
	repo, mock := newMockRepo(t)

	found := uuid.New()
	missing := uuid.New()

	mock.ExpectExec("UPDATE transactions SET deleted_at").
		WithArgs(found).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.SoftDelete(context.Background(), found))

	mock.ExpectExec("UPDATE transactions SET deleted_at").
		WithArgs(missing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.Error(t, repo.SoftDelete(context.Background(), missing))
	assert.NoError(t, mock.ExpectationsWereMet())
}
