package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/categorization"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/statement"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
	"github.com/ledgerpipe/ledgerpipe/pkg/config"
)

type unavailableSuggester struct{}

func (unavailableSuggester) Suggest(context.Context, string, string, []ai.HistoricalExample) (*ai.Suggestion, error) {
	return nil, ai.ErrUnavailable
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		DedupDateToleranceDays: 1,
		DedupSimilarity:        0.80,
		ReclassifyThreshold:    0.70,
		RuleProposalMinCount:   3,
		RuleProposalWindowDays: 30,
		HistorySampleSize:      25,
		IngestWorkers:          4,
	}
}

func newTestService(t *testing.T, cfg config.PipelineConfig) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stRepo := statement.NewRepository(mock)
	txRepo := transaction.NewRepository(mock)
	catSvc := categorization.NewService(
		categorization.NewRepository(mock), txRepo, unavailableSuggester{}, cfg, logger)
	return NewService(stRepo, txRepo, catSvc, nil, cfg, logger), mock
}

func emptyTransactionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "account_id", "statement_id", "tx_date", "amount",
		"currency_code", "description", "description_norm", "merchant",
		"category_id", "class_source", "confidence",
		"created_at", "updated_at", "deleted_at",
	})
}

func TestIngestStructuredCSV(t *testing.T) {
	svc, mock := newTestService(t, testPipelineConfig())

	userID := uuid.New()
	accountID := uuid.New()
	statementID := uuid.New()
	groceries := uuid.New()
	ruleID := uuid.New()
	insertedPingo := uuid.New()
	insertedCoffee := uuid.New()

	data := "date,description,amount\n" +
		"2026-01-05,COMPRA PINGO DOCE,-12.50\n" +
		"2026-01-06,COFFEE CORNER,-4.00\n" +
		"2026-01-05,COMPRA PINGO DOCE,-12.50\n"

	mock.ExpectQuery("FROM accounts").
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "currency_code", "created_at"}).
			AddRow(accountID, userID, "Checking", "EUR", time.Now()))
	mock.ExpectQuery("INSERT INTO statements").
		WithArgs(userID, accountID, "jan.csv", "structured_csv", statement.StatusPendingParsing).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(statementID, time.Now()))
	mock.ExpectExec("UPDATE statements").
		WithArgs(statementID, statement.StatusParsing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rawRows := []struct {
		line   int
		date   string
		desc   string
		amount string
	}{
		{2, "2026-01-05", "COMPRA PINGO DOCE", "-12.50"},
		{3, "2026-01-06", "COFFEE CORNER", "-4.00"},
		{4, "2026-01-05", "COMPRA PINGO DOCE", "-12.50"},
	}
	for _, row := range rawRows {
		mock.ExpectExec("INSERT INTO statement_raw_rows").
			WithArgs(statementID, row.line, row.date, row.desc, row.amount, "", "", "csv", false, "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	mock.ExpectQuery("FROM category_rules").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "pattern", "match_type", "field", "category_id",
			"priority", "enabled", "proposed", "created_at",
		}).AddRow(
			ruleID, userID, "PINGO DOCE", categorization.MatchContains,
			categorization.FieldDescription, groceries, 0, true, false, time.Now(),
		))
	mock.ExpectQuery("FROM categories").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "grp"}).
			AddRow(groceries, userID, "Groceries", "spending"))
	mock.ExpectQuery("FROM category_feedback").
		WithArgs(userID, 25).
		WillReturnRows(pgxmock.NewRows([]string{"description", "merchant", "name"}))

	// Empty ledger snapshot over the candidate range plus tolerance.
	mock.ExpectQuery("FROM transactions").
		WithArgs(accountID,
			time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(emptyTransactionRows())

	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(userID, accountID, &statementID,
			time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			decimal.RequireFromString("-12.50"), "EUR",
			"COMPRA PINGO DOCE", "COMPRA PINGO DOCE", "Pingo Doce",
			&groceries, transaction.SourceRule, 1.0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(insertedPingo))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(userID, accountID, &statementID,
			time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
			decimal.RequireFromString("-4.00"), "EUR",
			"COFFEE CORNER", "COFFEE CORNER", "Coffee Corner",
			(*uuid.UUID)(nil), transaction.SourceUnclassified, 0.0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(insertedCoffee))

	// The discarded in-batch duplicate is linked to the retained row.
	mock.ExpectExec("UPDATE statement_raw_rows").
		WithArgs(statementID, 4, insertedPingo).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectExec("UPDATE statements").
		WithArgs(statementID, statement.StatusParsedComplete, 3, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	res, err := svc.Ingest(context.Background(), Request{
		UserID:    userID,
		AccountID: accountID,
		FileName:  "jan.csv",
		Data:      []byte(data),
	})
	require.NoError(t, err)

	assert.Equal(t, statementID, res.StatementID)
	assert.Equal(t, statement.StatusParsedComplete, res.Status)
	assert.Equal(t, 3, res.RowsTotal)
	assert.Equal(t, 2, res.RowsParsed)
	assert.Equal(t, 1, res.Duplicates, "the repeated line is kept once")
	assert.Equal(t, 0, res.RowsFailed)
	assert.Equal(t, 1, res.Unclassified, "the ai-dependent row stays unclassified")
	assert.True(t, res.Degraded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Rows that fail normalization stay row-scoped: the statement finishes
// partial, never failed, as long as something was extracted.
func TestIngestRowFailuresStayRowScoped(t *testing.T) {
	svc, mock := newTestService(t, testPipelineConfig())

	userID := uuid.New()
	accountID := uuid.New()
	statementID := uuid.New()

	data := "date,description,amount\n" +
		"notadate,SOMETHING,-1.00\n" +
		"alsobad,OTHER,-2.00\n"

	mock.ExpectQuery("FROM accounts").
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "currency_code", "created_at"}).
			AddRow(accountID, userID, "Checking", "EUR", time.Now()))
	mock.ExpectQuery("INSERT INTO statements").
		WithArgs(userID, accountID, "bad.csv", "structured_csv", statement.StatusPendingParsing).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(statementID, time.Now()))
	mock.ExpectExec("UPDATE statements").
		WithArgs(statementID, statement.StatusParsing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectExec("INSERT INTO statement_raw_rows").
		WithArgs(statementID, 2, "notadate", "SOMETHING", "-1.00", "", "", "csv", false, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO statement_raw_rows").
		WithArgs(statementID, 3, "alsobad", "OTHER", "-2.00", "", "", "csv", false, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec("UPDATE statements").
		WithArgs(statementID, statement.StatusParsedPartial, 2, 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	res, err := svc.Ingest(context.Background(), Request{
		UserID:     userID,
		AccountID:  accountID,
		FileName:   "bad.csv",
		Data:       []byte(data),
		FormatHint: "structured_csv",
	})
	require.NoError(t, err)

	assert.Equal(t, statement.StatusParsedPartial, res.Status)
	assert.Equal(t, 2, res.RowsTotal)
	assert.Equal(t, 2, res.RowsFailed)
	assert.Equal(t, 0, res.RowsParsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWaitsForFreeWorker(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.IngestWorkers = 1
	svc, mock := newTestService(t, cfg)

	// Occupy the only worker slot; a cancelled caller must give up
	// instead of blocking forever.
	svc.sem <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Ingest(ctx, Request{
		UserID: uuid.New(), AccountID: uuid.New(), FileName: "x.csv", Data: []byte("date,description,amount\n"),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestUnknownAccount(t *testing.T) {
	svc, mock := newTestService(t, testPipelineConfig())

	accountID := uuid.New()
	mock.ExpectQuery("FROM accounts").
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "currency_code", "created_at"}))

	_, err := svc.Ingest(context.Background(), Request{
		UserID: uuid.New(), AccountID: accountID, FileName: "x.csv", Data: []byte("date,description,amount\n"),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestOwnerMismatch(t *testing.T) {
	svc, mock := newTestService(t, testPipelineConfig())

	accountID := uuid.New()
	mock.ExpectQuery("FROM accounts").
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "currency_code", "created_at"}).
			AddRow(accountID, uuid.New(), "Checking", "EUR", time.Now()))

	_, err := svc.Ingest(context.Background(), Request{
		UserID: uuid.New(), AccountID: accountID, FileName: "x.csv", Data: []byte("date,description,amount\n"),
	})
	assert.Error(t, err, "another user's account must be invisible")
	assert.NoError(t, mock.ExpectationsWereMet())
}
