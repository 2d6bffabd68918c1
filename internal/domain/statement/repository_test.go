package statement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
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

func TestCreateStartsPending(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	created := time.Now()
	st := &Statement{
		UserID:    uuid.New(),
		AccountID: uuid.New(),
		FileName:  "jan.csv",
		Format:    "structured_csv",
	}
	mock.ExpectQuery("INSERT INTO statements").
		WithArgs(st.UserID, st.AccountID, "jan.csv", "structured_csv", StatusPendingParsing).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(id, created))

	require.NoError(t, repo.Create(context.Background(), st))

	assert.Equal(t, id, st.ID)
	assert.Equal(t, StatusPendingParsing, st.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRecordsCounts(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectExec("UPDATE statements").
		WithArgs(id, StatusParsedPartial, 10, 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Finish(context.Background(), id, StatusParsedPartial, 10, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	accountID := uuid.New()
	mock.ExpectQuery("FROM accounts").
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "currency_code", "created_at"}))

	a, err := repo.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.Nil(t, a, "a missing account is nil, not an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMappingPrefersUserRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	userID := uuid.New()
	mappingID := uuid.New()
	mock.ExpectQuery("FROM statement_mappings").
		WithArgs("fp-abc123", userID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "fingerprint", "bank_name", "mapping", "created_at",
		}).AddRow(mappingID, &userID, "fp-abc123", "Caixa", []byte(`{"date":0}`), time.Now()))

	m, err := repo.GetMapping(context.Background(), userID, "fp-abc123")
	require.NoError(t, err)

	require.NotNil(t, m)
	assert.Equal(t, mappingID, m.ID)
	assert.Equal(t, "Caixa", m.BankName)
	assert.JSONEq(t, `{"date":0}`, string(m.MappingJSON))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMappingUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)

	userID := uuid.New()
	m := &Mapping{UserID: &userID, Fingerprint: "fp-abc123", MappingJSON: []byte(`{"date":0}`)}

	mock.ExpectQuery("INSERT INTO statement_mappings").
		WithArgs(&userID, "fp-abc123", "", []byte(`{"date":0}`)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))

	require.NoError(t, repo.SaveMapping(context.Background(), m))
	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkDuplicateRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	statementID := uuid.New()
	retained := uuid.New()

	mock.ExpectExec("UPDATE statement_raw_rows").
		WithArgs(statementID, 4, retained).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.LinkDuplicateRows(context.Background(), statementID, []RowDuplicate{
		{Line: 4, RetainedID: retained},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
