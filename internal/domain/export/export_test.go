package export

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
)

func TestFieldMappingValidate(t *testing.T) {
	valid := FieldMapping{Columns: []Column{
		{Header: "Date", Source: "date"},
		{Header: "Amount", Source: "amount"},
	}}
	assert.NoError(t, valid.Validate())

	assert.Error(t, FieldMapping{}.Validate(), "no columns")
	assert.Error(t, FieldMapping{Columns: []Column{
		{Header: "Balance", Source: "balance"},
	}}.Validate(), "unknown source")
	assert.Error(t, FieldMapping{Columns: []Column{
		{Source: "date"},
	}}.Validate(), "missing header")
}

func TestResolveRange(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		policy   RangePolicy
		wantFrom time.Time
		wantTo   time.Time
	}{
		{
			policy:   RangePreviousMonth,
			wantFrom: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			policy:   RangeCurrentMonth,
			wantFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			policy:   RangeLast30Days,
			wantFrom: time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			p := Profile{RangePolicy: tt.policy}
			from, to := p.ResolveRange(now)
			assert.True(t, tt.wantFrom.Equal(from), "from: got %s", from)
			assert.True(t, tt.wantTo.Equal(to), "to: got %s", to)
		})
	}
}

func TestResolveRangePreviousMonthAcrossYear(t *testing.T) {
	p := Profile{RangePolicy: RangePreviousMonth}
	from, to := p.ResolveRange(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), to)
}

func sampleTransactions() ([]transaction.Transaction, map[uuid.UUID]string) {
	groceries := uuid.New()
	txs := []transaction.Transaction{
		{
			ID:           uuid.New(),
			Date:         time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC),
			Amount:       decimal.RequireFromString("-12.5"),
			CurrencyCode: "USD",
			Description:  "COMPRA PINGO DOCE",
			Merchant:     "Pingo Doce",
			CategoryID:   &groceries,
		},
		{
			ID:           uuid.New(),
			Date:         time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC),
			Amount:       decimal.RequireFromString("1500"),
			CurrencyCode: "USD",
			Description:  "PAYROLL",
			Merchant:     "Employer",
		},
	}
	return txs, map[uuid.UUID]string{groceries: "Groceries"}
}

func TestRenderRecords(t *testing.T) {
	txs, names := sampleTransactions()

	mapping := FieldMapping{
		DateFormat: "02/01/2006",
		Columns: []Column{
			{Header: "Date", Source: "date"},
			{Header: "Details", Source: "description"},
			{Header: "Merchant", Source: "merchant"},
			{Header: "Amount", Source: "amount"},
			{Header: "Currency", Source: "currency"},
			{Header: "Category", Source: "category"},
		},
	}

	records := renderRecords(mapping, txs, names)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"Date", "Details", "Merchant", "Amount", "Currency", "Category"}, records[0])
	assert.Equal(t, []string{"05/02/2026", "COMPRA PINGO DOCE", "Pingo Doce", "-12.50", "USD", "Groceries"}, records[1])
	// Unclassified rows export an empty category cell.
	assert.Equal(t, []string{"06/02/2026", "PAYROLL", "Employer", "1500.00", "USD", ""}, records[2])
}

func TestRenderRecordsFormats(t *testing.T) {
	txs, names := sampleTransactions()

	mapping := FieldMapping{Columns: []Column{
		{Header: "When", Source: "date", Format: "Jan 2 2006"},
		{Header: "Amount", Source: "amount", Format: "display"},
	}}

	records := renderRecords(mapping, txs, names)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"Feb 5 2026", "-$12.50"}, records[1])
	assert.Equal(t, []string{"Feb 6 2026", "$1,500.00"}, records[2])
}

func TestWriteCSV(t *testing.T) {
	content, err := writeCSV([][]string{
		{"Date", "Amount"},
		{"2026-02-05", "-12.50"},
		{"2026-02-06", "has,comma"},
	})
	require.NoError(t, err)

	r := csv.NewReader(strings.NewReader(string(content)))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "has,comma", records[2][1])
}

func TestWriteXLSX(t *testing.T) {
	content, err := writeXLSX([][]string{
		{"Date", "Amount"},
		{"2026-02-05", "-12.50"},
	})
	require.NoError(t, err)
	// XLSX is a zip container.
	require.Greater(t, len(content), 4)
	assert.Equal(t, "PK", string(content[:2]))
}
