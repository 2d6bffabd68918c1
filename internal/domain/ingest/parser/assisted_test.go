package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
)

type stubExtractionClient struct {
	hints *ai.FieldHints
	err   error
}

func (s *stubExtractionClient) ExtractHints(_ context.Context, _ []string, _ ai.ExtractionSchema) (*ai.FieldHints, error) {
	return s.hints, s.err
}

func TestAssistedAdapterDelimiterHints(t *testing.T) {
	data := "Statement of account\n" +
		"15/01/2026|COMPRA SUPERMERCADO|-34,50|EUR\n" +
		"16/01/2026|TRANSFERENCIA RECIBIDA|250,00|EUR\n"

	european := true
	client := &stubExtractionClient{hints: &ai.FieldHints{
		Delimiter:     "|",
		DateIndex:     0,
		DescIndex:     1,
		AmountIndex:   2,
		CurrencyIndex: 3,
		BalanceIndex:  -1,
		DateFormats:   []string{"02/01/2006"},
		European:      &european,
		Confidence:    0.9,
	}}

	res, err := NewAssistedAdapter(client).Extract(context.Background(), []byte(data))
	require.NoError(t, err)

	require.Len(t, res.Rows, 2)
	assert.False(t, res.Degraded)

	// Every value is a substring of the source line, never model output.
	assert.Equal(t, "15/01/2026", res.Rows[0].DateText)
	assert.Equal(t, "COMPRA SUPERMERCADO", res.Rows[0].Description)
	assert.Equal(t, "-34,50", res.Rows[0].AmountText)
	assert.Equal(t, "EUR", res.Rows[0].CurrencyHint)
	assert.Equal(t, AdapterAssisted, res.Rows[0].Adapter)
	assert.Equal(t, 2, res.Rows[0].Line)

	require.NotNil(t, res.Mapping)
	assert.Equal(t, "|", res.Mapping.Delimiter)
	assert.Equal(t, "02/01/2006", res.Mapping.DateFormat)
	assert.True(t, res.Mapping.European)
	require.NotNil(t, res.European)
	assert.True(t, *res.European)
}

func TestAssistedAdapterRowPattern(t *testing.T) {
	data := "MONTHLY STATEMENT\n" +
		"Jan 15 2026  GROCERY MART        -52.10\n" +
		"Jan 16 2026  DIRECT DEPOSIT     1200.00\n" +
		"Page 1 of 1\n"

	client := &stubExtractionClient{hints: &ai.FieldHints{
		RowPattern:  `^(?P<date>[A-Za-z]{3} \d{1,2} \d{4})\s+(?P<desc>.+?)\s+(?P<amount>-?\d+\.\d{2})$`,
		DateFormats: []string{"Jan 2 2006"},
		Confidence:  0.8,
	}}

	res, err := NewAssistedAdapter(client).Extract(context.Background(), []byte(data))
	require.NoError(t, err)

	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Jan 15 2026", res.Rows[0].DateText)
	assert.Equal(t, "GROCERY MART", res.Rows[0].Description)
	assert.Equal(t, "-52.10", res.Rows[0].AmountText)
	assert.Nil(t, res.Mapping, "pattern hints have no column mapping")
}

func TestAssistedAdapterUnavailableFlagsMonetaryLines(t *testing.T) {
	data := "STATEMENT\n" +
		"Jan 15 2026 GROCERY MART -52.10\n" +
		"Thank you for your business\n"

	client := &stubExtractionClient{err: ai.ErrUnavailable}

	res, err := NewAssistedAdapter(client).Extract(context.Background(), []byte(data))
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0].NeedsReview)
	assert.Contains(t, res.Rows[0].Description, "GROCERY MART")
}

func TestAssistedAdapterMalformedHints(t *testing.T) {
	tests := []struct {
		name  string
		hints *ai.FieldHints
	}{
		{name: "neither delimiter nor pattern", hints: &ai.FieldHints{}},
		{name: "invalid regexp", hints: &ai.FieldHints{RowPattern: `(?P<date>[`}},
		{name: "pattern missing amount group", hints: &ai.FieldHints{
			RowPattern: `(?P<date>\d+) (?P<desc>.+)`,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubExtractionClient{hints: tt.hints}
			res, err := NewAssistedAdapter(client).Extract(
				context.Background(), []byte("Jan 15 2026 SHOP -10.00\n"))
			require.NoError(t, err)
			assert.True(t, res.Degraded)
			require.Len(t, res.Rows, 1)
			assert.True(t, res.Rows[0].NeedsReview)
		})
	}
}

func TestAssistedAdapterNonMatchingMonetaryLineFlagged(t *testing.T) {
	data := "15/01/2026|SHOP|-10,00\n" +
		"Balance carried forward 1.234,56\n"

	client := &stubExtractionClient{hints: &ai.FieldHints{
		Delimiter: "|", DateIndex: 0, DescIndex: 1, AmountIndex: 2,
		CurrencyIndex: -1, BalanceIndex: -1,
	}}

	res, err := NewAssistedAdapter(client).Extract(context.Background(), []byte(data))
	require.NoError(t, err)

	require.Len(t, res.Rows, 2)
	assert.False(t, res.Rows[0].NeedsReview)
	assert.True(t, res.Rows[1].NeedsReview)
}
