package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		fileName string
		want     Format
	}{
		{
			name:     "pdf magic bytes",
			data:     "%PDF-1.7 binary stuff",
			fileName: "statement.bin",
			want:     FormatPDF,
		},
		{
			name:     "pdf extension",
			data:     "whatever",
			fileName: "march.PDF",
			want:     FormatPDF,
		},
		{
			name:     "qif header",
			data:     "!Type:Bank\nD01/15/2026\nT-42.00\nPShop\n^\n",
			fileName: "export.txt",
			want:     FormatQIF,
		},
		{
			name:     "qif extension",
			data:     "D01/15/2026\n",
			fileName: "export.qif",
			want:     FormatQIF,
		},
		{
			name:     "structured csv",
			data:     "date,description,amount\n2026-01-05,Coffee,-3.50\n",
			fileName: "jan.csv",
			want:     FormatStructuredCSV,
		},
		{
			name:     "delimited but unknown headers",
			data:     "col1,col2,col3\nfoo,bar,baz\n",
			fileName: "odd.csv",
			want:     FormatMessyCSV,
		},
		{
			name:     "free text",
			data:     "Dear customer\nthank you for banking with us\n",
			fileName: "letter.txt",
			want:     FormatMessyCSV,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := Detect([]byte(tt.data), tt.fileName)
			assert.Equal(t, tt.want, det.Format)
		})
	}
}

func TestDetectConfig(t *testing.T) {
	data := []byte("Account statement\nExported 2026-02-01\n\nDate;Description;Débito;Crédito;Saldo\n01/02/2026;PINGO DOCE;12,50;;987,65\n")

	cfg, err := DetectConfig(data)
	require.NoError(t, err)

	assert.Equal(t, ';', cfg.Delimiter)
	assert.Equal(t, 3, cfg.SkipLines)
	assert.Equal(t, []string{"Date", "Description", "Débito", "Crédito", "Saldo"}, cfg.Headers)
	assert.NotEmpty(t, cfg.Fingerprint)
}

func TestDetectConfigEmpty(t *testing.T) {
	_, err := DetectConfig(nil)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestSuggestColumns(t *testing.T) {
	cols := SuggestColumns([]string{"Date", "Description", "Débito", "Crédito", "Saldo"})

	assert.Equal(t, 0, cols.Date)
	assert.Equal(t, 1, cols.Desc)
	assert.Equal(t, 2, cols.Debit)
	assert.Equal(t, 3, cols.Credit)
	assert.Equal(t, 4, cols.Balance)
	assert.True(t, cols.IsDoubleEntry)
	assert.Equal(t, -1, cols.Amount)
}

func TestProbeDialect(t *testing.T) {
	rows := [][]string{
		{"15/01/2026", "PINGO DOCE", "1.234,56"},
		{"16/01/2026", "CONTINENTE", "45,00"},
	}
	d := ProbeDialect(rows, 2, 0)

	assert.True(t, d.European)
	assert.True(t, d.DayFirst)
}

func TestProbeDialectUS(t *testing.T) {
	rows := [][]string{
		{"01/15/2026", "WHOLEFDS", "$1,234.56"},
		{"01/16/2026", "STARBUCKS", "$4.50"},
	}
	d := ProbeDialect(rows, 2, 0)

	assert.False(t, d.European)
	assert.False(t, d.DayFirst)
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]string{"Date", "Description", "Amount"})
	b := Fingerprint([]string{" date ", "DESCRIPTION", "amount"})
	c := Fingerprint([]string{"Date", "Payee", "Amount"})

	assert.Equal(t, a, b, "normalization should make fingerprints match")
	assert.NotEqual(t, a, c)
}
