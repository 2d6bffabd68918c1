package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/parser"
)

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		row        parser.RawRow
		def        string
		wantCode   string
		wantSource Source
	}{
		{
			name:       "explicit code column",
			row:        parser.RawRow{CurrencyHint: "GBP", AmountText: "12.00"},
			def:        "USD",
			wantCode:   "GBP",
			wantSource: SourceExplicit,
		},
		{
			name:       "lowercase code",
			row:        parser.RawRow{CurrencyHint: "eur", AmountText: "12,00"},
			def:        "USD",
			wantCode:   "EUR",
			wantSource: SourceExplicit,
		},
		{
			name:       "code embedded in hint",
			row:        parser.RawRow{CurrencyHint: "EUR - Conta Corrente", AmountText: "12,00"},
			def:        "USD",
			wantCode:   "EUR",
			wantSource: SourceExplicit,
		},
		{
			name:       "symbol in amount beats inference",
			row:        parser.RawRow{AmountText: "R$ 150,75"},
			def:        "USD",
			wantCode:   "BRL",
			wantSource: SourceExplicit,
		},
		{
			name:       "symbol in description",
			row:        parser.RawRow{Description: "REFUND €20", AmountText: "20.00"},
			def:        "USD",
			wantCode:   "EUR",
			wantSource: SourceExplicit,
		},
		{
			name:       "european formatting on usd account infers eur",
			row:        parser.RawRow{AmountText: "1.234,56"},
			def:        "USD",
			wantCode:   "EUR",
			wantSource: SourceInferred,
		},
		{
			name:       "european formatting on eur account is just the default",
			row:        parser.RawRow{AmountText: "1.234,56"},
			def:        "EUR",
			wantCode:   "EUR",
			wantSource: SourceDefault,
		},
		{
			name:       "no signal falls back to account default",
			row:        parser.RawRow{AmountText: "1234"},
			def:        "CHF",
			wantCode:   "CHF",
			wantSource: SourceDefault,
		},
		{
			name:       "double entry rows use debit text",
			row:        parser.RawRow{DebitText: "12,50"},
			def:        "USD",
			wantCode:   "EUR",
			wantSource: SourceInferred,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewResolver(tt.def).Resolve(tt.row)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantSource, got.Source)
		})
	}
}

func TestExplicitCodeAmbiguous(t *testing.T) {
	// Two different codes in one hint cannot be trusted.
	_, ok := explicitCode("EUR/USD settlement")
	assert.False(t, ok)

	code, ok := explicitCode("EUR (EUR)")
	assert.True(t, ok, "repeated identical code is unambiguous")
	assert.Equal(t, "EUR", code)
}
