// Package currency resolves each raw row to an ISO-4217 code.
// Resolution is per-row: a statement may legitimately mix currencies.
package currency

import (
	"strings"
	"unicode"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/parser"
	"github.com/ledgerpipe/ledgerpipe/pkg/money"
)

// Source records how the currency was determined, for audit.
type Source string

const (
	SourceExplicit Source = "explicit" // code or symbol present in the row
	SourceInferred Source = "inferred" // locale formatting of the amount
	SourceDefault  Source = "default"  // account default currency
)

// Resolution is the outcome for one row.
type Resolution struct {
	Code   string
	Source Source
}

// Resolver assigns a currency to raw rows against an account default.
type Resolver struct {
	accountDefault string
}

// NewResolver requires the account's default currency as the final
// fallback; CurrencyUnresolvable is absorbed there by design.
func NewResolver(accountDefault string) *Resolver {
	return &Resolver{accountDefault: strings.ToUpper(accountDefault)}
}

// Resolve applies the precedence: explicit code/symbol in the row wins;
// then locale inference from amount formatting; then account default.
func (r *Resolver) Resolve(row parser.RawRow) Resolution {
	if code, ok := explicitCode(row.CurrencyHint); ok {
		return Resolution{Code: code, Source: SourceExplicit}
	}

	for _, text := range []string{row.AmountText, row.DebitText, row.CreditText, row.Description} {
		if code, ok := money.SymbolCode(text); ok {
			return Resolution{Code: code, Source: SourceExplicit}
		}
	}

	if code, ok := r.inferFromFormatting(row); ok {
		return Resolution{Code: code, Source: SourceInferred}
	}

	return Resolution{Code: r.accountDefault, Source: SourceDefault}
}

// explicitCode accepts a bare ISO code or extracts a single code token
// from a longer hint such as "EUR - Conta Corrente".
func explicitCode(hint string) (string, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", false
	}

	upper := strings.ToUpper(hint)
	if len(upper) == 3 && money.IsValidCode(upper) {
		return upper, true
	}
	if code, ok := money.SymbolCode(hint); ok {
		return code, true
	}

	tokens := strings.FieldsFunc(upper, func(r rune) bool {
		switch r {
		case ';', ',', '\t', '|', '-', ':', '/', '(', ')':
			return true
		}
		return unicode.IsSpace(r)
	})
	var found string
	for _, tok := range tokens {
		tok = strings.Trim(tok, "\"'")
		if len(tok) == 3 && money.IsValidCode(tok) {
			if found != "" && found != tok {
				return "", false // ambiguous
			}
			found = tok
		}
	}
	return found, found != ""
}

// inferFromFormatting is a weak signal: European decimal-comma amounts
// on a non-euro default account suggest EUR, and vice versa for USD.
// It only fires when the account default disagrees with the evidence.
func (r *Resolver) inferFromFormatting(row parser.RawRow) (string, bool) {
	amount := row.AmountText
	if amount == "" {
		amount = row.DebitText
	}
	if amount == "" {
		amount = row.CreditText
	}

	european, ok := money.DetectEuropean(amount)
	if !ok {
		return "", false
	}
	if european && r.accountDefault != money.EUR && r.accountDefault != money.BRL {
		return money.EUR, true
	}
	if !european && r.accountDefault == "" {
		return money.USD, true
	}
	return "", false
}
