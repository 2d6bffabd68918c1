// Package ai defines the external AI capability boundary: structural
// extraction hints for unstructured statements and category suggestions
// for unmatched transactions. Both capabilities may fail or time out;
// callers must degrade rather than stall.
package ai

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the capability is not configured,
// the circuit breaker is open, or the retry budget is exhausted.
// The pipeline treats it as a degraded-mode signal, never as fatal.
var ErrUnavailable = errors.New("ai capability unavailable")

// ExtractionSchema names the target fields the assistant should locate.
type ExtractionSchema struct {
	Fields []string `json:"fields"`
}

// DefaultSchema is the constrained schema for statement rows.
func DefaultSchema() ExtractionSchema {
	return ExtractionSchema{Fields: []string{"date", "description", "amount", "currency", "balance"}}
}

// FieldHints is the assistant's structural guidance for one statement
// layout. It deliberately contains no monetary values: only column
// offsets, a row regexp, and format hints. The adapter re-extracts
// every value deterministically from the source text, so a
// hallucinated number can never enter the ledger.
type FieldHints struct {
	// Delimiter plus column indices, for delimited layouts. An index of
	// -1 means the field is absent.
	Delimiter     string `json:"delimiter,omitempty"`
	DateIndex     int    `json:"date_index"`
	DescIndex     int    `json:"desc_index"`
	AmountIndex   int    `json:"amount_index"`
	CurrencyIndex int    `json:"currency_index"`
	BalanceIndex  int    `json:"balance_index"`

	// RowPattern is a regexp with named groups (date, desc, amount,
	// currency, balance) for free-text layouts such as PDF text lines.
	// Used only when Delimiter is empty.
	RowPattern string `json:"row_pattern,omitempty"`

	// DateFormats are Go reference-layout strings to try in order.
	DateFormats []string `json:"date_formats,omitempty"`

	// European reports decimal-comma amount formatting when known.
	European *bool `json:"european,omitempty"`

	Confidence float64 `json:"confidence"`
}

// ExtractionClient locates fields in unstructured statement text.
type ExtractionClient interface {
	ExtractHints(ctx context.Context, sampleLines []string, schema ExtractionSchema) (*FieldHints, error)
}

// HistoricalExample is one previously categorized transaction offered
// as few-shot context.
type HistoricalExample struct {
	Description string `json:"description"`
	Merchant    string `json:"merchant"`
	Category    string `json:"category"`
}

// Suggestion is a category suggestion with the model's confidence.
type Suggestion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// CategorizationClient suggests a category for one transaction.
type CategorizationClient interface {
	Suggest(ctx context.Context, description, merchant string, history []HistoricalExample) (*Suggestion, error)
}
