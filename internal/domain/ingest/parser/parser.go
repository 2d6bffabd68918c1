// Package parser contains the extraction adapters. Every adapter turns
// statement bytes into free-form RawRows; parsing of dates and amounts
// into typed values is the normalizer's job. A failure on one row is
// recorded as a row-level failure and never aborts the statement.
package parser

import (
	"fmt"
	"strings"
)

// Adapter names recorded on each RawRow for audit.
const (
	AdapterCSV      = "csv"
	AdapterQIF      = "qif"
	AdapterAssisted = "ai_assisted"
)

// RawRow is one extracted statement line before normalization.
// All fields are source text; nothing is interpreted yet.
type RawRow struct {
	Line         int
	DateText     string
	Description  string
	AmountText   string
	DebitText    string
	CreditText   string
	CurrencyHint string
	BalanceHint  string
	Adapter      string
	// NeedsReview marks rows the AI-assisted adapter could not map with
	// enough confidence. They are surfaced for manual mapping instead
	// of guessed at.
	NeedsReview bool
}

// RowError is a row-scoped extraction failure.
type RowError struct {
	Line    int
	Field   string
	Message string
	Raw     string
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d, field %s: %s", e.Line, e.Field, e.Message)
}

// Result is an adapter's output for one statement.
type Result struct {
	Rows      []RawRow
	RowErrors []RowError
	// Degraded is true when the AI capability was unavailable and the
	// rows were flagged for manual mapping instead.
	Degraded bool
	// Mapping is set when the assisted adapter derived a reusable
	// column layout; it is persisted keyed by header fingerprint.
	Mapping *ColumnMapping
	// European and DateFormats carry locale hints for the normalizer
	// when the adapter learned them.
	European    *bool
	DateFormats []string
}

// TotalLines is the number of data lines the adapter saw.
func (r *Result) TotalLines() int {
	return len(r.Rows) + len(r.RowErrors)
}

// ColumnMapping describes how delimited columns map onto row fields.
// It is persisted (keyed by header fingerprint) so a once-resolved
// layout skips re-detection on the next upload.
type ColumnMapping struct {
	Delimiter  string `json:"delimiter"`
	SkipLines  int    `json:"skip_lines"`
	Date       int    `json:"date"`
	Desc       int    `json:"desc"`
	Amount     int    `json:"amount"`
	Debit      int    `json:"debit"`
	Credit     int    `json:"credit"`
	Currency   int    `json:"currency"`
	Balance    int    `json:"balance"`
	DateFormat string `json:"date_format,omitempty"`
	European   bool   `json:"european"`
}

// DoubleEntry reports whether the mapping uses separate debit/credit columns.
func (m ColumnMapping) DoubleEntry() bool {
	return m.Amount < 0 && m.Debit >= 0 && m.Credit >= 0
}

// Validate checks the mapping names the required fields.
func (m ColumnMapping) Validate() error {
	if m.Date < 0 || m.Desc < 0 {
		return fmt.Errorf("mapping missing date/description columns")
	}
	if m.Amount < 0 && !(m.Debit >= 0 && m.Credit >= 0) {
		return fmt.Errorf("mapping missing amount or debit/credit columns")
	}
	return nil
}

func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
