// Package transaction holds the ledger model and its persistence.
package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source records which authority assigned the current category.
type Source string

const (
	SourceUnclassified Source = "unclassified"
	SourceRule         Source = "rule"
	SourceAI           Source = "ai"
	SourceManual       Source = "manual"
)

// Transaction is one ledger row. Amount is exact decimal; the sign
// convention is negative for debits.
type Transaction struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	AccountID       uuid.UUID
	StatementID     *uuid.UUID
	Date            time.Time
	Amount          decimal.Decimal
	CurrencyCode    string
	Description     string
	DescriptionNorm string
	Merchant        string
	CategoryID      *uuid.UUID
	ClassSource     Source
	Confidence      float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Classified reports whether the row carries a category assignment.
func (t *Transaction) Classified() bool {
	return t.ClassSource != SourceUnclassified && t.CategoryID != nil
}
