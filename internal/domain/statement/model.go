// Package statement tracks uploaded statement files through their
// parsing lifecycle and remembers column mappings per file fingerprint.
package statement

import (
	"time"

	"github.com/google/uuid"
)

// Status is the statement lifecycle state.
type Status string

const (
	StatusPendingParsing Status = "pending_parsing"
	StatusParsing        Status = "parsing"
	StatusParsedPartial  Status = "parsed_partial"
	StatusParsedComplete Status = "parsed_complete"
	StatusFailed         Status = "failed"
)

// Statement is one uploaded file.
type Statement struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	AccountID  uuid.UUID
	FileName   string
	Format     string
	Status     Status
	RowsTotal  int
	RowsFailed int
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Account is the owning account; its currency is the resolver fallback.
type Account struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Name         string
	CurrencyCode string
	CreatedAt    time.Time
}

// RawRow is the audit copy of one extracted line.
type RawRow struct {
	StatementID  uuid.UUID
	LineNumber   int
	DateText     string
	Description  string
	AmountText   string
	CurrencyHint string
	BalanceHint  string
	Adapter      string
	NeedsReview  bool
	Failure      string
}

// RowDuplicate links one discarded duplicate line to the transaction
// retained in its place.
type RowDuplicate struct {
	Line       int
	RetainedID uuid.UUID
}

// Mapping is a remembered column layout keyed by header fingerprint.
type Mapping struct {
	ID          uuid.UUID
	UserID      *uuid.UUID
	Fingerprint string
	BankName    string
	MappingJSON []byte
	CreatedAt   time.Time
}
