// Package export renders date ranges of the ledger into downloadable
// files. Exports never mutate transactions beyond the per-profile
// exported marker.
package export

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Target is the output file format of a profile.
type Target string

const (
	TargetCSV  Target = "csv"
	TargetXLSX Target = "xlsx"
)

// RangePolicy derives the default date range when the caller gives none.
type RangePolicy string

const (
	RangePreviousMonth RangePolicy = "previous_month"
	RangeCurrentMonth  RangePolicy = "current_month"
	RangeLast30Days    RangePolicy = "last_30_days"
)

// Column maps one output column to a transaction field.
type Column struct {
	Header string `json:"header"`
	Source string `json:"source"` // date, description, merchant, amount, currency, category
	Format string `json:"format,omitempty"`
}

// FieldMapping is the ordered column layout of a profile, stored jsonb.
type FieldMapping struct {
	Columns    []Column `json:"columns"`
	DateFormat string   `json:"date_format,omitempty"` // default 2006-01-02
}

// Validate rejects mappings that would render empty or unknown columns.
func (m FieldMapping) Validate() error {
	if len(m.Columns) == 0 {
		return fmt.Errorf("field mapping has no columns")
	}
	for _, c := range m.Columns {
		switch c.Source {
		case "date", "description", "merchant", "amount", "currency", "category":
		default:
			return fmt.Errorf("unknown column source %q", c.Source)
		}
		if c.Header == "" {
			return fmt.Errorf("column with source %q has no header", c.Source)
		}
	}
	return nil
}

// Profile is a saved export configuration.
type Profile struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Target      Target
	Mapping     FieldMapping
	RangePolicy RangePolicy
	CreatedAt   time.Time
}

// ResolveRange turns the policy into concrete bounds relative to now.
func (p *Profile) ResolveRange(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch p.RangePolicy {
	case RangeCurrentMonth:
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, -1)
	case RangeLast30Days:
		to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return to.AddDate(0, 0, -30), to
	default: // previous_month
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -1, 0), first.AddDate(0, 0, -1)
	}
}
