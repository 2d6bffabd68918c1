// Package normalizer converts resolved raw rows into canonical
// transaction candidates: typed dates, exact decimal amounts, and a
// merchant guess. A row that fails required-field parsing is excluded
// and reported; the statement is never aborted for one bad line.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/currency"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/parser"
	"github.com/ledgerpipe/ledgerpipe/pkg/money"
)

// Candidate is a normalized row awaiting deduplication.
type Candidate struct {
	Date            time.Time
	Amount          decimal.Decimal
	Currency        string
	CurrencySource  currency.Source
	Description     string
	DescriptionNorm string
	Merchant        string
	Line            int
	Adapter         string
}

// dayFirstFormats and monthFirstFormats are tried in order; the first
// match wins, which keeps parsing deterministic.
var dayFirstFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"02/01/06",
	// QIF and older exports leave single digits unpadded.
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2/1/06",
	"2/1'06",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
}

var monthFirstFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"2006/01/02",
	"01/02/06",
	// QIF and older exports leave single digits unpadded.
	"1/2/2006",
	"1-2-2006",
	"1/2/06",
	"1/2'06",
	"2006-1-2",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04",
}

// Config controls date ordering and amount locale.
type Config struct {
	DayFirst   bool
	European   bool
	DateFormat string // explicit format tried before the ordered list
}

// Normalizer converts raw rows for one statement.
type Normalizer struct {
	cfg       Config
	sanitizer *MerchantSanitizer
}

func New(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg, sanitizer: NewMerchantSanitizer()}
}

// Normalize produces a candidate or a row-scoped error.
func (n *Normalizer) Normalize(row parser.RawRow, res currency.Resolution) (*Candidate, *parser.RowError) {
	if row.NeedsReview {
		return nil, &parser.RowError{
			Line: row.Line, Field: "row", Message: "flagged for manual mapping", Raw: row.Description,
		}
	}

	date, err := n.parseDate(row.DateText)
	if err != nil {
		return nil, &parser.RowError{
			Line: row.Line, Field: "date", Message: err.Error(), Raw: row.DateText,
		}
	}

	amount, err := n.parseSignedAmount(row)
	if err != nil {
		return nil, &parser.RowError{
			Line: row.Line, Field: "amount", Message: err.Error(), Raw: row.AmountText,
		}
	}

	desc := strings.TrimSpace(row.Description)
	if desc == "" {
		return nil, &parser.RowError{
			Line: row.Line, Field: "description", Message: "empty description",
		}
	}

	return &Candidate{
		Date:            date,
		Amount:          amount,
		Currency:        res.Code,
		CurrencySource:  res.Source,
		Description:     desc,
		DescriptionNorm: NormalizeDescription(desc),
		Merchant:        n.sanitizer.Sanitize(desc).NormalizedName,
		Line:            row.Line,
		Adapter:         row.Adapter,
	}, nil
}

func (n *Normalizer) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if n.cfg.DateFormat != "" {
		if t, err := time.Parse(n.cfg.DateFormat, s); err == nil {
			return t, nil
		}
	}

	formats := monthFirstFormats
	if n.cfg.DayFirst {
		formats = dayFirstFormats
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}

// parseSignedAmount determines the signed amount from a single amount
// column or from explicit debit/credit columns. Debits are negative.
func (n *Normalizer) parseSignedAmount(row parser.RawRow) (decimal.Decimal, error) {
	if row.AmountText != "" {
		return money.ParseAmount(row.AmountText, n.cfg.European)
	}

	if row.DebitText != "" {
		d, err := money.ParseAmount(row.DebitText, n.cfg.European)
		if err != nil {
			return decimal.Zero, err
		}
		if !d.IsZero() {
			return d.Abs().Neg(), nil
		}
	}
	if row.CreditText != "" {
		c, err := money.ParseAmount(row.CreditText, n.cfg.European)
		if err != nil {
			return decimal.Zero, err
		}
		if !c.IsZero() {
			return c.Abs(), nil
		}
	}
	return decimal.Zero, fmt.Errorf("no amount in row")
}

// NormalizeDescription produces the canonical description used in the
// natural composite key: uppercased, noise-collapsed, single-spaced.
func NormalizeDescription(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
