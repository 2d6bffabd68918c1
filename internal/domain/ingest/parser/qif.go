package parser

import (
	"strings"
)

// QIFAdapter parses Quicken Interchange Format statements. QIF is a
// line-oriented format: each record is a set of single-letter field
// lines terminated by "^". Deterministic, no external calls.
type QIFAdapter struct{}

func NewQIFAdapter() *QIFAdapter {
	return &QIFAdapter{}
}

// Extract walks records and emits one RawRow per complete record.
// A record missing its date or amount is a row-level failure only.
func (a *QIFAdapter) Extract(data []byte) (*Result, error) {
	result := &Result{}

	var (
		row        RawRow
		started    bool
		recordLine int
	)

	reset := func() {
		row = RawRow{Adapter: AdapterQIF}
		started = false
	}
	reset()

	flush := func() {
		if !started {
			return
		}
		row.Line = recordLine
		switch {
		case row.DateText == "":
			result.RowErrors = append(result.RowErrors, RowError{
				Line: recordLine, Field: "date", Message: "record has no date",
			})
		case row.AmountText == "":
			result.RowErrors = append(result.RowErrors, RowError{
				Line: recordLine, Field: "amount", Message: "record has no amount",
			})
		default:
			if row.Description == "" {
				row.Description = "(no payee)"
			}
			result.Rows = append(result.Rows, row)
		}
		reset()
	}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		// Header lines like !Type:Bank apply to the whole file.
		if strings.HasPrefix(line, "!") {
			continue
		}

		code := line[0]
		value := strings.TrimSpace(line[1:])
		if !started {
			started = true
			recordLine = i + 1
		}

		switch code {
		case 'D':
			row.DateText = value
		case 'T', 'U':
			// T and U carry the same amount; either may appear.
			if row.AmountText == "" {
				row.AmountText = value
			}
		case 'P':
			row.Description = cleanCell(value)
		case 'M':
			if row.Description == "" {
				row.Description = cleanCell(value)
			}
		case 'L':
			// Category hint; ignored, classification is rule-driven.
		case '^':
			flush()
		}
	}
	flush()

	return result, nil
}
