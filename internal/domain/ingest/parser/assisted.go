package parser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
)

// hintSampleSize is how many candidate lines are sent to the assistant.
const hintSampleSize = 20

// AssistedAdapter handles messy CSV and PDF statements. The assistant
// is asked only for structural hints (delimiter + column offsets, or a
// row regexp); every value is then re-extracted deterministically from
// the source text. When the capability is unavailable or a line does
// not match the hints, the row is flagged for manual mapping rather
// than guessed.
type AssistedAdapter struct {
	client ai.ExtractionClient
}

func NewAssistedAdapter(client ai.ExtractionClient) *AssistedAdapter {
	return &AssistedAdapter{client: client}
}

// Extract splits the input into text lines, obtains hints for a sample,
// then applies the hints to every line.
func (a *AssistedAdapter) Extract(ctx context.Context, data []byte) (*Result, error) {
	lines := textLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("no extractable text lines")
	}

	sample := lines
	if len(sample) > hintSampleSize {
		sample = sample[:hintSampleSize]
	}
	sampleText := make([]string, len(sample))
	for i, l := range sample {
		sampleText[i] = l.text
	}

	hints, err := a.client.ExtractHints(ctx, sampleText, ai.DefaultSchema())
	if err != nil {
		if errors.Is(err, ai.ErrUnavailable) {
			return flagAll(lines), nil
		}
		return nil, err
	}

	applier, err := newHintApplier(hints)
	if err != nil {
		// Malformed hints are treated the same as no hints.
		return flagAll(lines), nil
	}

	result := &Result{
		European:    hints.European,
		DateFormats: hints.DateFormats,
	}
	if hints.Delimiter != "" {
		european := false
		if hints.European != nil {
			european = *hints.European
		}
		dateFormat := ""
		if len(hints.DateFormats) > 0 {
			dateFormat = hints.DateFormats[0]
		}
		result.Mapping = &ColumnMapping{
			Delimiter:  hints.Delimiter,
			Date:       hints.DateIndex,
			Desc:       hints.DescIndex,
			Amount:     hints.AmountIndex,
			Debit:      -1,
			Credit:     -1,
			Currency:   hints.CurrencyIndex,
			Balance:    hints.BalanceIndex,
			DateFormat: dateFormat,
			European:   european,
		}
	}
	for _, l := range lines {
		row, ok := applier.apply(l.text)
		if !ok {
			// Non-transaction text (headers, footers, page numbers) is
			// expected in this path; only lines that look monetary but
			// fail the hints are surfaced for review.
			if looksMonetary(l.text) {
				result.Rows = append(result.Rows, RawRow{
					Line:        l.number,
					Description: cleanCell(l.text),
					Adapter:     AdapterAssisted,
					NeedsReview: true,
				})
			}
			continue
		}
		row.Line = l.number
		row.Adapter = AdapterAssisted
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

type textLine struct {
	number int
	text   string
}

// textLines extracts usable text lines. Binary sections (compressed
// PDF streams) are dropped; only lines that are mostly printable
// survive.
func textLines(data []byte) []textLine {
	var out []textLine
	for i, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < 3 || !mostlyPrintable(trimmed) {
			continue
		}
		out = append(out, textLine{number: i + 1, text: trimmed})
	}
	return out
}

func mostlyPrintable(s string) bool {
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) {
			printable++
		}
	}
	return total > 0 && printable*10 >= total*9
}

func looksMonetary(s string) bool {
	return regexp.MustCompile(`\d+[.,]\d{2}`).MatchString(s)
}

func flagAll(lines []textLine) *Result {
	result := &Result{Degraded: true}
	for _, l := range lines {
		if !looksMonetary(l.text) {
			continue
		}
		result.Rows = append(result.Rows, RawRow{
			Line:        l.number,
			Description: cleanCell(l.text),
			Adapter:     AdapterAssisted,
			NeedsReview: true,
		})
	}
	return result
}

// hintApplier applies validated structural hints to one line at a time.
type hintApplier struct {
	hints      *ai.FieldHints
	rowPattern *regexp.Regexp
	groups     map[string]int
}

func newHintApplier(hints *ai.FieldHints) (*hintApplier, error) {
	ha := &hintApplier{hints: hints}

	if hints.Delimiter == "" {
		if hints.RowPattern == "" {
			return nil, fmt.Errorf("hints name neither delimiter nor row pattern")
		}
		re, err := regexp.Compile(hints.RowPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid row pattern: %w", err)
		}
		ha.rowPattern = re
		ha.groups = map[string]int{}
		for i, name := range re.SubexpNames() {
			if name != "" {
				ha.groups[name] = i
			}
		}
		for _, required := range []string{"date", "desc", "amount"} {
			if _, ok := ha.groups[required]; !ok {
				return nil, fmt.Errorf("row pattern missing %q group", required)
			}
		}
	}
	return ha, nil
}

// apply extracts a RawRow from a line. All values are substrings of the
// source line; the assistant's output never supplies them directly.
func (ha *hintApplier) apply(line string) (RawRow, bool) {
	if ha.rowPattern != nil {
		m := ha.rowPattern.FindStringSubmatch(line)
		if m == nil {
			return RawRow{}, false
		}
		pick := func(name string) string {
			if idx, ok := ha.groups[name]; ok && idx < len(m) {
				return strings.TrimSpace(m[idx])
			}
			return ""
		}
		row := RawRow{
			DateText:     pick("date"),
			Description:  cleanCell(pick("desc")),
			AmountText:   pick("amount"),
			CurrencyHint: pick("currency"),
			BalanceHint:  pick("balance"),
		}
		if row.DateText == "" || row.AmountText == "" {
			return RawRow{}, false
		}
		return row, true
	}

	fields := strings.Split(line, ha.hints.Delimiter)
	pick := func(idx int) string {
		if idx < 0 || idx >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[idx])
	}
	row := RawRow{
		DateText:     pick(ha.hints.DateIndex),
		Description:  cleanCell(pick(ha.hints.DescIndex)),
		AmountText:   pick(ha.hints.AmountIndex),
		CurrencyHint: pick(ha.hints.CurrencyIndex),
		BalanceHint:  pick(ha.hints.BalanceIndex),
	}
	if row.DateText == "" || row.AmountText == "" || row.Description == "" {
		return RawRow{}, false
	}
	return row, true
}
