package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/sniffer"
)

// csvRow supports flexible column naming; gocsv matches by header name.
type csvRow struct {
	Date    string `csv:"date"`
	DataMov string `csv:"data mov."`
	Fecha   string `csv:"fecha"`
	Datum   string `csv:"datum"`

	Description string `csv:"description"`
	Descricao   string `csv:"descrição"`
	Descricao2  string `csv:"descricao"`
	Descripcion string `csv:"descripción"`
	Merchant    string `csv:"merchant"`
	Payee       string `csv:"payee"`
	Details     string `csv:"details"`
	Memo        string `csv:"memo"`

	Amount  string `csv:"amount"`
	Valor   string `csv:"valor"`
	Importe string `csv:"importe"`
	Value   string `csv:"value"`

	Debit  string `csv:"debit"`
	Debito string `csv:"débito"`
	Cargo  string `csv:"cargo"`

	Credit  string `csv:"credit"`
	Credito string `csv:"crédito"`
	Abono   string `csv:"abono"`

	Currency string `csv:"currency"`
	Moeda    string `csv:"moeda"`

	Balance string `csv:"balance"`
	Saldo   string `csv:"saldo"`
}

// CSVAdapter is the deterministic adapter for structured delimited
// files. It is pure and makes no external calls.
type CSVAdapter struct {
	config  *sniffer.FileConfig
	mapping *ColumnMapping // optional explicit mapping
}

// NewCSVAdapter builds an adapter for a sniffed file layout.
func NewCSVAdapter(config *sniffer.FileConfig) *CSVAdapter {
	return &CSVAdapter{config: config}
}

// WithMapping uses an explicit column mapping instead of header names.
func (a *CSVAdapter) WithMapping(m ColumnMapping) *CSVAdapter {
	a.mapping = &m
	return a
}

// Extract parses all data rows into RawRows.
func (a *CSVAdapter) Extract(data []byte) (*Result, error) {
	if a.mapping != nil {
		return a.extractWithMapping(data, *a.mapping)
	}
	return a.extractByHeaders(data)
}

func (a *CSVAdapter) extractByHeaders(data []byte) (*Result, error) {
	reader := csv.NewReader(a.newReader(data, a.config.SkipLines))
	reader.Comma = a.config.Delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	// A per-call unmarshaller keeps all parse state local; the gocsv
	// package-level setters are shared and concurrent extracts with
	// different delimiters would trample each other.
	um, err := gocsv.NewUnmarshaller(reader, csvRow{})
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	// Bank exports capitalize headers freely; struct tags are lowercase.
	if err := um.RenormalizeHeaders(lowercaseHeaders); err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	result := &Result{}
	for i := 0; ; i++ {
		lineNum := i + a.config.SkipLines + 2 // 1-indexed, after header

		v, err := um.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.RowErrors = append(result.RowErrors, RowError{
				Line: lineNum, Field: "row", Message: err.Error(),
			})
			continue
		}
		row := v.(csvRow)

		dateText := coalesce(row.Date, row.DataMov, row.Fecha, row.Datum)
		if dateText == "" {
			continue // metadata or trailing blank line
		}
		desc := coalesce(row.Description, row.Descricao, row.Descricao2, row.Descripcion,
			row.Merchant, row.Payee, row.Details, row.Memo)
		if desc == "" {
			result.RowErrors = append(result.RowErrors, RowError{
				Line: lineNum, Field: "description", Message: "missing description",
			})
			continue
		}

		amount := coalesce(row.Amount, row.Valor, row.Importe, row.Value)
		debit := coalesce(row.Debit, row.Debito, row.Cargo)
		credit := coalesce(row.Credit, row.Credito, row.Abono)
		if amount == "" && debit == "" && credit == "" {
			result.RowErrors = append(result.RowErrors, RowError{
				Line: lineNum, Field: "amount", Message: "no amount found",
			})
			continue
		}

		result.Rows = append(result.Rows, RawRow{
			Line:         lineNum,
			DateText:     dateText,
			Description:  cleanCell(desc),
			AmountText:   amount,
			DebitText:    debit,
			CreditText:   credit,
			CurrencyHint: coalesce(row.Currency, row.Moeda),
			BalanceHint:  coalesce(row.Balance, row.Saldo),
			Adapter:      AdapterCSV,
		})
	}

	return result, nil
}

func lowercaseHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

func (a *CSVAdapter) extractWithMapping(data []byte, m ColumnMapping) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(bytes.NewReader(data))
	csvReader.Comma = a.config.Delimiter
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	// Skip metadata lines plus the header row.
	for i := 0; i <= a.config.SkipLines; i++ {
		if _, err := csvReader.Read(); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}

	result := &Result{}
	lineNum := a.config.SkipLines + 2

	get := func(record []string, idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return cleanCell(record[idx])
	}

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.RowErrors = append(result.RowErrors, RowError{
				Line: lineNum, Field: "row", Message: err.Error(),
			})
			lineNum++
			continue
		}

		dateText := get(record, m.Date)
		if dateText == "" {
			lineNum++
			continue
		}
		desc := get(record, m.Desc)
		if desc == "" {
			result.RowErrors = append(result.RowErrors, RowError{
				Line: lineNum, Field: "description", Message: "missing description",
			})
			lineNum++
			continue
		}

		amount := get(record, m.Amount)
		debit := get(record, m.Debit)
		credit := get(record, m.Credit)
		if amount == "" && debit == "" && credit == "" {
			result.RowErrors = append(result.RowErrors, RowError{
				Line: lineNum, Field: "amount", Message: "no amount found",
			})
			lineNum++
			continue
		}

		result.Rows = append(result.Rows, RawRow{
			Line:         lineNum,
			DateText:     dateText,
			Description:  desc,
			AmountText:   amount,
			DebitText:    debit,
			CreditText:   credit,
			CurrencyHint: get(record, m.Currency),
			BalanceHint:  get(record, m.Balance),
			Adapter:      AdapterCSV,
		})
		lineNum++
	}

	return result, nil
}

func (a *CSVAdapter) newReader(data []byte, skip int) io.Reader {
	r := bytes.NewReader(data)
	if skip <= 0 {
		return r
	}
	// Discard metadata lines before the header.
	buf := make([]byte, 1)
	lines := 0
	for lines < skip {
		n, err := r.Read(buf)
		if err != nil {
			break
		}
		if n > 0 && buf[0] == '\n' {
			lines++
		}
	}
	return r
}
