// Package sniffer classifies uploaded statement files into a parse
// strategy and, for delimited files, detects delimiter, header row and
// regional dialect. Detection never fails outright: when no
// deterministic signature matches it falls back to the least-structured
// strategy and lets the extraction step sort it out.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"
)

// Format is the parse strategy chosen for an uploaded file.
type Format string

const (
	FormatQIF           Format = "qif"
	FormatStructuredCSV Format = "structured_csv"
	FormatMessyCSV      Format = "messy_csv"
	FormatPDF           Format = "pdf"
)

// Detection is the result of format classification.
type Detection struct {
	Format     Format
	Confidence float64
	// Config is set for CSV formats.
	Config *FileConfig
}

// FileConfig holds the detected layout of a delimited file.
type FileConfig struct {
	Delimiter   rune
	SkipLines   int
	Headers     []string
	Fingerprint string
	SampleRows  [][]string
}

// Columns provides auto-detected column indices (-1 when absent).
type Columns struct {
	Date          int
	Desc          int
	Amount        int
	Debit         int
	Credit        int
	Currency      int
	Balance       int
	IsDoubleEntry bool
}

// Dialect is the inferred regional formatting of amounts and dates.
type Dialect struct {
	European   bool // decimal comma
	DayFirst   bool // DD/MM rather than MM/DD
	Confidence float64
}

// Common statement header keywords (multi-language).
var headerKeywords = []string{
	"date", "description", "amount", "debit", "credit", "balance", "merchant", "payee",
	"data mov", "descrição", "descricao", "débito", "debito", "crédito", "credito", "saldo",
	"fecha", "descripción", "descripcion", "importe", "cargo", "abono",
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

var pdfMagic = []byte("%PDF-")

// Detect classifies file bytes plus filename into a parse strategy.
func Detect(data []byte, fileName string) Detection {
	if bytes.HasPrefix(data, pdfMagic) || strings.HasSuffix(strings.ToLower(fileName), ".pdf") {
		return Detection{Format: FormatPDF, Confidence: 1.0}
	}

	if looksLikeQIF(data, fileName) {
		return Detection{Format: FormatQIF, Confidence: 1.0}
	}

	cfg, err := DetectConfig(data)
	if err != nil {
		// Not recognizably delimited; defer correctness to the
		// AI-assisted extraction path.
		return Detection{Format: FormatMessyCSV, Confidence: 0.2}
	}

	cols := SuggestColumns(cfg.Headers)
	if cols.Date >= 0 && cols.Desc >= 0 && (cols.Amount >= 0 || cols.IsDoubleEntry) {
		return Detection{Format: FormatStructuredCSV, Confidence: 0.9, Config: cfg}
	}
	return Detection{Format: FormatMessyCSV, Confidence: 0.5, Config: cfg}
}

// looksLikeQIF checks for the QIF bang-header within the first lines.
func looksLikeQIF(data []byte, fileName string) bool {
	if strings.HasSuffix(strings.ToLower(fileName), ".qif") {
		return true
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.HasPrefix(line, "!Type:") || strings.HasPrefix(line, "!Account")
	}
	return false
}

// DetectConfig analyzes a delimited file and returns its layout.
func DetectConfig(data []byte) (*FileConfig, error) {
	data = stripBOM(data)
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")
	delimiter, skipLines, err := findHeaderRow(lines)
	if err != nil {
		return nil, err
	}

	headerLine := strings.TrimRight(lines[skipLines], "\r")
	reader := csv.NewReader(strings.NewReader(headerLine))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skipLines,
		Headers:     headers,
		Fingerprint: Fingerprint(headers),
		SampleRows:  sampleRows(data, delimiter, skipLines+1, 5),
	}, nil
}

// SuggestColumns matches detected headers against known vocabularies.
func SuggestColumns(headers []string) Columns {
	cols := Columns{Date: -1, Desc: -1, Amount: -1, Debit: -1, Credit: -1, Currency: -1, Balance: -1}

	for i, header := range headers {
		h := strings.ToLower(strings.TrimSpace(header))
		switch {
		case cols.Date < 0 && (strings.Contains(h, "date") || strings.Contains(h, "data mov") ||
			strings.Contains(h, "fecha") || h == "data"):
			cols.Date = i
		case cols.Desc < 0 && (strings.Contains(h, "descri") || strings.Contains(h, "merchant") ||
			strings.Contains(h, "payee") || strings.Contains(h, "memo") || h == "details"):
			cols.Desc = i
		case cols.Debit < 0 && (strings.Contains(h, "debit") || strings.Contains(h, "débito") ||
			strings.Contains(h, "debito") || strings.Contains(h, "cargo")):
			cols.Debit = i
		case cols.Credit < 0 && (strings.Contains(h, "credit") || strings.Contains(h, "crédito") ||
			strings.Contains(h, "credito") || strings.Contains(h, "abono")):
			cols.Credit = i
		case cols.Amount < 0 && (h == "amount" || h == "valor" || h == "importe" || h == "value" || h == "montant"):
			cols.Amount = i
		case cols.Currency < 0 && (strings.Contains(h, "currency") || strings.Contains(h, "moeda") ||
			strings.Contains(h, "moneda") || strings.Contains(h, "divisa") || strings.Contains(h, "valuta")):
			cols.Currency = i
		case cols.Balance < 0 && (strings.Contains(h, "balance") || strings.Contains(h, "saldo")):
			cols.Balance = i
		}
	}

	cols.IsDoubleEntry = cols.Debit >= 0 && cols.Credit >= 0
	return cols
}

// ProbeDialect inspects sample rows to infer amount and date formatting.
func ProbeDialect(sampleRows [][]string, amountIdx, dateIdx int) Dialect {
	d := Dialect{Confidence: 0.5}

	europeanHints := 0
	usHints := 0
	dayFirst := false
	monthFirst := false

	for _, row := range sampleRows {
		if amountIdx >= 0 && amountIdx < len(row) && row[amountIdx] != "" {
			switch amountHint(row[amountIdx]) {
			case 1:
				europeanHints++
			case -1:
				usHints++
			}
		}
		if dateIdx >= 0 && dateIdx < len(row) && row[dateIdx] != "" {
			if firstDatePartOver12(row[dateIdx]) {
				dayFirst = true
			} else {
				monthFirst = true
			}
		}
		for _, cell := range row {
			if strings.Contains(cell, "€") || strings.Contains(cell, "EUR") {
				europeanHints++
			} else if strings.Contains(cell, "$") && !strings.Contains(cell, "R$") {
				usHints++
			}
		}
	}

	d.European = europeanHints > usHints
	if total := europeanHints + usHints; total > 0 {
		winner := europeanHints
		if usHints > winner {
			winner = usHints
		}
		d.Confidence = float64(winner) / float64(total)
	}

	switch {
	case dayFirst && !monthFirst:
		d.DayFirst = true
	case !dayFirst && monthFirst:
		d.DayFirst = false
	default:
		d.DayFirst = d.European
	}

	return d
}

// amountHint returns 1 for European formatting, -1 for US, 0 when ambiguous.
func amountHint(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, val)
	cleaned = strings.TrimPrefix(cleaned, "-")
	if cleaned == "" {
		return 0
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			return 1
		}
		return -1
	case hasComma:
		if idx := strings.LastIndex(cleaned, ","); len(cleaned)-idx-1 <= 2 {
			return 1
		}
	case hasDot:
		if idx := strings.LastIndex(cleaned, "."); len(cleaned)-idx-1 <= 2 {
			return -1
		}
	}
	return 0
}

func firstDatePartOver12(dateVal string) bool {
	parts := strings.FieldsFunc(dateVal, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) < 2 {
		return false
	}
	day := 0
	for _, c := range strings.TrimSpace(parts[0]) {
		if c < '0' || c > '9' {
			break
		}
		day = day*10 + int(c-'0')
	}
	return day > 12 && day <= 31
}

func findHeaderRow(lines []string) (rune, int, error) {
	bestIdx := -1
	bestDelim := rune(0)
	bestScore := 0

	fallbackIdx := -1
	fallbackDelim := rune(0)
	fallbackCount := 0

	for i, line := range lines {
		if i > 20 {
			break
		}
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}

		delim, count := detectDelimiter(line)
		if count < 1 {
			continue
		}

		keywordMatches := 0
		lower := strings.ToLower(line)
		for _, kw := range headerKeywords {
			if strings.Contains(lower, kw) {
				keywordMatches++
			}
		}

		if keywordMatches > 0 {
			score := count*10 + keywordMatches
			if score > bestScore {
				bestScore = score
				bestDelim = delim
				bestIdx = i
			}
		} else if count > fallbackCount {
			fallbackCount = count
			fallbackDelim = delim
			fallbackIdx = i
		}
	}

	if bestIdx >= 0 {
		return bestDelim, bestIdx, nil
	}
	if fallbackCount >= 2 {
		return fallbackDelim, fallbackIdx, nil
	}
	return 0, 0, ErrNoHeadersFound
}

func detectDelimiter(line string) (rune, int) {
	best := rune(0)
	bestCount := 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		if count := strings.Count(line, string(d)); count > bestCount {
			bestCount = count
			best = d
		}
	}
	return best, bestCount
}

// Fingerprint hashes normalized header names so a layout can be
// recognized on re-upload.
func Fingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}
	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

func sampleRows(data []byte, delimiter rune, startLine, maxRows int) [][]string {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	lineNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if lineNum >= startLine {
			rows = append(rows, record)
			if len(rows) >= maxRows {
				break
			}
		}
		lineNum++
	}
	return rows
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
