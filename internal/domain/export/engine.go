package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
	"github.com/ledgerpipe/ledgerpipe/internal/metrics"
	"github.com/ledgerpipe/ledgerpipe/pkg/money"
)

// Request selects what to export. From/To override the profile's range
// policy when both are set. An empty AccountIDs means all of the user's
// accounts. ReExport includes rows already exported under this profile;
// MarkExported flips the per-profile marker after a successful render.
type Request struct {
	UserID       uuid.UUID
	ProfileID    uuid.UUID
	AccountIDs   []uuid.UUID
	From         time.Time
	To           time.Time
	ReExport     bool
	MarkExported bool
}

// Result describes one finished run. Empty is a successful no-op: the
// range contained nothing to export.
type Result struct {
	FileName    string
	ContentType string
	Content     []byte
	Count       int
	From        time.Time
	To          time.Time
	Empty       bool
}

// Engine renders ledger ranges into files. Rendering is pure; the only
// write is the per-profile exported marker, flipped after the document
// is fully produced so a failed run leaves no marker behind.
type Engine struct {
	repo   *Repository
	txRepo *transaction.Repository
	logger *slog.Logger
}

func NewEngine(repo *Repository, txRepo *transaction.Repository, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, txRepo: txRepo, logger: logger}
}

// Run executes one export.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	profile, err := e.repo.GetByID(ctx, req.UserID, req.ProfileID)
	if err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	if profile == nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("export profile %s not found", req.ProfileID)
	}

	from, to := req.From, req.To
	if from.IsZero() || to.IsZero() {
		from, to = profile.ResolveRange(time.Now())
	}
	if to.Before(from) {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("export range ends before it starts")
	}

	txs, err := e.txRepo.ListForExport(ctx, req.UserID, profile.ID, req.AccountIDs, from, to, req.ReExport)
	if err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(txs) == 0 {
		e.logger.Info("export range empty",
			slog.String("profile", profile.Name),
			slog.Time("from", from), slog.Time("to", to))
		metrics.ExportRuns.WithLabelValues("empty").Inc()
		return &Result{From: from, To: to, Empty: true}, nil
	}

	names, err := e.repo.CategoryNames(ctx, req.UserID)
	if err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	records := renderRecords(profile.Mapping, txs, names)

	var (
		content     []byte
		contentType string
	)
	switch profile.Target {
	case TargetXLSX:
		content, err = writeXLSX(records)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		content, err = writeCSV(records)
		contentType = "text/csv"
	}
	if err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	if req.MarkExported {
		ids := make([]uuid.UUID, len(txs))
		for i, t := range txs {
			ids[i] = t.ID
		}
		if err := e.txRepo.MarkExported(ctx, profile.ID, ids); err != nil {
			metrics.ExportRuns.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	e.logger.Info("export finished",
		slog.String("profile", profile.Name),
		slog.Int("rows", len(txs)),
		slog.Time("from", from), slog.Time("to", to))
	metrics.ExportRuns.WithLabelValues("ok").Inc()

	return &Result{
		FileName:    fmt.Sprintf("%s_%s_%s.%s", profile.Name, from.Format("20060102"), to.Format("20060102"), profile.Target),
		ContentType: contentType,
		Content:     content,
		Count:       len(txs),
		From:        from,
		To:          to,
	}, nil
}

// renderRecords maps transactions to output rows, header first. It is
// a pure function of its inputs.
func renderRecords(m FieldMapping, txs []transaction.Transaction, categoryNames map[uuid.UUID]string) [][]string {
	dateFormat := m.DateFormat
	if dateFormat == "" {
		dateFormat = "2006-01-02"
	}

	records := make([][]string, 0, len(txs)+1)
	header := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		header[i] = c.Header
	}
	records = append(records, header)

	for _, t := range txs {
		row := make([]string, len(m.Columns))
		for i, c := range m.Columns {
			switch c.Source {
			case "date":
				f := c.Format
				if f == "" {
					f = dateFormat
				}
				row[i] = t.Date.Format(f)
			case "description":
				row[i] = t.Description
			case "merchant":
				row[i] = t.Merchant
			case "amount":
				if c.Format == "display" {
					row[i] = money.Format(t.Amount, t.CurrencyCode)
				} else {
					row[i] = t.Amount.StringFixed(2)
				}
			case "currency":
				row[i] = t.CurrencyCode
			case "category":
				if t.CategoryID != nil {
					row[i] = categoryNames[*t.CategoryID]
				}
			}
		}
		records = append(records, row)
	}
	return records
}

func writeCSV(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func writeXLSX(records [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Transactions"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for rowIdx, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+1)
		if err != nil {
			return nil, fmt.Errorf("cell name: %w", err)
		}
		row := make([]interface{}, len(record))
		for i, v := range record {
			row[i] = v
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", rowIdx+1, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
