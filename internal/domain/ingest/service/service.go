// Package service orchestrates statement ingestion: format detection,
// extraction, currency resolution, normalization, deduplication,
// classification and persistence.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/categorization"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/currency"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/dedup"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/normalizer"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/parser"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/sniffer"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/statement"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
	"github.com/ledgerpipe/ledgerpipe/internal/metrics"
	"github.com/ledgerpipe/ledgerpipe/pkg/config"
)

// Request is one statement upload.
type Request struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	FileName  string
	Data      []byte
	// FormatHint forces a parse strategy, bypassing detection.
	FormatHint string
}

// Result is the user-facing import outcome.
type Result struct {
	StatementID  uuid.UUID         `json:"statement_id"`
	Status       statement.Status  `json:"status"`
	Format       string            `json:"format"`
	RowsTotal    int               `json:"rows_total"`
	RowsParsed   int               `json:"rows_parsed"`
	RowsFailed   int               `json:"rows_failed"`
	Duplicates   int               `json:"duplicates"`
	Unclassified int               `json:"unclassified"`
	NeedsReview  int               `json:"needs_review"`
	Degraded     bool              `json:"degraded"`
	Errors       []parser.RowError `json:"errors,omitempty"`
}

// Service runs the ingestion pipeline.
type Service struct {
	statements   *statement.Repository
	transactions *transaction.Repository
	categorizer  *categorization.Service
	extractor    ai.ExtractionClient
	cfg          config.PipelineConfig
	logger       *slog.Logger

	// accountLocks serializes dedup+insert per account so concurrent
	// imports into the same account cannot double-insert near matches.
	accountLocks sync.Map
	// sem bounds concurrent pipeline runs to cfg.IngestWorkers.
	sem chan struct{}
}

func NewService(
	statements *statement.Repository,
	transactions *transaction.Repository,
	categorizer *categorization.Service,
	extractor ai.ExtractionClient,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *Service {
	workers := cfg.IngestWorkers
	if workers < 1 {
		workers = 1
	}
	return &Service{
		statements:   statements,
		transactions: transactions,
		categorizer:  categorizer,
		extractor:    extractor,
		cfg:          cfg,
		logger:       logger,
		sem:          make(chan struct{}, workers),
	}
}

// Ingest runs the full pipeline for one uploaded file. Pipeline-level
// failures are reported in the Result with a failed statement status;
// an error return means the upload itself could not be recorded.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	account, err := s.statements.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.UserID != req.UserID {
		return nil, fmt.Errorf("account %s not found", req.AccountID)
	}

	detection := s.detect(req)

	st := &statement.Statement{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		FileName:  req.FileName,
		Format:    string(detection.Format),
	}
	if err := s.statements.Create(ctx, st); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		slog.String("statement_id", st.ID.String()),
		slog.String("format", st.Format))
	logger.Info("statement ingestion started", slog.String("file", req.FileName))

	if err := s.statements.SetStatus(ctx, st.ID, statement.StatusParsing); err != nil {
		return nil, err
	}

	extracted, normCfg, err := s.extract(ctx, req, detection)
	if err != nil {
		logger.Error("extraction failed", slog.Any("error", err))
		_ = s.statements.Finish(ctx, st.ID, statement.StatusFailed, 0, 0)
		return &Result{StatementID: st.ID, Status: statement.StatusFailed, Format: st.Format}, nil
	}

	s.auditRows(ctx, st.ID, extracted, logger)
	s.rememberMapping(ctx, req.UserID, detection, extracted, logger)

	resolver := currency.NewResolver(account.CurrencyCode)
	norm := normalizer.New(normCfg)

	var (
		candidates  []normalizer.Candidate
		rowErrors   = append([]parser.RowError(nil), extracted.RowErrors...)
		needsReview = 0
	)
	for _, row := range extracted.Rows {
		if row.NeedsReview {
			needsReview++
			metrics.RowsNeedReview.Inc()
			continue
		}
		candidate, rowErr := norm.Normalize(row, resolver.Resolve(row))
		if rowErr != nil {
			rowErrors = append(rowErrors, *rowErr)
			continue
		}
		candidates = append(candidates, *candidate)
	}

	result := &Result{
		StatementID: st.ID,
		Format:      st.Format,
		RowsTotal:   extracted.TotalLines(),
		RowsFailed:  len(rowErrors),
		NeedsReview: needsReview,
		Degraded:    extracted.Degraded,
		Errors:      rowErrors,
	}

	if len(candidates) == 0 && needsReview == 0 {
		// Failed is reserved for a total inability to extract anything;
		// rows that merely failed normalization stay row-scoped.
		status := statement.StatusParsedPartial
		if result.RowsTotal == 0 {
			status = statement.StatusFailed
			logger.Warn("statement yielded no extractable rows")
		}
		result.Status = status
		metricsFailed(result)
		return result, s.statements.Finish(ctx, st.ID, status, result.RowsTotal, result.RowsFailed)
	}

	inserted, duplicates, unclassified, degraded, err := s.persist(ctx, req, st.ID, candidates)
	if err != nil {
		logger.Error("persistence failed", slog.Any("error", err))
		_ = s.statements.Finish(ctx, st.ID, statement.StatusFailed, result.RowsTotal, result.RowsFailed)
		result.Status = statement.StatusFailed
		return result, nil
	}

	result.RowsParsed = inserted
	result.Duplicates = duplicates
	result.Unclassified = unclassified
	result.Degraded = result.Degraded || degraded

	switch {
	case result.RowsFailed == 0 && needsReview == 0:
		result.Status = statement.StatusParsedComplete
	default:
		result.Status = statement.StatusParsedPartial
	}

	metricsSuccess(result)
	logger.Info("statement ingestion finished",
		slog.String("status", string(result.Status)),
		slog.Int("rows_total", result.RowsTotal),
		slog.Int("rows_parsed", result.RowsParsed),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("rows_failed", result.RowsFailed))

	return result, s.statements.Finish(ctx, st.ID, result.Status, result.RowsTotal, result.RowsFailed)
}

// detect picks the parse strategy, honoring an explicit hint.
func (s *Service) detect(req Request) sniffer.Detection {
	if req.FormatHint != "" {
		forced := sniffer.Format(req.FormatHint)
		switch forced {
		case sniffer.FormatQIF, sniffer.FormatPDF:
			return sniffer.Detection{Format: forced, Confidence: 1}
		case sniffer.FormatStructuredCSV, sniffer.FormatMessyCSV:
			if cfg, err := sniffer.DetectConfig(req.Data); err == nil {
				return sniffer.Detection{Format: forced, Confidence: 1, Config: cfg}
			}
			return sniffer.Detection{Format: sniffer.FormatMessyCSV, Confidence: 1}
		}
	}
	return sniffer.Detect(req.Data, req.FileName)
}

// extract dispatches to the adapter for the detected format and derives
// the normalizer configuration.
func (s *Service) extract(ctx context.Context, req Request, detection sniffer.Detection) (*parser.Result, normalizer.Config, error) {
	switch detection.Format {
	case sniffer.FormatQIF:
		res, err := parser.NewQIFAdapter().Extract(req.Data)
		return res, normalizer.Config{}, err

	case sniffer.FormatStructuredCSV:
		cfg := detection.Config
		cols := sniffer.SuggestColumns(cfg.Headers)
		dialect := sniffer.ProbeDialect(cfg.SampleRows, cols.Amount, cols.Date)
		res, err := parser.NewCSVAdapter(cfg).Extract(req.Data)
		return res, normalizer.Config{DayFirst: dialect.DayFirst, European: dialect.European}, err

	case sniffer.FormatMessyCSV:
		if detection.Config != nil {
			if mapping := s.savedMapping(ctx, req.UserID, detection.Config.Fingerprint); mapping != nil {
				res, err := parser.NewCSVAdapter(detection.Config).WithMapping(*mapping).Extract(req.Data)
				return res, normalizer.Config{
					DayFirst:   mapping.European,
					European:   mapping.European,
					DateFormat: mapping.DateFormat,
				}, err
			}
		}
		return s.extractAssisted(ctx, req.Data)

	case sniffer.FormatPDF:
		return s.extractAssisted(ctx, req.Data)
	}
	return nil, normalizer.Config{}, fmt.Errorf("unsupported format %q", detection.Format)
}

func (s *Service) extractAssisted(ctx context.Context, data []byte) (*parser.Result, normalizer.Config, error) {
	res, err := parser.NewAssistedAdapter(s.extractor).Extract(ctx, data)
	if err != nil {
		return nil, normalizer.Config{}, err
	}
	cfg := normalizer.Config{}
	if res.European != nil {
		cfg.European = *res.European
		cfg.DayFirst = *res.European
	}
	if len(res.DateFormats) > 0 {
		cfg.DateFormat = res.DateFormats[0]
	}
	return res, cfg, nil
}

// savedMapping loads a remembered column mapping for a fingerprint.
func (s *Service) savedMapping(ctx context.Context, userID uuid.UUID, fingerprint string) *parser.ColumnMapping {
	if fingerprint == "" {
		return nil
	}
	m, err := s.statements.GetMapping(ctx, userID, fingerprint)
	if err != nil || m == nil {
		return nil
	}
	var mapping parser.ColumnMapping
	if err := json.Unmarshal(m.MappingJSON, &mapping); err != nil {
		return nil
	}
	if mapping.Validate() != nil {
		return nil
	}
	return &mapping
}

// rememberMapping persists an assisted-derived column layout so the
// next upload of the same layout skips the AI round-trip.
func (s *Service) rememberMapping(ctx context.Context, userID uuid.UUID, detection sniffer.Detection, res *parser.Result, logger *slog.Logger) {
	if res.Mapping == nil || detection.Config == nil || detection.Config.Fingerprint == "" {
		return
	}
	if res.Mapping.Validate() != nil {
		return
	}
	raw, err := json.Marshal(res.Mapping)
	if err != nil {
		return
	}
	uid := userID
	m := &statement.Mapping{UserID: &uid, Fingerprint: detection.Config.Fingerprint, MappingJSON: raw}
	if err := s.statements.SaveMapping(ctx, m); err != nil {
		logger.Warn("could not remember column mapping", slog.Any("error", err))
		return
	}
	logger.Info("column mapping remembered", slog.String("fingerprint", m.Fingerprint))
}

// persist deduplicates against the ledger and inserts the survivors,
// classified. The whole step runs under the account's lock.
func (s *Service) persist(ctx context.Context, req Request, statementID uuid.UUID, candidates []normalizer.Candidate) (inserted, duplicates, unclassified int, degraded bool, err error) {
	if len(candidates) == 0 {
		return 0, 0, 0, false, nil
	}

	classifier, err := s.categorizer.BuildClassifier(ctx, req.UserID)
	if err != nil {
		return 0, 0, 0, false, err
	}

	lock := s.lockAccount(req.AccountID)
	lock.Lock()
	defer lock.Unlock()

	from, to := candidateRange(candidates, s.cfg.DedupDateToleranceDays)
	snapshot, err := s.transactions.AccountSnapshot(ctx, req.AccountID, from, to)
	if err != nil {
		return 0, 0, 0, false, err
	}

	existing := make([]dedup.Existing, len(snapshot))
	for i, t := range snapshot {
		existing[i] = dedup.Existing{
			ID: t.ID, Date: t.Date, Amount: t.Amount,
			Currency: t.CurrencyCode, DescriptionNorm: t.DescriptionNorm,
		}
	}

	outcome := dedup.New(s.cfg.DedupDateToleranceDays, s.cfg.DedupSimilarity).Run(existing, candidates)
	duplicates = len(outcome.Duplicates)
	for range outcome.Duplicates {
		metrics.RowsDuplicate.Inc()
	}

	stID := statementID
	txs := make([]*transaction.Transaction, 0, len(outcome.Unique))
	lines := make([]int, 0, len(outcome.Unique))
	for _, c := range outcome.Unique {
		if err := ctx.Err(); err != nil {
			return 0, duplicates, unclassified, degraded, err
		}
		decision, err := classifier.Classify(ctx, c.Description, c.Merchant)
		if err != nil {
			return 0, duplicates, unclassified, degraded, err
		}
		if decision.Degraded {
			degraded = true
			metrics.AIDegraded.Inc()
		}
		if decision.Source == transaction.SourceUnclassified {
			unclassified++
		} else {
			metrics.ClassifiedBySource.WithLabelValues(string(decision.Source)).Inc()
		}

		txs = append(txs, &transaction.Transaction{
			UserID:          req.UserID,
			AccountID:       req.AccountID,
			StatementID:     &stID,
			Date:            c.Date,
			Amount:          c.Amount,
			CurrencyCode:    c.Currency,
			Description:     c.Description,
			DescriptionNorm: c.DescriptionNorm,
			Merchant:        c.Merchant,
			CategoryID:      decision.CategoryID,
			ClassSource:     decision.Source,
			Confidence:      decision.Confidence,
		})
		lines = append(lines, c.Line)
	}

	inserted, err = s.transactions.InsertBatch(ctx, txs)
	if err != nil {
		return inserted, duplicates, unclassified, degraded, err
	}
	// Rows absorbed by the natural-key index count as duplicates.
	duplicates += len(txs) - inserted

	s.linkDuplicates(ctx, statementID, outcome.Duplicates, txs, lines)
	return inserted, duplicates, unclassified, degraded, nil
}

// linkDuplicates annotates the audit rows of discarded duplicates with
// the transaction retained in their place. In-batch duplicates resolve
// through the just-inserted rows; like the audit itself this is
// best-effort.
func (s *Service) linkDuplicates(ctx context.Context, statementID uuid.UUID, dups []dedup.Duplicate, txs []*transaction.Transaction, lines []int) {
	if len(dups) == 0 {
		return
	}

	lineToID := make(map[int]uuid.UUID, len(txs))
	for i, t := range txs {
		if t.ID != uuid.Nil {
			lineToID[lines[i]] = t.ID
		}
	}

	links := make([]statement.RowDuplicate, 0, len(dups))
	for _, d := range dups {
		if d.RetainedID != nil {
			links = append(links, statement.RowDuplicate{Line: d.Candidate.Line, RetainedID: *d.RetainedID})
			continue
		}
		if id, ok := lineToID[d.RetainedLine]; ok {
			links = append(links, statement.RowDuplicate{Line: d.Candidate.Line, RetainedID: id})
		}
	}
	if len(links) == 0 {
		return
	}
	if err := s.statements.LinkDuplicateRows(ctx, statementID, links); err != nil {
		s.logger.Warn("could not link duplicate rows", slog.Any("error", err))
	}
}

func (s *Service) lockAccount(accountID uuid.UUID) *sync.Mutex {
	v, _ := s.accountLocks.LoadOrStore(accountID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// auditRows stores the raw extraction output for later inspection.
func (s *Service) auditRows(ctx context.Context, statementID uuid.UUID, res *parser.Result, logger *slog.Logger) {
	rows := make([]statement.RawRow, 0, len(res.Rows)+len(res.RowErrors))
	for _, r := range res.Rows {
		rows = append(rows, statement.RawRow{
			StatementID: statementID, LineNumber: r.Line,
			DateText: r.DateText, Description: r.Description, AmountText: r.AmountText,
			CurrencyHint: r.CurrencyHint, BalanceHint: r.BalanceHint,
			Adapter: r.Adapter, NeedsReview: r.NeedsReview,
		})
	}
	for _, e := range res.RowErrors {
		rows = append(rows, statement.RawRow{
			StatementID: statementID, LineNumber: e.Line,
			Description: e.Raw, Adapter: "error", Failure: e.Error(),
		})
	}
	if err := s.statements.InsertRawRows(ctx, rows); err != nil {
		// Audit rows are best-effort; the import itself proceeds.
		logger.Warn("raw row audit failed", slog.Any("error", err))
	}
}

func candidateRange(candidates []normalizer.Candidate, toleranceDays int) (time.Time, time.Time) {
	from, to := candidates[0].Date, candidates[0].Date
	for _, c := range candidates[1:] {
		if c.Date.Before(from) {
			from = c.Date
		}
		if c.Date.After(to) {
			to = c.Date
		}
	}
	return from.AddDate(0, 0, -toleranceDays), to.AddDate(0, 0, toleranceDays)
}

func metricsSuccess(r *Result) {
	for i := 0; i < r.RowsParsed; i++ {
		metrics.RowsParsed.Inc()
	}
	for i := 0; i < r.RowsFailed; i++ {
		metrics.RowsFailed.Inc()
	}
}

func metricsFailed(r *Result) {
	for i := 0; i < r.RowsFailed; i++ {
		metrics.RowsFailed.Inc()
	}
}
