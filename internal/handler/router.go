package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerpipe/ledgerpipe/internal/domain/categorization"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/export"
	ingest "github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/service"
)

// maxUploadBytes caps statement uploads at 20 MiB.
const maxUploadBytes = 20 << 20

// NewRouter wires the HTTP API.
func NewRouter(
	ingestSvc *ingest.Service,
	exportEngine *export.Engine,
	exportRepo *export.Repository,
	catSvc *categorization.Service,
	feedbackSvc *categorization.FeedbackService,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/statements", uploadStatementHandler(ingestSvc, logger))

		r.Post("/exports", runExportHandler(exportEngine, logger))
		r.Post("/export-profiles", createExportProfileHandler(exportRepo, logger))

		r.Post("/transactions/{transactionID}/category", correctCategoryHandler(feedbackSvc, logger))

		r.Post("/rules", createRuleHandler(catSvc, logger))
		r.Post("/rules/{ruleID}/approve", approveRuleHandler(catSvc, logger))
		r.Post("/reclassify", reclassifyHandler(catSvc, logger))
	})

	return r
}

// uploadStatementHandler accepts a multipart statement upload and runs
// the ingestion pipeline synchronously, returning the import summary.
func uploadStatementHandler(svc *ingest.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}

		accountID, err := uuid.Parse(r.FormValue("account_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "account_id is required")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read file")
			return
		}

		result, err := svc.Ingest(r.Context(), ingest.Request{
			UserID:     uid,
			AccountID:  accountID,
			FileName:   header.Filename,
			Data:       data,
			FormatHint: r.FormValue("format"),
		})
		if err != nil {
			logger.Error("statement upload failed", slog.Any("error", err))
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

type exportRequest struct {
	ProfileID    uuid.UUID   `json:"profile_id"`
	AccountIDs   []uuid.UUID `json:"account_ids,omitempty"`
	From         string      `json:"from,omitempty"` // 2006-01-02
	To           string      `json:"to,omitempty"`
	ReExport     bool        `json:"re_export,omitempty"`
	MarkExported bool        `json:"mark_exported,omitempty"`
}

// runExportHandler executes an export and streams the document back.
// An empty range returns 200 with a JSON no-op summary instead of an
// empty file.
func runExportHandler(engine *export.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		var req exportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ProfileID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "profile_id is required")
			return
		}

		run := export.Request{
			UserID:       uid,
			ProfileID:    req.ProfileID,
			AccountIDs:   req.AccountIDs,
			ReExport:     req.ReExport,
			MarkExported: req.MarkExported,
		}
		if req.From != "" || req.To != "" {
			from, err1 := time.Parse("2006-01-02", req.From)
			to, err2 := time.Parse("2006-01-02", req.To)
			if err1 != nil || err2 != nil {
				writeError(w, http.StatusBadRequest, "from/to must both be YYYY-MM-DD")
				return
			}
			run.From, run.To = from, to
		}

		result, err := engine.Run(r.Context(), run)
		if err != nil {
			logger.Error("export failed", slog.Any("error", err))
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		if result.Empty {
			writeJSON(w, http.StatusOK, map[string]any{
				"exported": 0,
				"from":     result.From.Format("2006-01-02"),
				"to":       result.To.Format("2006-01-02"),
				"message":  "no transactions in range",
			})
			return
		}

		w.Header().Set("Content-Type", result.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
		w.Header().Set("X-Export-Count", fmt.Sprintf("%d", result.Count))
		w.WriteHeader(http.StatusOK)
		w.Write(result.Content)
	}
}

type createProfileRequest struct {
	Name        string              `json:"name"`
	Target      export.Target       `json:"target"`
	Mapping     export.FieldMapping `json:"field_mapping"`
	RangePolicy export.RangePolicy  `json:"range_policy,omitempty"`
}

func createExportProfileHandler(repo *export.Repository, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		var req createProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		switch req.Target {
		case export.TargetCSV, export.TargetXLSX:
		default:
			writeError(w, http.StatusBadRequest, "target must be csv or xlsx")
			return
		}
		if req.RangePolicy == "" {
			req.RangePolicy = export.RangePreviousMonth
		}

		profile := &export.Profile{
			UserID:      uid,
			Name:        req.Name,
			Target:      req.Target,
			Mapping:     req.Mapping,
			RangePolicy: req.RangePolicy,
		}
		if err := repo.Create(r.Context(), profile); err != nil {
			logger.Error("create export profile failed", slog.Any("error", err))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": profile.ID.String()})
	}
}

func correctCategoryHandler(svc *categorization.FeedbackService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		txID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid transaction id")
			return
		}

		var req struct {
			CategoryID uuid.UUID `json:"category_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CategoryID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "category_id is required")
			return
		}

		if err := svc.RecordCorrection(r.Context(), uid, txID, req.CategoryID); err != nil {
			logger.Warn("category correction failed", slog.Any("error", err))
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type createRuleRequest struct {
	Pattern    string    `json:"pattern"`
	MatchType  string    `json:"match_type,omitempty"`
	Field      string    `json:"field,omitempty"`
	CategoryID uuid.UUID `json:"category_id"`
	Priority   int       `json:"priority,omitempty"`
}

func createRuleHandler(svc *categorization.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		var req createRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.MatchType == "" {
			req.MatchType = string(categorization.MatchContains)
		}
		if req.Field == "" {
			req.Field = string(categorization.FieldDescription)
		}

		rule := &categorization.Rule{
			UserID:     uid,
			Pattern:    req.Pattern,
			MatchType:  categorization.MatchType(req.MatchType),
			Field:      categorization.Field(req.Field),
			CategoryID: req.CategoryID,
			Priority:   req.Priority,
		}
		if err := svc.CreateRule(r.Context(), rule); err != nil {
			logger.Warn("create rule failed", slog.Any("error", err))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": rule.ID.String()})
	}
}

func approveRuleHandler(svc *categorization.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid rule id")
			return
		}

		if err := svc.ApproveRule(r.Context(), uid, ruleID); err != nil {
			logger.Warn("approve rule failed", slog.Any("error", err))
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func reclassifyHandler(svc *categorization.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := userID(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		changed, err := svc.ReclassifyLowConfidence(r.Context(), uid)
		if err != nil {
			logger.Error("reclassification failed", slog.Any("error", err))
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"reclassified": changed})
	}
}
