package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ledgerpipe/ledgerpipe/internal/ai"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/categorization"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/export"
	ingest "github.com/ledgerpipe/ledgerpipe/internal/domain/ingest/service"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/statement"
	"github.com/ledgerpipe/ledgerpipe/internal/domain/transaction"
	"github.com/ledgerpipe/ledgerpipe/internal/handler"
	"github.com/ledgerpipe/ledgerpipe/pkg/config"
	"github.com/ledgerpipe/ledgerpipe/pkg/cron"
	"github.com/ledgerpipe/ledgerpipe/pkg/db"
)

// Dependencies holds all application dependencies.
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	StatementRepo      *statement.Repository
	TransactionRepo    *transaction.Repository
	CategorizationRepo *categorization.Repository
	ExportRepo         *export.Repository

	// Services
	AIClient              *ai.Client
	CategorizationService *categorization.Service
	FeedbackService       *categorization.FeedbackService
	IngestService         *ingest.Service
	ExportEngine          *export.Engine
	Scheduler             *cron.Scheduler

	Router http.Handler
}

// InitDependencies wires the whole application.
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg, Logger: logger}

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	deps.DB = database

	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database connected and migrations applied")

	deps.StatementRepo = statement.NewRepository(database.Pool)
	deps.TransactionRepo = transaction.NewRepository(database.Pool)
	deps.CategorizationRepo = categorization.NewRepository(database.Pool)
	deps.ExportRepo = export.NewRepository(database.Pool)

	deps.AIClient = ai.NewClient(cfg.AI, logger)
	if cfg.AI.BaseURL == "" {
		logger.Warn("AI base URL not configured, pipeline runs in degraded mode")
	}

	deps.CategorizationService = categorization.NewService(
		deps.CategorizationRepo, deps.TransactionRepo, deps.AIClient, cfg.Pipeline, logger)
	deps.FeedbackService = categorization.NewFeedbackService(
		deps.CategorizationRepo, deps.TransactionRepo, cfg.Pipeline, logger)
	deps.IngestService = ingest.NewService(
		deps.StatementRepo, deps.TransactionRepo, deps.CategorizationService,
		deps.AIClient, cfg.Pipeline, logger)
	deps.ExportEngine = export.NewEngine(deps.ExportRepo, deps.TransactionRepo, logger)

	deps.Scheduler = cron.NewScheduler(deps.CategorizationService, deps.TransactionRepo, cfg.Pipeline, logger)

	deps.Router = handler.NewRouter(
		deps.IngestService, deps.ExportEngine, deps.ExportRepo,
		deps.CategorizationService, deps.FeedbackService, logger)

	logger.Info("all dependencies initialized")
	return deps, nil
}

// Cleanup closes all resources.
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
