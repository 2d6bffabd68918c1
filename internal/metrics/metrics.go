// Package metrics exposes Prometheus counters for pipeline outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpipe_rows_parsed_total",
		Help: "Statement rows successfully normalized.",
	})

	RowsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpipe_rows_failed_total",
		Help: "Statement rows rejected during extraction or normalization.",
	})

	RowsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpipe_rows_duplicate_total",
		Help: "Candidates discarded as duplicates of persisted transactions.",
	})

	RowsNeedReview = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpipe_rows_need_review_total",
		Help: "Rows flagged for manual mapping by the AI-assisted adapter.",
	})

	ClassifiedBySource = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerpipe_classified_total",
		Help: "Transactions classified, labelled by source.",
	}, []string{"source"})

	AIDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpipe_ai_degraded_total",
		Help: "Operations that proceeded in degraded mode because an AI capability was unavailable.",
	})

	ExportRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerpipe_export_runs_total",
		Help: "Export runs, labelled by outcome.",
	}, []string{"outcome"})
)
