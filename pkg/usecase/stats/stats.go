// Package stats aggregates the recommendation index into summary figures and
// exports snapshots for external reporting.
package stats

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
)

// UseCase computes aggregates over index entries only; it never loads full
// records.
type UseCase struct {
	repo repository.RecommendationRepository
	bq   adapter.BigQuery
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithBigQuery enables the Export operation
func WithBigQuery(bq adapter.BigQuery) Option {
	return func(uc *UseCase) {
		uc.bq = bq
	}
}

// New creates a stats UseCase over the given repository
func New(repo repository.RecommendationRepository, opts ...Option) *UseCase {
	uc := &UseCase{repo: repo}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Summary holds the aggregate view of the recommendation store
type Summary struct {
	Total           int                  `json:"total"`
	ByStatus        map[model.Status]int `json:"by_status"`
	CompletionRate  float64              `json:"completion_rate"`
	SuccessRate     float64              `json:"success_rate"`
	MeanPerformance float64              `json:"mean_performance"`
	Scored          int                  `json:"scored"`
}

// Summarize counts entries by status and averages performance scores over
// the entries that have one. SuccessRate is the share of scored entries with
// a positive score, i.e. experiments where a liquid phase formed.
func (uc *UseCase) Summarize(ctx context.Context, opts repository.ListOptions) (*Summary, error) {
	entries, err := uc.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Total:    len(entries),
		ByStatus: map[model.Status]int{},
	}

	var scoreSum float64
	var succeeded int
	for _, e := range entries {
		summary.ByStatus[e.Status]++
		if e.PerformanceScore == nil {
			continue
		}
		summary.Scored++
		scoreSum += *e.PerformanceScore
		if *e.PerformanceScore > 0 {
			succeeded++
		}
	}

	if summary.Total > 0 {
		summary.CompletionRate = float64(summary.ByStatus[model.StatusCompleted]) / float64(summary.Total)
	}
	if summary.Scored > 0 {
		summary.SuccessRate = float64(succeeded) / float64(summary.Scored)
		summary.MeanPerformance = scoreSum / float64(summary.Scored)
	}

	return summary, nil
}

// Export streams the current index into a BigQuery table and returns the row
// count
func (uc *UseCase) Export(ctx context.Context, datasetID, tableID string) (int, error) {
	entries, err := uc.repo.List(ctx, repository.ListOptions{})
	if err != nil {
		return 0, err
	}

	exportedAt := time.Now()
	rows := make([]*adapter.RecommendationRow, 0, len(entries))
	for _, e := range entries {
		row := &adapter.RecommendationRow{
			ID:                 string(e.ID),
			Status:             string(e.Status),
			TargetMaterial:     e.TargetMaterial,
			FormulationSummary: e.FormulationSummary,
			Confidence:         e.Confidence,
			CreatedAt:          e.CreatedAt,
			UpdatedAt:          e.UpdatedAt,
			ExportedAt:         exportedAt,
		}
		if e.PerformanceScore != nil {
			row.PerformanceScore = bigquery.NullFloat64{Float64: *e.PerformanceScore, Valid: true}
		}
		rows = append(rows, row)
	}

	if err := uc.bq.Insert(ctx, datasetID, tableID, rows); err != nil {
		return 0, err
	}

	logging.From(ctx).Info("exported recommendation index",
		"dataset", datasetID, "table", tableID, "rows", len(rows))
	return len(rows), nil
}
