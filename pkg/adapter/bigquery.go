package adapter

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
)

// RecommendationRow is the BigQuery representation of an index entry
type RecommendationRow struct {
	ID                 string               `bigquery:"id"`
	Status             string               `bigquery:"status"`
	TargetMaterial     string               `bigquery:"target_material"`
	FormulationSummary string               `bigquery:"formulation_summary"`
	Confidence         float64              `bigquery:"confidence"`
	PerformanceScore   bigquery.NullFloat64 `bigquery:"performance_score"`
	CreatedAt          time.Time            `bigquery:"created_at"`
	UpdatedAt          time.Time            `bigquery:"updated_at"`
	ExportedAt         time.Time            `bigquery:"exported_at"`
}

// BigQuery exports recommendation index rows for external reporting
type BigQuery interface {
	// Insert streams rows into the given dataset/table
	Insert(ctx context.Context, datasetID, tableID string, rows []*RecommendationRow) error
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &bigqueryClient{client: client}, nil
}

func (bq *bigqueryClient) Insert(ctx context.Context, datasetID, tableID string, rows []*RecommendationRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := bq.client.Dataset(datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert rows",
			goerr.V("dataset", datasetID),
			goerr.V("table", tableID),
			goerr.V("rows", len(rows)))
	}

	return nil
}
