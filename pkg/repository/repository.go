package repository

import (
	"context"

	"github.com/m-mizutani/desbank/pkg/model"
)

// ListOptions filters and paginates index reads
type ListOptions struct {
	Status         model.Status
	TargetMaterial string
	Offset         int
	Limit          int
}

// RecommendationRepository persists full recommendation records together
// with their compact index projections. Implementations must keep both in
// agreement: the projection is rewritten whenever the record changes, and the
// record write becomes visible before the index write.
type RecommendationRepository interface {
	// Create stores a new recommendation and its index entry
	Create(ctx context.Context, rec *model.Recommendation) error

	// Get retrieves the full record by ID
	Get(ctx context.Context, id model.RecommendationID) (*model.Recommendation, error)

	// UpdateStatus validates the transition and rewrites record and
	// projection. The check-and-set is atomic per repository, so concurrent
	// conflicting transitions admit exactly one winner.
	UpdateStatus(ctx context.Context, id model.RecommendationID, status model.Status) (*model.Recommendation, error)

	// Complete attaches the experiment result and moves the record to
	// COMPLETED in one step
	Complete(ctx context.Context, id model.RecommendationID, result *model.ExperimentResult) (*model.Recommendation, error)

	// List reads only the index, sorted by created_at descending
	List(ctx context.Context, opts ListOptions) ([]*model.IndexEntry, error)

	// Count returns the number of index entries matching the filters,
	// ignoring offset and limit
	Count(ctx context.Context, opts ListOptions) (int, error)
}
