// Package recommendation provides the lifecycle operations for formulation
// recommendations: creation, listing, inspection and cancellation.
package recommendation

import (
	"context"
	"time"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// UseCase provides recommendation store operations
type UseCase struct {
	repo repository.RecommendationRepository
	now  func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a recommendation UseCase over the given repository
func New(repo repository.RecommendationRepository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo: repo,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// CreateInput describes a new recommendation to persist
type CreateInput struct {
	Task        model.Task
	Formulation map[string]any
	Confidence  float64
}

func (x *CreateInput) validate() error {
	if x.Task.ID == "" {
		return goerr.New("task id is required", goerr.T(model.TagValidation))
	}
	if x.Task.TargetMaterial == "" {
		return goerr.New("target material is required", goerr.T(model.TagValidation))
	}
	if len(x.Formulation) == 0 {
		return goerr.New("formulation is required", goerr.T(model.TagValidation))
	}
	if x.Confidence < 0 || x.Confidence > 1 {
		return goerr.New("confidence must be within [0, 1]", goerr.T(model.TagValidation),
			goerr.V("confidence", x.Confidence))
	}
	return nil
}

// Create persists a new recommendation as PENDING and returns the stored
// record
func (uc *UseCase) Create(ctx context.Context, input CreateInput) (*model.Recommendation, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	now := uc.now()
	rec := &model.Recommendation{
		ID:          model.NewRecommendationID(input.Task.ID, now),
		Task:        input.Task,
		Formulation: input.Formulation,
		Confidence:  input.Confidence,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("created recommendation",
		"id", rec.ID,
		"task", rec.Task.ID,
		"target", rec.Task.TargetMaterial,
	)
	return rec, nil
}

// Get returns the full record by ID
func (uc *UseCase) Get(ctx context.Context, id model.RecommendationID) (*model.Recommendation, error) {
	return uc.repo.Get(ctx, id)
}

// List reads only index projections, never full records
func (uc *UseCase) List(ctx context.Context, opts repository.ListOptions) ([]*model.IndexEntry, error) {
	return uc.repo.List(ctx, opts)
}

// Count returns how many recommendations match the filters
func (uc *UseCase) Count(ctx context.Context, opts repository.ListOptions) (int, error) {
	return uc.repo.Count(ctx, opts)
}

// Cancel moves a PENDING recommendation to CANCELLED. Any other state is a
// conflict surfaced by the repository transition check.
func (uc *UseCase) Cancel(ctx context.Context, id model.RecommendationID) (*model.Recommendation, error) {
	rec, err := uc.repo.UpdateStatus(ctx, id, model.StatusCancelled)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("cancelled recommendation", "id", id)
	return rec, nil
}
