// Package feedback implements the experiment feedback pipeline: validation,
// status gating, asynchronous processing and consolidation of extracted
// memories into the bank.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/usecase/memory"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/desbank/pkg/utils/pool"
	"github.com/m-mizutani/goerr/v2"
)

// Service orchestrates feedback submissions against the recommendation store
// and the memory bank. Asynchronous submissions run on a bounded worker pool;
// their progress is observable through Status without blocking.
type Service struct {
	repo      repository.RecommendationRepository
	memories  *memory.UseCase
	extractor *memory.Extractor
	workers   *pool.Pool

	processTimeout time.Duration

	mu       sync.Mutex
	statuses map[model.RecommendationID]*ProcessingStatus
}

// ServiceOption is a functional option for Service
type ServiceOption func(*Service)

// WithWorkers bounds concurrent asynchronous processing
func WithWorkers(n int) ServiceOption {
	return func(s *Service) {
		s.workers = pool.New(n)
	}
}

// WithProcessTimeout caps the wall-clock time of a single feedback run,
// extraction included. Zero means no cap.
func WithProcessTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.processTimeout = d
	}
}

// NewService wires the feedback pipeline
func NewService(repo repository.RecommendationRepository, memories *memory.UseCase, extractor *memory.Extractor, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		memories:  memories,
		extractor: extractor,
		workers:   pool.New(2),
		statuses:  map[model.RecommendationID]*ProcessingStatus{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ProcessingStatus is the observable state of one feedback run
type ProcessingStatus struct {
	ID                model.RecommendationID `json:"id"`
	Status            model.Status           `json:"status"`
	IsUpdate          bool                   `json:"is_update"`
	MemoriesExtracted []string               `json:"memories_extracted,omitempty"`
	NumMemories       int                    `json:"num_memories"`
	DeletedMemories   int                    `json:"deleted_memories"`
	Error             string                 `json:"error,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        *time.Time             `json:"finished_at,omitempty"`
}

// SubmitResult is returned from Submit. Asynchronous submissions carry only
// the acknowledgement; synchronous ones include the full outcome.
type SubmitResult struct {
	ID                model.RecommendationID `json:"id"`
	Accepted          bool                   `json:"accepted"`
	Async             bool                   `json:"async"`
	IsUpdate          bool                   `json:"is_update"`
	PerformanceScore  *float64               `json:"performance_score,omitempty"`
	MemoriesExtracted []string               `json:"memories_extracted,omitempty"`
	NumMemories       int                    `json:"num_memories"`
	DeletedMemories   int                    `json:"deleted_memories"`
	Insights          []string               `json:"insights,omitempty"`
	UsedFallback      bool                   `json:"used_fallback,omitempty"`
}

// Submit validates the result, atomically claims the recommendation for
// processing and either runs the pipeline inline or queues it. Exactly one of
// two concurrent submissions for the same recommendation wins the claim; the
// loser gets a state conflict.
func (s *Service) Submit(ctx context.Context, id model.RecommendationID, result *model.ExperimentResult, async bool) (*SubmitResult, error) {
	if err := validateResult(ctx, result); err != nil {
		return nil, err
	}

	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.Status == model.StatusCancelled {
		return nil, goerr.Wrap(model.ErrStateConflict, "recommendation is cancelled",
			goerr.V("id", id))
	}

	isUpdate := rec.Status == model.StatusCompleted

	// The transition to PROCESSING is the concurrency gate: the repository
	// check-and-set admits exactly one writer.
	rec, err = s.repo.UpdateStatus(ctx, id, model.StatusProcessing)
	if err != nil {
		return nil, err
	}

	s.setStatus(&ProcessingStatus{
		ID:        id,
		Status:    model.StatusProcessing,
		IsUpdate:  isUpdate,
		StartedAt: time.Now(),
	})

	if async {
		// Detach from the caller's cancellation so an accepted submission
		// survives the request that delivered it.
		bg := context.WithoutCancel(ctx)
		s.workers.Submit(bg, func(ctx context.Context) {
			if _, err := s.process(ctx, rec, result, isUpdate); err != nil {
				logging.From(ctx).Error("feedback processing failed",
					"id", id, "error", err)
			}
		})

		return &SubmitResult{
			ID:       id,
			Accepted: true,
			Async:    true,
			IsUpdate: isUpdate,
		}, nil
	}

	outcome, err := s.process(ctx, rec, result, isUpdate)
	if err != nil {
		return nil, err
	}

	score := outcome.PerformanceScore
	return &SubmitResult{
		ID:                id,
		Accepted:          true,
		IsUpdate:          isUpdate,
		PerformanceScore:  &score,
		MemoriesExtracted: outcome.MemoriesExtracted,
		NumMemories:       outcome.NumMemories,
		DeletedMemories:   outcome.DeletedMemories,
		Insights:          outcome.Insights,
		UsedFallback:      outcome.UsedFallback,
	}, nil
}

// Status reports the latest known processing state for a recommendation
// without blocking on any in-flight run.
func (s *Service) Status(id model.RecommendationID) (*ProcessingStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[id]
	if !ok {
		return nil, false
	}
	copied := *st
	return &copied, true
}

// Wait blocks until all queued asynchronous runs finish. Used on shutdown and
// in tests.
func (s *Service) Wait() {
	s.workers.Wait()
}

func (s *Service) setStatus(st *ProcessingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.ID] = st
}

func (s *Service) finishStatus(id model.RecommendationID, status model.Status, outcome *processOutcome, procErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[id]
	if !ok {
		st = &ProcessingStatus{ID: id, StartedAt: time.Now()}
		s.statuses[id] = st
	}

	now := time.Now()
	st.Status = status
	st.FinishedAt = &now
	if outcome != nil {
		st.MemoriesExtracted = outcome.MemoriesExtracted
		st.NumMemories = outcome.NumMemories
		st.DeletedMemories = outcome.DeletedMemories
	}
	if procErr != nil {
		st.Error = procErr.Error()
	}
}
