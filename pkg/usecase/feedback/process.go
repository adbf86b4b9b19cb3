package feedback

import (
	"context"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/usecase/memory"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
)

type processOutcome struct {
	PerformanceScore  float64
	MemoriesExtracted []string
	NumMemories       int
	DeletedMemories   int
	Insights          []string
	UsedFallback      bool
}

// process runs extraction and consolidation for a claimed recommendation,
// then completes the record. Any failure moves the record to FAILED so a
// later re-submission can retry; the failure itself is preserved in the
// processing status.
func (s *Service) process(ctx context.Context, rec *model.Recommendation, result *model.ExperimentResult, isUpdate bool) (*processOutcome, error) {
	if s.processTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.processTimeout)
		defer cancel()
	}

	outcome, err := s.run(ctx, rec, result, isUpdate)
	if err != nil {
		// The run context may already be expired; the FAILED mark must not be
		// lost to the same timeout, or the record wedges in PROCESSING.
		if _, ferr := s.repo.UpdateStatus(context.WithoutCancel(ctx), rec.ID, model.StatusFailed); ferr != nil {
			logging.From(ctx).Error("failed to mark recommendation as failed",
				"id", rec.ID, "error", ferr)
		}
		s.finishStatus(rec.ID, model.StatusFailed, outcome, err)
		return outcome, err
	}

	s.finishStatus(rec.ID, model.StatusCompleted, outcome, nil)
	return outcome, nil
}

func (s *Service) run(ctx context.Context, rec *model.Recommendation, result *model.ExperimentResult, isUpdate bool) (*processOutcome, error) {
	extraction, err := s.extractor.Extract(ctx, memory.ExtractInput{
		Mode:           memory.ModeExperiment,
		Recommendation: rec,
		Result:         result,
	})
	if err != nil {
		return nil, err
	}

	if extraction.Fallback {
		logging.From(ctx).Warn("consolidating fallback memory", "id", rec.ID)
	}

	stored, deleted, err := s.memories.Consolidate(ctx, rec.ID, result.IsLiquidFormed,
		extraction.Memories, isUpdate)
	if err != nil {
		return nil, err
	}

	completed, err := s.repo.Complete(ctx, rec.ID, result)
	if err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(extraction.Memories))
	for _, item := range extraction.Memories {
		titles = append(titles, item.Title)
	}

	outcome := &processOutcome{
		PerformanceScore:  completed.ExperimentResult.PerformanceScore(),
		MemoriesExtracted: titles,
		NumMemories:       stored,
		DeletedMemories:   deleted,
		Insights:          extraction.Insights,
		UsedFallback:      extraction.Fallback,
	}

	logging.From(ctx).Info("feedback processed",
		"id", rec.ID,
		"score", outcome.PerformanceScore,
		"memories", stored,
		"deleted", deleted,
		"update", isUpdate,
	)

	return outcome, nil
}
