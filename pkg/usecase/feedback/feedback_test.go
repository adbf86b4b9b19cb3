package feedback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/usecase/feedback"
	"github.com/m-mizutani/desbank/pkg/usecase/memory"
	"github.com/m-mizutani/gt"
)

// mockLLM is a mock implementation of adapter.LLM for testing
type mockLLM struct {
	mu           sync.Mutex
	generateFunc func(ctx context.Context, prompt string) (string, error)
	calls        int
}

func (m *mockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	fn := m.generateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return `{"memories":[{"title":"default insight","description":"d","content":"c"}],"insights":[]}`, nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fixture struct {
	repo *repository.Local
	bank *repository.MemoryBank
	mem  *memory.UseCase
	llm  *mockLLM
	svc  *feedback.Service
}

func newFixture(t *testing.T, opts ...feedback.ServiceOption) *fixture {
	t.Helper()

	repo := gt.R1(repository.NewLocal(t.TempDir())).NoError(t)
	bank := repository.NewMemoryBank(0)
	mem := memory.New(bank)
	llm := &mockLLM{}

	return &fixture{
		repo: repo,
		bank: bank,
		mem:  mem,
		llm:  llm,
		svc:  feedback.NewService(repo, mem, memory.NewExtractor(llm), opts...),
	}
}

func (f *fixture) createRec(t *testing.T) *model.Recommendation {
	t.Helper()

	rec := &model.Recommendation{
		ID: model.NewRecommendationID("t1", time.Now()),
		Task: model.Task{
			ID:             "t1",
			TargetMaterial: "cellulose",
		},
		Formulation: map[string]any{
			"components": []any{
				map[string]any{"name": "ChCl", "ratio": 1.0},
				map[string]any{"name": "Urea", "ratio": 2.0},
			},
		},
		Confidence: 0.8,
		Status:     model.StatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	gt.NoError(t, f.repo.Create(context.Background(), rec))
	return rec
}

func successResult() *model.ExperimentResult {
	sol := 25.0
	return &model.ExperimentResult{IsLiquidFormed: true, Solubility: &sol}
}

func TestSubmitSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createRec(t)

	res, err := f.svc.Submit(ctx, rec.ID, successResult(), false)
	gt.NoError(t, err)
	gt.True(t, res.Accepted)
	gt.False(t, res.Async)
	gt.False(t, res.IsUpdate)
	gt.NotNil(t, res.PerformanceScore)
	gt.Equal(t, *res.PerformanceScore, 6.0)
	gt.Equal(t, res.MemoriesExtracted, []string{"default insight"})
	gt.Equal(t, res.NumMemories, 1)
	gt.Equal(t, res.DeletedMemories, 0)

	// Record completed with the result attached
	stored := gt.R1(f.repo.Get(ctx, rec.ID)).NoError(t)
	gt.Equal(t, stored.Status, model.StatusCompleted)
	gt.NotNil(t, stored.ExperimentResult)

	// Extracted memory landed in the bank, tagged with its origin
	item := gt.R1(f.bank.GetByTitle("default insight")).NoError(t)
	gt.Equal(t, item.SourceTaskID, rec.ID)
	gt.True(t, item.IsFromSuccess)
}

func TestSubmitAsync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, feedback.WithWorkers(1))
	rec := f.createRec(t)

	res, err := f.svc.Submit(ctx, rec.ID, successResult(), true)
	gt.NoError(t, err)
	gt.True(t, res.Accepted)
	gt.True(t, res.Async)
	gt.Nil(t, res.PerformanceScore)

	// The claim is already visible before processing finishes
	claimed := gt.R1(f.repo.Get(ctx, rec.ID)).NoError(t)
	gt.NotEqual(t, claimed.Status, model.StatusPending)

	f.svc.Wait()

	stored := gt.R1(f.repo.Get(ctx, rec.ID)).NoError(t)
	gt.Equal(t, stored.Status, model.StatusCompleted)

	st, ok := f.svc.Status(rec.ID)
	gt.True(t, ok)
	gt.Equal(t, st.Status, model.StatusCompleted)
	gt.Equal(t, st.MemoriesExtracted, []string{"default insight"})
	gt.Equal(t, st.NumMemories, 1)
	gt.NotNil(t, st.FinishedAt)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createRec(t)

	t.Run("liquid requires solubility", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, rec.ID, &model.ExperimentResult{IsLiquidFormed: true}, false)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrInvalidExperiment))
	})

	t.Run("negative solubility rejected", func(t *testing.T) {
		sol := -1.0
		_, err := f.svc.Submit(ctx, rec.ID, &model.ExperimentResult{
			IsLiquidFormed: true,
			Solubility:     &sol,
		}, false)
		gt.Error(t, err)
	})

	t.Run("solubility without liquid is dropped", func(t *testing.T) {
		sol := 10.0
		result := &model.ExperimentResult{IsLiquidFormed: false, Solubility: &sol}
		res, err := f.svc.Submit(ctx, rec.ID, result, false)
		gt.NoError(t, err)
		gt.Nil(t, result.Solubility)
		gt.Equal(t, *res.PerformanceScore, 0.0)
	})

	t.Run("unknown recommendation", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, "REC_missing", successResult(), false)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrRecommendationNotFound))
	})
}

func TestSubmitCancelledConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createRec(t)

	gt.R1(f.repo.UpdateStatus(ctx, rec.ID, model.StatusCancelled)).NoError(t)

	_, err := f.svc.Submit(ctx, rec.ID, successResult(), false)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrStateConflict))
	gt.Equal(t, f.llm.callCount(), 0)
}

func TestResubmissionUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createRec(t)

	// First submission stores one memory
	res1 := gt.R1(f.svc.Submit(ctx, rec.ID, successResult(), false)).NoError(t)
	gt.False(t, res1.IsUpdate)
	gt.Equal(t, f.bank.Size(), 1)

	// Re-submission replaces the memories derived from the same recommendation
	f.llm.mu.Lock()
	f.llm.generateFunc = func(ctx context.Context, prompt string) (string, error) {
		return `{"memories":[{"title":"revised insight","description":"d","content":"c"}],"insights":[]}`, nil
	}
	f.llm.mu.Unlock()

	sol := 50.0
	res2 := gt.R1(f.svc.Submit(ctx, rec.ID, &model.ExperimentResult{
		IsLiquidFormed: true,
		Solubility:     &sol,
	}, false)).NoError(t)
	gt.True(t, res2.IsUpdate)
	gt.Equal(t, res2.DeletedMemories, 1)
	gt.Equal(t, res2.MemoriesExtracted, []string{"revised insight"})
	gt.Equal(t, res2.NumMemories, 1)

	gt.Equal(t, f.bank.Size(), 1)
	gt.R1(f.bank.GetByTitle("revised insight")).NoError(t)
	_, err := f.bank.GetByTitle("default insight")
	gt.Error(t, err)

	// Score reflects the latest result
	gt.True(t, *res2.PerformanceScore > *res1.PerformanceScore)
}

func TestFailedRunCanRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createRec(t)

	f.llm.mu.Lock()
	f.llm.generateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("overloaded")
	}
	f.llm.mu.Unlock()

	_, err := f.svc.Submit(ctx, rec.ID, successResult(), false)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExtractionFailed))

	stored := gt.R1(f.repo.Get(ctx, rec.ID)).NoError(t)
	gt.Equal(t, stored.Status, model.StatusFailed)

	st, ok := f.svc.Status(rec.ID)
	gt.True(t, ok)
	gt.Equal(t, st.Status, model.StatusFailed)
	gt.S(t, st.Error).Contains("extraction")

	// FAILED accepts a retry
	f.llm.mu.Lock()
	f.llm.generateFunc = nil
	f.llm.mu.Unlock()

	res := gt.R1(f.svc.Submit(ctx, rec.ID, successResult(), false)).NoError(t)
	gt.True(t, res.Accepted)

	stored = gt.R1(f.repo.Get(ctx, rec.ID)).NoError(t)
	gt.Equal(t, stored.Status, model.StatusCompleted)
}

func TestProcessTimeoutMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, feedback.WithProcessTimeout(50*time.Millisecond))
	rec := f.createRec(t)

	// Extraction stalls until the run deadline expires
	f.llm.mu.Lock()
	f.llm.generateFunc = func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.llm.mu.Unlock()

	_, err := f.svc.Submit(ctx, rec.ID, successResult(), false)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExtractionFailed))

	// The record must land in FAILED, not stay claimed
	stored := gt.R1(f.repo.Get(ctx, rec.ID)).NoError(t)
	gt.Equal(t, stored.Status, model.StatusFailed)

	st, ok := f.svc.Status(rec.ID)
	gt.True(t, ok)
	gt.Equal(t, st.Status, model.StatusFailed)
	gt.S(t, st.Error).Contains("language model call failed")

	// And FAILED still accepts the retry path
	f.llm.mu.Lock()
	f.llm.generateFunc = nil
	f.llm.mu.Unlock()

	res := gt.R1(f.svc.Submit(ctx, rec.ID, successResult(), false)).NoError(t)
	gt.True(t, res.Accepted)
}

func TestConcurrentSubmitOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, feedback.WithWorkers(4))
	rec := f.createRec(t)

	// Hold processing until every submission has raced for the claim, so
	// the winner cannot complete and re-open the COMPLETED -> PROCESSING
	// path for a late submission.
	gate := make(chan struct{})
	f.llm.mu.Lock()
	f.llm.generateFunc = func(ctx context.Context, prompt string) (string, error) {
		<-gate
		return `{"memories":[{"title":"default insight","description":"d","content":"c"}],"insights":[]}`, nil
	}
	f.llm.mu.Unlock()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(ctx, rec.ID, successResult(), true)
		}(i)
	}
	wg.Wait()
	close(gate)
	f.svc.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			gt.True(t, errors.Is(err, model.ErrStateConflict))
		}
	}
	gt.Equal(t, winners, 1)

	stored := gt.R1(f.repo.Get(ctx, rec.ID)).NoError(t)
	gt.Equal(t, stored.Status, model.StatusCompleted)
	gt.Equal(t, f.llm.callCount(), 1)
}

func TestFallbackMemoryIsConsolidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.createRec(t)

	f.llm.mu.Lock()
	f.llm.generateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "not json at all", nil
	}
	f.llm.mu.Unlock()

	res := gt.R1(f.svc.Submit(ctx, rec.ID, successResult(), false)).NoError(t)
	gt.True(t, res.UsedFallback)
	gt.Equal(t, res.MemoriesExtracted, []string{memory.FallbackTitle})
	gt.Equal(t, res.NumMemories, 1)

	item := gt.R1(f.bank.GetByTitle(memory.FallbackTitle)).NoError(t)
	gt.S(t, item.Content).Contains("not json at all")
}
