package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/gt"
)

// mockEmbedder is a mock implementation of adapter.Embedder for testing
type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

func item(title string, created time.Time) *model.MemoryItem {
	return &model.MemoryItem{
		Title:       title,
		Description: "desc of " + title,
		Content:     "content of " + title,
		CreatedAt:   created,
	}
}

func TestMemoryBankAdd(t *testing.T) {
	ctx := context.Background()
	bank := repository.NewMemoryBank(0, repository.WithEmbedder(&mockEmbedder{}))

	gt.NoError(t, bank.Add(ctx, item("a", time.Now()), true))
	gt.Equal(t, bank.Size(), 1)

	// Duplicate title is rejected
	err := bank.Add(ctx, item("a", time.Now()), true)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDuplicateTitle))

	// Upsert replaces the existing item
	replacement := item("a", time.Now())
	replacement.Content = "replaced"
	gt.NoError(t, bank.Upsert(ctx, replacement, false))
	gt.Equal(t, bank.Size(), 1)

	got := gt.R1(bank.GetByTitle("a")).NoError(t)
	gt.Equal(t, got.Content, "replaced")
}

func TestMemoryBankEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	emb := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	bank := repository.NewMemoryBank(0, repository.WithEmbedder(emb))

	// Embedding failure must not block the write
	gt.NoError(t, bank.Add(ctx, item("a", time.Now()), true))

	got := gt.R1(bank.GetByTitle("a")).NoError(t)
	gt.Nil(t, got.Embedding)
}

func TestMemoryBankEviction(t *testing.T) {
	ctx := context.Background()
	bank := repository.NewMemoryBank(2)

	base := time.Now()
	gt.NoError(t, bank.Add(ctx, item("oldest", base.Add(-2*time.Hour)), false))
	gt.NoError(t, bank.Add(ctx, item("middle", base.Add(-1*time.Hour)), false))
	gt.NoError(t, bank.Add(ctx, item("newest", base), false))

	gt.Equal(t, bank.Size(), 2)

	_, err := bank.GetByTitle("oldest")
	gt.Error(t, err)
	gt.R1(bank.GetByTitle("middle")).NoError(t)
	gt.R1(bank.GetByTitle("newest")).NoError(t)
}

func TestMemoryBankDeleteBySourceTask(t *testing.T) {
	ctx := context.Background()
	bank := repository.NewMemoryBank(0)

	recID := model.RecommendationID("REC_20250101_000000_t1_deadbeef")
	a := item("from-rec", time.Now())
	a.SourceTaskID = recID
	b := item("also-from-rec", time.Now())
	b.SourceTaskID = recID
	c := item("unrelated", time.Now())

	gt.NoError(t, bank.Add(ctx, a, false))
	gt.NoError(t, bank.Add(ctx, b, false))
	gt.NoError(t, bank.Add(ctx, c, false))

	gt.Equal(t, bank.DeleteBySourceTask(recID), 2)
	gt.Equal(t, bank.Size(), 1)
	gt.R1(bank.GetByTitle("unrelated")).NoError(t)
}

func TestMemoryBankUpdate(t *testing.T) {
	ctx := context.Background()
	emb := &mockEmbedder{}
	bank := repository.NewMemoryBank(0, repository.WithEmbedder(emb))

	gt.NoError(t, bank.Add(ctx, item("a", time.Now()), true))
	before := emb.calls

	// Metadata-only update keeps the embedding untouched
	_, err := bank.Update(ctx, "a", repository.MemoryPatch{
		Metadata: map[string]any{"reviewed": true},
	})
	gt.NoError(t, err)
	gt.Equal(t, emb.calls, before)

	// Text change recomputes the embedding
	desc := "new description"
	updated, err := bank.Update(ctx, "a", repository.MemoryPatch{Description: &desc})
	gt.NoError(t, err)
	gt.Equal(t, updated.Description, "new description")
	gt.Equal(t, emb.calls, before+1)

	// Unknown title
	_, err = bank.Update(ctx, "missing", repository.MemoryPatch{Description: &desc})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTitleNotFound))
}

func TestMemoryBankSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bank.json")

	bank := repository.NewMemoryBank(100)
	a := item("a", time.Now().Add(-time.Hour).Truncate(time.Second))
	a.Embedding = []float32{0.1, 0.2, 0.3}
	a.Metadata = map[string]any{"source": "trajectory"}
	a.IsFromSuccess = true
	b := item("b", time.Now().Truncate(time.Second))

	gt.NoError(t, bank.Add(ctx, a, false))
	gt.NoError(t, bank.Add(ctx, b, false))
	gt.NoError(t, bank.Save(path))

	loaded := repository.NewMemoryBank(0)
	gt.NoError(t, loaded.Load(path))
	gt.Equal(t, loaded.Size(), 2)

	got := gt.R1(loaded.GetByTitle("a")).NoError(t)
	gt.Equal(t, got.Embedding, []float32{0.1, 0.2, 0.3})
	gt.True(t, got.IsFromSuccess)
	gt.Equal(t, got.Metadata["source"], "trajectory")
	gt.True(t, got.CreatedAt.Equal(a.CreatedAt))
}

func TestMemoryBankRegenerateEmbeddings(t *testing.T) {
	ctx := context.Background()
	emb := &mockEmbedder{}
	bank := repository.NewMemoryBank(0, repository.WithEmbedder(emb))

	withVec := item("has-embedding", time.Now())
	withVec.Embedding = []float32{1}
	gt.NoError(t, bank.Add(ctx, withVec, false))
	gt.NoError(t, bank.Add(ctx, item("missing-embedding", time.Now()), false))

	updated := gt.R1(bank.RegenerateEmbeddings(ctx)).NoError(t)
	gt.Equal(t, updated, 1)

	got := gt.R1(bank.GetByTitle("missing-embedding")).NoError(t)
	gt.NotNil(t, got.Embedding)
}
