package memory

import (
	"context"
	"math"
	"sort"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ScoredMemory is a retrieval hit with its cosine similarity score
type ScoredMemory struct {
	Memory *model.MemoryItem
	Score  float64
}

// Retrieve embeds the query and ranks all stored memories by cosine
// similarity, descending. Items without an embedding are silently excluded;
// they stay invisible to retrieval until an embedding is backfilled (see
// RegenerateEmbeddings). Ties are broken by most recent created_at.
func (uc *UseCase) Retrieve(ctx context.Context, query string, topK int) ([]ScoredMemory, error) {
	if uc.embedder == nil {
		return nil, goerr.New("no embedding capability configured", goerr.T(model.TagValidation))
	}
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := uc.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.T(model.TagExtraction))
	}

	var scored []ScoredMemory
	for _, item := range uc.bank.GetAll() {
		if item.Embedding == nil {
			continue
		}
		scored = append(scored, ScoredMemory{
			Memory: item,
			Score:  cosineSimilarity(queryVec, item.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// cosineSimilarity calculates cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
