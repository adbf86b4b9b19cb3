package repository

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// MemoryBank holds memory items keyed by title, enforces the capacity bound
// and persists to a single JSON file with atomic replace. All mutations run
// under the write lock; reads may proceed concurrently.
type MemoryBank struct {
	mu       sync.RWMutex
	items    map[string]*model.MemoryItem
	maxItems int
	embedder adapter.Embedder
	policy   EvictionPolicy
}

type MemoryBankOption func(*MemoryBank)

// WithEmbedder attaches the embedding capability. Without it items are
// stored with nil embeddings and are invisible to retrieval.
func WithEmbedder(e adapter.Embedder) MemoryBankOption {
	return func(b *MemoryBank) {
		b.embedder = e
	}
}

// WithEvictionPolicy replaces the default oldest-first policy
func WithEvictionPolicy(p EvictionPolicy) MemoryBankOption {
	return func(b *MemoryBank) {
		b.policy = p
	}
}

// NewMemoryBank creates an empty bank capped at maxItems (0 means unbounded)
func NewMemoryBank(maxItems int, opts ...MemoryBankOption) *MemoryBank {
	b := &MemoryBank{
		items:    make(map[string]*model.MemoryItem),
		maxItems: maxItems,
		policy:   OldestFirst{},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Add stores a new item. It fails when the title already exists; use Upsert
// for replace-in-place semantics. When computeEmbedding is set and the item
// has no embedding, the embedding capability is invoked; its failure is
// logged and the item is stored with a nil embedding.
func (b *MemoryBank) Add(ctx context.Context, item *model.MemoryItem, computeEmbedding bool) error {
	if err := item.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.items[item.Title]; exists {
		return goerr.Wrap(model.ErrDuplicateTitle, "cannot add memory", goerr.V("title", item.Title))
	}

	b.store(ctx, item, computeEmbedding)
	return nil
}

// Upsert stores the item, replacing any existing one with the same title
func (b *MemoryBank) Upsert(ctx context.Context, item *model.MemoryItem, computeEmbedding bool) error {
	if err := item.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.store(ctx, item, computeEmbedding)
	return nil
}

// store inserts the item and applies the capacity bound. Caller holds the
// write lock.
func (b *MemoryBank) store(ctx context.Context, item *model.MemoryItem, computeEmbedding bool) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	if computeEmbedding && item.Embedding == nil {
		b.embed(ctx, item)
	}

	b.items[item.Title] = item

	for b.maxItems > 0 && len(b.items) > b.maxItems {
		victim := b.policy.Pick(b.snapshot())
		if victim == "" {
			break
		}
		delete(b.items, victim)
		logging.From(ctx).Info("evicted memory over capacity",
			"title", victim, "max_items", b.maxItems)
	}
}

// embed fills item.Embedding, logging failure instead of propagating it so a
// flaky embedding capability never blocks memory writes.
func (b *MemoryBank) embed(ctx context.Context, item *model.MemoryItem) {
	if b.embedder == nil {
		return
	}

	vec, err := b.embedder.Embed(ctx, item.EmbeddingText())
	if err != nil {
		logging.From(ctx).Warn("failed to compute memory embedding, storing without",
			"title", item.Title, "error", err)
		item.Embedding = nil
		return
	}
	item.Embedding = vec
}

// GetAll returns all items sorted by created_at descending
func (b *MemoryBank) GetAll() []*model.MemoryItem {
	b.mu.RLock()
	defer b.mu.RUnlock()

	items := b.snapshot()
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

// snapshot copies the item pointers. Caller holds at least the read lock.
func (b *MemoryBank) snapshot() []*model.MemoryItem {
	items := make([]*model.MemoryItem, 0, len(b.items))
	for _, item := range b.items {
		items = append(items, item)
	}
	return items
}

// GetByTitle returns the item with the exact title
func (b *MemoryBank) GetByTitle(title string) (*model.MemoryItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	item, ok := b.items[title]
	if !ok {
		return nil, goerr.Wrap(model.ErrTitleNotFound, "no such memory", goerr.V("title", title))
	}
	return item, nil
}

// DeleteByTitle removes an item, reporting whether it existed
func (b *MemoryBank) DeleteByTitle(title string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[title]; !ok {
		return false
	}
	delete(b.items, title)
	return true
}

// DeleteBySourceTask removes all items extracted from the given
// recommendation and returns how many were deleted. Used when feedback is
// re-submitted so prior memories are replaced rather than duplicated.
func (b *MemoryBank) DeleteBySourceTask(id model.RecommendationID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	deleted := 0
	for title, item := range b.items {
		if item.SourceTaskID == id {
			delete(b.items, title)
			deleted++
		}
	}
	return deleted
}

// MemoryPatch is a partial update for an existing item. Nil fields are left
// untouched; metadata is merged key by key.
type MemoryPatch struct {
	Description   *string
	Content       *string
	IsFromSuccess *bool
	Metadata      map[string]any
}

// Update mutates an item in place. Description or content changes force an
// embedding recomputation; recomputation failure clears the embedding (the
// stale vector would rank the item under outdated text).
func (b *MemoryBank) Update(ctx context.Context, title string, patch MemoryPatch) (*model.MemoryItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[title]
	if !ok {
		return nil, goerr.Wrap(model.ErrTitleNotFound, "cannot update memory", goerr.V("title", title))
	}

	textChanged := false
	if patch.Description != nil {
		item.Description = *patch.Description
		textChanged = true
	}
	if patch.Content != nil {
		item.Content = *patch.Content
		textChanged = true
	}
	if patch.IsFromSuccess != nil {
		item.IsFromSuccess = *patch.IsFromSuccess
	}
	if patch.Metadata != nil {
		if item.Metadata == nil {
			item.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			item.Metadata[k] = v
		}
	}

	if textChanged {
		item.Embedding = nil
		b.embed(ctx, item)
	}

	return item, nil
}

// Size returns the number of stored items
func (b *MemoryBank) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// memoryBankFile is the durable JSON shape of the bank
type memoryBankFile struct {
	Memories []*model.MemoryItem `json:"memories"`
	MaxItems int                 `json:"max_items"`
}

// Save persists the bank atomically. Items are ordered by created_at
// ascending so the file is deterministic for identical content.
func (b *MemoryBank) Save(path string) error {
	b.mu.RLock()
	items := b.snapshot()
	maxItems := b.maxItems
	b.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Title < items[j].Title
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	return writeJSONAtomic(path, &memoryBankFile{
		Memories: items,
		MaxItems: maxItems,
	})
}

// Load replaces the bank content from a previously saved file. Embeddings
// and metadata round-trip with full fidelity; embeddings are never
// recomputed on load.
func (b *MemoryBank) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read memory bank file",
			goerr.T(model.TagPersistence), goerr.V("path", path))
	}

	var file memoryBankFile
	if err := json.Unmarshal(data, &file); err != nil {
		return goerr.Wrap(err, "failed to parse memory bank file",
			goerr.T(model.TagPersistence), goerr.V("path", path))
	}

	items := make(map[string]*model.MemoryItem, len(file.Memories))
	for _, item := range file.Memories {
		items[item.Title] = item
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = items
	if file.MaxItems > 0 {
		b.maxItems = file.MaxItems
	}

	return nil
}

// RegenerateEmbeddings backfills embeddings for items that have none and
// returns the number of items updated. Items whose embedding computation
// fails are left untouched.
func (b *MemoryBank) RegenerateEmbeddings(ctx context.Context) (int, error) {
	if b.embedder == nil {
		return 0, goerr.New("no embedding capability configured", goerr.T(model.TagValidation))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	updated := 0
	for _, item := range b.items {
		if item.Embedding != nil {
			continue
		}

		vec, err := b.embedder.Embed(ctx, item.EmbeddingText())
		if err != nil {
			logging.From(ctx).Warn("failed to regenerate embedding",
				"title", item.Title, "error", err)
			continue
		}
		item.Embedding = vec
		updated++
	}

	return updated, nil
}
