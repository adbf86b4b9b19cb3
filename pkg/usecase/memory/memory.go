// Package memory provides the operations around the reasoning memory bank:
// CRUD, similarity retrieval and LLM-based extraction.
package memory

import (
	"context"
	"math"
	"os"

	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// UseCase provides memory bank operations
type UseCase struct {
	bank        *repository.MemoryBank
	embedder    adapter.Embedder
	persistPath string
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithPersistPath enables auto-save of the bank after each mutation
func WithPersistPath(path string) Option {
	return func(uc *UseCase) {
		uc.persistPath = path
	}
}

// WithEmbedder sets the query embedding capability used by Retrieve
func WithEmbedder(e adapter.Embedder) Option {
	return func(uc *UseCase) {
		uc.embedder = e
	}
}

// New creates a memory UseCase over the given bank
func New(bank *repository.MemoryBank, opts ...Option) *UseCase {
	uc := &UseCase{bank: bank}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Bank exposes the underlying store for consolidation by the feedback
// pipeline
func (uc *UseCase) Bank() *repository.MemoryBank {
	return uc.bank
}

// persist flushes the bank when a persist path is configured. Persistence
// failure after a successful in-memory mutation is surfaced to the caller;
// the in-memory state stays authoritative.
func (uc *UseCase) persist(ctx context.Context) error {
	if uc.persistPath == "" {
		return nil
	}
	if err := uc.bank.Save(uc.persistPath); err != nil {
		return err
	}
	logging.From(ctx).Debug("saved memory bank", "path", uc.persistPath)
	return nil
}

// Add stores a new memory item, rejecting duplicate titles
func (uc *UseCase) Add(ctx context.Context, item *model.MemoryItem, computeEmbedding bool) error {
	if err := uc.bank.Add(ctx, item, computeEmbedding); err != nil {
		return err
	}
	return uc.persist(ctx)
}

// Get returns a memory by exact title
func (uc *UseCase) Get(ctx context.Context, title string) (*model.MemoryItem, error) {
	return uc.bank.GetByTitle(title)
}

// Update applies a partial update; description or content changes recompute
// the embedding
func (uc *UseCase) Update(ctx context.Context, title string, patch repository.MemoryPatch) (*model.MemoryItem, error) {
	item, err := uc.bank.Update(ctx, title, patch)
	if err != nil {
		return nil, err
	}
	if err := uc.persist(ctx); err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes a memory by title
func (uc *UseCase) Delete(ctx context.Context, title string) error {
	if !uc.bank.DeleteByTitle(title) {
		return goerr.Wrap(model.ErrTitleNotFound, "cannot delete memory", goerr.V("title", title))
	}
	return uc.persist(ctx)
}

// ListOptions filters and paginates memory listing
type ListOptions struct {
	IsFromSuccess *bool
	SourceTaskID  model.RecommendationID
	Page          int // 1-indexed
	PageSize      int
}

// ListResult carries one page of memories plus pagination info
type ListResult struct {
	Items      []*model.MemoryItem
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// List returns memories sorted by created_at descending. Items without an
// embedding are included: listing never depends on retrieval visibility.
func (uc *UseCase) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}

	all := uc.bank.GetAll()

	filtered := make([]*model.MemoryItem, 0, len(all))
	for _, item := range all {
		if opts.IsFromSuccess != nil && item.IsFromSuccess != *opts.IsFromSuccess {
			continue
		}
		if opts.SourceTaskID != "" && item.SourceTaskID != opts.SourceTaskID {
			continue
		}
		filtered = append(filtered, item)
	}

	total := len(filtered)
	totalPages := 1
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(opts.PageSize)))
	}

	start := (opts.Page - 1) * opts.PageSize
	if start > total {
		start = total
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}

	return &ListResult{
		Items:      filtered[start:end],
		Total:      total,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalPages: totalPages,
	}, nil
}

// Consolidate folds extracted memories into the bank on behalf of a
// recommendation. When replace is set, memories previously derived from the
// same recommendation are removed first so a re-submission updates in place.
// Returns how many items were stored and how many prior items were removed.
func (uc *UseCase) Consolidate(ctx context.Context, sourceID model.RecommendationID, fromSuccess bool, items []*model.MemoryItem, replace bool) (int, int, error) {
	deleted := 0
	if replace {
		deleted = uc.bank.DeleteBySourceTask(sourceID)
		if deleted > 0 {
			logging.From(ctx).Info("removed memories from prior submission",
				"source", sourceID, "count", deleted)
		}
	}

	stored := 0
	for _, item := range items {
		item.SourceTaskID = sourceID
		item.IsFromSuccess = fromSuccess
		if err := uc.bank.Upsert(ctx, item, true); err != nil {
			return stored, deleted, err
		}
		stored++
	}

	if err := uc.persist(ctx); err != nil {
		return stored, deleted, err
	}
	return stored, deleted, nil
}

// RegenerateEmbeddings backfills missing embeddings and persists the bank.
// The previous bank file is kept as a .backup copy before the rewrite.
func (uc *UseCase) RegenerateEmbeddings(ctx context.Context) (int, error) {
	updated, err := uc.bank.RegenerateEmbeddings(ctx)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		if err := uc.backupBankFile(ctx); err != nil {
			return updated, err
		}
		if err := uc.persist(ctx); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

func (uc *UseCase) backupBankFile(ctx context.Context) error {
	if uc.persistPath == "" {
		return nil
	}

	data, err := os.ReadFile(uc.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return goerr.Wrap(err, "failed to read bank file for backup",
			goerr.T(model.TagPersistence), goerr.V("path", uc.persistPath))
	}

	backupPath := uc.persistPath + ".backup"
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write bank backup",
			goerr.T(model.TagPersistence), goerr.V("path", backupPath))
	}
	logging.From(ctx).Info("backed up memory bank", "path", backupPath)
	return nil
}
