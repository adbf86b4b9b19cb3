package repository

import "github.com/m-mizutani/desbank/pkg/model"

// EvictionPolicy picks the item to drop when the memory bank exceeds its
// capacity. Pick receives all stored items and returns the title to evict.
type EvictionPolicy interface {
	Pick(items []*model.MemoryItem) string
}

// OldestFirst evicts the item with the earliest created_at. This is the
// default: it preserves recent experimental evidence at the cost of older
// strategies.
type OldestFirst struct{}

func (OldestFirst) Pick(items []*model.MemoryItem) string {
	if len(items) == 0 {
		return ""
	}

	oldest := items[0]
	for _, item := range items[1:] {
		if item.CreatedAt.Before(oldest.CreatedAt) {
			oldest = item
		}
	}
	return oldest.Title
}
