package model

import (
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

const maxTitleLength = 200

// MemoryItem is a distilled, reusable piece of reasoning extracted from a
// trajectory or an experiment outcome. The title is the unique key within a
// memory bank.
type MemoryItem struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Content       string           `json:"content"`
	IsFromSuccess bool             `json:"is_from_success"`
	SourceTaskID  RecommendationID `json:"source_task_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	Embedding     []float32        `json:"embedding"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// Validate checks structural constraints of the item
func (m *MemoryItem) Validate() error {
	if m.Title == "" {
		return goerr.New("memory title is empty", goerr.T(TagValidation))
	}
	if n := utf8.RuneCountInString(m.Title); n > maxTitleLength {
		return goerr.New("memory title is too long",
			goerr.T(TagValidation),
			goerr.V("length", n),
			goerr.V("max", maxTitleLength))
	}
	return nil
}

// EmbeddingText is the canonical text embedded for similarity search
func (m *MemoryItem) EmbeddingText() string {
	return m.Title + ". " + m.Description
}
