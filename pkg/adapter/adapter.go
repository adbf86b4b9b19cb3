package adapter

import "context"

// LLM is the language-model capability consumed by memory extraction. The
// caller is responsible for prompt construction; retry/backoff belongs to the
// implementation side of the capability.
type LLM interface {
	// Generate sends a prompt and returns the raw response text
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder is the embedding capability used for memory similarity search
type Embedder interface {
	// Embed converts text into a fixed-length vector
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Snippet is a ranked piece of retrieved knowledge
type Snippet struct {
	Source string  `json:"source,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score,omitempty"`
}

// Knowledge is the knowledge-retrieval capability. It is optional for
// extraction: implementations may be absent and failures are non-fatal.
type Knowledge interface {
	// Query returns up to limit ranked snippets for the given text
	Query(ctx context.Context, text string, limit int) ([]Snippet, error)
}
