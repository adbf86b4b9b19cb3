package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// GeminiClient provides both the LLM and the Embedder capability via Vertex AI
type GeminiClient struct {
	client              *genai.Client
	generativeModel     string
	embeddingModel      string
	embeddingDimensions int32
}

var _ LLM = (*GeminiClient)(nil)
var _ Embedder = (*GeminiClient)(nil)

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

func WithEmbeddingDimensions(dims int32) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingDimensions = dims
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:              client,
		generativeModel:     "gemini-2.5-flash",
		embeddingModel:      "gemini-embedding-001",
		embeddingDimensions: 768,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("empty response from gemini")
	}

	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{}
	if g.embeddingDimensions > 0 {
		dims := g.embeddingDimensions
		config.OutputDimensionality = &dims
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}

	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("empty embedding response from gemini")
	}

	return resp.Embeddings[0].Values, nil
}
