package adapter

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

// ClaudeClient is the Anthropic-backed LLM capability, selectable as an
// alternative to Gemini for memory extraction.
type ClaudeClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

var _ LLM = (*ClaudeClient)(nil)

type ClaudeOption func(*ClaudeClient)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeClient) {
		c.model = anthropic.Model(model)
	}
}

func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(c *ClaudeClient) {
		c.maxTokens = n
	}
}

func NewClaude(apiKey string, opts ...ClaudeOption) *ClaudeClient {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	c := &ClaudeClient{
		client:    &client,
		model:     anthropic.ModelClaudeSonnet4_0,
		maxTokens: 4096,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to call claude messages API")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}

	if sb.Len() == 0 {
		return "", goerr.New("empty response from claude")
	}

	return sb.String(), nil
}
