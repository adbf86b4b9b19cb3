// Package knowledge consumes an external literature/ontology retrieval
// capability over MCP. The server side (chunking, embedding, indexing) is a
// collaborator; this client only calls its search tool and normalizes the
// ranked snippets it returns.
package knowledge

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

// Config describes the MCP knowledge server connection
type Config struct {
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   []string          `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
	Tool      string            `yaml:"tool"` // search tool name, default "search"
}

// Client connects to a single MCP knowledge server and exposes it as the
// adapter.Knowledge capability.
type Client struct {
	session *mcp.ClientSession
	tool    string
}

var _ adapter.Knowledge = (*Client)(nil)

// LoadConfig reads a YAML knowledge server configuration
func LoadConfig(path string) (*Config, error) {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve config path", goerr.V("path", path))
		}
		path = abs
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read knowledge config file", goerr.V("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse knowledge config file", goerr.V("path", path))
	}

	if cfg.Tool == "" {
		cfg.Tool = "search"
	}

	return &cfg, nil
}

// Connect establishes the MCP session
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "desbank",
		Version: "0.1.0",
	}, nil)

	var transport mcp.Transport
	switch cfg.Transport {
	case "stdio":
		if len(cfg.Command) == 0 {
			return nil, goerr.New("command is required for stdio transport")
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcp.CommandTransport{Command: cmd}

	case "http":
		if cfg.URL == "" {
			return nil, goerr.New("url is required for http transport")
		}
		transport = &mcp.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return nil, goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"stdio", "http"}))
	}

	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to knowledge server")
	}

	return &Client{
		session: session,
		tool:    cfg.Tool,
	}, nil
}

// Query calls the server's search tool and returns ranked snippets. Results
// are expected as text content, either a JSON array of
// {source, text, score} objects or plain text (one snippet per block).
func (c *Client) Query(ctx context.Context, text string, limit int) ([]adapter.Snippet, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name: c.tool,
		Arguments: map[string]any{
			"query": text,
			"limit": limit,
		},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call knowledge search tool", goerr.V("tool", c.tool))
	}

	var snippets []adapter.Snippet
	for _, content := range result.Content {
		tc, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}

		var parsed []adapter.Snippet
		if err := json.Unmarshal([]byte(tc.Text), &parsed); err == nil {
			snippets = append(snippets, parsed...)
			continue
		}

		snippets = append(snippets, adapter.Snippet{Text: tc.Text})
	}

	if len(snippets) > limit {
		snippets = snippets[:limit]
	}

	return snippets, nil
}

// Close shuts down the MCP session
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	if err := c.session.Close(); err != nil {
		return goerr.Wrap(err, "failed to close knowledge session")
	}
	return nil
}
