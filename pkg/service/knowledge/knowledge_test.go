package knowledge_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/desbank/pkg/service/knowledge"
	"github.com/m-mizutani/gt"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("stdio config", func(t *testing.T) {
		path := filepath.Join(dir, "stdio.yml")
		gt.NoError(t, os.WriteFile(path, []byte(`
transport: stdio
command: ["python", "server.py"]
env:
  CORPUS_DIR: /data/papers
tool: search_papers
`), 0o644))

		cfg := gt.R1(knowledge.LoadConfig(path)).NoError(t)
		gt.Equal(t, cfg.Transport, "stdio")
		gt.Equal(t, cfg.Command, []string{"python", "server.py"})
		gt.Equal(t, cfg.Env["CORPUS_DIR"], "/data/papers")
		gt.Equal(t, cfg.Tool, "search_papers")
	})

	t.Run("http config with default tool", func(t *testing.T) {
		path := filepath.Join(dir, "http.yml")
		gt.NoError(t, os.WriteFile(path, []byte(`
transport: http
url: http://localhost:8080/mcp
`), 0o644))

		cfg := gt.R1(knowledge.LoadConfig(path)).NoError(t)
		gt.Equal(t, cfg.Transport, "http")
		gt.Equal(t, cfg.URL, "http://localhost:8080/mcp")
		gt.Equal(t, cfg.Tool, "search")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := knowledge.LoadConfig(filepath.Join(dir, "nope.yml"))
		gt.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yml")
		gt.NoError(t, os.WriteFile(path, []byte("transport: [unclosed"), 0o644))
		_, err := knowledge.LoadConfig(path)
		gt.Error(t, err)
	})
}
