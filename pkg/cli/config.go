package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/service/knowledge"
	"github.com/m-mizutani/desbank/pkg/usecase/memory"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Recommendation store
	backend  string
	dataDir  string
	project  string
	database string

	// Memory bank
	bankPath string
	bankMax  int64

	// Adapters
	llmProvider     string
	anthropicAPIKey string
	geminiProject   string
	geminiLocation  string

	// Knowledge retrieval
	knowledgeConfig string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Recommendation store backend (local or firestore)",
			Value:       "local",
			Sources:     cli.EnvVars("DESBANK_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory for the local recommendation store",
			Value:       "./data/recommendations",
			Sources:     cli.EnvVars("DESBANK_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bank-path",
			Usage:       "Path to the memory bank JSON file",
			Value:       "./data/memory_bank.json",
			Sources:     cli.EnvVars("DESBANK_BANK_PATH"),
			Destination: &cfg.bankPath,
		},
		&cli.IntFlag{
			Name:        "bank-max",
			Usage:       "Maximum number of memories kept in the bank",
			Value:       500,
			Sources:     cli.EnvVars("DESBANK_BANK_MAX"),
			Destination: &cfg.bankMax,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Generative model provider (gemini or claude)",
			Value:       "gemini",
			Sources:     cli.EnvVars("DESBANK_LLM"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "knowledge-config",
			Usage:       "Path to the knowledge server YAML config",
			Sources:     cli.EnvVars("DESBANK_KNOWLEDGE_CONFIG"),
			Destination: &cfg.knowledgeConfig,
		},
	}
}

// newRepository creates the recommendation store for the selected backend
func (cfg *config) newRepository(ctx context.Context) (repository.RecommendationRepository, error) {
	switch cfg.backend {
	case "local":
		return repository.NewLocal(cfg.dataDir)

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for the firestore backend")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required for the firestore backend")
		}
		return repository.NewFirestore(ctx, cfg.project, cfg.database)

	default:
		return nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, project, cfg.geminiLocation)
}

// newLLM creates the generative adapter for the selected provider
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.llmProvider {
	case "gemini":
		return cfg.newGemini(ctx)

	case "claude":
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required")
		}
		return adapter.NewClaude(cfg.anthropicAPIKey), nil

	default:
		return nil, goerr.New("unknown LLM provider", goerr.V("llm", cfg.llmProvider))
	}
}

// newBank loads the memory bank from disk; a missing file means an empty
// bank
func (cfg *config) newBank(embedder adapter.Embedder) (*repository.MemoryBank, error) {
	bank := repository.NewMemoryBank(int(cfg.bankMax), repository.WithEmbedder(embedder))

	if _, err := os.Stat(cfg.bankPath); os.IsNotExist(err) {
		return bank, nil
	}
	if err := bank.Load(cfg.bankPath); err != nil {
		return nil, goerr.Wrap(err, "failed to load memory bank", goerr.V("path", cfg.bankPath))
	}
	return bank, nil
}

// newMemoryUseCase builds the bank plus use case with embedding enabled
func (cfg *config) newMemoryUseCase(ctx context.Context) (*memory.UseCase, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}

	bank, err := cfg.newBank(gemini)
	if err != nil {
		return nil, err
	}

	return memory.New(bank,
		memory.WithEmbedder(gemini),
		memory.WithPersistPath(cfg.bankPath),
	), nil
}

// newKnowledge connects the optional literature retrieval server. Returns
// nil without error when no config path is given.
func (cfg *config) newKnowledge(ctx context.Context) (*knowledge.Client, error) {
	if cfg.knowledgeConfig == "" {
		return nil, nil
	}

	kcfg, err := knowledge.LoadConfig(cfg.knowledgeConfig)
	if err != nil {
		return nil, err
	}
	return knowledge.Connect(ctx, kcfg)
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}
