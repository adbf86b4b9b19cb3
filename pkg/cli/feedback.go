package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/usecase/feedback"
	"github.com/m-mizutani/desbank/pkg/usecase/memory"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func feedbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "feedback",
		Usage: "Submit experiment results for a recommendation",
		Commands: []*cli.Command{
			feedbackSubmitCommand(),
			feedbackStatusCommand(),
		},
	}
}

// resultSchema gates feedback input before it reaches the domain validator,
// so type mistakes (e.g. solubility as a string) fail with a schema error
// instead of a JSON decode error.
var resultSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"is_liquid_formed"},
	Properties: map[string]*jsonschema.Schema{
		"is_liquid_formed": {Type: "boolean", Description: "Whether a liquid phase formed"},
		"solubility":       {Type: "number", Description: "Measured solubility"},
		"solubility_unit":  {Type: "string"},
		"properties":       {Type: "object"},
		"experimenter":     {Type: "string"},
		"experiment_date":  {Type: "string"},
		"notes":            {Type: "string"},
	},
}

func parseResult(data []byte) (*model.ExperimentResult, error) {
	resolved, err := resultSchema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve result schema")
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(err, "failed to parse experiment result",
			goerr.T(model.TagValidation))
	}
	if err := resolved.Validate(raw); err != nil {
		return nil, goerr.Wrap(err, "experiment result does not match the expected shape",
			goerr.T(model.TagValidation))
	}

	var result model.ExperimentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, goerr.Wrap(err, "failed to decode experiment result",
			goerr.T(model.TagValidation))
	}
	return &result, nil
}

func feedbackSubmitCommand() *cli.Command {
	var (
		cfg     config
		input   string
		async   bool
		workers int64
		timeout time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to JSON file with the experiment result ('-' for stdin)",
			Required:    true,
			Destination: &input,
		},
		&cli.BoolFlag{
			Name:        "async",
			Usage:       "Queue processing and return immediately",
			Sources:     cli.EnvVars("DESBANK_FEEDBACK_ASYNC"),
			Destination: &async,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Worker pool size for asynchronous processing",
			Value:       2,
			Sources:     cli.EnvVars("DESBANK_FEEDBACK_WORKERS"),
			Destination: &workers,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Per-run processing timeout (0 for none)",
			Sources:     cli.EnvVars("DESBANK_FEEDBACK_TIMEOUT"),
			Destination: &timeout,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit an experiment result",
		ArgsUsage: "<recommendation-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("recommendation ID is required", goerr.T(model.TagValidation))
			}

			data, err := readInput(input)
			if err != nil {
				return err
			}
			result, err := parseResult(data)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			memUC, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			llm, err := cfg.newLLM(ctx)
			if err != nil {
				return err
			}

			var extractorOpts []memory.ExtractorOption
			kn, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			if kn != nil {
				defer kn.Close()
				extractorOpts = append(extractorOpts, memory.WithKnowledge(kn))
			}

			svc := feedback.NewService(repo, memUC, memory.NewExtractor(llm, extractorOpts...),
				feedback.WithWorkers(int(workers)),
				feedback.WithProcessTimeout(timeout),
			)

			if !async {
				// Extraction takes a while; show progress on stderr so stdout
				// stays parseable.
				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
					spinner.WithWriter(os.Stderr))
				sp.Suffix = " processing feedback..."
				sp.Start()
				defer sp.Stop()
			}

			res, err := svc.Submit(ctx, model.RecommendationID(id), result, async)
			if err != nil {
				return err
			}

			if async {
				// Drain the queue before the process exits; the ack already
				// reflects acceptance.
				defer svc.Wait()
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func feedbackStatusCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)

	return &cli.Command{
		Name:      "status",
		Usage:     "Show the processing state of a recommendation",
		ArgsUsage: "<recommendation-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("recommendation ID is required", goerr.T(model.TagValidation))
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			rec, err := repo.Get(ctx, model.RecommendationID(id))
			if err != nil {
				return err
			}

			out := map[string]any{
				"id":         rec.ID,
				"status":     rec.Status,
				"updated_at": rec.UpdatedAt,
			}
			if rec.ExperimentResult != nil {
				out["performance_score"] = rec.ExperimentResult.PerformanceScore()
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
