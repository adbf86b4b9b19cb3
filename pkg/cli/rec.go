package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/usecase/recommendation"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func recCommand() *cli.Command {
	return &cli.Command{
		Name:  "rec",
		Usage: "Manage formulation recommendations",
		Commands: []*cli.Command{
			recNewCommand(),
			recListCommand(),
			recShowCommand(),
			recCancelCommand(),
		},
	}
}

// recInput is the JSON shape accepted by `rec new`
type recInput struct {
	Task        model.Task     `json:"task"`
	Formulation map[string]any `json:"formulation"`
	Confidence  float64        `json:"confidence"`
}

func recNewCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to JSON file with task, formulation and confidence ('-' for stdin)",
			Required:    true,
			Destination: &input,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "new",
		Usage: "Store a new recommendation from JSON input",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			data, err := readInput(input)
			if err != nil {
				return err
			}

			var in recInput
			if err := json.Unmarshal(data, &in); err != nil {
				return goerr.Wrap(err, "failed to parse recommendation input",
					goerr.T(model.TagValidation))
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			uc := recommendation.New(repo)
			rec, err := uc.Create(ctx, recommendation.CreateInput{
				Task:        in.Task,
				Formulation: in.Formulation,
				Confidence:  in.Confidence,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to create recommendation")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", rec.ID)
			return nil
		},
	}
}

func recListCommand() *cli.Command {
	var (
		cfg    config
		status string
		target string
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "status",
			Aliases:     []string{"s"},
			Usage:       "Filter by status (PENDING, PROCESSING, COMPLETED, FAILED, CANCELLED)",
			Destination: &status,
		},
		&cli.StringFlag{
			Name:        "target",
			Aliases:     []string{"t"},
			Usage:       "Filter by target material",
			Destination: &target,
		},
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of recommendations to list",
			Value:       100,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List recommendations from the index",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if status != "" {
				if err := model.Status(status).Validate(); err != nil {
					return err
				}
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			uc := recommendation.New(repo)
			entries, err := uc.List(ctx, repository.ListOptions{
				Status:         model.Status(status),
				TargetMaterial: target,
				Offset:         int(offset),
				Limit:          int(limit),
			})
			if err != nil {
				return goerr.Wrap(err, "failed to list recommendations")
			}

			for _, e := range entries {
				score := "-"
				if e.PerformanceScore != nil {
					score = fmt.Sprintf("%.2f", *e.PerformanceScore)
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Status, e.TargetMaterial, e.FormulationSummary, score)
			}

			total, err := uc.Count(ctx, repository.ListOptions{
				Status:         model.Status(status),
				TargetMaterial: target,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to count recommendations")
			}
			fmt.Fprintf(c.Root().Writer, "%d of %d\n", len(entries), total)

			return nil
		},
	}
}

func recShowCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)

	return &cli.Command{
		Name:      "show",
		Usage:     "Show the full record of a recommendation",
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

			uc := recommendation.New(repo)
			rec, err := uc.Get(ctx, model.RecommendationID(id))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func recCancelCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)

	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a pending recommendation",
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

			uc := recommendation.New(repo)
			rec, err := uc.Cancel(ctx, model.RecommendationID(id))
			if err != nil {
				return goerr.Wrap(err, "failed to cancel recommendation")
			}

			fmt.Fprintf(c.Root().Writer, "%s\t%s\n", rec.ID, rec.Status)
			return nil
		},
	}
}

// readInput loads the given path, or stdin when path is "-"
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read stdin")
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read input file", goerr.V("path", path))
	}
	return data, nil
}
