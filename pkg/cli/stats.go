package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/usecase/stats"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Aggregate figures over the recommendation index",
		Commands: []*cli.Command{
			statsShowCommand(),
			statsExportCommand(),
		},
	}
}

func statsShowCommand() *cli.Command {
	var (
		cfg    config
		target string
		status string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "target",
			Aliases:     []string{"t"},
			Usage:       "Filter by target material",
			Destination: &target,
		},
		&cli.StringFlag{
			Name:        "status",
			Aliases:     []string{"s"},
			Usage:       "Filter by status",
			Destination: &status,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Print the summary as JSON",
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

			uc := stats.New(repo)
			summary, err := uc.Summarize(ctx, repository.ListOptions{
				Status:         model.Status(status),
				TargetMaterial: target,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to summarize recommendations")
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

func statsExportCommand() *cli.Command {
	var (
		cfg     config
		dataset string
		table   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "dataset",
			Usage:       "BigQuery dataset ID",
			Required:    true,
			Sources:     cli.EnvVars("DESBANK_BQ_DATASET"),
			Destination: &dataset,
		},
		&cli.StringFlag{
			Name:        "table",
			Usage:       "BigQuery table ID",
			Value:       "recommendations",
			Sources:     cli.EnvVars("DESBANK_BQ_TABLE"),
			Destination: &table,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Stream the recommendation index into BigQuery",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if cfg.project == "" {
				return goerr.New("project is required for export")
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			bq, err := adapter.NewBigQuery(ctx, cfg.project)
			if err != nil {
				return err
			}

			uc := stats.New(repo, stats.WithBigQuery(bq))
			rows, err := uc.Export(ctx, dataset, table)
			if err != nil {
				return goerr.Wrap(err, "failed to export recommendations")
			}

			fmt.Fprintf(c.Root().Writer, "exported %d rows to %s.%s\n", rows, dataset, table)
			return nil
		},
	}
}
