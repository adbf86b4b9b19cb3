package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/desbank/pkg/usecase/memory"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Manage the reasoning memory bank",
		Commands: []*cli.Command{
			memoryAddCommand(),
			memoryListCommand(),
			memoryShowCommand(),
			memoryUpdateCommand(),
			memoryDeleteCommand(),
			memorySearchCommand(),
			memoryRegenCommand(),
		},
	}
}

func memoryAddCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to JSON file with title, description and content ('-' for stdin)",
			Required:    true,
			Destination: &input,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "add",
		Usage: "Add a memory from JSON input",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			data, err := readInput(input)
			if err != nil {
				return err
			}

			var item model.MemoryItem
			if err := json.Unmarshal(data, &item); err != nil {
				return goerr.Wrap(err, "failed to parse memory input",
					goerr.T(model.TagValidation))
			}

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			if err := uc.Add(ctx, &item, true); err != nil {
				return goerr.Wrap(err, "failed to add memory")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", item.Title)
			return nil
		},
	}
}

func memoryListCommand() *cli.Command {
	var (
		cfg      config
		success  bool
		failure  bool
		source   string
		page     int64
		pageSize int64
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "success",
			Usage:       "Only memories from successful experiments",
			Destination: &success,
		},
		&cli.BoolFlag{
			Name:        "failure",
			Usage:       "Only memories from failed experiments",
			Destination: &failure,
		},
		&cli.StringFlag{
			Name:        "source",
			Usage:       "Filter by source recommendation ID",
			Destination: &source,
		},
		&cli.IntFlag{
			Name:        "page",
			Usage:       "Page number (1-indexed)",
			Value:       1,
			Destination: &page,
		},
		&cli.IntFlag{
			Name:        "page-size",
			Usage:       "Memories per page",
			Value:       20,
			Destination: &pageSize,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List memories, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if success && failure {
				return goerr.New("success and failure filters are mutually exclusive",
					goerr.T(model.TagValidation))
			}

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			opts := memory.ListOptions{
				SourceTaskID: model.RecommendationID(source),
				Page:         int(page),
				PageSize:     int(pageSize),
			}
			if success {
				v := true
				opts.IsFromSuccess = &v
			}
			if failure {
				v := false
				opts.IsFromSuccess = &v
			}

			result, err := uc.List(ctx, opts)
			if err != nil {
				return goerr.Wrap(err, "failed to list memories")
			}

			for _, item := range result.Items {
				origin := "failure"
				if item.IsFromSuccess {
					origin = "success"
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", item.Title, origin, item.Description)
			}
			fmt.Fprintf(c.Root().Writer, "page %d/%d (%d total)\n",
				result.Page, result.TotalPages, result.Total)

			return nil
		},
	}
}

func memoryShowCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "show",
		Usage:     "Show a memory by exact title",
		ArgsUsage: "<title>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			title := c.Args().First()
			if title == "" {
				return goerr.New("memory title is required", goerr.T(model.TagValidation))
			}

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			item, err := uc.Get(ctx, title)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(item)
		},
	}
}

func memoryUpdateCommand() *cli.Command {
	var (
		cfg         config
		description string
		content     string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "description",
			Usage:       "New description",
			Destination: &description,
		},
		&cli.StringFlag{
			Name:        "content",
			Usage:       "New content",
			Destination: &content,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "update",
		Usage:     "Update a memory's description or content",
		ArgsUsage: "<title>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			title := c.Args().First()
			if title == "" {
				return goerr.New("memory title is required", goerr.T(model.TagValidation))
			}

			patch := repository.MemoryPatch{}
			if c.IsSet("description") {
				patch.Description = &description
			}
			if c.IsSet("content") {
				patch.Content = &content
			}
			if patch.Description == nil && patch.Content == nil {
				return goerr.New("nothing to update", goerr.T(model.TagValidation))
			}

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			item, err := uc.Update(ctx, title, patch)
			if err != nil {
				return goerr.Wrap(err, "failed to update memory")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", item.Title)
			return nil
		},
	}
}

func memoryDeleteCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a memory by exact title",
		ArgsUsage: "<title>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			title := c.Args().First()
			if title == "" {
				return goerr.New("memory title is required", goerr.T(model.TagValidation))
			}

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			if err := uc.Delete(ctx, title); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "deleted %s\n", title)
			return nil
		},
	}
}

func memorySearchCommand() *cli.Command {
	var (
		cfg   config
		query string
		topK  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Query text; omit for an interactive session",
			Destination: &query,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "Number of memories to return",
			Value:       5,
			Destination: &topK,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Retrieve memories by embedding similarity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			if query != "" {
				return runSearch(ctx, c, uc, query, int(topK))
			}

			// Interactive mode: one query per line until EOF or Ctrl-C
			rl, err := readline.New("search> ")
			if err != nil {
				return goerr.Wrap(err, "failed to start interactive session")
			}
			defer rl.Close()

			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
						return nil
					}
					return goerr.Wrap(err, "failed to read query")
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				if err := runSearch(ctx, c, uc, line, int(topK)); err != nil {
					fmt.Fprintf(c.Root().Writer, "error: %v\n", err)
				}
			}
		},
	}
}

func runSearch(ctx context.Context, c *cli.Command, uc *memory.UseCase, query string, topK int) error {
	scored, err := uc.Retrieve(ctx, query, topK)
	if err != nil {
		return err
	}

	if len(scored) == 0 {
		fmt.Fprintf(c.Root().Writer, "no memories found\n")
		return nil
	}

	for _, s := range scored {
		fmt.Fprintf(c.Root().Writer, "%.4f\t%s\t%s\n",
			s.Score, s.Memory.Title, s.Memory.Description)
	}
	return nil
}

func memoryRegenCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "regen-embeddings",
		Usage: "Backfill embeddings for memories that have none",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			updated, err := uc.RegenerateEmbeddings(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to regenerate embeddings")
			}

			fmt.Fprintf(c.Root().Writer, "regenerated %d embeddings\n", updated)
			return nil
		},
	}
}
