package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/desbank/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	var (
		cfg    config
		bucket string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "backup-bucket",
			Usage:       "GCS bucket to archive the pre-migration index backup",
			Sources:     cli.EnvVars("DESBANK_BACKUP_BUCKET"),
			Destination: &bucket,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "migrate",
		Usage: "Backfill derived fields on older local index entries",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if cfg.backend != "local" {
				return goerr.New("migrate only applies to the local backend",
					goerr.V("backend", cfg.backend))
			}

			result, err := repository.MigrateIndex(ctx, cfg.dataDir)
			if err != nil {
				return goerr.Wrap(err, "migration failed")
			}

			fmt.Fprintf(c.Root().Writer, "total=%d migrated=%d skipped=%d errored=%d\n",
				result.Total, result.Migrated, result.Skipped, result.Errored)
			if result.BackupPath != "" {
				fmt.Fprintf(c.Root().Writer, "backup: %s\n", result.BackupPath)
			}

			if bucket != "" && result.BackupPath != "" {
				st, err := cfg.newStorage(ctx, bucket)
				if err != nil {
					return err
				}
				key := filepath.Base(result.BackupPath)
				if err := adapter.ArchiveFile(ctx, st, key, result.BackupPath); err != nil {
					return goerr.Wrap(err, "failed to archive index backup",
						goerr.V("bucket", bucket), goerr.V("key", key))
				}
				fmt.Fprintf(c.Root().Writer, "archived backup to gs://%s/%s\n", bucket, key)
			}

			if result.Errored > 0 {
				return goerr.New("some entries could not be migrated",
					goerr.V("errored", result.Errored))
			}

			return nil
		},
	}
}
