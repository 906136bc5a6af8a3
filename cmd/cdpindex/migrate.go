package main

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/migrate"
	"github.com/cdpedia/cdpindex/internal/storage"
)

var (
	flagMigrateLegacyDir   string
	flagMigrateFromBackend string
	flagMigrateFromDir     string
	flagMigrateWorkers     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rebuild the index from legacy files or another backend",
	Long: `Migrate reads every record of a source, drops exact duplicates and
records without a title, and builds the configured index from the rest.

The source is either a directory of legacy compindex-*.jsonl files
(--legacy-dir, optionally .bz2, .zst or .lz4 compressed) or an existing
index of another backend (--from-backend with --from-dir).`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&flagMigrateLegacyDir, "legacy-dir", "", "directory holding legacy compindex files")
	f.StringVar(&flagMigrateFromBackend, "from-backend", "", "backend of the source index")
	f.StringVar(&flagMigrateFromDir, "from-dir", "", "directory of the source index")
	f.IntVar(&flagMigrateWorkers, "workers", 0, "legacy files read in parallel (default from config)")
	migrateCmd.MarkFlagsMutuallyExclusive("legacy-dir", "from-backend")
	migrateCmd.MarkFlagsRequiredTogether("from-backend", "from-dir")
	migrateCmd.MarkFlagsOneRequired("legacy-dir", "from-backend")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	env, err := setup(false)
	if err != nil {
		return err
	}
	defer env.close()
	ctx := cmd.Context()

	var src iter.Seq2[migrate.Record, error]
	if flagMigrateLegacyDir != "" {
		workers := flagMigrateWorkers
		if workers <= 0 {
			workers = env.cfg.Migrate.Workers
		}
		files, err := migrate.LegacyFiles(flagMigrateLegacyDir)
		if err != nil {
			return err
		}
		env.logger.Info("reading legacy index",
			zap.String("dir", flagMigrateLegacyDir),
			zap.Int("files", len(files)),
			zap.Int("workers", workers))
		src = migrate.ReadLegacy(ctx, flagMigrateLegacyDir, workers)
	} else {
		srcCfg := env.cfg.Index
		srcCfg.Backend = flagMigrateFromBackend
		srcCfg.Directory, err = filepath.Abs(flagMigrateFromDir)
		if err != nil {
			return err
		}
		from, err := storage.New(srcCfg, env.logger)
		if err != nil {
			return err
		}
		if from.Path() == env.store.Path() {
			return errors.New("source and target index are the same")
		}
		idx, err := from.Open(ctx)
		if err != nil {
			return err
		}
		defer idx.Close()
		src = migrate.FromIndex(ctx, idx)
	}

	stats, err := migrate.Run(ctx, src, env.store, migrate.WithLogger(env.logger))
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "read %d, repeated %d, without title %d, written %d to %s\n",
		stats.Read, stats.Repeated, stats.NullTitle, stats.Written, env.store.Path())
	return nil
}
