// Package main is the cdpindex CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/cli"
	"github.com/cdpedia/cdpindex/internal/config"
	"github.com/cdpedia/cdpindex/internal/storage"
	"github.com/cdpedia/cdpindex/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/cdpindex/config.yaml"

var (
	flagConfig   string
	flagDebug    bool
	flagBackend  string
	flagIndexDir string
	flagOutput   string
)

var rootCmd = &cobra.Command{
	Use:          "cdpindex",
	Short:        "Offline title search index for CDPedia",
	SilenceUsage: true,
	Long: `cdpindex builds, queries, migrates and serves the title index of an
offline encyclopedia. Titles are matched word by word, ignoring case and
diacritics, either exactly or by word fragment.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", defaultConfigPath, "config file path")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	pf.StringVar(&flagBackend, "backend", "", "index backend: memory, compressed, sqlite or bleve (overrides config)")
	pf.StringVar(&flagIndexDir, "index-dir", "", "index directory (overrides config)")
	pf.StringVarP(&flagOutput, "output", "o", "text", "output format: text, compact or json")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory; if neither exists the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	candidates := []string{defaultConfigPath}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append([]string{filepath.Join(cwd, "config.yaml")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		cfg, err := config.Load(p)
		if err != nil {
			return nil, "", err
		}
		return cfg, p, nil
	}
	return config.Default(), "", nil
}

// applyOverrides lays the global flags over cfg and revalidates it.
func applyOverrides(cfg *config.Config, backend, indexDir string, debug bool) error {
	if backend != "" {
		cfg.Index.Backend = backend
	}
	if indexDir != "" {
		abs, err := filepath.Abs(indexDir)
		if err != nil {
			return fmt.Errorf("invalid index directory: %w", err)
		}
		cfg.Index.Directory = abs
	}
	cfg.Debug = cfg.Debug || debug
	return cfg.Validate()
}

// runtimeEnv is what every command needs: settings, a logger and the configured store.
type runtimeEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Store
	format cli.OutputFormat
}

// setup resolves configuration and the store. server selects the JSON
// production logger instead of the console one.
func setup(server bool) (*runtimeEnv, error) {
	cfg, resolved, err := loadConfig(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyOverrides(cfg, flagBackend, flagIndexDir, flagDebug); err != nil {
		return nil, err
	}
	format, err := cli.ParseOutputFormat(flagOutput)
	if err != nil {
		return nil, err
	}
	var logger *zap.Logger
	if server {
		logger, err = utils.NewLogger(cfg.Debug)
	} else {
		logger, err = utils.NewCLILogger(cfg.Debug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("backend", cfg.Index.Backend),
		zap.String("index_dir", cfg.Index.Directory))

	store, err := storage.New(cfg.Index, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &runtimeEnv{cfg: cfg, logger: logger, store: store, format: format}, nil
}

func (e *runtimeEnv) close() { _ = e.logger.Sync() }
