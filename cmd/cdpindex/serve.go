package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/metrics"
	"github.com/cdpedia/cdpindex/internal/search"
	"github.com/cdpedia/cdpindex/internal/server"
	"github.com/cdpedia/cdpindex/internal/watcher"
)

var flagServeWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the index over HTTP",
	Long: `Serve starts the HTTP API. With watching enabled, a rebuilt index
replacing the served one is picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagServeWatch, "watch", false, "reload the index when it is rebuilt (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	env, err := setup(true)
	if err != nil {
		return err
	}
	defer env.close()
	ctx := cmd.Context()
	logger := env.logger

	m := metrics.New(nil)
	engine := search.NewEngine(env.store, &env.cfg.Search, search.WithLogger(logger), search.WithMetrics(m))
	defer engine.Close()
	if err := engine.Reload(ctx); err != nil {
		if !errors.Is(err, index.ErrMissingIndex) {
			return err
		}
		logger.Warn("no index yet; serving 503 until one is built", zap.String("path", env.store.Path()))
	}

	if env.cfg.Watch.Enabled || flagServeWatch {
		watchOpts := []watcher.WatcherOption{watcher.WithDebounce(env.cfg.Watch.Debounce)}
		if env.cfg.Debug {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		w := watcher.NewWatcher(env.store.Dir, env.store.Backend.Filename(), func() {
			if err := engine.Reload(ctx); err != nil {
				logger.Warn("index reload failed; keeping the current index", zap.Error(err))
			}
		}, watchOpts...)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	srv := server.NewServer(engine, &env.cfg.Server, m, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
