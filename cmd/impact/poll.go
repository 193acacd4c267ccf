package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/config"
	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/metrics"
	"github.com/rohankatakam/impactgraph/internal/output"
	"github.com/rohankatakam/impactgraph/internal/service"
)

var (
	pollWatch    bool
	pollInterval time.Duration
	pollRepos    []string
	pollPaths    []string
	pollJSON     bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Ingest new commits from configured repositories",
	Long: `Poll every configured repository once, or continuously with --watch.
Each commit is analyzed once: processed ids are kept per repository in the
cursor store, so re-running is safe.

--repo and --path override ingestion.repositories from the config file.`,
	Example: `  impact poll
  impact poll --repo acme/payments --repo acme/checkout
  impact poll --watch --interval 2m`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	targets := pollTargets()
	if len(targets) > 0 {
		cfg.Ingestion.Repositories = targets
	}
	if pollInterval > 0 {
		cfg.Ingestion.PollInterval = pollInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, config.ValidationContextPoll)
	if err != nil {
		return err
	}
	defer a.Close()

	report := func(results []service.PollResult) {
		if pollJSON {
			_ = output.WriteJSON(cmd.OutOrStdout(), results)
			return
		}
		_ = output.FormatPollResults(results, cmd.OutOrStdout())
	}

	if !pollWatch {
		report(a.svc.PollAll(ctx, cfg.Ingestion.Repositories))
		return nil
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	if cfg.Manifests.Watch {
		startManifestWatcher(ctx, a)
	}

	logger.WithField("repositories", len(cfg.Ingestion.Repositories)).
		WithField("interval", cfg.Ingestion.PollInterval).
		Info("Polling started")
	err = a.svc.Run(ctx, cfg.Ingestion.Repositories, cfg.Ingestion.PollInterval, report)
	logger.Info("Polling stopped")
	return err
}

func pollTargets() []service.RepoTarget {
	var targets []service.RepoTarget
	for _, r := range pollRepos {
		targets = append(targets, service.RepoTarget{Repo: r})
	}
	for _, p := range pollPaths {
		targets = append(targets, service.RepoTarget{Path: p})
	}
	return targets
}

// serveMetrics exposes /metrics until the returned server is shut down
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	logger.WithField("addr", addr).Info("Serving metrics")
	return srv
}

// startManifestWatcher reloads the graph in the background when a manifest
// changes; analyses keep using the previous graph until the reload is done
func startManifestWatcher(ctx context.Context, a *app) {
	w, err := depgraph.NewWatcher(a.holder, cfg.Manifests.Debounce)
	if err != nil {
		logger.WithError(err).Warn("Manifest watching disabled")
		return
	}
	w.OnReload(func(stats depgraph.BuildStats, err error) {
		entry := logger.WithField("components", stats.Components)
		if err != nil {
			entry.WithError(err).Warn("Graph reloaded with errors")
			return
		}
		entry.Info("Graph reloaded")
	})
	go w.Run(ctx)
}

func init() {
	pollCmd.Flags().BoolVarP(&pollWatch, "watch", "w", false, "keep polling every interval")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "poll interval (default from config)")
	pollCmd.Flags().StringSliceVar(&pollRepos, "repo", nil, "GitHub repository to poll (owner/name, repeatable)")
	pollCmd.Flags().StringSliceVar(&pollPaths, "path", nil, "local checkout to poll (repeatable)")
	pollCmd.Flags().BoolVar(&pollJSON, "json", false, "JSON output")
}
