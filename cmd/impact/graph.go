package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/config"
	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/output"
)

var graphJSON bool

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and maintain the dependency graph",
}

var graphStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Load the manifests and print graph statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			g := a.holder.Current()
			build := a.holder.LastStats()
			if graphJSON {
				return output.WriteJSON(cmd.OutOrStdout(), map[string]any{
					"graph": g.Stats(),
					"build": build,
				})
			}
			st := g.Stats()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "📋 Dependency graph (%d manifests)\n", build.Manifests)
			fmt.Fprintf(w, "  Repositories: %d\n", st.Repositories)
			fmt.Fprintf(w, "  Components: %d (%d skipped)\n", st.Components, build.SkippedComponents)
			fmt.Fprintf(w, "  Dependencies: %d (%d projected from artifacts)\n", st.Dependencies, build.ProjectedEdges)
			fmt.Fprintf(w, "  Services: %d, APIs: %d, Docs: %d\n", st.Services, st.Endpoints, st.Docs)
			fmt.Fprintf(w, "  Artifacts: %d (%d skipped, %d unresolved refs)\n", st.Artifacts, build.SkippedArtifacts, build.UnresolvedArtifact)
			if build.Mirrored {
				fmt.Fprintf(w, "  Mirrored to graph store\n")
			} else if build.MirrorError != "" {
				fmt.Fprintf(w, "  ⚠️  Mirror failed: %s\n", build.MirrorError)
			}
			return nil
		})
	},
}

var graphShowCmd = &cobra.Command{
	Use:   "show <component-id>",
	Short: "Show one component with its dependencies and dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			g := a.holder.Current()
			id := g.Canonical(args[0])
			comp, ok := g.Component(id)
			if !ok {
				return fmt.Errorf("component %s not found", args[0])
			}
			view := map[string]any{
				"id":           comp.ID,
				"name":         comp.Name,
				"repo":         comp.Repo,
				"service":      comp.ServiceID,
				"aliases":      comp.Aliases,
				"keywords":     comp.Keywords,
				"dependencies": g.Dependencies(id),
				"dependents":   g.Dependents(id),
				"apis":         comp.Endpoints,
				"docs":         comp.Docs,
				"artifacts":    comp.Artifacts,
			}
			if graphJSON {
				return output.WriteJSON(cmd.OutOrStdout(), view)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s)\n", comp.ID, comp.Name)
			fmt.Fprintf(w, "  Repository: %s\n", comp.Repo)
			if comp.ServiceID != "" {
				fmt.Fprintf(w, "  Service: %s\n", comp.ServiceID)
			}
			for _, row := range []struct {
				label string
				ids   []string
			}{
				{"Depends on", g.Dependencies(id)},
				{"Depended on by", g.Dependents(id)},
				{"APIs", comp.Endpoints},
				{"Docs", comp.Docs},
				{"Artifacts", comp.Artifacts},
			} {
				if len(row.ids) > 0 {
					fmt.Fprintf(w, "  %s: %s\n", row.label, strings.Join(row.ids, ", "))
				}
			}
			return nil
		})
	},
}

var graphValidateCmd = &cobra.Command{
	Use:   "validate [manifest-path]...",
	Short: "Parse manifests and report errors without building anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			paths = cfg.Manifests.Paths
		}
		manifests, errs := depgraph.LoadManifests(paths)
		w := cmd.OutOrStdout()
		for _, err := range errs {
			fmt.Fprintf(w, "❌ %v\n", err)
		}
		fmt.Fprintf(w, "%d manifest(s) parsed, %d error(s)\n", len(manifests), len(errs))
		if len(errs) > 0 {
			return fmt.Errorf("%d manifest(s) failed to parse", len(errs))
		}
		return nil
	},
}

var graphWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload the graph whenever a manifest changes",
	Long: `Watch the manifest paths and rebuild the graph after every change. With
manifests.mirror set, each rebuild is mirrored into the graph store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, config.ValidationContextAnalyze)
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := depgraph.NewWatcher(a.holder, cfg.Manifests.Debounce)
		if err != nil {
			return err
		}
		w.OnReload(func(stats depgraph.BuildStats, err error) {
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "⚠️  reloaded with errors: %v\n", err)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ reloaded: %d components from %d manifests\n", stats.Components, stats.Manifests)
		})
		logger.WithField("paths", a.holder.Paths()).Info("Watching manifests")
		w.Run(ctx)
		return nil
	},
}

func init() {
	graphCmd.PersistentFlags().BoolVar(&graphJSON, "json", false, "JSON output")
	graphCmd.AddCommand(graphStatsCmd)
	graphCmd.AddCommand(graphShowCmd)
	graphCmd.AddCommand(graphValidateCmd)
	graphCmd.AddCommand(graphWatchCmd)
}
