package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/config"
	"github.com/rohankatakam/impactgraph/internal/git"
	"github.com/rohankatakam/impactgraph/internal/output"
	"github.com/rohankatakam/impactgraph/internal/pipeline"
	"github.com/rohankatakam/impactgraph/internal/service"
)

var (
	quietOut   bool
	explainOut bool
	jsonOut    bool

	repoFlag  string
	idFlag    string
	titleFlag string
	summary   string

	localDir     string
	stagedOnly   bool
	localCommits int

	componentIDs []string
	artifactIDs  []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the impact of a code change",
	Long: `Map a change onto the dependency graph and report the components, APIs,
services and docs it affects. Doc issues are filed for impacted docs and an
impact event is recorded.`,
}

var analyzePRCmd = &cobra.Command{
	Use:   "pr <owner/name> <number>",
	Short: "Analyze a GitHub pull request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid pull request number %q", args[1])
		}
		return runAnalysis(cmd, func(ctx context.Context, svc *service.Service) (*pipeline.Result, error) {
			return svc.ProcessPullRequest(ctx, args[0], number)
		})
	},
}

var analyzeCommitsCmd = &cobra.Command{
	Use:   "commits <owner/name> <sha>...",
	Short: "Analyze one or more GitHub commits as a single change",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalysis(cmd, func(ctx context.Context, svc *service.Service) (*pipeline.Result, error) {
			return svc.ProcessCommits(ctx, args[0], args[1:])
		})
	},
}

var analyzeFilesCmd = &cobra.Command{
	Use:   "files <path>...",
	Short: "Analyze a change given as file paths",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalysis(cmd, func(ctx context.Context, svc *service.Service) (*pipeline.Result, error) {
			return svc.ProcessFiles(ctx, service.FilesRequest{
				Repo:       repoFlag,
				Files:      args,
				Identifier: idFlag,
				Title:      titleFlag,
				Summary:    summary,
			})
		})
	},
}

var analyzeDiffCmd = &cobra.Command{
	Use:   "diff [patch-file]",
	Short: "Analyze a unified diff read from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read diff: %w", err)
		}
		return runAnalysis(cmd, func(ctx context.Context, svc *service.Service) (*pipeline.Result, error) {
			return svc.ProcessDiff(ctx, repoFlag, string(data), idFlag)
		})
	},
}

var analyzeLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "Analyze uncommitted or recent changes of a local checkout",
	Long: `Analyze the working tree of a local git checkout. By default every file
that differs from HEAD is analyzed; --staged limits it to the index and
--commits analyzes the last N commits instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalysis(cmd, func(ctx context.Context, svc *service.Service) (*pipeline.Result, error) {
			src, err := git.NewLocalSource(ctx, localDir, repoFlag)
			if err != nil {
				return nil, err
			}
			if localCommits > 0 {
				commits, err := src.RecentCommits(ctx, localCommits)
				if err != nil {
					return nil, err
				}
				if len(commits) == 0 {
					return nil, fmt.Errorf("no commits found in %s", localDir)
				}
				return svc.ProcessGitEvent(ctx, src.Change(ctx, commits), nil)
			}
			files, err := src.WorkingTreeFiles(ctx, stagedOnly)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				return nil, fmt.Errorf("no changes in %s", localDir)
			}
			return svc.ProcessFiles(ctx, service.FilesRequest{
				Repo:       src.Repo(),
				Files:      files,
				Identifier: idFlag,
				Title:      titleFlag,
			})
		})
	},
}

var analyzeEntitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Report what depends on components or artifacts, without recording anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalysis(cmd, func(ctx context.Context, svc *service.Service) (*pipeline.Result, error) {
			report, err := svc.ImpactOf(ctx, componentIDs, artifactIDs)
			if err != nil {
				return nil, err
			}
			return &pipeline.Result{Report: report}, nil
		})
	},
}

// runAnalysis opens the app, runs fn and prints its result at the chosen
// verbosity
func runAnalysis(cmd *cobra.Command, fn func(context.Context, *service.Service) (*pipeline.Result, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, config.ValidationContextAnalyze)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := fn(ctx, a.svc)
	if err != nil {
		return err
	}
	level := output.ResolveVerbosity(quietOut, explainOut, jsonOut)
	return output.NewFormatter(level).Format(result, cmd.OutOrStdout())
}

// addOutputFlags registers the verbosity flags on cmd and its children
func addOutputFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&quietOut, "quiet", "q", false, "one-line summary")
	cmd.PersistentFlags().BoolVar(&explainOut, "explain", false, "include the reasoning chain and evidence")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "machine-readable JSON output")
}

func init() {
	addOutputFlags(analyzeCmd)

	for _, c := range []*cobra.Command{analyzeFilesCmd, analyzeDiffCmd, analyzeLocalCmd} {
		c.Flags().StringVar(&repoFlag, "repo", "", "repository the paths belong to (owner/name)")
		c.Flags().StringVar(&idFlag, "id", "", "change identifier (derived when empty)")
	}
	analyzeFilesCmd.Flags().StringVar(&titleFlag, "title", "", "change title")
	analyzeFilesCmd.Flags().StringVar(&summary, "summary", "", "change summary")
	analyzeLocalCmd.Flags().StringVar(&titleFlag, "title", "", "change title")

	analyzeLocalCmd.Flags().StringVar(&localDir, "dir", ".", "checkout directory")
	analyzeLocalCmd.Flags().BoolVar(&stagedOnly, "staged", false, "only analyze staged changes")
	analyzeLocalCmd.Flags().IntVar(&localCommits, "commits", 0, "analyze the last N commits instead of the working tree")

	analyzeEntitiesCmd.Flags().StringSliceVar(&componentIDs, "component", nil, "component id (repeatable)")
	analyzeEntitiesCmd.Flags().StringSliceVar(&artifactIDs, "artifact", nil, "artifact id (repeatable)")

	analyzeCmd.AddCommand(analyzePRCmd)
	analyzeCmd.AddCommand(analyzeCommitsCmd)
	analyzeCmd.AddCommand(analyzeFilesCmd)
	analyzeCmd.AddCommand(analyzeDiffCmd)
	analyzeCmd.AddCommand(analyzeLocalCmd)
	analyzeCmd.AddCommand(analyzeEntitiesCmd)
}
