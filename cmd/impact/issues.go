package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/config"
	"github.com/rohankatakam/impactgraph/internal/docissues"
	"github.com/rohankatakam/impactgraph/internal/models"
	"github.com/rohankatakam/impactgraph/internal/output"
)

var (
	issueFilter   docissues.Filter
	issueState    string
	issueSeverity string
	issueJSON     bool
	manual        docissues.ManualIssue
	manualLevel   string
)

var issuesCmd = &cobra.Command{
	Use:     "issues",
	Aliases: []string{"issue"},
	Short:   "List and manage documentation issues",
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List doc issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := issueFilter
		if issueState != "" {
			f.State = models.IssueState(strings.ToLower(issueState))
			if !f.State.Valid() {
				return fmt.Errorf("invalid state %q (open, resolved or closed)", issueState)
			}
		}
		if issueSeverity != "" {
			f.MinSeverity = models.Severity(strings.ToLower(issueSeverity))
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			issues, err := a.svc.ListDocIssues(ctx, f)
			if err != nil {
				return err
			}
			if issueJSON || output.GetDefaultVerbosity() == output.VerbosityAIMode {
				return output.WriteJSON(cmd.OutOrStdout(), issues)
			}
			return output.FormatIssues(issues, cmd.OutOrStdout())
		})
	},
}

var issuesStateCmd = &cobra.Command{
	Use:   "state <issue-id> <open|resolved|closed>",
	Short: "Change the state of a doc issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state := models.IssueState(strings.ToLower(args[1]))
		return withApp(cmd, func(ctx context.Context, a *app) error {
			issue, err := a.svc.SetDocIssueState(ctx, args[0], state)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is now %s\n", issue.ID, issue.State)
			return nil
		})
	},
}

var issuesOpenCmd = &cobra.Command{
	Use:   "open <issue-id>",
	Short: "Open the doc of an issue in the browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			issues, err := a.svc.ListDocIssues(ctx, docissues.Filter{})
			if err != nil {
				return err
			}
			for _, is := range issues {
				if is.ID != args[0] {
					continue
				}
				url := is.DocURL
				if url == "" && len(is.Links) > 0 {
					url = is.Links[0].URL
				}
				if url == "" {
					return fmt.Errorf("issue %s has no doc URL", is.ID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Opening %s\n", url)
				if err := browser.OpenURL(url); err != nil {
					logger.WithError(err).Warn("Could not open browser")
				}
				return nil
			}
			return fmt.Errorf("doc issue %s not found", args[0])
		})
	},
}

var issuesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "File a doc issue manually",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := manual
		req.Severity = models.Severity(strings.ToLower(manualLevel))
		return withApp(cmd, func(ctx context.Context, a *app) error {
			issue, err := a.svc.CreateManualIssue(ctx, req)
			if err != nil {
				return err
			}
			if issueJSON {
				return output.WriteJSON(cmd.OutOrStdout(), issue)
			}
			return output.FormatIssues([]models.DocIssue{*issue}, cmd.OutOrStdout())
		})
	},
}

// withApp opens the app for a non-analysis command
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, config.ValidationContextAnalyze)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func init() {
	issuesCmd.PersistentFlags().BoolVar(&issueJSON, "json", false, "JSON output")

	issuesListCmd.Flags().StringVar(&issueFilter.Repo, "repo", "", "only issues of this repository")
	issuesListCmd.Flags().StringVar(&issueState, "state", "", "open, resolved or closed")
	issuesListCmd.Flags().StringVar(&issueSeverity, "min-severity", "", "low, medium or high")
	issuesListCmd.Flags().StringVar(&issueFilter.ComponentID, "component", "", "only issues touching this component")
	issuesListCmd.Flags().StringVar(&issueFilter.LinkedChange, "change", "", "only issues linked to this change")
	issuesListCmd.Flags().IntVar(&issueFilter.Limit, "limit", 0, "maximum number of issues")

	issuesCreateCmd.Flags().StringVar(&manual.DocID, "doc", "", "doc id")
	issuesCreateCmd.Flags().StringVar(&manual.DocPath, "path", "", "doc path")
	issuesCreateCmd.Flags().StringVar(&manual.DocTitle, "title", "", "doc title")
	issuesCreateCmd.Flags().StringVar(&manual.DocURL, "url", "", "doc URL")
	issuesCreateCmd.Flags().StringVar(&manual.RepoID, "repo", "", "repository of the doc")
	issuesCreateCmd.Flags().StringSliceVar(&manual.ComponentIDs, "component", nil, "component id (repeatable, at least one)")
	issuesCreateCmd.Flags().StringVar(&manual.Summary, "summary", "", "what needs to change")
	issuesCreateCmd.Flags().StringVar(&manual.LinkedChange, "change", "", "related change identifier")
	issuesCreateCmd.Flags().StringVar(&manualLevel, "severity", "medium", "low, medium or high")

	issuesCmd.AddCommand(issuesListCmd)
	issuesCmd.AddCommand(issuesStateCmd)
	issuesCmd.AddCommand(issuesOpenCmd)
	issuesCmd.AddCommand(issuesCreateCmd)
}
