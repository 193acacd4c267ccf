package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/impactgraph/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Store API tokens in the OS keychain",
	Long: `Prompt for the GitHub token, Slack bot token, LLM keys and Neo4j password
and store them in the OS keychain. Press Enter to keep a value unchanged.

Environment variables always take precedence over the keychain. In CI the
keychain is not used; set environment variables instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cm := config.NewCredentialManager()
		w := cmd.OutOrStdout()

		fmt.Fprintln(w, "🔧 ImpactGraph Credentials")
		fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Fprintf(w, "Mode: %s\n\n", cm.Mode().Description())
		printStatuses(cmd, cm.Statuses())
		fmt.Fprintln(w)

		saved, err := cm.Configure()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n✅ %d secret(s) saved to the keychain\n", saved)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (secrets masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# mode: %s\n", config.DetectMode())
		w.Write(out)
		fmt.Fprintln(w, "\n# secrets")
		printStatuses(cmd, config.NewCredentialManager().Statuses())
		return nil
	},
}

var validateContext string

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration for analyze, poll or all commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res := cfg.Validate(config.ValidationContext(validateContext))
		w := cmd.OutOrStdout()
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "⚠️  %s\n", warn)
		}
		if err := res.Err(); err != nil {
			return err
		}
		fmt.Fprintln(w, "✅ configuration is valid")
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the current configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(config.DataDir(), "impact.yaml")
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ wrote %s\n", path)
		return nil
	},
}

func printStatuses(cmd *cobra.Command, statuses []config.Status) {
	for _, st := range statuses {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %-9s %s\n", st.Label, st.Source, st.Masked)
	}
}

func init() {
	configValidateCmd.Flags().StringVar(&validateContext, "context", string(config.ValidationContextAnalyze), "analyze, poll or all")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
}
