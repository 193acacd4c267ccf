package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/config"
	"github.com/rohankatakam/impactgraph/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	err := rootCmd.Execute()
	code := 0
	if err != nil {
		code = reportError(os.Stderr, err, verbose)
	}
	logging.Close()
	os.Exit(code)
}

var rootCmd = &cobra.Command{
	Use:   "impact",
	Short: "ImpactGraph - cross-repository change impact analysis",
	Long: `ImpactGraph maps code changes and chat complaints onto a dependency graph
built from component manifests, reports which components, APIs, services and
docs are affected, and tracks documentation that needs an update.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
		return initLogging(cfg)
	},
}

// initLogging installs the structured logger the internal packages use
func initLogging(c *config.Config) error {
	lc := logging.Config{
		Level:      logging.ParseLevel(c.Logging.Level),
		OutputFile: c.Logging.File,
		MaxSize:    int64(c.Logging.MaxSizeMB) * 1024 * 1024,
		MaxBackups: c.Logging.MaxBackups,
		JSONFormat: c.Logging.JSON,
	}
	if verbose {
		lc.Level = logging.DEBUG
		lc.AddSource = true
	}
	if err := logging.Initialize(lc); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./impact.yaml or ~/.impactgraph/impact.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`ImpactGraph {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(mcpCmd)
}
