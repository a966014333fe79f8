package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lattiam/batchanalysis/internal/config"
	"github.com/lattiam/batchanalysis/pkg/logging"
)

var (
	version = "dev"
	commit  = "none"    //nolint:gochecknoglobals // Build-time commit info
	date    = "unknown" //nolint:gochecknoglobals // Build-time date info
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	config.AppVersion = version

	rootCmd := &cobra.Command{
		Use:   "batchanalysis",
		Short: "Provision a code analysis pipeline on AWS Batch",
		Long: `batchanalysis provisions a Fargate job queue, its job definition and two least-privilege roles,
stages the analysis scripts, and submits exactly one analysis job per deployment.

Settings are read from BATCHANALYSIS_* environment variables; see "batchanalysis config show".`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newDeployCommand(),
		newDestroyCommand(),
		newSubmitCommand(),
		newPolicyCommand(),
		newServeCommand(),
		newConfigCommand(),
	)
	return rootCmd
}

// loadStandardConfig creates a new config, loads from environment, and expands paths.
// This is the standard pattern used by most commands.
func loadStandardConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("failed to expand paths: %w", err)
	}
	logging.Config.Debug("Loaded configuration for stack %s in %s", cfg.Stack, cfg.AWS.Region)
	return cfg, nil
}
