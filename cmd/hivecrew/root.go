package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivecrew/hivecrew/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hivecrew",
	Short: "Sub-agent task orchestration engine",
	Long: `Hivecrew runs decomposed task plans across a pool of Claude-backed
workers: dependency-aware scheduling, bounded concurrency, automatic
retry and reassignment on failure, worker-to-worker collaboration, and
aggregated reports when a task settles.

Plans are YAML files listing sub-tasks with priorities, dependencies,
and required skills. Workers come from persona files in the configured
persona directory, or are registered programmatically.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a config file (overrides discovery)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig honors --config when given, otherwise the normal
// discovery chain (env, project file, user file, defaults).
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		cfg, err := config.LoadFromPath(flagConfig)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", flagConfig, err)
		}
		return cfg, nil
	}
	return config.Load()
}
