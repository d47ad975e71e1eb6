package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// buildVersion is threaded into telemetry as the service version.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "entwarden - lifecycle warden for externally owned entities",
		Long: `entwarden tracks entities that integrations create in an external
home-automation registry, and guarantees their verified removal.

Features:
  - Creation ledger with provenance and forward-only lifecycle flags
  - Atomic cleanup transactions (validate, snapshot, execute, verify, finalize)
  - Continuous state reconciliation against the external registry
  - Policy-gated auto-correction via OPA/rego
  - SQLite archive for restart survival and operator history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newLedgerCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
