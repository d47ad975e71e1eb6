package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/entwarden/entwarden/pkg/config"
	"github.com/entwarden/entwarden/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var skipPolicies bool

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a warden configuration file.

This command checks:
  - YAML syntax and unknown keys
  - field constraints and cross-field requirements
  - that configured policy files compile as rego`,
		Example: `  # Validate the configured file
  warden validate --config /etc/warden/warden.yaml

  # Validate an explicit path
  warden validate ./warden.yaml

  # Skip policy compilation
  warden validate ./warden.yaml --skip-policies`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no configuration file given, use --config or pass a path")
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			if cfg.Policy.Enabled && len(cfg.Policy.Paths) > 0 && !skipPolicies {
				eng, err := policy.NewEngine(log.Logger)
				if err != nil {
					return fmt.Errorf("failed to initialize policy engine: %w", err)
				}
				if err := eng.LoadPolicies(cmd.Context(), cfg.Policy.Paths); err != nil {
					return err
				}
			}

			fmt.Printf("%s is valid\n", path)
			fmt.Printf("  registry: %s\n", cfg.Registry.Kind)
			fmt.Printf("  store:    %s\n", cfg.Store.Path)
			fmt.Printf("  interval: %s, auto_correct: %v\n", cfg.Reconcile.Interval.Std(), cfg.Reconcile.AutoCorrect)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPolicies, "skip-policies", false, "do not compile configured policy files")

	return cmd
}
