package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/entwarden/entwarden/pkg/cleanup"
	"github.com/entwarden/entwarden/pkg/policy"
	"github.com/entwarden/entwarden/pkg/reconcile"
	"github.com/entwarden/entwarden/pkg/stores"
)

func newReconcileCommand() *cobra.Command {
	var (
		autoCorrect bool
		full        bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation cycle and exit",
		Long: `Run a single reconciliation cycle against the configured registry.

The cycle restores the ledger from the archive, compares it with the live
registry, and prints the cycle report as JSON. Detected inconsistencies and
the cycle summary are archived exactly like the daemon's scheduled cycles.

Corrections follow the configured auto_correct setting unless overridden
with --auto-correct.`,
		Example: `  # Detect only, print the report
  warden reconcile

  # Detect and correct
  warden reconcile --auto-correct

  # Include loop, cleanup, and ledger statistics in the output
  warden reconcile --full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			correct := cfg.Reconcile.AutoCorrect
			if cmd.Flags().Changed("auto-correct") {
				correct = autoCorrect
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			archive := stores.NewArchive(store, log.Logger)
			led, err := archive.RestoreLedger(ctx)
			if err != nil {
				return fmt.Errorf("failed to restore ledger: %w", err)
			}

			reg, closeRegistry, err := connectRegistry(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer closeRegistry()

			// One-shot runs never watch policy paths.
			var gate reconcile.CorrectionGate
			if cfg.Policy.Enabled {
				eng, err := policy.NewEngine(log.Logger)
				if err != nil {
					return fmt.Errorf("failed to initialize policy engine: %w", err)
				}
				if len(cfg.Policy.Paths) > 0 {
					if err := eng.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
						return err
					}
				}
				gate = eng
			}

			engine := cleanup.NewEngine(led, reg, log.Logger, cleanup.Options{
				History:      archive,
				HistoryLimit: cfg.Cleanup.HistoryLimit,
				StaleAfter:   cfg.Cleanup.StaleAfter.Std(),
			})

			loop := reconcile.NewLoop(led, reg, engine, log.Logger, reconcile.Options{
				AutoCorrect:       correct,
				HistoryLimit:      cfg.Reconcile.HistoryLimit,
				DegradedThreshold: cfg.Reconcile.DegradedThreshold,
				Gate:              gate,
				Archiver:          archive,
			})

			report, err := loop.EmergencyReconcile(ctx)
			if err != nil {
				return fmt.Errorf("reconciliation failed: %w", err)
			}

			// Persist adoptions and flag changes the cycle made.
			if err := archive.PersistLedgerRecords(ctx, led.Records()); err != nil {
				log.Warn().Err(err).Msg("ledger sync failed")
			}

			if full {
				return printJSON(loop.ComprehensiveReport())
			}
			return printJSON(report)
		},
	}

	cmd.Flags().BoolVar(&autoCorrect, "auto-correct", false, "override the configured auto_correct setting")
	cmd.Flags().BoolVar(&full, "full", false, "print the comprehensive report (loop, cleanup, ledger)")

	return cmd
}
