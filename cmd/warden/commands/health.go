package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/stores"
)

// archiveHealth is the offline health snapshot assembled from the archive.
type archiveHealth struct {
	Store                 string                  `json:"store"`
	Ledger                *ledger.IntegrityReport `json:"ledger"`
	ActiveInconsistencies int                     `json:"active_inconsistencies"`
	LastCycle             *stores.Cycle           `json:"last_cycle,omitempty"`
	CheckedAt             time.Time               `json:"checked_at"`
}

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check archive and ledger health",
		Long: `Check the archive and the restored ledger for consistency.

This is an offline check against the sqlite archive: it verifies the
database answers, rebuilds the ledger and runs its integrity check, counts
unresolved inconsistencies, and reports the most recent reconciliation
cycle. A running daemon additionally exposes live loop health through its
metrics endpoint.

The command exits non-zero when the archive is unreachable or the ledger
integrity check fails.`,
		Example: `  warden health
  warden health --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("archive health check failed: %w", err)
			}

			archive := stores.NewArchive(store, log.Logger)
			led, err := archive.RestoreLedger(ctx)
			if err != nil {
				return fmt.Errorf("failed to restore ledger: %w", err)
			}

			health := &archiveHealth{
				Store:     cfg.Store.Path,
				Ledger:    led.CheckIntegrity(),
				CheckedAt: time.Now().UTC(),
			}

			// Negative LIMIT means unlimited in sqlite.
			active := false
			open, err := store.ListInconsistencies(ctx, &active, -1, 0)
			if err != nil {
				return err
			}
			health.ActiveInconsistencies = len(open)

			cycles, err := store.ListCycles(ctx, 1, 0)
			if err != nil {
				return err
			}
			if len(cycles) > 0 {
				health.LastCycle = cycles[0]
			}

			if jsonOutput {
				if err := printJSON(health); err != nil {
					return err
				}
			} else {
				fmt.Printf("archive:   ok (%s)\n", health.Store)
				fmt.Printf("ledger:    %s (%d records, %d cleanup candidates)\n",
					ledgerVerdict(health.Ledger), health.Ledger.RecordCount, health.Ledger.CandidateCount)
				fmt.Printf("active inconsistencies: %d\n", health.ActiveInconsistencies)
				if health.LastCycle != nil {
					fmt.Printf("last cycle: %s at %s (trigger %s)\n",
						health.LastCycle.CycleID, health.LastCycle.StartedAt.Format(time.RFC3339), health.LastCycle.Trigger)
				} else {
					fmt.Println("last cycle: none recorded")
				}
			}

			if !health.Ledger.Healthy {
				return fmt.Errorf("ledger integrity check failed: %d issues", len(health.Ledger.Issues))
			}
			return nil
		},
	}

	return cmd
}

func ledgerVerdict(report *ledger.IntegrityReport) string {
	if report.Healthy {
		return "healthy"
	}
	return "UNHEALTHY"
}
