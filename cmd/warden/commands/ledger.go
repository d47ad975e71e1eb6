package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/entwarden/entwarden/pkg/ledger"
	"github.com/entwarden/entwarden/pkg/stores"
)

func newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the creation ledger",
		Long: `Inspect creation records archived by the daemon.

The ledger is rebuilt from the sqlite archive, so these commands reflect
the state as of the daemon's last sync.`,
	}

	cmd.AddCommand(newLedgerProvenanceCommand())
	cmd.AddCommand(newLedgerCandidatesCommand())
	cmd.AddCommand(newLedgerOwnerCommand())

	return cmd
}

// restoreArchivedLedger opens the configured archive and rebuilds the
// ledger from it. The returned closer releases the archive.
func restoreArchivedLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	store, err := openConfiguredStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	archive := stores.NewArchive(store, log.Logger)
	led, err := archive.RestoreLedger(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to restore ledger: %w", err)
	}
	return led, func() { _ = store.Close() }, nil
}

func newLedgerProvenanceCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "provenance <entity-id>",
		Short: "Show who created an entity and when",
		Long: `Show the creation record for an entity: the owning integration, the
device, the creation context, and the lifecycle flags.

An entity that was removed and created again has one record per
generation; by default only the latest is shown.`,
		Example: `  # Latest creation record
  warden ledger provenance light.hallway_3

  # Every generation of the entity
  warden ledger provenance light.hallway_3 --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			led, closeArchive, err := restoreArchivedLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeArchive()

			entityID := args[0]
			if all {
				records := led.History(entityID)
				if len(records) == 0 {
					return fmt.Errorf("no ledger records for entity %s", entityID)
				}
				return printJSON(records)
			}

			record := led.Provenance(entityID)
			if record == nil {
				return fmt.Errorf("no ledger record for entity %s", entityID)
			}
			return printJSON(record)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "show every generation, not just the latest")

	return cmd
}

func newLedgerCandidatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List entities marked for cleanup",
		Long: `List entities whose latest creation record is cleanup-eligible and not
yet verified removed. These are the entities the next cleanup run will
target.`,
		Example: `  warden ledger candidates
  warden ledger candidates --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			led, closeArchive, err := restoreArchivedLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeArchive()

			candidates := led.CleanupCandidates()
			if jsonOutput {
				return printJSON(candidates)
			}
			if len(candidates) == 0 {
				fmt.Println("no cleanup candidates")
				return nil
			}
			for _, id := range candidates {
				fmt.Println(id)
			}
			return nil
		},
	}

	return cmd
}

func newLedgerOwnerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner <owner>",
		Short: "List creation records for an owner",
		Example: `  # Everything the zwave integration created
  warden ledger owner zwave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			led, closeArchive, err := restoreArchivedLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeArchive()

			records := led.ByOwner(args[0])
			if len(records) == 0 {
				return fmt.Errorf("no ledger records for owner %s", args[0])
			}
			return printJSON(records)
		},
	}

	return cmd
}
