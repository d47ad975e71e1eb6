package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse archived cleanup and reconciliation history",
		Long: `Browse the sqlite archive written by the daemon.

Transactions are terminal cleanup transactions with their phase audit
trail, inconsistencies are divergences the reconciliation loop detected,
and cycles are per-cycle summaries.`,
	}

	cmd.AddCommand(newHistoryTransactionsCommand())
	cmd.AddCommand(newHistoryInconsistenciesCommand())
	cmd.AddCommand(newHistoryCyclesCommand())

	return cmd
}

func newHistoryTransactionsCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List archived cleanup transactions",
		Example: `  # Most recent transactions
  warden history transactions

  # Only rollbacks, full detail
  warden history transactions --status rolled_back --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openConfiguredStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var statusFilter *string
			if status != "" {
				statusFilter = &status
			}
			rows, err := store.ListTransactions(ctx, statusFilter, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(rows)
			}
			if len(rows) == 0 {
				fmt.Println("no transactions")
				return nil
			}
			for _, row := range rows {
				completed := "-"
				if row.CompletedAt != nil {
					completed = row.CompletedAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-18s  started=%s  completed=%s  entities=%s\n",
					row.ID, row.Status, row.StartedAt.Format(time.RFC3339), completed, row.EntityIDs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (committed, rolled_back, emergency_rollback)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}

func newHistoryInconsistenciesCommand() *cobra.Command {
	var (
		state  string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "inconsistencies",
		Short: "List archived inconsistencies",
		Example: `  # Everything the loop has seen
  warden history inconsistencies

  # Still unresolved
  warden history inconsistencies --state active`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var resolved *bool
			switch state {
			case "all":
			case "active":
				v := false
				resolved = &v
			case "resolved":
				v := true
				resolved = &v
			default:
				return fmt.Errorf("unknown state %q, want all, active, or resolved", state)
			}

			store, err := openConfiguredStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListInconsistencies(ctx, resolved, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(rows)
			}
			if len(rows) == 0 {
				fmt.Println("no inconsistencies")
				return nil
			}
			for _, row := range rows {
				resolution := "active"
				if row.Resolved {
					resolution = "resolved"
					if row.Method != nil {
						resolution = "resolved(" + *row.Method + ")"
					}
				}
				fmt.Printf("%-22s  %-8s  %-30s  seen=%-3d  %s  %s\n",
					row.Kind, row.Severity, row.EntityID, row.CyclesSeen, resolution, row.Detail)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "all", "filter by state (all, active, resolved)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}

func newHistoryCyclesCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List archived reconciliation cycles",
		Example: `  # Most recent cycles
  warden history cycles

  # Page through older cycles
  warden history cycles --limit 50 --offset 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openConfiguredStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListCycles(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(rows)
			}
			if len(rows) == 0 {
				fmt.Println("no cycles")
				return nil
			}
			for _, row := range rows {
				fmt.Printf("%s  %s  trigger=%-9s  external=%-4d tracked=%-4d new=%-3d resolved=%-3d corrected=%-3d denied=%-3d failed=%-3d active=%d\n",
					row.CycleID, row.StartedAt.Format(time.RFC3339), row.Trigger,
					row.ExternalEntities, row.TrackedEntities, row.NewCount,
					row.ResolvedCount, row.CorrectedCount, row.DeniedCount,
					row.FailedCount, row.ActiveTotal)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}
