package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Auto-complete tests that have a winner",
	Long: `Evaluate every running test with auto-end enabled once and complete
those past their minimum sample that have a winner. 'fgoat serve' runs
this periodically; use this command from cron when the server does not.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withService(func(svc *experiment.Service, _ *store.SQLiteStore) error {
		report, err := svc.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(report.Tests) == 0 {
			fmt.Fprintln(out, "No running tests with auto-end enabled.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TEST\tOUTCOME\tWINNER\tERROR")
		for _, t := range report.Tests {
			winner, errStr := "-", ""
			if t.WinnerID != "" {
				winner = t.WinnerID
			}
			if t.Err != nil {
				errStr = t.Err.Error()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.TestID, t.Outcome, winner, errStr)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d of %d tests failed to sweep", len(failed), len(report.Tests))
		}
		return nil
	})
}
