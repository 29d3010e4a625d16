package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	var (
		formID string
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tests",
		Long:  `List A/B tests with their status and totals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *experiment.Service, _ *store.SQLiteStore) error {
				ctx := cmd.Context()

				tests, err := svc.ListTests(ctx, store.TestFilter{FormID: formID, Status: store.TestStatus(status)})
				if err != nil {
					return fmt.Errorf("failed to list tests: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(tests) == 0 {
					fmt.Fprintln(out, "No tests yet.")
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Create one with: fgoat create <form-id>")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tFORM\tNAME\tSTATE\tALLOCATION\tVARIANTS\tVIEWS\tCONVERSIONS\tWINNER\tCREATED")

				for _, test := range tests {
					results, err := svc.CalculateResults(ctx, test.ID)
					if err != nil {
						return fmt.Errorf("failed to get results for test %d: %w", test.ID, err)
					}
					if results == nil {
						continue
					}

					var conversions int64
					for _, v := range results.Variants {
						conversions += v.Conversions
					}

					winner := "-"
					if test.WinnerVariantID != nil {
						winner = *test.WinnerVariantID
					}

					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
						test.ID,
						test.FormID,
						test.Name,
						strings.ToUpper(string(test.Status)),
						test.TrafficAllocation,
						len(test.Variants),
						formatNumber(results.TotalViews),
						formatNumber(conversions),
						winner,
						test.CreatedAt.Format("2006-01-02"),
					)
				}

				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&formID, "form", "", "only tests for this form")
	cmd.Flags().StringVar(&status, "status", "", "only tests in this state (draft, running, paused, completed)")
	return cmd
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
