package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/stats"
	"github.com/gkobilansky/form-goat/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <test-id>",
	Short: "Show detailed results for a test",
	Long:  `Show conversion rates, confidence intervals, lift over control and significance.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id, err := parseTestID(args[0])
	if err != nil {
		return err
	}

	return withService(func(svc *experiment.Service, _ *store.SQLiteStore) error {
		ctx := cmd.Context()

		test, err := loadTest(ctx, svc, id)
		if err != nil {
			return err
		}
		result, err := svc.CalculateResults(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get results: %w", err)
		}
		if result == nil {
			return fmt.Errorf("test %d not found", id)
		}

		printResults(cmd.OutOrStdout(), test, result)
		return nil
	})
}

func printResults(out io.Writer, test *store.Test, result *stats.Results) {
	// Print header
	fmt.Fprintf(out, "TEST: %d %s\n", test.ID, test.Name)
	fmt.Fprintf(out, "FORM: %s\n", test.FormID)
	fmt.Fprintf(out, "STATE: %s\n", test.Status)
	fmt.Fprintf(out, "ALLOCATION: %s\n", test.TrafficAllocation)
	if test.GoalType != "" {
		fmt.Fprintf(out, "GOAL: %s\n", test.GoalType)
	}
	fmt.Fprintf(out, "CREATED: %s\n", test.CreatedAt.Format("2006-01-02"))
	fmt.Fprintln(out)

	confPct := result.ConfidenceLevel * 100
	fmt.Fprintf(out, "VARIANT           VIEWS    CONV     RATE     %2.0f%% CI           LIFT      SIGNIF\n", confPct)
	fmt.Fprintln(out, strings.Repeat("─", 84))

	var winner *stats.VariantMetrics
	if test.Status == store.StatusCompleted {
		if test.WinnerVariantID != nil {
			if v, ok := result.Get(*test.WinnerVariantID); ok {
				winner = &v
			}
		}
	} else {
		winner = stats.DetermineWinner(result, result.ConfidenceLevel)
	}

	for _, v := range result.Variants {
		// Truncate name if too long
		name := v.Name
		if v.IsControl {
			name = "*" + name
		}
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower, v.CIUpper)
		if v.Views == 0 {
			ciStr = "N/A"
		}

		lift, signif := "-", "-"
		if v.Compared {
			lift = fmt.Sprintf("%+.1f%%", v.Improvement)
			signif = fmt.Sprintf("%.1f%%", v.StatisticalSignificance)
			if v.IsSignificant {
				signif += " ✓"
			}
		}

		indicator := ""
		if winner != nil && winner.VariantID == v.VariantID {
			indicator = " ← WINNER"
		}

		fmt.Fprintf(out, "%-16s  %-7d  %-7d  %-7s  %-16s  %-8s  %s%s\n",
			name,
			v.Views,
			v.Conversions,
			formatPercent(v.ConversionRate),
			ciStr,
			lift,
			signif,
			indicator,
		)
	}
	fmt.Fprintln(out)

	if result.ControlID == "" {
		fmt.Fprintln(out, "No control variant: comparisons unavailable.")
		return
	}
	progress := ""
	if test.MinimumSample > 0 {
		progress = fmt.Sprintf(" of %d minimum", test.MinimumSample)
	}
	fmt.Fprintf(out, "Total views: %d%s\n", result.TotalViews, progress)

	// Print significance message
	switch {
	case winner == nil:
		fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
	case winner.IsControl:
		fmt.Fprintf(out, "No variant beats control at %.0f%% confidence; control \"%s\" leads\n", confPct, winner.Name)
	default:
		fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" beats control\n", winner.StatisticalSignificance, winner.Name)
	}
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate)
}
