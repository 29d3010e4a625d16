package cli

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newCompleteCmd())
}

func newCompleteCmd() *cobra.Command {
	var (
		variantID string
		auto      bool
	)

	cmd := &cobra.Command{
		Use:     "complete <test-id>",
		Aliases: []string{"winner"},
		Short:   "Complete a test and record its winner",
		Long: `Complete a running or paused test.

With --variant the given variant is recorded as the winner. With --auto
the winner is determined from the current results, which may be none.
Without either flag you pick the winner interactively.

Examples:
  fgoat complete 3 --variant variant_b
  fgoat complete 3 --auto`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTestID(args[0])
			if err != nil {
				return err
			}
			if auto && variantID != "" {
				return fmt.Errorf("use --variant OR --auto, not both")
			}

			return withService(func(svc *experiment.Service, _ *store.SQLiteStore) error {
				ctx := cmd.Context()
				test, err := loadTest(ctx, svc, id)
				if err != nil {
					return err
				}

				// Validate test is completable
				if test.Status != store.StatusRunning && test.Status != store.StatusPaused {
					return fmt.Errorf("test is not running or paused (current state: %s)", test.Status)
				}

				var winner *string
				switch {
				case variantID != "":
					if test.Variant(variantID) == nil {
						return fmt.Errorf("invalid variant %q (test has: %s)", variantID, variantIDs(test))
					}
					winner = &variantID
				case !auto:
					picked, err := promptWinner(test)
					if err != nil {
						return err
					}
					winner = picked
				}

				ok, err := svc.CompleteTest(ctx, id, winner)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("test %d could not be completed", id)
				}

				test, err = loadTest(ctx, svc, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if test.WinnerVariantID == nil {
					fmt.Fprintf(out, "Completed test %d '%s' with no winner.\n", id, test.Name)
					return nil
				}
				v := test.Variant(*test.WinnerVariantID)
				fmt.Fprintf(out, "Completed test %d '%s': winner %s (\"%s\")\n", id, test.Name, v.ID, v.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantID, "variant", "v", "", "winning variant id")
	cmd.Flags().BoolVar(&auto, "auto", false, "determine the winner from the results")
	return cmd
}

// promptWinner asks for the winning variant. A nil result lets the
// results decide.
func promptWinner(test *store.Test) (*string, error) {
	items := []string{"Let the results decide"}
	for _, v := range test.Variants {
		label := fmt.Sprintf("%s (%s)", v.Name, v.ID)
		if v.IsControl {
			label += " - control"
		}
		items = append(items, label)
	}

	prompt := promptui.Select{
		Label: "Winning variant",
		Items: items,
		Size:  len(items),
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return nil, fmt.Errorf("aborted")
		}
		return nil, err
	}
	if idx == 0 {
		return nil, nil
	}
	return &test.Variants[idx-1].ID, nil
}

func variantIDs(test *store.Test) string {
	var s string
	for i, v := range test.Variants {
		if i > 0 {
			s += ", "
		}
		s += v.ID
	}
	return s
}
