package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(
		newTransitionCmd("start", "Start a draft test", "Starting a test pauses any other running test for the same form.",
			(*experiment.Service).StartTest),
		newTransitionCmd("pause", "Pause a running test", "Paused tests stop assigning visitors and recording events.",
			(*experiment.Service).PauseTest),
		newTransitionCmd("resume", "Resume a paused test", "Resuming a test pauses any other running test for the same form.",
			(*experiment.Service).ResumeTest),
		newDeleteCmd(),
	)
}

type transition func(*experiment.Service, context.Context, int64) (bool, error)

func newTransitionCmd(verb, short, long string, fn transition) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <test-id>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

				ok, err := fn(svc, ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("cannot %s test %d (current state: %s)", verb, id, test.Status)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Test %d '%s': %s -> %s\n", id, test.Name, test.Status, nextState(verb))
				return nil
			})
		},
	}
}

func nextState(verb string) store.TestStatus {
	if verb == "pause" {
		return store.StatusPaused
	}
	return store.StatusRunning
}

func newDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <test-id>",
		Short: "Delete a test and all its data",
		Long: `Delete a test with its variants, events, rollups and assignments.
Running tests cannot be deleted; pause or complete them first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
				if test.Status == store.StatusRunning {
					return fmt.Errorf("test %d is running. Pause or complete it first", id)
				}

				if !yes {
					prompt := promptui.Prompt{
						Label:     fmt.Sprintf("Delete test %d '%s' and all its data", id, test.Name),
						IsConfirm: true,
					}
					if _, err := prompt.Run(); err != nil {
						if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
							fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
							return nil
						}
						return err
					}
				}

				ok, err := svc.DeleteTest(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("test %d was not deleted", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted test %d '%s'.\n", id, test.Name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
